// Copyright 2024 The mln-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package groundstore

import (
	"codeberg.org/TauCeti/mln-go/ast"
)

// MemStore is the in-memory join engine. Templates are ground by a
// nested-loop join anchored on the evidence-true tuples of closed-world
// literals; variables not bound by an anchor range over their domains.
type MemStore struct {
	*core
}

var _ Store = (*MemStore)(nil)

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{core: newCore()}
}

// GroundClause implements Store by backtracking over the template's
// anchor literals and the remaining free-variable domains.
func (s *MemStore) GroundClause(t *ast.ClauseTemplate, positive bool, ev EvidenceView, emit func(lits []ast.Lit) error) error {
	anchors := anchorLits(t)
	freeNames, freeDoms := s.freeVars(t, anchors)
	b := make(binding)

	var joinFree func(i int) error
	joinFree = func(i int) error {
		if i == len(freeNames) {
			lits, ok, err := s.checkEmit(t, ev, b)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			return emit(lits)
		}
		for _, k := range s.Domain(freeDoms[i]) {
			b[freeNames[i]] = k
			if err := joinFree(i + 1); err != nil {
				return err
			}
		}
		delete(b, freeNames[i])
		return nil
	}

	var joinAnchor func(i int) error
	joinAnchor = func(i int) error {
		if i == len(anchors) {
			return joinFree(0)
		}
		tl := t.Lits[anchors[i]]
		// An anchored literal also matches active (unknown) atoms of
		// its predicate, not just evidence-true ones.
		base := s.trueTuples[tl.Pred.Name]
		actives := s.active[tl.Pred.Name]
		candidates := make([]*ast.GroundAtom, 0, len(base)+len(actives))
		candidates = append(candidates, base...)
		for _, id := range actives {
			candidates = append(candidates, s.AtomByID(id))
		}
		seen := make(map[int32]bool, len(candidates))
		for _, a := range candidates {
			if seen[a.ID] {
				continue
			}
			seen[a.ID] = true
			var added []string
			if matchTuple(tl, a, b, &added) {
				if err := joinAnchor(i + 1); err != nil {
					return err
				}
			}
			for _, v := range added {
				delete(b, v)
			}
		}
		return nil
	}
	return joinAnchor(0)
}
