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

package ground

import (
	"sort"
	"strings"

	"codeberg.org/TauCeti/mln-go/ast"
	"codeberg.org/TauCeti/mln-go/mrf"
)

// keyConstraintClauses turns each predicate's functional dependency
// into hard clauses over the active atoms: for every pair of tuples
// agreeing on all key positions but disagreeing on some dependent
// position, at most one may hold. When null labels are disallowed, one
// existence clause per key group requires at least one to hold.
func (g *Grounder) keyConstraintClauses() []*mrf.Clause {
	var out []*mrf.Clause
	for _, p := range g.store.ListPredicates() {
		if !p.HasKeyConstraint() {
			continue
		}
		groups := make(map[string][]*ast.GroundAtom)
		var order []string
		for _, id := range g.store.ActiveAtoms(p) {
			a := g.store.AtomByID(id)
			if a == nil {
				continue
			}
			k := keyOf(a, p.KeyAttrs)
			if _, ok := groups[k]; !ok {
				order = append(order, k)
			}
			groups[k] = append(groups[k], a)
		}
		for _, k := range order {
			group := groups[k]
			sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
			for i := 0; i < len(group); i++ {
				for j := i + 1; j < len(group); j++ {
					if agreeOn(group[i], group[j], p.DependentAttrs) {
						continue
					}
					out = append(out, mrf.NewClause(
						[]ast.Lit{group[i].Lit(false), group[j].Lit(false)},
						g.opts.HardWeight))
				}
			}
			if !g.opts.KeyConstraintAllowsNullLabel && len(group) > 0 {
				lits := make([]ast.Lit, len(group))
				for i, a := range group {
					lits[i] = a.Lit(true)
				}
				out = append(out, mrf.NewClause(lits, g.opts.HardWeight))
			}
		}
	}
	return out
}

func keyOf(a *ast.GroundAtom, keyAttrs []int) string {
	parts := make([]string, len(keyAttrs))
	for i, k := range keyAttrs {
		parts[i] = a.Args[k].Symbol
	}
	return strings.Join(parts, "\x00")
}

func agreeOn(a, b *ast.GroundAtom, attrs []int) bool {
	for _, i := range attrs {
		if a.Args[i] != b.Args[i] {
			return false
		}
	}
	return true
}
