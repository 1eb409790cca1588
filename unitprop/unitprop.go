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

// Package unitprop eliminates hard unit clauses from a ground MRF by
// fixed-point propagation: forced atoms are pinned to their value and
// retired, the remaining clauses are shortened or dropped. The result
// is a smaller MRF plus the record of pinned atoms.
package unitprop

import (
	"context"
	"fmt"

	"github.com/golang/glog"

	"codeberg.org/TauCeti/mln-go/ast"
	"codeberg.org/TauCeti/mln-go/mrf"
)

// UnsatError reports a hard contradiction, with the clause that became
// empty or conflicted.
type UnsatError struct {
	Clause *mrf.Clause
}

func (e *UnsatError) Error() string {
	return fmt.Sprintf("hard contradiction at clause %v", e.Clause)
}

// Result is the outcome of propagation.
type Result struct {
	// MRF contains only unpinned atoms and surviving clauses,
	// reconsolidated.
	MRF *mrf.MRF
	// Pinned maps retired atom ids to their forced truth value.
	Pinned map[int32]bool
	// Units is the number of unit literals propagated.
	Units int
}

// Run computes the fixed point. The input MRF is consumed; the returned
// MRF is a fresh value. Running the result through Run again yields an
// identical MRF with no further pins. Cancellation is polled once per
// propagated unit.
func Run(ctx context.Context, m *mrf.MRF) (*Result, error) {
	type state struct {
		lits  []ast.Lit
		alive bool
	}
	states := make([]state, len(m.Clauses))
	for i, c := range m.Clauses {
		lits := make([]ast.Lit, len(c.Lits))
		copy(lits, c.Lits)
		states[i] = state{lits: lits, alive: true}
	}

	pinned := make(map[int32]bool)
	var queue []ast.Lit

	hardPositive := func(i int) bool {
		return m.Clauses[i].Hard(m.HardWeight) && m.Clauses[i].Weight >= 0
	}

	for i, c := range m.Clauses {
		if !c.Hard(m.HardWeight) {
			continue
		}
		if c.Weight >= 0 {
			if len(c.Lits) == 1 {
				queue = append(queue, c.Lits[0])
			}
			continue
		}
		// A hard negative clause must stay unsatisfied: every literal
		// is forced to its negation.
		for _, l := range c.Lits {
			queue = append(queue, -l)
		}
		states[i].alive = false
	}

	units := 0
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		l := queue[0]
		queue = queue[1:]
		a, v := l.Atom(), l.Pos()
		if have, ok := pinned[a]; ok {
			if have != v {
				return nil, &UnsatError{Clause: &mrf.Clause{Lits: []ast.Lit{l}, Weight: m.HardWeight}}
			}
			continue
		}
		pinned[a] = v
		units++
		for _, ci := range m.Incidence(a) {
			st := &states[ci]
			if !st.alive {
				continue
			}
			contains := false
			for _, cl := range st.lits {
				if cl == l {
					contains = true
					break
				}
			}
			if contains {
				// Satisfied. A positive-weight clause is discharged; a
				// satisfied negative-weight clause contributes constant
				// cost and is dropped as well.
				st.alive = false
				continue
			}
			// Contains -l: shorten.
			keep := st.lits[:0]
			for _, cl := range st.lits {
				if cl != -l {
					keep = append(keep, cl)
				}
			}
			st.lits = keep
			if len(st.lits) == 0 {
				if hardPositive(int(ci)) {
					return nil, &UnsatError{Clause: m.Clauses[ci]}
				}
				st.alive = false
				continue
			}
			if len(st.lits) == 1 && hardPositive(int(ci)) {
				queue = append(queue, st.lits[0])
			}
		}
	}

	var survivors []*mrf.Clause
	for i, st := range states {
		if st.alive {
			survivors = append(survivors, &mrf.Clause{Lits: st.lits, Weight: m.Clauses[i].Weight})
		}
	}
	survivors = mrf.Consolidate(survivors)

	atoms := make([]*ast.GroundAtom, len(m.Atoms))
	for i, a := range m.Atoms {
		if a == nil {
			continue
		}
		if v, ok := pinned[a.ID]; ok {
			a.Truth = v
			continue
		}
		atoms[i] = a
	}

	glog.V(1).Infof("unit propagation pinned %d atoms, %d of %d clauses survive",
		len(pinned), len(survivors), len(m.Clauses))
	return &Result{
		MRF:    mrf.New(atoms, survivors, m.HardWeight),
		Pinned: pinned,
		Units:  units,
	}, nil
}
