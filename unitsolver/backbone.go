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

package unitsolver

import (
	"fmt"

	"github.com/crillab/gophersat/solver"

	"codeberg.org/TauCeti/mln-go/ast"
)

// Backbone computes the full backbone of the CNF: every literal true in
// all models. Strictly stronger than unit propagation, proportionally
// more expensive: one CDCL solve per candidate literal.
type Backbone struct{}

var _ Solver = Backbone{}

// Units implements Solver using gophersat. A fresh solver is built for
// every query; nothing persists between calls.
func (Backbone) Units(cnf [][]ast.Lit, numAtoms int32) ([]ast.Lit, error) {
	if len(cnf) == 0 {
		return nil, nil
	}
	base := make([][]int, len(cnf))
	mentioned := make(map[int32]bool)
	for i, c := range cnf {
		row := make([]int, len(c))
		for j, l := range c {
			row[j] = int(l)
			mentioned[l.Atom()] = true
		}
		base[i] = row
	}

	s := solver.New(solver.ParseSlice(base))
	if s.Solve() != solver.Sat {
		return nil, fmt.Errorf("backbone query: %w", ErrUnsat)
	}
	model := s.Model()

	var units []ast.Lit
	for a := range mentioned {
		candidate := ast.Lit(a)
		if !model[a-1] {
			candidate = -candidate
		}
		// The candidate is backbone iff forcing its negation is
		// unsatisfiable.
		probe := append(base[:len(base):len(base)], []int{int(-candidate)})
		ps := solver.New(solver.ParseSlice(probe))
		if ps.Solve() == solver.Unsat {
			units = append(units, candidate)
		}
	}
	return units, nil
}
