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

// Package unitsolver provides the oracle the grounder consults between
// hard clause templates: given a CNF over ground literals, return the
// literals forced true. Two implementations exist, plain unit
// propagation and a full backbone computation backed by a CDCL solver.
package unitsolver

import (
	"errors"
	"fmt"

	"codeberg.org/TauCeti/mln-go/ast"
)

// ErrUnsat is returned when the CNF has no model.
var ErrUnsat = errors.New("unsatisfiable")

// Solver returns the unit literals entailed by a CNF. Implementations
// are pure: no state persists between calls. The empty slice is
// returned for trivially satisfiable input.
type Solver interface {
	Units(cnf [][]ast.Lit, numAtoms int32) ([]ast.Lit, error)
}

// Propagate computes forced literals by unit propagation alone.
type Propagate struct{}

var _ Solver = Propagate{}

// Units implements Solver. Wraps ErrUnsat when propagation derives an
// empty clause.
func (Propagate) Units(cnf [][]ast.Lit, numAtoms int32) ([]ast.Lit, error) {
	// model holds per-atom bindings: 0 unbound, 1 true, -1 false.
	model := make([]int8, numAtoms+1)
	var units []ast.Lit

	assign := func(l ast.Lit) error {
		a := l.Atom()
		want := int8(1)
		if !l.Pos() {
			want = -1
		}
		switch model[a] {
		case 0:
			model[a] = want
			units = append(units, l)
		case want:
		default:
			return fmt.Errorf("conflicting units on atom %d: %w", a, ErrUnsat)
		}
		return nil
	}

	for changed := true; changed; {
		changed = false
		for _, c := range cnf {
			var unassigned ast.Lit
			nUnassigned := 0
			satisfied := false
			for _, l := range c {
				switch model[l.Atom()] {
				case 0:
					nUnassigned++
					unassigned = l
				case 1:
					satisfied = l.Pos()
				case -1:
					satisfied = !l.Pos()
				}
				if satisfied {
					break
				}
			}
			if satisfied {
				continue
			}
			switch nUnassigned {
			case 0:
				return nil, fmt.Errorf("empty clause after propagation: %w", ErrUnsat)
			case 1:
				before := len(units)
				if err := assign(unassigned); err != nil {
					return nil, err
				}
				if len(units) != before {
					changed = true
				}
			}
		}
	}
	return units, nil
}
