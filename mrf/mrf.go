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

package mrf

import (
	"fmt"
	"slices"

	"codeberg.org/TauCeti/mln-go/ast"
)

// MRF is the ground Markov Random Field. It exclusively owns its atom
// table and clause list; the incidence holds non-owning clause indices.
// During grounding the grounder owns the MRF, during sampling the
// sampler does; handing it over is a move.
type MRF struct {
	// Atoms is indexed by atom id; index 0 is nil. Other entries may be
	// nil too: unit propagation retires pinned atoms by leaving them out.
	Atoms []*ast.GroundAtom
	// Clauses in consolidated form.
	Clauses []*Clause
	// HardWeight is the hardness threshold the MRF was built with.
	HardWeight float64

	// LowCost and HighCost are running MAP bounds maintained by the
	// samplers.
	LowCost  float64
	HighCost float64

	// CSR incidence: clause indices of atom a are
	// incIdx[incOff[a]:incOff[a+1]].
	incOff []int32
	incIdx []int32
}

// New builds an MRF over the given atoms and clauses and constructs the
// incidence. The atoms slice is indexed by id with index 0 unused.
func New(atoms []*ast.GroundAtom, clauses []*Clause, hardWeight float64) *MRF {
	m := &MRF{Atoms: atoms, Clauses: clauses, HardWeight: hardWeight}
	m.BuildIncidence()
	return m
}

// NumAtoms returns the size of the atom id space.
func (m *MRF) NumAtoms() int32 { return int32(len(m.Atoms) - 1) }

// Atom returns the atom with the given id, or nil.
func (m *MRF) Atom(id int32) *ast.GroundAtom {
	if id <= 0 || int(id) >= len(m.Atoms) {
		return nil
	}
	return m.Atoms[id]
}

// BuildIncidence (re)builds the CSR incidence from the clause list.
// Built once after consolidation; flips then walk contiguous memory.
func (m *MRF) BuildIncidence() {
	n := len(m.Atoms)
	counts := make([]int32, n+1)
	total := 0
	for _, c := range m.Clauses {
		for _, l := range c.Lits {
			counts[l.Atom()+1]++
			total++
		}
	}
	m.incOff = make([]int32, n+1)
	for i := 1; i <= n; i++ {
		m.incOff[i] = m.incOff[i-1] + counts[i]
	}
	m.incIdx = make([]int32, total)
	fill := make([]int32, n)
	for ci, c := range m.Clauses {
		for _, l := range c.Lits {
			a := l.Atom()
			m.incIdx[m.incOff[a]+fill[a]] = int32(ci)
			fill[a]++
		}
	}
}

// Incidence returns the indices of the clauses referencing the atom.
// The returned slice aliases internal storage and must not be modified.
func (m *MRF) Incidence(atom int32) []int32 {
	if atom <= 0 || int(atom) >= len(m.incOff) {
		return nil
	}
	return m.incIdx[m.incOff[atom]:m.incOff[atom+1]]
}

// Cost recomputes the total violation cost of the assignment from
// scratch. The samplers maintain the same value incrementally; the two
// must agree after every flip.
func (m *MRF) Cost(truth []bool) float64 {
	cost := 0.0
	at := func(id int32) bool { return truth[id] }
	for _, c := range m.Clauses {
		if c.Violated(at) {
			cost += c.Cost()
		}
	}
	return cost
}

// Clone returns a deep copy. Parallel samplers each run on their own
// clone; per-atom counters are never shared.
func (m *MRF) Clone() *MRF {
	atoms := make([]*ast.GroundAtom, len(m.Atoms))
	for i, a := range m.Atoms {
		if a == nil {
			continue
		}
		cp := *a
		cp.Args = slices.Clone(a.Args)
		if a.Prior != nil {
			p := *a.Prior
			cp.Prior = &p
		}
		atoms[i] = &cp
	}
	clauses := make([]*Clause, len(m.Clauses))
	for i, c := range m.Clauses {
		clauses[i] = &Clause{Lits: slices.Clone(c.Lits), Weight: c.Weight}
	}
	cp := &MRF{
		Atoms:      atoms,
		Clauses:    clauses,
		HardWeight: m.HardWeight,
		LowCost:    m.LowCost,
		HighCost:   m.HighCost,
		incOff:     slices.Clone(m.incOff),
		incIdx:     slices.Clone(m.incIdx),
	}
	return cp
}

// CheckInvariants verifies the structural invariants: sorted unique
// non-tautological literal lists, every referenced atom present and
// active, and incidence the exact inverse of the literal lists.
func (m *MRF) CheckInvariants() error {
	for ci, c := range m.Clauses {
		if len(c.Lits) == 0 {
			return fmt.Errorf("clause %d is empty", ci)
		}
		for i, l := range c.Lits {
			if l == 0 {
				return fmt.Errorf("clause %d has zero literal", ci)
			}
			if i > 0 {
				if c.Lits[i-1].Atom() > l.Atom() {
					return fmt.Errorf("clause %d literals not sorted", ci)
				}
				if c.Lits[i-1] == l {
					return fmt.Errorf("clause %d has duplicate literal %d", ci, l)
				}
				if c.Lits[i-1] == -l {
					return fmt.Errorf("clause %d is a tautology on atom %d", ci, l.Atom())
				}
			}
			a := m.Atom(l.Atom())
			if a == nil {
				return fmt.Errorf("clause %d references missing atom %d", ci, l.Atom())
			}
			if !a.Active {
				return fmt.Errorf("clause %d references inactive atom %d", ci, l.Atom())
			}
			found := false
			for _, idx := range m.Incidence(l.Atom()) {
				if idx == int32(ci) {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("incidence of atom %d misses clause %d", l.Atom(), ci)
			}
		}
	}
	for a := int32(1); a <= m.NumAtoms(); a++ {
		for _, ci := range m.Incidence(a) {
			found := false
			for _, l := range m.Clauses[ci].Lits {
				if l.Atom() == a {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("incidence of atom %d lists clause %d that does not reference it", a, ci)
			}
		}
	}
	return nil
}
