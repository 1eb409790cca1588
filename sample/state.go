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

// Package sample implements the stochastic local search samplers over a
// ground MRF: WalkSAT for MAP inference, and SampleSAT inside MC-SAT
// for marginal inference.
package sample

import (
	"math/rand"

	"codeberg.org/TauCeti/mln-go/ast"
	"codeberg.org/TauCeti/mln-go/mrf"
)

// state is the incremental bookkeeping of one local search: the truth
// assignment, per-clause satisfied-literal counters, the violated
// clause index and the running cost. A clause with nonnegative weight
// is violated when unsatisfied; one with negative weight when
// satisfied.
type state struct {
	m     *mrf.MRF
	truth []bool
	// nSat counts satisfied literals per clause.
	nSat []int32
	// cost is the sum of |weight| over violated clauses, maintained
	// incrementally.
	cost float64
	// violated is a dense index of violated clause positions;
	// violatedPos[ci] is the clause's slot, or -1.
	violated     []int32
	violatedPos  []int32
	violatedHard int
}

func newState(m *mrf.MRF, truth []bool) *state {
	s := &state{
		m:           m,
		truth:       truth,
		nSat:        make([]int32, len(m.Clauses)),
		violatedPos: make([]int32, len(m.Clauses)),
	}
	for i := range s.violatedPos {
		s.violatedPos[i] = -1
	}
	for ci, c := range m.Clauses {
		n := int32(0)
		for _, l := range c.Lits {
			if l.Sat(truth[l.Atom()]) {
				n++
			}
		}
		s.nSat[ci] = n
		if clauseViolated(c, n) {
			s.addViolated(int32(ci))
			s.cost += c.Cost()
		}
	}
	return s
}

func clauseViolated(c *mrf.Clause, nSat int32) bool {
	if c.Weight >= 0 {
		return nSat == 0
	}
	return nSat > 0
}

func (s *state) addViolated(ci int32) {
	s.violatedPos[ci] = int32(len(s.violated))
	s.violated = append(s.violated, ci)
	if s.m.Clauses[ci].Hard(s.m.HardWeight) {
		s.violatedHard++
	}
}

func (s *state) removeViolated(ci int32) {
	pos := s.violatedPos[ci]
	last := int32(len(s.violated) - 1)
	moved := s.violated[last]
	s.violated[pos] = moved
	s.violatedPos[moved] = pos
	s.violated = s.violated[:last]
	s.violatedPos[ci] = -1
	if s.m.Clauses[ci].Hard(s.m.HardWeight) {
		s.violatedHard--
	}
}

// litOf returns the clause's literal over the atom. Clauses are free of
// tautologies, so there is exactly one.
func litOf(c *mrf.Clause, atom int32) ast.Lit {
	for _, l := range c.Lits {
		if l.Atom() == atom {
			return l
		}
	}
	return 0
}

// deltaCost returns the cost change of flipping the atom, in
// O(|incidence|).
func (s *state) deltaCost(atom int32) float64 {
	delta := 0.0
	for _, ci := range s.m.Incidence(atom) {
		c := s.m.Clauses[ci]
		l := litOf(c, atom)
		n := s.nSat[ci]
		after := n
		if l.Sat(s.truth[atom]) {
			after--
		} else {
			after++
		}
		was, is := clauseViolated(c, n), clauseViolated(c, after)
		if was != is {
			if is {
				delta += c.Cost()
			} else {
				delta -= c.Cost()
			}
		}
	}
	return delta
}

// flip toggles the atom and updates counters, cost and the violated
// index. Flipping twice restores the state exactly.
func (s *state) flip(atom int32) {
	for _, ci := range s.m.Incidence(atom) {
		c := s.m.Clauses[ci]
		l := litOf(c, atom)
		n := s.nSat[ci]
		if l.Sat(s.truth[atom]) {
			n--
		} else {
			n++
		}
		was := s.violatedPos[ci] >= 0
		is := clauseViolated(c, n)
		s.nSat[ci] = n
		if was && !is {
			s.removeViolated(ci)
			s.cost -= c.Cost()
		} else if !was && is {
			s.addViolated(ci)
			s.cost += c.Cost()
		}
	}
	s.truth[atom] = !s.truth[atom]
}

// flippable reports whether the sampler may flip the atom.
func (s *state) flippable(atom int32) bool {
	a := s.m.Atom(atom)
	if a == nil || a.Pred.Immutable {
		return false
	}
	return a.Club != ast.ClubEvidFixed && a.Club != ast.ClubEvidQueryEvid
}

// pickViolated returns a uniformly random violated clause with at least
// one flippable atom, or -1.
func (s *state) pickViolated(rng *rand.Rand) int32 {
	if len(s.violated) == 0 {
		return -1
	}
	// A few rejection rounds; violated clauses without flippable atoms
	// are rare outside pathological inputs.
	for range [8]struct{}{} {
		ci := s.violated[rng.Intn(len(s.violated))]
		if s.hasFlippable(ci) {
			return ci
		}
	}
	for _, ci := range s.violated {
		if s.hasFlippable(ci) {
			return ci
		}
	}
	return -1
}

func (s *state) hasFlippable(ci int32) bool {
	for _, l := range s.m.Clauses[ci].Lits {
		if s.flippable(l.Atom()) {
			return true
		}
	}
	return false
}

// randomAssignment draws a fresh truth vector: evidence and immutable
// atoms keep their truth, everything else is uniform.
func randomAssignment(m *mrf.MRF, rng *rand.Rand) []bool {
	truth := make([]bool, len(m.Atoms))
	for id := int32(1); id <= m.NumAtoms(); id++ {
		a := m.Atom(id)
		if a == nil {
			continue
		}
		if a.Pred.Immutable || a.Club == ast.ClubEvidFixed || a.Club == ast.ClubEvidQueryEvid {
			truth[id] = a.Truth
			continue
		}
		truth[id] = rng.Intn(2) == 0
	}
	return truth
}
