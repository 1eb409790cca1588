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

package sample

import (
	"context"
	"math"
	"math/rand"

	"github.com/golang/glog"

	"codeberg.org/TauCeti/mln-go/ast"
	"codeberg.org/TauCeti/mln-go/mrf"
)

// MCSATOptions configure marginal inference.
type MCSATOptions struct {
	// Samples is the number of MC-SAT samples to draw.
	Samples int
	// MaxFlips bounds each inner SampleSAT run; 0 means 100 times the
	// number of atoms.
	MaxFlips int
	// SAProb is the probability of a simulated annealing step instead
	// of a WalkSAT step inside SampleSAT.
	SAProb float64
	// SACoef is the inverse temperature of the annealing acceptance.
	SACoef float64
	// RandomStepProb is the random walk ratio of the inner WalkSAT
	// steps.
	RandomStepProb float64
}

// Marginals accumulate per-atom sample tallies.
type Marginals struct {
	// NTrue counts, per atom id, the samples in which the atom held.
	NTrue []int64
	// N is the number of samples drawn.
	N int
	// SumCost sums the full-MRF cost over the drawn samples.
	SumCost float64
}

// Prob returns the marginal estimate of the atom.
func (mg *Marginals) Prob(id int32) float64 {
	if mg.N == 0 {
		return 0
	}
	return float64(mg.NTrue[id]) / float64(mg.N)
}

// MeanCost returns the average sample cost.
func (mg *Marginals) MeanCost() float64 {
	if mg.N == 0 {
		return 0
	}
	return mg.SumCost / float64(mg.N)
}

// MCSAT draws samples by slice sampling: each round keeps the hard
// clauses plus a random subset of the soft clauses the current
// assignment honours, and asks SampleSAT for a near-uniform model of
// that subset. On timeout the tallies accumulated so far are returned
// along with the context error.
func MCSAT(ctx context.Context, m *mrf.MRF, o MCSATOptions, rngs *Streams) (*Marginals, Stats, error) {
	var stats Stats
	mg := &Marginals{NTrue: make([]int64, len(m.Atoms))}

	// Initial assignment: a model of the hard clauses.
	cur, ok := sampleSAT(ctx, m, hardSubMRF(m), o, rngs)
	if !ok {
		glog.Warning("mcsat: no model of the hard clauses found for the initial sample")
	}

	for i := 0; i < o.Samples; i++ {
		if err := ctx.Err(); err != nil {
			stats.SamplesAtTimeout = mg.N
			stats.ClausesAtTimeout = len(m.Clauses)
			glog.V(1).Infof("mcsat timed out after %d of %d samples", mg.N, o.Samples)
			return mg, stats, err
		}
		sub := retainSubMRF(m, cur, rngs.Retention)
		next, ok := sampleSAT(ctx, m, sub, o, rngs)
		if !ok {
			stats.SampleSatFails++
			next = cur
		}
		cur = next
		for id := int32(1); id <= m.NumAtoms(); id++ {
			a := m.Atom(id)
			if a == nil || a.Pred.Immutable {
				continue
			}
			if cur[id] {
				mg.NTrue[id]++
			}
		}
		mg.N++
		mg.SumCost += m.Cost(cur)
		stats.Samples++
	}
	return mg, stats, nil
}

// hardSubMRF returns the sub-MRF of all hard clauses, as satisfaction
// constraints.
func hardSubMRF(m *mrf.MRF) *mrf.MRF {
	var sub []*mrf.Clause
	for _, c := range m.Clauses {
		if c.Hard(m.HardWeight) {
			sub = append(sub, constraintClause(c))
		}
	}
	return mrf.New(m.Atoms, sub, 2)
}

// retainSubMRF builds the slice for one MC-SAT round: all hard
// clauses, plus each honoured soft clause independently retained with
// probability 1-exp(-|w|). A negative-weight clause is honoured when
// unsatisfied and enters the slice with its literals flipped.
func retainSubMRF(m *mrf.MRF, truth []bool, rng *rand.Rand) *mrf.MRF {
	at := func(id int32) bool { return truth[id] }
	var sub []*mrf.Clause
	for _, c := range m.Clauses {
		if c.Hard(m.HardWeight) {
			sub = append(sub, constraintClause(c))
			continue
		}
		if c.Violated(at) {
			continue
		}
		if rng.Float64() < 1-math.Exp(-c.Cost()) {
			sub = append(sub, constraintClause(c))
		}
	}
	return mrf.New(m.Atoms, sub, 2)
}

// constraintClause turns a weighted clause into a unit-cost
// satisfaction constraint; negative weights flip the literal signs.
func constraintClause(c *mrf.Clause) *mrf.Clause {
	if c.Weight >= 0 {
		return &mrf.Clause{Lits: c.Lits, Weight: 1}
	}
	lits := make([]ast.Lit, len(c.Lits))
	for i, l := range c.Lits {
		lits[i] = -l
	}
	return &mrf.Clause{Lits: lits, Weight: 1}
}

// sampleSAT draws a near-uniform model of the sub-MRF's clauses. Each
// step is a Bernoulli trial between a simulated annealing move and a
// WalkSAT move on the violated clauses. Returns the assignment and
// whether every constraint was satisfied.
func sampleSAT(ctx context.Context, m *mrf.MRF, sub *mrf.MRF, o MCSATOptions, rngs *Streams) ([]bool, bool) {
	s := newState(sub, randomAssignment(m, rngs.Init))
	maxFlips := o.MaxFlips
	if maxFlips <= 0 {
		maxFlips = 100 * int(m.NumAtoms())
	}
	for flip := 0; flip < maxFlips; flip++ {
		if s.cost == 0 {
			return s.truth, true
		}
		if ctx.Err() != nil {
			break
		}
		if rngs.SA.Float64() < o.SAProb {
			// Simulated annealing: propose a uniform random flip.
			atom := int32(rngs.SA.Intn(int(m.NumAtoms()))) + 1
			if !s.flippable(atom) {
				continue
			}
			delta := s.deltaCost(atom)
			if delta <= 0 || rngs.SA.Float64() < math.Exp(-delta*o.SACoef) {
				s.flip(atom)
			}
			continue
		}
		ci := s.pickViolated(rngs.WalkSAT)
		if ci < 0 {
			break
		}
		atom := s.pickAtom(ci, o.RandomStepProb, rngs.WalkSAT)
		if atom <= 0 {
			continue
		}
		s.flip(atom)
	}
	return s.truth, s.cost == 0
}
