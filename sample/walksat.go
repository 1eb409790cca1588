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
	"math/rand"
	"slices"

	"github.com/golang/glog"

	"codeberg.org/TauCeti/mln-go/mrf"
)

// WalkSATOptions configure the MAP search.
type WalkSATOptions struct {
	// MaxTries is the restart count; 0 means 3.
	MaxTries int
	// MaxFlips is the per-try flip budget; 0 means 100 times the
	// number of atoms.
	MaxFlips int
	// RandomStepProb is the probability of a random walk step instead
	// of a greedy one.
	RandomStepProb float64
}

// Assignment is a truth assignment with its violation cost.
type Assignment struct {
	Truth []bool
	Cost  float64
}

// Stats count sampler work.
type Stats struct {
	Flips            int
	Tries            int
	Samples          int
	SampleSatFails   int
	SamplesAtTimeout int
	ClausesAtTimeout int
}

func (o WalkSATOptions) maxFlips(m *mrf.MRF) int {
	if o.MaxFlips > 0 {
		return o.MaxFlips
	}
	return 100 * int(m.NumAtoms())
}

func (o WalkSATOptions) maxTries() int {
	if o.MaxTries > 0 {
		return o.MaxTries
	}
	return 3
}

// WalkSAT searches for a minimum-cost assignment. It returns the best
// assignment seen across all tries; a cost of zero with no violated
// hard clause ends the search early. The context deadline is polled at
// the top of every flip; on expiry the best assignment so far is
// returned with the context error.
func WalkSAT(ctx context.Context, m *mrf.MRF, o WalkSATOptions, rng *rand.Rand) (*Assignment, Stats, error) {
	var stats Stats
	best := &Assignment{Cost: -1}

	record := func(s *state) {
		if best.Cost < 0 || s.cost < best.Cost {
			best.Cost = s.cost
			best.Truth = slices.Clone(s.truth)
			m.LowCost = s.cost
		}
	}

	for try := 0; try < o.maxTries(); try++ {
		stats.Tries++
		s := newState(m, randomAssignment(m, rng))
		record(s)
		for flip := 0; flip < o.maxFlips(m); flip++ {
			if err := ctx.Err(); err != nil {
				glog.V(1).Infof("walksat timed out after %d flips, best cost %g", stats.Flips, best.Cost)
				return best, stats, err
			}
			if s.cost == 0 && s.violatedHard == 0 {
				return best, stats, nil
			}
			ci := s.pickViolated(rng)
			if ci < 0 {
				break
			}
			atom := s.pickAtom(ci, o.RandomStepProb, rng)
			if atom <= 0 {
				continue
			}
			s.flip(atom)
			stats.Flips++
			record(s)
		}
	}
	return best, stats, nil
}

// pickAtom chooses the atom of the clause to flip: with the given
// probability a uniformly random flippable one, otherwise the one
// minimising the cost delta, ties broken uniformly.
func (s *state) pickAtom(ci int32, randomProb float64, rng *rand.Rand) int32 {
	c := s.m.Clauses[ci]
	var candidates []int32
	for _, l := range c.Lits {
		if s.flippable(l.Atom()) {
			candidates = append(candidates, l.Atom())
		}
	}
	if len(candidates) == 0 {
		return 0
	}
	if rng.Float64() < randomProb {
		return candidates[rng.Intn(len(candidates))]
	}
	bestDelta := 0.0
	var bestAtoms []int32
	for i, a := range candidates {
		d := s.deltaCost(a)
		if i == 0 || d < bestDelta {
			bestDelta = d
			bestAtoms = bestAtoms[:0]
			bestAtoms = append(bestAtoms, a)
		} else if d == bestDelta {
			bestAtoms = append(bestAtoms, a)
		}
	}
	return bestAtoms[rng.Intn(len(bestAtoms))]
}
