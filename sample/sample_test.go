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
	"testing"

	"codeberg.org/TauCeti/mln-go/ast"
	"codeberg.org/TauCeti/mln-go/mrf"
)

const hard = 1e7

var pred = &ast.Predicate{Name: "q", ArgTypes: []string{"t"}}

func mkMRF(n int32, clauses ...*mrf.Clause) *mrf.MRF {
	atoms := make([]*ast.GroundAtom, n+1)
	for id := int32(1); id <= n; id++ {
		atoms[id] = &ast.GroundAtom{
			ID: id, Pred: pred,
			Args:   []ast.Constant{{Symbol: string(rune('a' + id))}},
			Club:   ast.ClubQuery,
			Active: true,
		}
	}
	return mrf.New(atoms, clauses, hard)
}

func TestFlipRoundTrip(t *testing.T) {
	m := mkMRF(3,
		mrf.NewClause([]ast.Lit{1, 2}, 1),
		mrf.NewClause([]ast.Lit{-1, 3}, 2),
		mrf.NewClause([]ast.Lit{-2, -3}, -0.5),
	)
	s := newState(m, []bool{false, true, false, true})
	cost := s.cost
	nSat := append([]int32(nil), s.nSat...)
	truth := append([]bool(nil), s.truth...)

	s.flip(2)
	s.flip(2)

	if s.cost != cost {
		t.Errorf("cost after double flip = %g, want %g", s.cost, cost)
	}
	for i := range nSat {
		if s.nSat[i] != nSat[i] {
			t.Errorf("nSat[%d] = %d, want %d", i, s.nSat[i], nSat[i])
		}
	}
	for i := range truth {
		if s.truth[i] != truth[i] {
			t.Errorf("truth[%d] = %v, want %v", i, s.truth[i], truth[i])
		}
	}
}

// TestIncrementalCostAgreesWithScratch flips randomly and checks the
// incremental cost against a from-scratch recomputation every step.
func TestIncrementalCostAgreesWithScratch(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	m := mkMRF(6,
		mrf.NewClause([]ast.Lit{1, -2, 3}, 1.5),
		mrf.NewClause([]ast.Lit{-1, 4}, hard),
		mrf.NewClause([]ast.Lit{2, 5}, -2),
		mrf.NewClause([]ast.Lit{-5, 6}, 0.25),
		mrf.NewClause([]ast.Lit{-3}, 0.75),
	)
	s := newState(m, randomAssignment(m, rng))
	for i := 0; i < 200; i++ {
		atom := int32(rng.Intn(6)) + 1
		s.flip(atom)
		want := m.Cost(s.truth)
		if math.Abs(s.cost-want) > 1e-9 {
			t.Fatalf("step %d: incremental cost %g, scratch cost %g", i, s.cost, want)
		}
	}
}

func TestDeltaCostMatchesFlip(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	m := mkMRF(4,
		mrf.NewClause([]ast.Lit{1, 2}, 1),
		mrf.NewClause([]ast.Lit{-2, 3, -4}, 2),
		mrf.NewClause([]ast.Lit{4}, -1),
	)
	s := newState(m, randomAssignment(m, rng))
	for atom := int32(1); atom <= 4; atom++ {
		delta := s.deltaCost(atom)
		before := s.cost
		s.flip(atom)
		if got := s.cost - before; math.Abs(got-delta) > 1e-9 {
			t.Errorf("atom %d: deltaCost %g, actual %g", atom, delta, got)
		}
		s.flip(atom)
	}
}

// TestWalkSATSatisfiesHardPair is the x|y, !x|!y satisfiability check:
// the search must reach cost zero within a few flips for every seed.
func TestWalkSATSatisfiesHardPair(t *testing.T) {
	for seed := int64(0); seed < 100; seed++ {
		m := mkMRF(2,
			mrf.NewClause([]ast.Lit{1, 2}, hard),
			mrf.NewClause([]ast.Lit{-1, -2}, hard),
		)
		got, stats, err := WalkSAT(context.Background(), m, WalkSATOptions{
			RandomStepProb: 0.5,
		}, rand.New(rand.NewSource(seed)))
		if err != nil {
			t.Fatalf("seed %d: WalkSAT: %v", seed, err)
		}
		if got.Cost != 0 {
			t.Errorf("seed %d: cost %g, want 0", seed, got.Cost)
		}
		if stats.Flips > 10 {
			t.Errorf("seed %d: %d flips, want at most 10", seed, stats.Flips)
		}
		if got.Truth[1] == got.Truth[2] {
			t.Errorf("seed %d: assignment %v violates the mutex", seed, got.Truth[1:])
		}
	}
}

func TestWalkSATRespectsEvidence(t *testing.T) {
	m := mkMRF(2, mrf.NewClause([]ast.Lit{-1, 2}, hard))
	m.Atoms[1].Club = ast.ClubEvidFixed
	m.Atoms[1].Truth = true
	got, _, err := WalkSAT(context.Background(), m, WalkSATOptions{RandomStepProb: 0.5},
		rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("WalkSAT: %v", err)
	}
	if !got.Truth[1] {
		t.Error("evidence atom was flipped")
	}
	if !got.Truth[2] {
		t.Error("implied atom must be true in a zero-cost assignment")
	}
}

func TestMCSATHardUnit(t *testing.T) {
	m := mkMRF(1, mrf.NewClause([]ast.Lit{1}, hard))
	mg, stats, err := MCSAT(context.Background(), m, MCSATOptions{
		Samples: 500, SAProb: 0.5, SACoef: 0.1, RandomStepProb: 0.5,
	}, NewStreams(1))
	if err != nil {
		t.Fatalf("MCSAT: %v", err)
	}
	if got := mg.Prob(1); got != 1.0 {
		t.Errorf("marginal of hard-true atom = %g, want 1", got)
	}
	if stats.SampleSatFails != 0 {
		t.Errorf("SampleSatFails = %d, want 0", stats.SampleSatFails)
	}
}

// TestMCSATSoftUnitConverges draws 100000 samples from a single soft
// unit clause of weight 1. The marginal must approach the sigmoid of
// the weight, about 0.731.
func TestMCSATSoftUnitConverges(t *testing.T) {
	if testing.Short() {
		t.Skip("statistical convergence test")
	}
	m := mkMRF(1, mrf.NewClause([]ast.Lit{1}, 1.0))
	mg, _, err := MCSAT(context.Background(), m, MCSATOptions{
		Samples: 100000, SAProb: 0.5, SACoef: 0.1, RandomStepProb: 0.5,
	}, NewStreams(42))
	if err != nil {
		t.Fatalf("MCSAT: %v", err)
	}
	got := mg.Prob(1)
	if got < 0.71 || got > 0.75 {
		t.Errorf("marginal = %g, want within [0.71, 0.75] around sigmoid(1)=%g",
			got, 1/(1+math.Exp(-1)))
	}
}

func TestMCSATNegativeWeightSuppresses(t *testing.T) {
	if testing.Short() {
		t.Skip("statistical convergence test")
	}
	m := mkMRF(1, mrf.NewClause([]ast.Lit{1}, 1.0))
	// The canonical form of weight -1 on {x} is weight 1 on {-x}.
	m.Clauses[0].Lits[0] = -1
	m.BuildIncidence()
	mg, _, err := MCSAT(context.Background(), m, MCSATOptions{
		Samples: 100000, SAProb: 0.5, SACoef: 0.1, RandomStepProb: 0.5,
	}, NewStreams(17))
	if err != nil {
		t.Fatalf("MCSAT: %v", err)
	}
	want := 1 / (1 + math.Exp(1))
	if got := mg.Prob(1); math.Abs(got-want) > 0.02 {
		t.Errorf("marginal = %g, want within 0.02 of sigmoid(-1)=%g", got, want)
	}
}

func TestMCSATTimeoutEmitsPartialTallies(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := mkMRF(1, mrf.NewClause([]ast.Lit{1}, 1.0))
	mg, stats, err := MCSAT(ctx, m, MCSATOptions{
		Samples: 100, SAProb: 0.5, SACoef: 0.1,
	}, NewStreams(1))
	if err == nil {
		t.Fatal("want context error")
	}
	if mg.N != 0 {
		t.Errorf("samples drawn = %d, want 0 under an expired context", mg.N)
	}
	if stats.ClausesAtTimeout != 1 {
		t.Errorf("ClausesAtTimeout = %d, want 1", stats.ClausesAtTimeout)
	}
}

func TestMCSATChainsMergeTallies(t *testing.T) {
	m := mkMRF(1, mrf.NewClause([]ast.Lit{1}, hard))
	mg, _, err := MCSATChains(context.Background(), m, MCSATOptions{
		Samples: 400, SAProb: 0.5, SACoef: 0.1, RandomStepProb: 0.5,
	}, 9, 4)
	if err != nil {
		t.Fatalf("MCSATChains: %v", err)
	}
	if mg.N != 400 {
		t.Errorf("merged sample count = %d, want 400", mg.N)
	}
	if got := mg.Prob(1); got != 1.0 {
		t.Errorf("merged marginal = %g, want 1", got)
	}
}
