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
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"codeberg.org/TauCeti/mln-go/ast"
	"codeberg.org/TauCeti/mln-go/groundstore"
	"codeberg.org/TauCeti/mln-go/mrf"
	"codeberg.org/TauCeti/mln-go/unitsolver"
)

const hard = 1e7

func consts(syms ...string) []ast.Constant {
	out := make([]ast.Constant, len(syms))
	for i, s := range syms {
		out[i] = ast.Constant{Symbol: s}
	}
	return out
}

// TestClosureMinimality grounds P(x) => Q(x) over 1000 evidence-true P
// tuples: every Q atom becomes active, no P atom does, and exactly one
// unit clause per tuple is produced.
func TestClosureMinimality(t *testing.T) {
	s := groundstore.NewMemStore()
	p := &ast.Predicate{Name: "p", ArgTypes: []string{"thing"}, ClosedWorld: true, Immutable: true}
	q := &ast.Predicate{Name: "q", ArgTypes: []string{"thing"}}
	for _, pred := range []*ast.Predicate{p, q} {
		if err := s.RegisterPredicate(pred); err != nil {
			t.Fatalf("RegisterPredicate: %v", err)
		}
	}
	for i := 0; i < 1000; i++ {
		if _, err := s.AddEvidence(p, consts(fmt.Sprintf("t%d", i)), true); err != nil {
			t.Fatalf("AddEvidence: %v", err)
		}
	}
	tmpl := &ast.ClauseTemplate{
		Weight: 0.8,
		Lits: []ast.TemplateLit{
			{Pred: p, Positive: false, Args: []ast.TemplateArg{ast.NewVar("X")}},
			{Pred: q, Positive: true, Args: []ast.TemplateArg{ast.NewVar("X")}},
		},
	}
	g := New(s, []*ast.ClauseTemplate{tmpl}, Options{HardWeight: hard})
	res, err := g.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(s.ActiveAtoms(q)); got != 1000 {
		t.Errorf("active q atoms = %d, want 1000", got)
	}
	if got := len(s.ActiveAtoms(p)); got != 0 {
		t.Errorf("active p atoms = %d, want 0", got)
	}
	if got := len(res.MRF.Clauses); got != 1000 {
		t.Errorf("ground clauses = %d, want 1000", got)
	}
	for _, c := range res.MRF.Clauses {
		if len(c.Lits) != 1 || c.Weight != 0.8 {
			t.Fatalf("clause %v, want single-literal clause of weight 0.8", c)
		}
	}
	if err := res.MRF.CheckInvariants(); err != nil {
		t.Errorf("CheckInvariants: %v", err)
	}
}

// TestKeyConstraintClauses checks the mutex encoding: two active
// tuples agreeing on the key but not the label exclude each other.
func TestKeyConstraintClauses(t *testing.T) {
	s := groundstore.NewMemStore()
	p := &ast.Predicate{
		Name:           "label",
		ArgTypes:       []string{"node", "tag"},
		KeyAttrs:       []int{0},
		DependentAttrs: []int{1},
	}
	if err := s.RegisterPredicate(p); err != nil {
		t.Fatalf("RegisterPredicate: %v", err)
	}
	a1 := s.Atom(p, consts("1", "a"))
	a2 := s.Atom(p, consts("1", "b"))
	a3 := s.Atom(p, consts("2", "a"))
	s.ActivateAtoms(p, []int32{a1.ID, a2.ID, a3.ID})

	g := New(s, nil, Options{HardWeight: hard, KeyConstraintAllowsNullLabel: true})
	res, err := g.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []*mrf.Clause{
		{Lits: []ast.Lit{a1.Lit(false), a2.Lit(false)}, Weight: hard},
	}
	if diff := cmp.Diff(want, res.MRF.Clauses); diff != "" {
		t.Errorf("key constraint clauses diff (-want +got):\n%s", diff)
	}
}

func TestKeyConstraintExistenceClauses(t *testing.T) {
	s := groundstore.NewMemStore()
	p := &ast.Predicate{
		Name:           "label",
		ArgTypes:       []string{"node", "tag"},
		KeyAttrs:       []int{0},
		DependentAttrs: []int{1},
	}
	if err := s.RegisterPredicate(p); err != nil {
		t.Fatalf("RegisterPredicate: %v", err)
	}
	a1 := s.Atom(p, consts("1", "a"))
	a2 := s.Atom(p, consts("1", "b"))
	s.ActivateAtoms(p, []int32{a1.ID, a2.ID})

	g := New(s, nil, Options{HardWeight: hard})
	res, err := g.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var existence *mrf.Clause
	for _, c := range res.MRF.Clauses {
		if len(c.Lits) == 2 && c.Lits[0].Pos() {
			existence = c
		}
	}
	if existence == nil {
		t.Fatalf("no existence clause in %v", res.MRF.Clauses)
	}
	if diff := cmp.Diff([]ast.Lit{a1.Lit(true), a2.Lit(true)}, existence.Lits); diff != "" {
		t.Errorf("existence clause diff (-want +got):\n%s", diff)
	}
}

// TestIterativeUnitPropagation: a hard unit template pins its atom,
// and the accumulated clause set shrinks before soft grounding.
func TestIterativeUnitPropagation(t *testing.T) {
	s := groundstore.NewMemStore()
	q := &ast.Predicate{Name: "q", ArgTypes: nil}
	r := &ast.Predicate{Name: "r", ArgTypes: nil}
	for _, pred := range []*ast.Predicate{q, r} {
		if err := s.RegisterPredicate(pred); err != nil {
			t.Fatalf("RegisterPredicate: %v", err)
		}
	}
	hardUnit := &ast.ClauseTemplate{
		ID: 1, Weight: hard, FixedWeight: true,
		Lits: []ast.TemplateLit{{Pred: q, Positive: true}},
	}
	soft := &ast.ClauseTemplate{
		ID: 2, Weight: 1.5,
		Lits: []ast.TemplateLit{
			{Pred: q, Positive: true},
			{Pred: r, Positive: true},
		},
	}
	g := New(s, []*ast.ClauseTemplate{soft, hardUnit}, Options{
		HardWeight:             hard,
		IterativeUnitPropagate: true,
		Solver:                 unitsolver.Propagate{},
	})
	res, err := g.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Units) != 1 || !res.Units[0].Pos() {
		t.Fatalf("units = %v, want one positive literal", res.Units)
	}
	// The hard unit pins q true; the soft clause q|r is satisfied and
	// must not survive, nor may the unit itself.
	if len(res.MRF.Clauses) != 0 {
		t.Errorf("clauses = %v, want none", res.MRF.Clauses)
	}
	if res.Stats.Units != 1 {
		t.Errorf("unit count = %d, want 1", res.Stats.Units)
	}
}

// TestIUPConflict: grounding two contradicting hard units surfaces
// unsatisfiability during iterative propagation.
func TestIUPConflict(t *testing.T) {
	s := groundstore.NewMemStore()
	q := &ast.Predicate{Name: "q", ArgTypes: nil}
	if err := s.RegisterPredicate(q); err != nil {
		t.Fatalf("RegisterPredicate: %v", err)
	}
	pos := &ast.ClauseTemplate{ID: 1, Weight: hard, FixedWeight: true,
		Lits: []ast.TemplateLit{{Pred: q, Positive: true}}}
	neg := &ast.ClauseTemplate{ID: 2, Weight: hard, FixedWeight: true,
		Lits: []ast.TemplateLit{{Pred: q, Positive: false}}}
	g := New(s, []*ast.ClauseTemplate{pos, neg}, Options{
		HardWeight:             hard,
		IterativeUnitPropagate: true,
		Solver:                 unitsolver.Propagate{},
	})
	if _, err := g.Run(context.Background()); !errors.Is(err, groundstore.ErrHardViolated) {
		t.Errorf("Run error = %v, want ErrHardViolated", err)
	}
}

func TestSoftEvidenceClauses(t *testing.T) {
	s := groundstore.NewMemStore()
	q := &ast.Predicate{Name: "q", ArgTypes: []string{"thing"}}
	if err := s.RegisterPredicate(q); err != nil {
		t.Fatalf("RegisterPredicate: %v", err)
	}
	s.AddSoftEvidence(q, consts("a"), 0.8)
	s.AddSoftEvidence(q, consts("b"), 1.0)
	s.AddSoftEvidence(q, consts("c"), 0.0)

	g := New(s, nil, Options{HardWeight: hard})
	res, err := g.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	byAtom := make(map[int32]float64)
	for _, c := range res.MRF.Clauses {
		if len(c.Lits) != 1 {
			t.Fatalf("soft evidence clause %v is not a unit", c)
		}
		w := c.Weight
		if !c.Lits[0].Pos() {
			w = -w
		}
		byAtom[c.Lits[0].Atom()] = w
	}
	if got, want := byAtom[1], math.Log(0.8/0.2); math.Abs(got-want) > 1e-12 {
		t.Errorf("prior 0.8 weight = %g, want %g", got, want)
	}
	if got := byAtom[2]; got != hard {
		t.Errorf("prior 1.0 weight = %g, want hard weight", got)
	}
	if got := byAtom[3]; got != -hard {
		t.Errorf("prior 0.0 weight = %g, want negative hard weight", got)
	}
}

func TestClauseCeiling(t *testing.T) {
	s := groundstore.NewMemStore()
	p := &ast.Predicate{Name: "p", ArgTypes: []string{"thing"}, ClosedWorld: true, Immutable: true}
	q := &ast.Predicate{Name: "q", ArgTypes: []string{"thing"}}
	for _, pred := range []*ast.Predicate{p, q} {
		if err := s.RegisterPredicate(pred); err != nil {
			t.Fatalf("RegisterPredicate: %v", err)
		}
	}
	for i := 0; i < 50; i++ {
		if _, err := s.AddEvidence(p, consts(fmt.Sprintf("t%d", i)), true); err != nil {
			t.Fatalf("AddEvidence: %v", err)
		}
	}
	tmpl := &ast.ClauseTemplate{
		Weight: 1,
		Lits: []ast.TemplateLit{
			{Pred: p, Positive: false, Args: []ast.TemplateArg{ast.NewVar("X")}},
			{Pred: q, Positive: true, Args: []ast.TemplateArg{ast.NewVar("X")}},
		},
	}
	g := New(s, []*ast.ClauseTemplate{tmpl}, Options{HardWeight: hard, MaxClauses: 10})
	if _, err := g.Run(context.Background()); !errors.Is(err, ErrOversize) {
		t.Errorf("Run error = %v, want ErrOversize", err)
	}
}
