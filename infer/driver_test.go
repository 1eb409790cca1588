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

package infer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"codeberg.org/TauCeti/mln-go/ast"
	"codeberg.org/TauCeti/mln-go/groundstore"
)

func propositional(t *testing.T, names ...string) (*groundstore.MemStore, map[string]*ast.Predicate) {
	t.Helper()
	s := groundstore.NewMemStore()
	preds := make(map[string]*ast.Predicate, len(names))
	for _, name := range names {
		p := &ast.Predicate{Name: name}
		require.NoError(t, s.RegisterPredicate(p))
		preds[name] = p
	}
	return s, preds
}

func unit(id int, p *ast.Predicate, weight float64, hard, positive bool) *ast.ClauseTemplate {
	return &ast.ClauseTemplate{
		ID: id, Weight: weight, FixedWeight: hard,
		Lits: []ast.TemplateLit{{Pred: p, Positive: positive}},
	}
}

// TestSingleHardUnitPipeline is the whole pipeline on one hard unit
// clause: grounding plus unit propagation pin the atom, the marginal is
// exactly one.
func TestSingleHardUnitPipeline(t *testing.T) {
	s, preds := propositional(t, "x")
	d := NewDriver(s, []*ast.ClauseTemplate{unit(1, preds["x"], 1e7, true, true)},
		WithMCSATSamples(100),
		WithIterativeUnitPropagate(true),
		WithUnitPropagate(true),
	)
	res, err := d.Run(context.Background())
	require.NoError(t, err)
	require.False(t, res.TimedOut)
	require.Len(t, res.Marginals, 1)
	require.Equal(t, "x()", res.Marginals[0].Atom)
	require.Equal(t, 1.0, res.Marginals[0].Prob)
	require.Equal(t, 1, res.Metrics.NumberUnits)
	require.Equal(t, 0, res.Metrics.NumberGroundClauses)
}

func TestConflictingHardUnitsPipeline(t *testing.T) {
	s, preds := propositional(t, "x")
	d := NewDriver(s, []*ast.ClauseTemplate{
		unit(1, preds["x"], 1e7, true, true),
		unit(2, preds["x"], 1e7, true, false),
	},
		WithMCSATSamples(100),
		WithUnitPropagate(true),
	)
	_, err := d.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, 1, ExitCode(err))
}

func TestSoftUnitMarginal(t *testing.T) {
	s, preds := propositional(t, "x")
	d := NewDriver(s, []*ast.ClauseTemplate{unit(1, preds["x"], 1.0, false, true)},
		WithMCSATSamples(20000),
		WithSeed(5),
	)
	res, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Marginals, 1)
	require.InDelta(t, 0.731, res.Marginals[0].Prob, 0.03)
}

func TestMAPMode(t *testing.T) {
	s, preds := propositional(t, "x", "y")
	// Hard mutex plus a soft preference for x.
	templates := []*ast.ClauseTemplate{
		{ID: 1, Weight: 1e7, FixedWeight: true, Lits: []ast.TemplateLit{
			{Pred: preds["x"], Positive: true},
			{Pred: preds["y"], Positive: true},
		}},
		{ID: 2, Weight: 1e7, FixedWeight: true, Lits: []ast.TemplateLit{
			{Pred: preds["x"], Positive: false},
			{Pred: preds["y"], Positive: false},
		}},
		unit(3, preds["x"], 2.0, false, true),
	}
	d := NewDriver(s, templates, WithMode(ModeMAP), WithSeed(3))
	res, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0.0, res.MAPCost)
	require.Equal(t, []string{"x()"}, res.MAPTrueAtoms)
}

func TestInvalidConfiguration(t *testing.T) {
	s, preds := propositional(t, "x")
	d := NewDriver(s, []*ast.ClauseTemplate{unit(1, preds["x"], 1.0, false, true)})
	_, err := d.Run(context.Background())
	require.ErrorIs(t, err, ErrConfig)
	require.Equal(t, 2, ExitCode(err))
}

func TestValidateAggregatesErrors(t *testing.T) {
	o := DefaultOptions()
	o.MCSATSamples = 0
	o.WalkSATRandomStepProb = 2
	err := o.Validate()
	require.ErrorIs(t, err, ErrConfig)
	require.Contains(t, err.Error(), "sample count")
	require.Contains(t, err.Error(), "walksat random step probability")
}

func TestEvidenceExcludedFromOutput(t *testing.T) {
	s := groundstore.NewMemStore()
	p := &ast.Predicate{Name: "p", ArgTypes: []string{"t"}, ClosedWorld: true, Immutable: true}
	q := &ast.Predicate{Name: "q", ArgTypes: []string{"t"}}
	require.NoError(t, s.RegisterPredicate(p))
	require.NoError(t, s.RegisterPredicate(q))
	_, err := s.AddEvidence(p, []ast.Constant{{Symbol: "a"}}, true)
	require.NoError(t, err)
	tmpl := &ast.ClauseTemplate{
		ID: 1, Weight: 1.2,
		Lits: []ast.TemplateLit{
			{Pred: p, Positive: false, Args: []ast.TemplateArg{ast.NewVar("X")}},
			{Pred: q, Positive: true, Args: []ast.TemplateArg{ast.NewVar("X")}},
		},
	}
	d := NewDriver(s, []*ast.ClauseTemplate{tmpl}, WithMCSATSamples(200), WithSeed(2))
	res, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Marginals, 1)
	require.Equal(t, "q(a)", res.Marginals[0].Atom)
	require.Greater(t, res.Marginals[0].Prob, 0.5)
}
