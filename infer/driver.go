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
	"errors"
	"sort"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"codeberg.org/TauCeti/mln-go/ast"
	"codeberg.org/TauCeti/mln-go/ground"
	"codeberg.org/TauCeti/mln-go/groundstore"
	"codeberg.org/TauCeti/mln-go/sample"
	"codeberg.org/TauCeti/mln-go/unitprop"
	"codeberg.org/TauCeti/mln-go/unitsolver"
)

// Metrics are the summary counters of one run.
type Metrics struct {
	NumberGroundAtoms             int
	NumberGroundClauses           int
	NumberUnits                   int
	SolverTimeMs                  int64
	UPGroundingTimeMs             int64
	MCSATStepsWhereSampleSatFails int
	NumberSamplesAtTimeout        int
	NumberClausesAtTimeout        int
}

// AtomMarginal pairs an atom's print form with its estimated marginal.
type AtomMarginal struct {
	Atom string
	Prob float64
}

// Result is the outcome of a run. On timeout it carries the tallies
// accumulated up to the deadline.
type Result struct {
	RunID string
	Mode  Mode

	// Marginals, in marginal mode, sorted by atom print form.
	Marginals []AtomMarginal

	// MAPTrueAtoms and MAPCost describe the best assignment in MAP
	// mode.
	MAPTrueAtoms []string
	MAPCost      float64

	TimedOut bool
	Metrics  Metrics
}

// Driver runs the pipeline: grounding, optional unit propagation,
// sampling, result emission. Phases run strictly in sequence; the MRF
// moves from the grounder to the propagator to the sampler.
type Driver struct {
	store     groundstore.Store
	templates []*ast.ClauseTemplate
	opts      Options
}

// NewDriver builds a driver over the store and templates.
func NewDriver(store groundstore.Store, templates []*ast.ClauseTemplate, options ...Option) *Driver {
	opts := DefaultOptions()
	for _, o := range options {
		o(&opts)
	}
	return &Driver{store: store, templates: templates, opts: opts}
}

// Run executes the pipeline. A deadline expiry is not an error: the
// result carries the partial tallies with TimedOut set. Hard
// contradictions, oversize groundings and invalid configurations are
// errors.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	if err := d.opts.Validate(); err != nil {
		return nil, err
	}
	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}
	res := &Result{RunID: uuid.NewString(), Mode: d.opts.Mode}
	glog.V(1).Infof("run %s: %s inference over %d templates", res.RunID, d.opts.Mode, len(d.templates))

	var solver unitsolver.Solver
	if d.opts.IterativeUnitPropagate {
		if d.opts.UseBackbones {
			solver = unitsolver.Backbone{}
		} else {
			solver = unitsolver.Propagate{}
		}
	}
	g := ground.New(d.store, d.templates, ground.Options{
		HardWeight:                      d.opts.HardWeight,
		SoftEvidenceActivationThreshold: d.opts.SoftEvidenceActivationThreshold,
		IterativeUnitPropagate:          d.opts.IterativeUnitPropagate,
		MarkAllAtomsActive:              d.opts.MarkAllAtomsActive,
		KeyConstraintAllowsNullLabel:    d.opts.KeyConstraintAllowsNullLabel,
		MaxClauses:                      d.opts.MaxClauses,
		Solver:                          solver,
	})
	groundStart := time.Now()
	gr, err := g.Run(ctx)
	groundTime := time.Since(groundStart)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			res.TimedOut = true
			return res, nil
		}
		return nil, err
	}
	res.Metrics.NumberGroundAtoms = gr.Stats.NumAtoms
	res.Metrics.NumberGroundClauses = gr.Stats.NumClauses
	res.Metrics.NumberUnits = gr.Stats.Units
	res.Metrics.SolverTimeMs = gr.Stats.SolverTime.Milliseconds()
	res.Metrics.UPGroundingTimeMs = groundTime.Milliseconds()

	// The pinning set from iterative unit propagation is carried to
	// the output.
	pinned := make(map[int32]bool)
	for _, l := range gr.Units {
		pinned[l.Atom()] = l.Pos()
	}

	m := gr.MRF
	if d.opts.UnitPropagate {
		upr, err := unitprop.Run(ctx, m)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				res.TimedOut = true
				return res, nil
			}
			return nil, err
		}
		for id, v := range upr.Pinned {
			pinned[id] = v
		}
		res.Metrics.NumberUnits += upr.Units
		m = upr.MRF
	}

	switch d.opts.Mode {
	case ModeMAP:
		assignment, _, werr := sample.WalkSAT(ctx, m, sample.WalkSATOptions{
			MaxTries:       d.opts.MaxTries,
			MaxFlips:       d.opts.MaxFlips,
			RandomStepProb: d.opts.WalkSATRandomStepProb,
		}, sample.NewStreams(d.opts.Seed).WalkSAT)
		if werr != nil && !errors.Is(werr, context.DeadlineExceeded) && !errors.Is(werr, context.Canceled) {
			return nil, werr
		}
		res.TimedOut = werr != nil
		res.MAPCost = assignment.Cost
		for id := int32(1); id <= m.NumAtoms(); id++ {
			a := m.Atom(id)
			if a == nil || a.Pred.Immutable {
				continue
			}
			if assignment.Truth[id] {
				res.MAPTrueAtoms = append(res.MAPTrueAtoms, a.String())
			}
		}
		for id, v := range pinned {
			if a := d.store.AtomByID(id); a != nil && v && !a.Pred.Immutable {
				res.MAPTrueAtoms = append(res.MAPTrueAtoms, a.String())
			}
		}
		sort.Strings(res.MAPTrueAtoms)

	case ModeMarginal:
		marginals, stats, merr := sample.MCSATChains(ctx, m, sample.MCSATOptions{
			Samples:        d.opts.MCSATSamples,
			MaxFlips:       d.opts.MaxFlips,
			SAProb:         d.opts.SampleSATSAProb,
			SACoef:         d.opts.SampleSATSACoef,
			RandomStepProb: d.opts.WalkSATRandomStepProb,
		}, d.opts.Seed, d.opts.Chains)
		if merr != nil && !errors.Is(merr, context.DeadlineExceeded) && !errors.Is(merr, context.Canceled) {
			return nil, merr
		}
		res.TimedOut = merr != nil
		res.Metrics.MCSATStepsWhereSampleSatFails = stats.SampleSatFails
		res.Metrics.NumberSamplesAtTimeout = stats.SamplesAtTimeout
		res.Metrics.NumberClausesAtTimeout = stats.ClausesAtTimeout
		res.Marginals = d.collectMarginals(m.NumAtoms(), pinned, func(id int32) (float64, bool) {
			if m.Atom(id) == nil {
				return 0, false
			}
			return marginals.Prob(id), true
		})
	}
	glog.V(1).Infof("run %s finished: %d marginals, timed out: %v", res.RunID, len(res.Marginals), res.TimedOut)
	return res, nil
}

// collectMarginals merges sampled estimates with pinned atoms, which
// report probability one or zero.
func (d *Driver) collectMarginals(numAtoms int32, pinned map[int32]bool, prob func(int32) (float64, bool)) []AtomMarginal {
	var out []AtomMarginal
	for id := int32(1); id <= d.store.NumAtoms(); id++ {
		a := d.store.AtomByID(id)
		if a == nil || a.Pred.Immutable {
			continue
		}
		if a.Club == ast.ClubEvidFixed || a.Club == ast.ClubEvidQueryEvid {
			continue
		}
		if v, ok := pinned[id]; ok {
			p := 0.0
			if v {
				p = 1.0
			}
			out = append(out, AtomMarginal{Atom: a.String(), Prob: p})
			continue
		}
		if id <= numAtoms {
			if p, ok := prob(id); ok {
				out = append(out, AtomMarginal{Atom: a.String(), Prob: p})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Atom < out[j].Atom })
	return out
}

// ExitCode maps an error to the process exit status the reference
// system documents: 0 success, 1 hard contradiction, 2 invalid
// configuration, 3 oversize grounding, 4 anything else.
func ExitCode(err error) int {
	var unsat *unitprop.UnsatError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &unsat), errors.Is(err, unitsolver.ErrUnsat), errors.Is(err, groundstore.ErrHardViolated):
		return 1
	case errors.Is(err, ErrConfig):
		return 2
	case errors.Is(err, ground.ErrOversize):
		return 3
	default:
		return 4
	}
}
