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

// Package ground turns clause templates and evidence into a ground
// MRF. It computes the closure of active atoms without enumerating the
// Herbrand base, interleaves hard clause grounding with unit
// propagation, consolidates duplicate groundings and emits key
// constraint and soft evidence clauses.
package ground

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"bitbucket.org/creachadair/stringset"
	"github.com/golang/glog"

	"codeberg.org/TauCeti/mln-go/ast"
	"codeberg.org/TauCeti/mln-go/groundstore"
	"codeberg.org/TauCeti/mln-go/mrf"
	"codeberg.org/TauCeti/mln-go/unitsolver"
)

// ErrOversize is returned when the ground clause count exceeds the
// configured ceiling.
var ErrOversize = errors.New("ground clause ceiling exceeded")

// Options configure grounding.
type Options struct {
	// HardWeight is the hardness threshold.
	HardWeight float64
	// SoftEvidenceActivationThreshold is the minimum prior at which a
	// soft evidence atom joins the initial active set.
	SoftEvidenceActivationThreshold float64
	// IterativeUnitPropagate interleaves the unit solver with hard
	// clause grounding.
	IterativeUnitPropagate bool
	// MarkAllAtomsActive bypasses the closure and activates every
	// minted atom with unknown truth.
	MarkAllAtomsActive bool
	// KeyConstraintAllowsNullLabel, when false, adds one existence
	// clause per key group in addition to the pairwise exclusions.
	KeyConstraintAllowsNullLabel bool
	// MaxClauses caps the ground clause count; 0 means no cap.
	MaxClauses int
	// Solver is consulted between hard templates when
	// IterativeUnitPropagate is set.
	Solver unitsolver.Solver
}

// Stats counts what grounding produced.
type Stats struct {
	ClosureIterations int
	NumClauses        int
	NumAtoms          int
	Units             int
	SolverTime        time.Duration
}

// Result is the grounding outcome.
type Result struct {
	MRF *mrf.MRF
	// Units is the pinning set of hard unit literals derived during
	// iterative unit propagation. It is retained across the pipeline;
	// the driver reports pinned atoms at probability one or zero.
	Units []ast.Lit
	Stats Stats
}

// Grounder drives the closure and grounding passes against a store.
type Grounder struct {
	store     groundstore.Store
	templates []*ast.ClauseTemplate
	opts      Options

	derived map[int32]bool
	units   []ast.Lit
	stats   Stats
}

// New returns a Grounder over the given store and templates.
func New(store groundstore.Store, templates []*ast.ClauseTemplate, opts Options) *Grounder {
	if opts.HardWeight <= 0 {
		opts.HardWeight = 1e7
	}
	return &Grounder{
		store:     store,
		templates: templates,
		opts:      opts,
		derived:   make(map[int32]bool),
	}
}

// view layers the units derived by iterative unit propagation over the
// store's own evidence.
type view struct {
	g    *Grounder
	base groundstore.EvidenceView
}

func (v view) Known(a *ast.GroundAtom) bool {
	if _, ok := v.g.derived[a.ID]; ok {
		return true
	}
	return v.base.Known(a)
}

func (v view) Truth(a *ast.GroundAtom) bool {
	if t, ok := v.g.derived[a.ID]; ok {
		return t
	}
	return v.base.Truth(a)
}

func (g *Grounder) view() groundstore.EvidenceView {
	return view{g: g, base: g.store.EvidenceOnly()}
}

// Run computes the closure, grounds all templates and returns the
// consolidated MRF.
func (g *Grounder) Run(ctx context.Context) (*Result, error) {
	g.activateInitial()
	if !g.opts.MarkAllAtomsActive {
		if err := g.closure(ctx); err != nil {
			return nil, err
		}
	}
	clauses, err := g.groundAll(ctx)
	if err != nil {
		return nil, err
	}
	clauses = mrf.Consolidate(clauses)
	clauses = append(clauses, g.keyConstraintClauses()...)
	clauses = append(clauses, g.softEvidenceClauses()...)
	clauses = mrf.Consolidate(clauses)

	atoms := make([]*ast.GroundAtom, g.store.NumAtoms()+1)
	for id := int32(1); id <= g.store.NumAtoms(); id++ {
		atoms[id] = g.store.AtomByID(id)
	}
	m := mrf.New(atoms, clauses, g.opts.HardWeight)
	g.stats.NumClauses = len(clauses)
	g.stats.NumAtoms = int(g.store.NumAtoms())
	glog.V(1).Infof("grounding produced %d atoms, %d clauses, %d units",
		g.stats.NumAtoms, g.stats.NumClauses, g.stats.Units)
	return &Result{MRF: m, Units: g.units, Stats: g.stats}, nil
}

// activateInitial seeds the active set: soft evidence atoms at or above
// the activation threshold, or every unknown atom when the closure is
// bypassed.
func (g *Grounder) activateInitial() {
	ev := g.store.EvidenceOnly()
	for _, p := range g.store.ListPredicates() {
		var ids []int32
		for _, a := range g.store.Atoms(p) {
			if g.opts.MarkAllAtomsActive {
				if !ev.Known(a) && !p.Immutable {
					ids = append(ids, a.ID)
				}
				continue
			}
			if a.Prior != nil && *a.Prior >= g.opts.SoftEvidenceActivationThreshold && !ev.Known(a) {
				ids = append(ids, a.ID)
			}
		}
		if len(ids) > 0 {
			g.store.ActivateAtoms(p, ids)
		}
	}
}

// closure iterates activation to a fixed point. Only templates that
// mention a predicate whose active set grew in the previous iteration
// are reground.
func (g *Grounder) closure(ctx context.Context) error {
	changed := stringset.New()
	for _, p := range g.store.ListPredicates() {
		changed.Add(p.Name)
	}
	for iter := 0; !changed.Empty(); iter++ {
		// The closure grows the active sets monotonically, so it
		// reaches a fixed point after at most one iteration per
		// ground atom. The atom count grows as grounding mints, so
		// the bound is rechecked each round.
		if iter > int(g.store.NumAtoms())+len(g.templates)+2 {
			return fmt.Errorf("activation closure did not converge after %d iterations", iter)
		}
		g.stats.ClosureIterations = iter + 1
		grew := stringset.New()
		for _, t := range g.templates {
			if !mentionsAny(t, changed) {
				continue
			}
			err := g.store.GroundClause(t, t.Weight >= 0, g.view(), func(lits []ast.Lit) error {
				g.activate(lits, grew)
				return nil
			})
			if err != nil {
				return fmt.Errorf("closure of template %v: %w", t, err)
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		changed = grew
	}
	return nil
}

func (g *Grounder) activate(lits []ast.Lit, grew stringset.Set) {
	ev := g.view()
	for _, l := range lits {
		if l == ast.SatSentinel || l == -ast.SatSentinel {
			continue
		}
		a := g.store.AtomByID(l.Atom())
		if a == nil || a.Active || a.Pred.Immutable || ev.Known(a) {
			continue
		}
		if g.store.ActivateAtoms(a.Pred, []int32{a.ID}) > 0 {
			grew.Add(a.Pred.Name)
		}
	}
}

func mentionsAny(t *ast.ClauseTemplate, names stringset.Set) bool {
	for _, n := range t.Predicates() {
		if names.Contains(n) {
			return true
		}
	}
	return false
}

// groundAll grounds every template in hardness order, interleaving the
// unit solver between hard templates and simplifying the accumulated
// clause set once before the first soft template.
func (g *Grounder) groundAll(ctx context.Context) ([]*mrf.Clause, error) {
	order := make([]*ast.ClauseTemplate, len(g.templates))
	copy(order, g.templates)
	sort.SliceStable(order, func(i, j int) bool {
		hi, hj := order[i].Hard(g.opts.HardWeight), order[j].Hard(g.opts.HardWeight)
		if hi != hj {
			return hi
		}
		if hi && order[i].FixedWeight != order[j].FixedWeight {
			return order[i].FixedWeight
		}
		return math.Abs(order[i].Weight) > math.Abs(order[j].Weight)
	})

	var clauses []*mrf.Clause
	simplified := false
	for _, t := range order {
		hard := t.Hard(g.opts.HardWeight)
		if !hard && !simplified && g.opts.IterativeUnitPropagate {
			var err error
			clauses, err = mrf.SimplifyWithUnits(clauses, g.units, g.opts.HardWeight)
			if err != nil {
				return nil, err
			}
			simplified = true
		}
		err := g.store.GroundClause(t, t.Weight >= 0, g.view(), func(lits []ast.Lit) error {
			clauses = append(clauses, mrf.NewClause(lits, t.Weight))
			if g.opts.MaxClauses > 0 && len(clauses) > g.opts.MaxClauses {
				return fmt.Errorf("%w: %d clauses", ErrOversize, len(clauses))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if hard && g.opts.IterativeUnitPropagate && g.opts.Solver != nil {
			if err := g.propagateUnits(clauses); err != nil {
				return nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if !simplified && g.opts.IterativeUnitPropagate {
		var err error
		clauses, err = mrf.SimplifyWithUnits(clauses, g.units, g.opts.HardWeight)
		if err != nil {
			return nil, err
		}
	}
	return clauses, nil
}

// propagateUnits hands the hard part of the accumulated CNF to the unit
// solver and injects newly derived literals as evidence. A failing
// solver costs pruning, not correctness: the step is skipped with a
// warning.
func (g *Grounder) propagateUnits(clauses []*mrf.Clause) error {
	var cnf [][]ast.Lit
	for _, c := range clauses {
		if !c.Hard(g.opts.HardWeight) {
			continue
		}
		if c.Weight >= 0 {
			cnf = append(cnf, c.Lits)
			continue
		}
		// Hard negative clause: all literals forced false.
		for _, l := range c.Lits {
			cnf = append(cnf, []ast.Lit{-l})
		}
	}
	if len(cnf) == 0 {
		return nil
	}
	start := time.Now()
	units, err := g.opts.Solver.Units(cnf, g.store.NumAtoms())
	g.stats.SolverTime += time.Since(start)
	if err != nil {
		if errors.Is(err, unitsolver.ErrUnsat) {
			return err
		}
		glog.Warningf("unit solver failed, skipping propagation step: %v", err)
		return nil
	}
	for _, l := range units {
		a := l.Atom()
		if _, ok := g.derived[a]; ok {
			continue
		}
		g.derived[a] = l.Pos()
		g.units = append(g.units, l)
		g.stats.Units++
		atom := g.store.AtomByID(a)
		if atom != nil {
			g.store.SetTruth(atom.Pred, a, l.Pos())
		}
	}
	return nil
}

// softEvidenceClauses emits one unit clause per active soft evidence
// atom, weighted by the prior's log odds. Boundary priors map to the
// hard weight so the atom is effectively pinned.
func (g *Grounder) softEvidenceClauses() []*mrf.Clause {
	var out []*mrf.Clause
	for _, p := range g.store.ListPredicates() {
		for _, a := range g.store.Atoms(p) {
			if a.Prior == nil || !a.Active {
				continue
			}
			var w float64
			switch pr := *a.Prior; {
			case pr <= 0:
				w = -g.opts.HardWeight
			case pr >= 1:
				w = g.opts.HardWeight
			default:
				w = math.Log(pr / (1 - pr))
			}
			if w == 0 {
				continue
			}
			out = append(out, mrf.NewClause([]ast.Lit{a.Lit(true)}, w))
		}
	}
	return out
}
