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

package groundstore

import (
	"fmt"
	"slices"
	"sort"

	"codeberg.org/TauCeti/mln-go/ast"
)

// core is the in-memory atom universe shared by the store
// implementations. The SQLite store mirrors its tuples into tables for
// joining but the atoms themselves live here.
type core struct {
	preds     map[string]*ast.Predicate
	predOrder []*ast.Predicate

	// atoms is indexed by id; index 0 is unused.
	atoms []*ast.GroundAtom
	// index maps predicate name -> tuple key -> atom.
	index map[string]map[string]*ast.GroundAtom
	// trueTuples lists evidence-true atoms per predicate, in insertion
	// order. These anchor the joins for closed-world literals.
	trueTuples map[string][]*ast.GroundAtom
	// active lists active atom ids per predicate, in activation order.
	active map[string][]int32

	// domains maps a domain name to its constants.
	domains   map[string][]ast.Constant
	domainSet map[string]map[string]bool

	// derived records atoms whose truth was injected via SetTruth.
	derived map[int32]bool
}

func newCore() *core {
	return &core{
		preds:      make(map[string]*ast.Predicate),
		atoms:      []*ast.GroundAtom{nil},
		index:      make(map[string]map[string]*ast.GroundAtom),
		trueTuples: make(map[string][]*ast.GroundAtom),
		active:     make(map[string][]int32),
		domains:    make(map[string][]ast.Constant),
		domainSet:  make(map[string]map[string]bool),
		derived:    make(map[int32]bool),
	}
}

// RegisterPredicate adds a predicate to the store. Registering the same
// name twice is an error.
func (c *core) RegisterPredicate(p *ast.Predicate) error {
	if _, ok := c.preds[p.Name]; ok {
		return fmt.Errorf("predicate %s registered twice", p.Name)
	}
	c.preds[p.Name] = p
	c.predOrder = append(c.predOrder, p)
	c.index[p.Name] = make(map[string]*ast.GroundAtom)
	return nil
}

// RegisterConstant interns a constant into a domain.
func (c *core) RegisterConstant(domain, symbol string) ast.Constant {
	set, ok := c.domainSet[domain]
	if !ok {
		set = make(map[string]bool)
		c.domainSet[domain] = set
	}
	k := ast.Constant{Symbol: symbol}
	if !set[symbol] {
		set[symbol] = true
		c.domains[domain] = append(c.domains[domain], k)
	}
	return k
}

// Domain returns the constants of a domain.
func (c *core) Domain(name string) []ast.Constant { return c.domains[name] }

func (c *core) Predicate(name string) *ast.Predicate { return c.preds[name] }

func (c *core) ListPredicates() []*ast.Predicate { return c.predOrder }

func (c *core) Lookup(pred *ast.Predicate, args []ast.Constant) (*ast.GroundAtom, bool) {
	a, ok := c.index[pred.Name][ast.TupleKey(args)]
	return a, ok
}

func (c *core) AtomByID(id int32) *ast.GroundAtom {
	if id <= 0 || int(id) >= len(c.atoms) {
		return nil
	}
	return c.atoms[id]
}

func (c *core) NumAtoms() int32 { return int32(len(c.atoms) - 1) }

func (c *core) Atoms(pred *ast.Predicate) []*ast.GroundAtom {
	byKey := c.index[pred.Name]
	out := make([]*ast.GroundAtom, 0, len(byKey))
	for _, a := range byKey {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *core) mint(pred *ast.Predicate, args []ast.Constant, club ast.Club, truth bool) *ast.GroundAtom {
	a := &ast.GroundAtom{
		ID:    int32(len(c.atoms)),
		Pred:  pred,
		Args:  slices.Clone(args),
		Truth: truth,
		Club:  club,
	}
	c.atoms = append(c.atoms, a)
	c.index[pred.Name][ast.TupleKey(args)] = a
	for i, k := range args {
		c.RegisterConstant(pred.ArgTypes[i], k.Symbol)
	}
	return a
}

// Atom returns the atom for the tuple, minting it as a query atom if
// absent.
func (c *core) Atom(pred *ast.Predicate, args []ast.Constant) *ast.GroundAtom {
	if a, ok := c.Lookup(pred, args); ok {
		return a
	}
	return c.mint(pred, args, ast.ClubQuery, false)
}

// AddEvidence records a fixed-truth evidence atom.
func (c *core) AddEvidence(pred *ast.Predicate, args []ast.Constant, truth bool) (*ast.GroundAtom, error) {
	if a, ok := c.Lookup(pred, args); ok {
		if (a.Club == ast.ClubEvidFixed || a.Club == ast.ClubEvidQueryEvid) && a.Truth != truth {
			return nil, fmt.Errorf("conflicting evidence for %v", a)
		}
		a.Club = ast.ClubEvidFixed
		a.Truth = truth
		if truth {
			c.addTrueTuple(a)
		}
		return a, nil
	}
	a := c.mint(pred, args, ast.ClubEvidFixed, truth)
	if truth {
		c.addTrueTuple(a)
	}
	return a, nil
}

func (c *core) addTrueTuple(a *ast.GroundAtom) {
	for _, t := range c.trueTuples[a.Pred.Name] {
		if t.ID == a.ID {
			return
		}
	}
	c.trueTuples[a.Pred.Name] = append(c.trueTuples[a.Pred.Name], a)
}

// AddSoftEvidence records an atom with a prior probability.
func (c *core) AddSoftEvidence(pred *ast.Predicate, args []ast.Constant, prior float64) *ast.GroundAtom {
	a := c.Atom(pred, args)
	p := prior
	a.Prior = &p
	pred.HasSoftEvidence = true
	return a
}

func (c *core) ActiveAtoms(pred *ast.Predicate) []int32 {
	return c.active[pred.Name]
}

func (c *core) ActivateAtoms(pred *ast.Predicate, ids []int32) int {
	n := 0
	for _, id := range ids {
		a := c.AtomByID(id)
		if a == nil || a.Active {
			continue
		}
		a.Active = true
		c.active[pred.Name] = append(c.active[pred.Name], id)
		n++
	}
	return n
}

func (c *core) SetTruth(pred *ast.Predicate, id int32, truth bool) {
	a := c.AtomByID(id)
	if a == nil {
		return
	}
	a.Truth = truth
	c.derived[id] = true
	if truth && (a.Club == ast.ClubEvidFixed || a.Club == ast.ClubEvidQueryEvid) {
		c.addTrueTuple(a)
	}
}

// evidenceView is the store's own view: evidence atoms and derived
// units are known, everything else is open.
type evidenceView struct{ c *core }

func (v evidenceView) Known(a *ast.GroundAtom) bool {
	return a.Club == ast.ClubEvidFixed || a.Club == ast.ClubEvidQueryEvid || v.c.derived[a.ID]
}

func (v evidenceView) Truth(a *ast.GroundAtom) bool { return a.Truth }

func (c *core) EvidenceOnly() EvidenceView { return evidenceView{c} }

// truthStatus classifies a tuple's truth under a view: known true,
// known false, or unknown. Atoms the view knows report that truth;
// other active atoms are unknown; remaining tuples of closed-world
// predicates that are not completely specified are known false.
type truthStatus uint8

const (
	statusUnknown truthStatus = iota
	statusTrue
	statusFalse
)

func (c *core) status(pred *ast.Predicate, args []ast.Constant, ev EvidenceView) (truthStatus, *ast.GroundAtom) {
	a, ok := c.Lookup(pred, args)
	if ok && ev.Known(a) {
		if ev.Truth(a) {
			return statusTrue, a
		}
		return statusFalse, a
	}
	if ok && a.Active {
		return statusUnknown, a
	}
	if pred.ClosedWorld && !pred.CompletelySpecified {
		return statusFalse, a
	}
	return statusUnknown, a
}

// binding maps template variable names to constants.
type binding map[string]ast.Constant

func (b binding) resolve(args []ast.TemplateArg) ([]ast.Constant, bool) {
	out := make([]ast.Constant, len(args))
	for i, a := range args {
		if a.IsVar() {
			k, ok := b[a.Var]
			if !ok {
				return nil, false
			}
			out[i] = k
		} else {
			out[i] = a.Const
		}
	}
	return out, true
}

// checkEmit evaluates one fully-bound grounding of a template: it
// resolves every literal against the view, drops literals fixed false,
// expands existential literals over their domains (inserting the
// sentinel when evidence already satisfies one of the expansions), and
// returns the sorted literal tuple. ok is false when the grounding
// cannot be violated; a grounding of a fixed-weight template with
// every literal falsified returns ErrHardViolated.
func (c *core) checkEmit(t *ast.ClauseTemplate, ev EvidenceView, b binding) ([]ast.Lit, bool, error) {
	var lits []ast.Lit
	for _, tl := range t.Lits {
		if tl.Exist {
			var sat bool
			lits, sat = c.expandExistential(tl, ev, b, lits)
			if sat {
				lits = append(lits, ast.SatSentinel)
			}
			continue
		}
		args, ok := b.resolve(tl.Args)
		if !ok {
			return nil, false, nil
		}
		st, a := c.status(tl.Pred, args, ev)
		switch st {
		case statusTrue:
			if tl.Positive {
				return nil, false, nil
			}
			// Fixed false literal, drop.
		case statusFalse:
			if !tl.Positive {
				return nil, false, nil
			}
		case statusUnknown:
			if a == nil {
				a = c.Atom(tl.Pred, args)
			}
			lits = append(lits, a.Lit(tl.Positive))
		}
	}
	for _, l := range lits {
		if l == ast.SatSentinel {
			return nil, false, nil
		}
	}
	if len(lits) == 0 {
		if t.FixedWeight && len(t.Lits) > 0 {
			return nil, false, fmt.Errorf("%w: template %v", ErrHardViolated, t)
		}
		// Fixed violated soft grounding: constant cost, nothing to
		// optimize.
		return nil, false, nil
	}
	sortLits(lits)
	return lits, true, nil
}

// expandExistential appends the expansion of an existential literal
// over the domains of its unbound variables. The sat return is true
// when some expansion is already satisfied by evidence.
func (c *core) expandExistential(tl ast.TemplateLit, ev EvidenceView, b binding, lits []ast.Lit) ([]ast.Lit, bool) {
	var free []string
	var freeDomains [][]ast.Constant
	seen := make(map[string]bool)
	for i, a := range tl.Args {
		if a.IsVar() && !seen[a.Var] {
			if _, bound := b[a.Var]; !bound {
				seen[a.Var] = true
				free = append(free, a.Var)
				freeDomains = append(freeDomains, c.Domain(tl.Pred.ArgTypes[i]))
			}
		}
	}
	sat := false
	var rec func(i int)
	rec = func(i int) {
		if sat {
			return
		}
		if i == len(free) {
			args, ok := b.resolve(tl.Args)
			if !ok {
				return
			}
			st, a := c.status(tl.Pred, args, ev)
			switch st {
			case statusTrue:
				if tl.Positive {
					sat = true
				}
			case statusFalse:
				if !tl.Positive {
					sat = true
				}
			case statusUnknown:
				if a == nil {
					a = c.Atom(tl.Pred, args)
				}
				lits = append(lits, a.Lit(tl.Positive))
			}
			return
		}
		for _, k := range freeDomains[i] {
			b[free[i]] = k
			rec(i + 1)
		}
		delete(b, free[i])
	}
	rec(0)
	return lits, sat
}

// anchorLits returns the indices of template literals that anchor the
// join: negated literals over closed-world predicates that are not
// completely specified can only avoid being fixed satisfied on
// evidence-true tuples, so the join iterates those tuples. Nullary
// literals bind nothing and are left to the final check.
func anchorLits(t *ast.ClauseTemplate) []int {
	var idx []int
	for i, tl := range t.Lits {
		if tl.Exist || tl.Pred.Arity() == 0 {
			continue
		}
		if !tl.Positive && tl.Pred.ClosedWorld && !tl.Pred.CompletelySpecified {
			idx = append(idx, i)
		}
	}
	return idx
}

// freeVars returns the universal variables of t not bound by the anchor
// literals, along with their domain names, in first-occurrence order.
func (c *core) freeVars(t *ast.ClauseTemplate, anchored []int) ([]string, []string) {
	isAnchor := make(map[int]bool, len(anchored))
	for _, i := range anchored {
		isAnchor[i] = true
	}
	bound := make(map[string]bool)
	for _, i := range anchored {
		for _, a := range t.Lits[i].Args {
			if a.IsVar() {
				bound[a.Var] = true
			}
		}
	}
	var names []string
	var doms []string
	for i, tl := range t.Lits {
		if tl.Exist || isAnchor[i] {
			continue
		}
		for j, a := range tl.Args {
			if a.IsVar() && !bound[a.Var] {
				bound[a.Var] = true
				names = append(names, a.Var)
				doms = append(doms, tl.Pred.ArgTypes[j])
			}
		}
	}
	return names, doms
}

func sortLits(lits []ast.Lit) {
	sort.Slice(lits, func(i, j int) bool { return lits[i].Atom() < lits[j].Atom() })
}

// matchTuple extends the binding so the literal's arguments match the
// atom's tuple. Returns false on mismatch; newly bound variables are
// recorded in added for backtracking.
func matchTuple(tl ast.TemplateLit, a *ast.GroundAtom, b binding, added *[]string) bool {
	for i, arg := range tl.Args {
		if arg.IsVar() {
			if k, ok := b[arg.Var]; ok {
				if k != a.Args[i] {
					return false
				}
				continue
			}
			b[arg.Var] = a.Args[i]
			*added = append(*added, arg.Var)
			continue
		}
		if arg.Const != a.Args[i] {
			return false
		}
	}
	return true
}
