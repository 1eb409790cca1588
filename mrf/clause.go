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

// Package mrf holds the in-memory Markov Random Field produced by
// grounding: ground clauses with weights, the atom table, and the
// atom-to-clause incidence used by the samplers.
package mrf

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"codeberg.org/TauCeti/mln-go/ast"
)

// Clause is a weighted ground clause. Lits is strictly sorted by atom
// id and free of duplicates. The canonical form of a unit clause has
// positive weight orientation: {x} with weight w<0 is stored as {-x}
// with weight -w.
type Clause struct {
	Lits   []ast.Lit
	Weight float64
}

// NewClause builds a clause from the given literals, sorting by atom id
// and dropping exact duplicates. Tautologies are kept; consolidation
// drops them.
func NewClause(lits []ast.Lit, weight float64) *Clause {
	ls := make([]ast.Lit, len(lits))
	copy(ls, lits)
	sort.Slice(ls, func(i, j int) bool {
		if ls[i].Atom() != ls[j].Atom() {
			return ls[i].Atom() < ls[j].Atom()
		}
		return ls[i] < ls[j]
	})
	out := ls[:0]
	for i, l := range ls {
		if i > 0 && l == ls[i-1] {
			continue
		}
		out = append(out, l)
	}
	return &Clause{Lits: out, Weight: weight}
}

// Hard reports whether the clause must be satisfied under the given
// threshold.
func (c *Clause) Hard(hardWeight float64) bool {
	return math.Abs(c.Weight) >= hardWeight
}

// Tautology reports whether the clause contains a literal and its
// negation. Such a clause is satisfied under every assignment.
func (c *Clause) Tautology() bool {
	for i := 1; i < len(c.Lits); i++ {
		if c.Lits[i] == -c.Lits[i-1] {
			return true
		}
	}
	return false
}

// Satisfied reports whether the disjunction holds under the truth
// assignment.
func (c *Clause) Satisfied(truth func(int32) bool) bool {
	for _, l := range c.Lits {
		if l.Sat(truth(l.Atom())) {
			return true
		}
	}
	return false
}

// Violated reports whether the clause incurs its cost under the
// assignment: a nonnegative-weight clause costs when unsatisfied, a
// negative-weight clause when satisfied.
func (c *Clause) Violated(truth func(int32) bool) bool {
	if c.Weight >= 0 {
		return !c.Satisfied(truth)
	}
	return c.Satisfied(truth)
}

// Cost is the cost the clause contributes when violated.
func (c *Clause) Cost() float64 { return math.Abs(c.Weight) }

// Key returns a canonical byte key for the literal multiset, used to
// group duplicate groundings during consolidation.
func (c *Clause) Key() string {
	var b strings.Builder
	var buf [4]byte
	for _, l := range c.Lits {
		binary.LittleEndian.PutUint32(buf[:], uint32(l))
		b.Write(buf[:])
	}
	return b.String()
}

// String renders the clause as "w: l1 | l2 | ...".
func (c *Clause) String() string {
	parts := make([]string, len(c.Lits))
	for i, l := range c.Lits {
		parts[i] = fmt.Sprintf("%d", l)
	}
	return fmt.Sprintf("%g: %s", c.Weight, strings.Join(parts, " | "))
}

// Consolidate groups clauses by their literal multiset, sums weights
// within each group, drops tautologies and zero-weight groups, and
// rewrites negative-weight units to canonical form. Running it twice
// equals running it once.
func Consolidate(clauses []*Clause) []*Clause {
	groups := make(map[string]*Clause)
	var order []string
	for _, c := range clauses {
		if c.Tautology() {
			continue
		}
		k := c.Key()
		if g, ok := groups[k]; ok {
			g.Weight += c.Weight
			continue
		}
		groups[k] = &Clause{Lits: c.Lits, Weight: c.Weight}
		order = append(order, k)
	}
	var out []*Clause
	for _, k := range order {
		g := groups[k]
		if g.Weight == 0 {
			continue
		}
		if len(g.Lits) == 1 && g.Weight < 0 {
			g = &Clause{Lits: []ast.Lit{-g.Lits[0]}, Weight: -g.Weight}
		}
		out = append(out, g)
	}
	return out
}

// SimplifyWithUnits applies a pinning set of unit literals to a clause
// list: clauses containing a pinned literal are dropped as satisfied,
// negations of pinned literals are removed. A hard clause of
// nonnegative weight reduced to nothing is a contradiction.
func SimplifyWithUnits(clauses []*Clause, units []ast.Lit, hardWeight float64) ([]*Clause, error) {
	pinned := make(map[int32]bool, len(units))
	for _, u := range units {
		pinned[u.Atom()] = u.Pos()
	}
	var out []*Clause
	for _, c := range clauses {
		keep := c.Lits[:0:0]
		satisfied := false
		for _, l := range c.Lits {
			v, ok := pinned[l.Atom()]
			if !ok {
				keep = append(keep, l)
				continue
			}
			if l.Sat(v) {
				satisfied = true
				break
			}
		}
		if satisfied {
			continue
		}
		if len(keep) == 0 {
			if c.Hard(hardWeight) && c.Weight >= 0 {
				return nil, fmt.Errorf("hard clause %v contradicts unit pinning", c)
			}
			// A soft clause fixed violated contributes constant cost.
			continue
		}
		out = append(out, &Clause{Lits: keep, Weight: c.Weight})
	}
	return out, nil
}
