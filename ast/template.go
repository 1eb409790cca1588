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

package ast

import (
	"fmt"
	"strings"
)

// TemplateArg is one argument position of a template literal: either a
// variable (by name) or a constant.
type TemplateArg struct {
	// Var is the variable name; empty when the position is a constant.
	Var string
	// Const is the constant; meaningful only when Var is empty.
	Const Constant
}

// IsVar reports whether the argument is a variable.
func (a TemplateArg) IsVar() bool { return a.Var != "" }

func (a TemplateArg) String() string {
	if a.IsVar() {
		return a.Var
	}
	return a.Const.Symbol
}

// NewVar returns a variable argument.
func NewVar(name string) TemplateArg { return TemplateArg{Var: name} }

// NewConst returns a constant argument.
func NewConst(sym string) TemplateArg {
	return TemplateArg{Const: Constant{Symbol: sym}}
}

// TemplateLit is one literal of a clause template.
type TemplateLit struct {
	// Pred is the predicate this literal is over.
	Pred *Predicate
	// Positive is the literal's polarity in the clause.
	Positive bool
	// Args has one entry per predicate argument position.
	Args []TemplateArg
	// Exist marks literals whose variables not bound elsewhere are
	// existentially quantified. Groundings sharing a binding of the
	// universal variables aggregate into a single ground clause.
	Exist bool
}

func (l TemplateLit) String() string {
	args := make([]string, len(l.Args))
	for i, a := range l.Args {
		args[i] = a.String()
	}
	s := fmt.Sprintf("%s(%s)", l.Pred.Name, strings.Join(args, ","))
	if !l.Positive {
		return "!" + s
	}
	return s
}

// ClauseTemplate is a weighted first-order clause after normalization.
type ClauseTemplate struct {
	// ID identifies the template for provenance in logs and metrics.
	ID int
	// Weight is the clause weight. Positive weight rewards satisfied
	// groundings, negative weight penalizes them.
	Weight float64
	// FixedWeight marks hard constraints declared as such in the
	// source program, as opposed to clauses that merely carry a weight
	// at or above the hard threshold.
	FixedWeight bool
	// Lits are the template's literals.
	Lits []TemplateLit
}

// Hard reports whether the template is a hard constraint under the
// given threshold.
func (t *ClauseTemplate) Hard(hardWeight float64) bool {
	w := t.Weight
	if w < 0 {
		w = -w
	}
	return w >= hardWeight
}

// Signs lists the clause signs to ground for this template: a positive
// weight grounds the positive clause, a negative weight the negative
// one. Templates whose weight may change sign (learned weights, not
// fixed) consider both.
func (t *ClauseTemplate) Signs() []bool {
	if !t.FixedWeight {
		return []bool{true, false}
	}
	return []bool{t.Weight >= 0}
}

// Vars returns the template's variable names in order of first
// occurrence, split into universally and existentially quantified.
func (t *ClauseTemplate) Vars() (universal, existential []string) {
	seenU := make(map[string]bool)
	seenE := make(map[string]bool)
	for _, lit := range t.Lits {
		if lit.Exist {
			continue
		}
		for _, a := range lit.Args {
			if a.IsVar() && !seenU[a.Var] {
				seenU[a.Var] = true
				universal = append(universal, a.Var)
			}
		}
	}
	for _, lit := range t.Lits {
		if !lit.Exist {
			continue
		}
		for _, a := range lit.Args {
			if a.IsVar() && !seenU[a.Var] && !seenE[a.Var] {
				seenE[a.Var] = true
				existential = append(existential, a.Var)
			}
		}
	}
	return universal, existential
}

// HasExistential reports whether any literal is existential.
func (t *ClauseTemplate) HasExistential() bool {
	for _, lit := range t.Lits {
		if lit.Exist {
			return true
		}
	}
	return false
}

// Predicates returns the set of predicate names mentioned by the
// template.
func (t *ClauseTemplate) Predicates() []string {
	seen := make(map[string]bool)
	var names []string
	for _, lit := range t.Lits {
		if !seen[lit.Pred.Name] {
			seen[lit.Pred.Name] = true
			names = append(names, lit.Pred.Name)
		}
	}
	return names
}

// String returns a readable form like "1.5: !advisedBy(X,Y) | coauthor(X,Y)".
func (t *ClauseTemplate) String() string {
	lits := make([]string, len(t.Lits))
	for i, l := range t.Lits {
		lits[i] = l.String()
	}
	return fmt.Sprintf("%g: %s", t.Weight, strings.Join(lits, " | "))
}
