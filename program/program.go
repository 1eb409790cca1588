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

// Package program loads normalized programs and evidence databases
// from files. The model format is YAML over already-normalized clause
// data; evidence is tab-separated tuples. Parsing of MLN source syntax
// is a separate concern and not handled here.
package program

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"codeberg.org/TauCeti/mln-go/ast"
	"codeberg.org/TauCeti/mln-go/groundstore"
)

// EvidenceStore is the store surface evidence loading needs.
type EvidenceStore interface {
	Predicate(string) *ast.Predicate
	AddEvidence(*ast.Predicate, []ast.Constant, bool) (*ast.GroundAtom, error)
	AddSoftEvidence(*ast.Predicate, []ast.Constant, float64) *ast.GroundAtom
}

// modelFile is the YAML form of a normalized program. Argument tokens
// starting with an upper case letter are variables, everything else is
// a constant.
type modelFile struct {
	Predicates []predicateSpec `yaml:"predicates"`
	Clauses    []clauseSpec    `yaml:"clauses"`
}

type predicateSpec struct {
	Name                string   `yaml:"name"`
	Args                []string `yaml:"args"`
	ClosedWorld         bool     `yaml:"closed_world"`
	Immutable           bool     `yaml:"immutable"`
	CompletelySpecified bool     `yaml:"completely_specified"`
	Key                 []int    `yaml:"key"`
	Dependent           []int    `yaml:"dependent"`
}

type clauseSpec struct {
	Weight float64   `yaml:"weight"`
	Hard   bool      `yaml:"hard"`
	Lits   []litSpec `yaml:"lits"`
}

type litSpec struct {
	Pred    string   `yaml:"pred"`
	Negated bool     `yaml:"negated"`
	Args    []string `yaml:"args"`
	Exist   bool     `yaml:"exist"`
}

func isVariable(tok string) bool {
	if tok == "" {
		return false
	}
	return unicode.IsUpper(rune(tok[0]))
}

// LoadModel reads the model file, registers its predicates through the
// register callback, and returns the clause templates. Templates
// marked hard get the given hard weight.
func LoadModel(path string, store groundstore.ReadOnlyStore, hardWeight float64, register func(*ast.Predicate) error) ([]*ast.ClauseTemplate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var mf modelFile
	if err := yaml.Unmarshal(raw, &mf); err != nil {
		return nil, fmt.Errorf("parse model %s: %w", path, err)
	}
	for _, ps := range mf.Predicates {
		p := &ast.Predicate{
			Name:                ps.Name,
			ArgTypes:            ps.Args,
			ClosedWorld:         ps.ClosedWorld,
			Immutable:           ps.Immutable,
			CompletelySpecified: ps.CompletelySpecified,
			KeyAttrs:            ps.Key,
			DependentAttrs:      ps.Dependent,
		}
		if err := register(p); err != nil {
			return nil, err
		}
	}
	var templates []*ast.ClauseTemplate
	for i, cs := range mf.Clauses {
		t := &ast.ClauseTemplate{ID: i, Weight: cs.Weight, FixedWeight: cs.Hard}
		if cs.Hard {
			t.Weight = hardWeight
		}
		for _, ls := range cs.Lits {
			p := store.Predicate(ls.Pred)
			if p == nil {
				return nil, fmt.Errorf("clause %d: unknown predicate %s", i, ls.Pred)
			}
			if len(ls.Args) != p.Arity() {
				return nil, fmt.Errorf("clause %d: %s expects %d args, got %d", i, p.Name, p.Arity(), len(ls.Args))
			}
			tl := ast.TemplateLit{Pred: p, Positive: !ls.Negated, Exist: ls.Exist}
			for _, tok := range ls.Args {
				if isVariable(tok) {
					tl.Args = append(tl.Args, ast.NewVar(tok))
				} else {
					tl.Args = append(tl.Args, ast.NewConst(tok))
				}
			}
			t.Lits = append(t.Lits, tl)
		}
		templates = append(templates, t)
	}
	return templates, nil
}

// LoadEvidence reads tab-separated evidence lines of the form
//
//	pred	true|false|<prior>	arg...
//
// A float in the truth column records soft evidence with that prior.
// Blank lines and lines starting with '#' are skipped.
func LoadEvidence(path string, store EvidenceStore) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) < 2 {
			return fmt.Errorf("%s:%d: want pred, truth and args", path, line)
		}
		p := store.Predicate(fields[0])
		if p == nil {
			return fmt.Errorf("%s:%d: unknown predicate %s", path, line, fields[0])
		}
		if len(fields)-2 != p.Arity() {
			return fmt.Errorf("%s:%d: %s expects %d args, got %d", path, line, p.Name, p.Arity(), len(fields)-2)
		}
		args := make([]ast.Constant, p.Arity())
		for i, tok := range fields[2:] {
			args[i] = ast.Constant{Symbol: tok}
		}
		switch fields[1] {
		case "true":
			if _, err := store.AddEvidence(p, args, true); err != nil {
				return fmt.Errorf("%s:%d: %w", path, line, err)
			}
		case "false":
			if _, err := store.AddEvidence(p, args, false); err != nil {
				return fmt.Errorf("%s:%d: %w", path, line, err)
			}
		default:
			prior, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				return fmt.Errorf("%s:%d: truth column is neither bool nor prior: %q", path, line, fields[1])
			}
			store.AddSoftEvidence(p, args, prior)
		}
	}
	return sc.Err()
}
