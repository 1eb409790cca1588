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

// Package groundstore contains the interface and implementations of the
// join engine that grounding runs against: it owns the universe of
// ground atoms, the per-predicate evidence and active sets, and produces
// the groundings of a clause template that could still be violated.
package groundstore

import (
	"errors"

	"codeberg.org/TauCeti/mln-go/ast"
)

// ErrHardViolated is returned by GroundClause when a grounding of a
// fixed-weight template has every literal falsified by evidence: the
// hard constraint can never be satisfied.
var ErrHardViolated = errors.New("hard clause violated by evidence")

// EvidenceView answers truth queries during grounding. The grounder
// passes a view that layers unit literals derived by iterative unit
// propagation over the store's own evidence.
type EvidenceView interface {
	// Known reports whether the atom's truth value is fixed.
	Known(a *ast.GroundAtom) bool
	// Truth returns the fixed truth value; meaningful only when Known.
	Truth(a *ast.GroundAtom) bool
}

// ReadOnlyStore provides read access to the atom universe.
type ReadOnlyStore interface {
	// Predicate returns the registered predicate with the given name,
	// or nil.
	Predicate(name string) *ast.Predicate

	// ListPredicates lists the registered predicates.
	ListPredicates() []*ast.Predicate

	// Lookup returns the atom for the given tuple if it has been
	// minted.
	Lookup(pred *ast.Predicate, args []ast.Constant) (*ast.GroundAtom, bool)

	// AtomByID returns the atom with the given id, or nil.
	AtomByID(id int32) *ast.GroundAtom

	// NumAtoms returns the highest minted atom id.
	NumAtoms() int32

	// ActiveAtoms returns the ids of the predicate's active atoms.
	ActiveAtoms(pred *ast.Predicate) []int32

	// Atoms returns all minted atoms of a predicate.
	Atoms(pred *ast.Predicate) []*ast.GroundAtom

	// EvidenceOnly returns a view of the store's own evidence, with no
	// derived units layered on top.
	EvidenceOnly() EvidenceView
}

// Store is the join engine the grounder drives. Implementations must
// mint each distinct tuple at most once and keep activation idempotent.
type Store interface {
	ReadOnlyStore

	// Atom returns the atom for the given tuple, minting it with club
	// QUERY if absent.
	Atom(pred *ast.Predicate, args []ast.Constant) *ast.GroundAtom

	// ActivateAtoms unions the given ids into the predicate's active
	// set and returns how many were newly activated.
	ActivateAtoms(pred *ast.Predicate, ids []int32) int

	// GroundClause streams the groundings of the template that could
	// be violated under the evidence view. positive is the clause sign;
	// MemStore and SQLStore ignore it and apply the same rule to both
	// signs. Each grounding is emitted as a sorted tuple of
	// literals over atoms with unknown truth; literals fixed false are
	// dropped and groundings fixed satisfied are not emitted. The
	// callback's error stops the stream and is returned. Tuples are
	// not deduplicated; the consumer consolidates.
	GroundClause(t *ast.ClauseTemplate, positive bool, ev EvidenceView, emit func(lits []ast.Lit) error) error

	// SetTruth fixes an atom's truth value. Used during iterative unit
	// propagation to inject derived evidence so later templates prune
	// against it.
	SetTruth(pred *ast.Predicate, id int32, truth bool)
}
