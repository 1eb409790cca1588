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

// Package ast contains the representations of Markov Logic Network
// programs after normalization: typed predicates, ground atoms, signed
// literals and weighted clause templates. Everything here is ground or
// template-level data; there is no source syntax.
package ast

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"strings"
)

// Lit is a signed ground literal. The absolute value is a 1-based ground
// atom id, the sign is the polarity. The value 0 is reserved and never a
// valid literal.
type Lit int32

// SatSentinel is a pseudo-literal used while aggregating groundings of
// templates with existential positions. A grounding whose literal array
// contains the sentinel is already satisfied by evidence and must be
// discarded rather than turned into a ground clause.
const SatSentinel Lit = 999_999_999

// Atom returns the atom id of the literal.
func (l Lit) Atom() int32 {
	if l < 0 {
		return int32(-l)
	}
	return int32(l)
}

// Pos reports whether the literal has positive polarity.
func (l Lit) Pos() bool { return l > 0 }

// Neg returns the literal with polarity flipped.
func (l Lit) Neg() Lit { return -l }

// Sat reports whether the literal is satisfied when its atom has the
// given truth value.
func (l Lit) Sat(truth bool) bool { return l.Pos() == truth }

// Club classifies the role a ground atom plays in the input.
type Club uint8

const (
	// ClubEvidFixed marks evidence atoms whose truth is fixed.
	ClubEvidFixed Club = iota
	// ClubEvidQueryEvid marks evidence atoms that are also queried.
	ClubEvidQueryEvid
	// ClubQuery marks atoms whose marginal is to be inferred.
	ClubQuery
	// ClubQueryEvidTrue marks query atoms with a known training truth.
	ClubQueryEvidTrue
)

func (c Club) String() string {
	switch c {
	case ClubEvidFixed:
		return "EVID_FIXED"
	case ClubEvidQueryEvid:
		return "EVID_QUERY_EVID"
	case ClubQuery:
		return "QUERY"
	case ClubQueryEvidTrue:
		return "QUERY_EVID_TRUE"
	}
	return fmt.Sprintf("Club(%d)", uint8(c))
}

// Constant is an element of a typed domain. Constants are interned by
// the ground store; two constants are equal iff their symbols are equal.
type Constant struct {
	Symbol string
}

// String returns the constant's symbol.
func (c Constant) String() string { return c.Symbol }

// Hash returns an FNV-1a hash of the constant.
func (c Constant) Hash() uint64 {
	h := fnv.New64a()
	h.Write([]byte(c.Symbol))
	return h.Sum64()
}

// Predicate is a named typed relation of fixed arity.
type Predicate struct {
	// Name identifies the predicate; unique within a program.
	Name string
	// ArgTypes lists the domain name of each argument position.
	ArgTypes []string

	// ClosedWorld means tuples absent from the evidence are false.
	ClosedWorld bool
	// Immutable predicates carry evidence only; their atoms are never
	// queried or flipped by a sampler.
	Immutable bool
	// CompletelySpecified means the evidence lists both positive and
	// negative atoms explicitly, so the closed-world assumption does
	// not apply to absent tuples.
	CompletelySpecified bool
	// HasSoftEvidence is set when any atom of this predicate carries a
	// prior probability instead of a fixed truth value.
	HasSoftEvidence bool

	// KeyAttrs and DependentAttrs encode a functional dependency: two
	// tuples agreeing on all key positions must agree on all dependent
	// positions. Both nil when no key constraint is declared.
	KeyAttrs       []int
	DependentAttrs []int
}

// Arity returns the number of argument positions.
func (p *Predicate) Arity() int { return len(p.ArgTypes) }

// HasKeyConstraint reports whether a functional dependency is declared.
func (p *Predicate) HasKeyConstraint() bool {
	return len(p.KeyAttrs) > 0 && len(p.DependentAttrs) > 0
}

// String returns a readable form like "advisedBy(person,person)".
func (p *Predicate) String() string {
	return fmt.Sprintf("%s(%s)", p.Name, strings.Join(p.ArgTypes, ","))
}

// GroundAtom is a predicate applied to constants. Atoms are minted by a
// ground store, which assigns the 1-based id.
type GroundAtom struct {
	// ID is the unique non-zero atom id. Its sign-extended form is the
	// positive literal of this atom.
	ID int32
	// Pred is the owning predicate.
	Pred *Predicate
	// Args holds one constant per predicate argument position.
	Args []Constant

	// Truth is the current assignment.
	Truth bool
	// Club is the atom's role in the input.
	Club Club
	// Prior is the soft-evidence prior probability, nil if none.
	Prior *float64
	// Active reports membership in the grounding closure.
	Active bool
}

// Lit returns the literal for this atom with the given polarity.
func (a *GroundAtom) Lit(pos bool) Lit {
	if pos {
		return Lit(a.ID)
	}
	return Lit(-a.ID)
}

// String returns the atom's print form, e.g. "advisedBy(anna,bob)".
func (a *GroundAtom) String() string {
	args := make([]string, len(a.Args))
	for i, c := range a.Args {
		args[i] = c.Symbol
	}
	return fmt.Sprintf("%s(%s)", a.Pred.Name, strings.Join(args, ","))
}

// TupleHash returns an FNV-1a hash of the argument tuple.
func TupleHash(args []Constant) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, c := range args {
		binary.LittleEndian.PutUint64(buf[:], c.Hash())
		h.Write(buf[:])
	}
	return h.Sum64()
}

// TupleKey returns a canonical string key for the argument tuple.
func TupleKey(args []Constant) string {
	syms := make([]string, len(args))
	for i, c := range args {
		syms[i] = c.Symbol
	}
	return strings.Join(syms, "\x00")
}
