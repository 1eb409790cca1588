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

package program

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"codeberg.org/TauCeti/mln-go/ast"
	"codeberg.org/TauCeti/mln-go/groundstore"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const testModel = `
predicates:
  - name: p
    args: [thing]
    closed_world: true
    immutable: true
  - name: q
    args: [thing]
clauses:
  - weight: 1.5
    lits:
      - pred: p
        negated: true
        args: [X]
      - pred: q
        args: [X]
  - hard: true
    lits:
      - pred: q
        args: [c0]
`

func TestLoadModel(t *testing.T) {
	s := groundstore.NewMemStore()
	templates, err := LoadModel(writeFile(t, "m.yaml", testModel), s, 1e7, s.RegisterPredicate)
	require.NoError(t, err)
	require.Len(t, templates, 2)

	require.Equal(t, 1.5, templates[0].Weight)
	require.False(t, templates[0].FixedWeight)
	require.Len(t, templates[0].Lits, 2)
	require.False(t, templates[0].Lits[0].Positive)
	require.True(t, templates[0].Lits[0].Args[0].IsVar())

	require.Equal(t, 1e7, templates[1].Weight)
	require.True(t, templates[1].FixedWeight)
	require.False(t, templates[1].Lits[0].Args[0].IsVar())

	require.NotNil(t, s.Predicate("p"))
	require.True(t, s.Predicate("p").ClosedWorld)
	require.NotNil(t, s.Predicate("q"))
}

func TestLoadModelRejectsArityMismatch(t *testing.T) {
	s := groundstore.NewMemStore()
	bad := `
predicates:
  - name: p
    args: [thing]
clauses:
  - weight: 1
    lits:
      - pred: p
        args: [X, Y]
`
	_, err := LoadModel(writeFile(t, "bad.yaml", bad), s, 1e7, s.RegisterPredicate)
	require.ErrorContains(t, err, "expects 1 args")
}

func TestLoadEvidence(t *testing.T) {
	s := groundstore.NewMemStore()
	_, err := LoadModel(writeFile(t, "m.yaml", testModel), s, 1e7, s.RegisterPredicate)
	require.NoError(t, err)

	evidence := "# comment\n" +
		"p\ttrue\ta\n" +
		"p\tfalse\tb\n" +
		"q\t0.75\tc\n"
	require.NoError(t, LoadEvidence(writeFile(t, "ev.tsv", evidence), s))

	p, q := s.Predicate("p"), s.Predicate("q")
	a, ok := s.Lookup(p, []ast.Constant{{Symbol: "a"}})
	require.True(t, ok)
	require.True(t, a.Truth)
	require.Equal(t, ast.ClubEvidFixed, a.Club)

	b, ok := s.Lookup(p, []ast.Constant{{Symbol: "b"}})
	require.True(t, ok)
	require.False(t, b.Truth)

	c, ok := s.Lookup(q, []ast.Constant{{Symbol: "c"}})
	require.True(t, ok)
	require.NotNil(t, c.Prior)
	require.Equal(t, 0.75, *c.Prior)
	require.True(t, q.HasSoftEvidence)
}

func TestLoadEvidenceRejectsUnknownPredicate(t *testing.T) {
	s := groundstore.NewMemStore()
	err := LoadEvidence(writeFile(t, "ev.tsv", "r\ttrue\ta\n"), s)
	require.ErrorContains(t, err, "unknown predicate")
}
