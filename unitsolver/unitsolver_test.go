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

package unitsolver

import (
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"codeberg.org/TauCeti/mln-go/ast"
)

func sorted(lits []ast.Lit) []ast.Lit {
	out := make([]ast.Lit, len(lits))
	copy(out, lits)
	sort.Slice(out, func(i, j int) bool { return out[i].Atom() < out[j].Atom() })
	return out
}

func TestPropagateChains(t *testing.T) {
	tests := []struct {
		name string
		cnf  [][]ast.Lit
		want []ast.Lit
	}{
		{
			name: "empty cnf",
			cnf:  nil,
			want: nil,
		},
		{
			name: "single unit",
			cnf:  [][]ast.Lit{{1}},
			want: []ast.Lit{1},
		},
		{
			name: "chain of implications",
			cnf:  [][]ast.Lit{{1}, {-1, 2}, {-2, -3}},
			want: []ast.Lit{1, 2, -3},
		},
		{
			name: "no units in satisfiable non-unit cnf",
			cnf:  [][]ast.Lit{{1, 2}, {-1, -2}},
			want: nil,
		},
		{
			name: "unit satisfies later clause",
			cnf:  [][]ast.Lit{{2}, {2, 3}},
			want: []ast.Lit{2},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := Propagate{}.Units(test.cnf, 4)
			if err != nil {
				t.Fatalf("Units: %v", err)
			}
			if diff := cmp.Diff(sorted(test.want), sorted(got)); diff != "" {
				t.Errorf("units diff (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPropagateUnsat(t *testing.T) {
	tests := [][][]ast.Lit{
		{{1}, {-1}},
		{{1}, {-1, 2}, {-2}},
	}
	for _, cnf := range tests {
		if _, err := (Propagate{}).Units(cnf, 2); !errors.Is(err, ErrUnsat) {
			t.Errorf("Units(%v) error = %v, want ErrUnsat", cnf, err)
		}
	}
}

func TestBackboneFindsNonUnitForcedLiterals(t *testing.T) {
	// x1 is true in every model although no unit clause says so.
	cnf := [][]ast.Lit{{1, 2}, {1, -2}}
	got, err := Backbone{}.Units(cnf, 2)
	if err != nil {
		t.Fatalf("Units: %v", err)
	}
	found := false
	for _, l := range got {
		if l == 1 {
			found = true
		}
		if l.Atom() == 2 {
			t.Errorf("atom 2 is not backbone, got literal %d", l)
		}
	}
	if !found {
		t.Errorf("backbone misses forced literal 1, got %v", got)
	}
}

func TestBackboneUnsat(t *testing.T) {
	cnf := [][]ast.Lit{{1}, {-1}}
	if _, err := (Backbone{}).Units(cnf, 1); !errors.Is(err, ErrUnsat) {
		t.Errorf("Units error = %v, want ErrUnsat", err)
	}
}

func TestWriteDIMACS(t *testing.T) {
	var sb strings.Builder
	cnf := [][]ast.Lit{{1, -2}, {3}}
	if err := WriteDIMACS(&sb, cnf, 3); err != nil {
		t.Fatalf("WriteDIMACS: %v", err)
	}
	want := "p cnf 3 2\n1 -2 0\n3 0\n"
	if sb.String() != want {
		t.Errorf("WriteDIMACS = %q, want %q", sb.String(), want)
	}
}
