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
	"bufio"
	"fmt"
	"io"

	"codeberg.org/TauCeti/mln-go/ast"
)

// WriteDIMACS writes the CNF in DIMACS format, for handing the hard
// clause set to an external solver process:
//
//	p cnf <numAtoms> <numClauses>
//	<lit>* 0
func WriteDIMACS(w io.Writer, cnf [][]ast.Lit, numAtoms int32) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "p cnf %d %d\n", numAtoms, len(cnf)); err != nil {
		return err
	}
	for _, c := range cnf {
		for _, l := range c {
			if _, err := fmt.Fprintf(bw, "%d ", l); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(bw, "0"); err != nil {
			return err
		}
	}
	return bw.Flush()
}
