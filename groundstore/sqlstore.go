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
	"database/sql"
	"fmt"
	"strings"

	"codeberg.org/TauCeti/mln-go/ast"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// SQLStore is a join engine that pushes the per-template join into an
// embedded SQLite database, the way the reference system grounds
// against a relational store. Atoms live in memory; candidate tuples
// (evidence-true and active atoms) and domains are mirrored into tables
// and joined there. Results stream back as variable bindings that are
// checked and emitted by the same logic as the in-memory store.
type SQLStore struct {
	*core
	db *sql.DB

	// tables maps predicate/domain names to sanitized table names.
	predTable map[string]string
	domTable  map[string]string

	// High-water marks of rows already mirrored, per source list.
	syncedTrue   map[string]int
	syncedActive map[string]int
	syncedDom    map[string]int
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore opens a SQLite-backed store. An empty dsn uses an
// in-memory database.
func NewSQLStore(dsn string) (*SQLStore, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The store is single-threaded; one connection keeps the in-memory
	// database alive across statements.
	db.SetMaxOpenConns(1)
	return &SQLStore{
		core:         newCore(),
		db:           db,
		predTable:    make(map[string]string),
		domTable:     make(map[string]string),
		syncedTrue:   make(map[string]int),
		syncedActive: make(map[string]int),
		syncedDom:    make(map[string]int),
	}, nil
}

// Close releases the database.
func (s *SQLStore) Close() error { return s.db.Close() }

func sanitizeIdent(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// RegisterPredicate creates the predicate's candidate-tuple table.
// Nullary predicates get no table; they never participate in a join.
func (s *SQLStore) RegisterPredicate(p *ast.Predicate) error {
	if err := s.core.RegisterPredicate(p); err != nil {
		return err
	}
	if p.Arity() == 0 {
		return nil
	}
	tbl := fmt.Sprintf("t_%s_%d", sanitizeIdent(p.Name), len(s.predTable))
	s.predTable[p.Name] = tbl
	cols := make([]string, p.Arity())
	for i := range cols {
		cols[i] = fmt.Sprintf("c%d TEXT NOT NULL", i)
	}
	pk := make([]string, p.Arity())
	for i := range pk {
		pk[i] = fmt.Sprintf("c%d", i)
	}
	stmt := fmt.Sprintf("CREATE TABLE %s (%s, PRIMARY KEY (%s))",
		tbl, strings.Join(cols, ", "), strings.Join(pk, ", "))
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("create table for %s: %w", p.Name, err)
	}
	return nil
}

func (s *SQLStore) domainTable(name string) (string, error) {
	if tbl, ok := s.domTable[name]; ok {
		return tbl, nil
	}
	tbl := fmt.Sprintf("dom_%s_%d", sanitizeIdent(name), len(s.domTable))
	if _, err := s.db.Exec(fmt.Sprintf("CREATE TABLE %s (sym TEXT PRIMARY KEY)", tbl)); err != nil {
		return "", fmt.Errorf("create domain table %s: %w", name, err)
	}
	s.domTable[name] = tbl
	return tbl, nil
}

// flush mirrors tuples and constants added since the last call into
// their tables.
func (s *SQLStore) flush() error {
	for name, tbl := range s.predTable {
		p := s.preds[name]
		insert := fmt.Sprintf("INSERT OR IGNORE INTO %s VALUES (%s)",
			tbl, strings.TrimSuffix(strings.Repeat("?,", p.Arity()), ","))
		trues := s.trueTuples[name]
		for _, a := range trues[s.syncedTrue[name]:] {
			if _, err := s.db.Exec(insert, tupleArgs(a.Args)...); err != nil {
				return err
			}
		}
		s.syncedTrue[name] = len(trues)
		actives := s.active[name]
		for _, id := range actives[s.syncedActive[name]:] {
			a := s.AtomByID(id)
			if _, err := s.db.Exec(insert, tupleArgs(a.Args)...); err != nil {
				return err
			}
		}
		s.syncedActive[name] = len(actives)
	}
	for name, syms := range s.domains {
		tbl, err := s.domainTable(name)
		if err != nil {
			return err
		}
		for _, k := range syms[s.syncedDom[name]:] {
			if _, err := s.db.Exec(fmt.Sprintf("INSERT OR IGNORE INTO %s VALUES (?)", tbl), k.Symbol); err != nil {
				return err
			}
		}
		s.syncedDom[name] = len(syms)
	}
	return nil
}

// GroundClause implements Store. The anchor literals and free-variable
// domains become one SELECT; each result row is a candidate binding
// that is checked and emitted in memory.
func (s *SQLStore) GroundClause(t *ast.ClauseTemplate, positive bool, ev EvidenceView, emit func(lits []ast.Lit) error) error {
	if err := s.flush(); err != nil {
		return fmt.Errorf("mirror tuples: %w", err)
	}
	anchors := anchorLits(t)
	freeNames, freeDoms := s.freeVars(t, anchors)

	if len(anchors) == 0 && len(freeNames) == 0 {
		b := make(binding)
		lits, ok, err := s.checkEmit(t, ev, b)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		return emit(lits)
	}

	var from []string
	var where []string
	var args []any
	varCol := make(map[string]string)
	var selectCols []string
	var selectVars []string

	for i, li := range anchors {
		tl := t.Lits[li]
		alias := fmt.Sprintf("a%d", i)
		from = append(from, fmt.Sprintf("%s AS %s", s.predTable[tl.Pred.Name], alias))
		for j, arg := range tl.Args {
			col := fmt.Sprintf("%s.c%d", alias, j)
			if !arg.IsVar() {
				where = append(where, col+" = ?")
				args = append(args, arg.Const.Symbol)
				continue
			}
			if prev, ok := varCol[arg.Var]; ok {
				where = append(where, col+" = "+prev)
				continue
			}
			varCol[arg.Var] = col
			selectCols = append(selectCols, col)
			selectVars = append(selectVars, arg.Var)
		}
	}
	for i, v := range freeNames {
		// Free variables range over their domain table. A variable
		// with an empty domain has no groundings.
		if len(s.Domain(freeDoms[i])) == 0 {
			return nil
		}
		tbl, err := s.domainTable(freeDoms[i])
		if err != nil {
			return err
		}
		alias := fmt.Sprintf("f%d", i)
		from = append(from, fmt.Sprintf("%s AS %s", tbl, alias))
		col := alias + ".sym"
		varCol[v] = col
		selectCols = append(selectCols, col)
		selectVars = append(selectVars, v)
	}

	if len(selectCols) == 0 {
		// Fully constant anchors bind no variables; the query only
		// checks that matching candidate rows exist.
		selectCols = []string{"1"}
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(selectCols, ", "), strings.Join(from, ", "))
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return fmt.Errorf("ground %s: %w", t, err)
	}
	defer rows.Close()

	vals := make([]string, len(selectCols))
	scan := make([]any, len(selectCols))
	for i := range vals {
		scan[i] = &vals[i]
	}
	b := make(binding)
	for rows.Next() {
		if err := rows.Scan(scan...); err != nil {
			return err
		}
		for i, v := range selectVars {
			b[v] = ast.Constant{Symbol: vals[i]}
		}
		lits, ok, err := s.checkEmit(t, ev, b)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := emit(lits); err != nil {
			return err
		}
	}
	return rows.Err()
}

func tupleArgs(args []ast.Constant) []any {
	out := make([]any, len(args))
	for i, k := range args {
		out[i] = k.Symbol
	}
	return out
}
