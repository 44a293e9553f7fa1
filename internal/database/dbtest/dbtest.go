// Package dbtest provides in-memory stand-ins for the database package
// interfaces. The Store understands the statements sqlgen produces well
// enough to track tables, columns and upserted rows.
package dbtest

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"

	"dynamic-table/internal/database"
	"dynamic-table/internal/sqlgen"
)

var (
	createPattern     = regexp.MustCompile(`^CREATE TABLE "([^"]+)" \(`)
	columnLinePattern = regexp.MustCompile(`^\s+"([^"]+)" `)
	addPattern        = regexp.MustCompile(`^ALTER TABLE "([^"]+)" ADD COLUMN "([^"]+)"`)
	dropPattern       = regexp.MustCompile(`^ALTER TABLE "([^"]+)" DROP COLUMN "([^"]+)"`)
)

// Table is the in-memory state of one dynamic table.
type Table struct {
	Columns []string
	rows    map[string]map[string]interface{}
}

// Store implements database.Executor.
type Store struct {
	mu     sync.Mutex
	tables map[string]*Table

	// DDL records every DDL statement that was applied.
	DDL []string
	// Upserts counts ExecUpsert calls, failed ones included.
	Upserts int
	// UpsertHook, when set, runs before each upsert with the 1-based call
	// number; a non-nil error is returned instead of executing.
	UpsertHook func(call int, stmt *sqlgen.Statement) error
	// DDLHook, when set, runs before each DDL batch.
	DDLHook func(statements []string) error
}

func NewStore() *Store {
	return &Store{tables: make(map[string]*Table)}
}

// UndefinedTable is the driver error Postgres returns for a missing relation.
func UndefinedTable(table string) error {
	return &pgconn.PgError{Code: "42P01", Message: fmt.Sprintf("relation %q does not exist", table)}
}

func (s *Store) ExecDDL(ctx context.Context, statements []string) error {
	if s.DDLHook != nil {
		if err := s.DDLHook(statements); err != nil {
			return database.ClassifyError(err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[string]*Table, len(s.tables))
	for name, t := range s.tables {
		staged[name] = &Table{Columns: append([]string(nil), t.Columns...), rows: t.rows}
	}

	for _, stmt := range statements {
		switch {
		case createPattern.MatchString(stmt):
			name := createPattern.FindStringSubmatch(stmt)[1]
			if _, exists := staged[name]; exists {
				return database.ClassifyError(&pgconn.PgError{Code: "42P07", Message: fmt.Sprintf("relation %q already exists", name)})
			}
			t := &Table{rows: make(map[string]map[string]interface{})}
			for _, line := range strings.Split(stmt, "\n")[1:] {
				if m := columnLinePattern.FindStringSubmatch(line); m != nil {
					t.Columns = append(t.Columns, m[1])
				}
			}
			staged[name] = t
		case addPattern.MatchString(stmt):
			m := addPattern.FindStringSubmatch(stmt)
			t, ok := staged[m[1]]
			if !ok {
				return database.ClassifyError(UndefinedTable(m[1]))
			}
			t.Columns = append(t.Columns, m[2])
		case dropPattern.MatchString(stmt):
			m := dropPattern.FindStringSubmatch(stmt)
			t, ok := staged[m[1]]
			if !ok {
				return database.ClassifyError(UndefinedTable(m[1]))
			}
			for i, c := range t.Columns {
				if c == m[2] {
					t.Columns = append(t.Columns[:i], t.Columns[i+1:]...)
					break
				}
			}
		default:
			return database.ClassifyError(&pgconn.PgError{Code: "42601", Message: "unsupported statement"})
		}
	}

	s.tables = staged
	s.DDL = append(s.DDL, statements...)
	return nil
}

func (s *Store) ExecUpsert(ctx context.Context, stmt *sqlgen.Statement) (int64, error) {
	s.mu.Lock()
	s.Upserts++
	call := s.Upserts
	s.mu.Unlock()

	if s.UpsertHook != nil {
		if err := s.UpsertHook(call, stmt); err != nil {
			return 0, database.ClassifyError(err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[stmt.Table]
	if !ok {
		return 0, database.ClassifyError(UndefinedTable(stmt.Table))
	}

	width := len(stmt.Columns)
	var affected int64
	for start := 0; start+width <= len(stmt.Args); start += width {
		row := make(map[string]interface{}, width)
		for i, c := range stmt.Columns {
			row[c] = stmt.Args[start+i]
		}
		key := rowKey(stmt.Keys, row)
		if existing, found := t.rows[key]; found {
			for c, v := range row {
				existing[c] = v
			}
		} else {
			t.rows[key] = row
		}
		affected++
	}
	return affected, nil
}

func rowKey(keys []string, row map[string]interface{}) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprint(row[k])
	}
	return strings.Join(parts, "\x00")
}

// HasTable reports whether the table was created.
func (s *Store) HasTable(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tables[name]
	return ok
}

// Columns returns the current columns of a table.
func (s *Store) Columns(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[name]; ok {
		return append([]string(nil), t.Columns...)
	}
	return nil
}

// RowCount returns the number of distinct keys stored in a table.
func (s *Store) RowCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[name]; ok {
		return len(t.rows)
	}
	return 0
}

// Rows returns a copy of a table's rows sorted by key.
func (s *Store) Rows(name string) []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(t.rows))
	for k := range t.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]map[string]interface{}, 0, len(keys))
	for _, k := range keys {
		cp := make(map[string]interface{}, len(t.rows[k]))
		for c, v := range t.rows[k] {
			cp[c] = v
		}
		out = append(out, cp)
	}
	return out
}

// Locker is an in-process database.TableLocker.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	// Acquired counts successful Lock calls.
	Acquired int
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*sync.Mutex)}
}

func (l *Locker) Lock(ctx context.Context, table string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[table]
	if !ok {
		m = &sync.Mutex{}
		l.locks[table] = m
	}
	l.Acquired++
	l.mu.Unlock()

	m.Lock()
	return m.Unlock, nil
}

var (
	_ database.Executor    = (*Store)(nil)
	_ database.TableLocker = (*Locker)(nil)
)
