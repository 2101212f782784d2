// Package dbopen opens the service's SQLite database with the pragmas a
// long-running single-writer service needs (WAL journal, busy timeout,
// foreign keys) applied via EXEC so any database/sql sqlite driver works.
//
// Usage:
//
//	import _ "modernc.org/sqlite"
//	db, err := dbopen.Open("liseuse.db", dbopen.WithSchema(store.Schema))
//
// In tests:
//
//	db := dbopen.OpenMemory(t)
package dbopen

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

type settings struct {
	busyTimeoutMS int
	synchronous   string
	foreignKeys   bool
	makeParents   bool
	schemas       []string
}

// Option adjusts how Open prepares the database.
type Option func(*settings)

// WithBusyTimeout overrides PRAGMA busy_timeout (milliseconds). Default 10000.
func WithBusyTimeout(ms int) Option { return func(s *settings) { s.busyTimeoutMS = ms } }

// WithSynchronous overrides PRAGMA synchronous. Default NORMAL.
func WithSynchronous(mode string) Option { return func(s *settings) { s.synchronous = mode } }

// WithSchema queues SQL to execute once the pragmas are in place. Repeatable.
func WithSchema(sql string) Option {
	return func(s *settings) { s.schemas = append(s.schemas, sql) }
}

// WithMkdirAll creates the parent directory of the database file first.
func WithMkdirAll() Option { return func(s *settings) { s.makeParents = true } }

// WithoutForeignKeys leaves PRAGMA foreign_keys off.
func WithoutForeignKeys() Option { return func(s *settings) { s.foreignKeys = false } }

// Open opens (creating if needed) the SQLite database at path and applies
// the service pragmas plus any queued schema. The caller must blank-import
// a driver registered as "sqlite", e.g. modernc.org/sqlite.
func Open(path string, opts ...Option) (*sql.DB, error) {
	s := settings{busyTimeoutMS: 10_000, synchronous: "NORMAL", foreignKeys: true}
	for _, o := range opts {
		o(&s)
	}

	if s.makeParents && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open: %w", err)
	}

	fk := "ON"
	if !s.foreignKeys {
		fk = "OFF"
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", s.busyTimeoutMS),
		fmt.Sprintf("PRAGMA synchronous = %s", s.synchronous),
		fmt.Sprintf("PRAGMA foreign_keys = %s", fk),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: %s: %w", p, err)
		}
	}

	for _, schema := range s.schemas {
		if _, err := db.Exec(schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: exec schema: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbopen: ping: %w", err)
	}
	return db, nil
}

// OpenMemory opens an in-memory database for tests. MaxOpenConns is pinned
// to 1 because every new connection to ":memory:" would otherwise see its
// own empty database. Closure is registered with t.Cleanup.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
