// CLAUDE:SUMMARY Opens the snapd SQLite journal database with WAL pragmas, schema bootstrap, and an in-memory variant for tests.
// Package dbopen opens SQLite databases (modernc.org/sqlite, pure Go) the
// way every snapd store expects them:
//
//	journal_mode = WAL
//	foreign_keys = ON
//	busy_timeout = 10000
//	synchronous  = NORMAL
//
// Pragmas are applied with EXEC after opening, so they hold for the first
// connection of the pool. Writers share one connection (see WithMaxOpenConns)
// and go through Exec or InTx, which retry on SQLITE_BUSY.
package dbopen

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

const memoryPath = ":memory:"

type options struct {
	busyTimeoutMS int
	synchronous   string
	maxOpenConns  int
	mkdirAll      bool
	ping          bool
	schemas       []string
}

// Option customises Open.
type Option func(*options)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default 10000.
func WithBusyTimeout(ms int) Option { return func(o *options) { o.busyTimeoutMS = ms } }

// WithSynchronous sets PRAGMA synchronous. Default NORMAL.
func WithSynchronous(mode string) Option { return func(o *options) { o.synchronous = mode } }

// WithMaxOpenConns caps the pool. Zero leaves database/sql's default.
func WithMaxOpenConns(n int) Option { return func(o *options) { o.maxOpenConns = n } }

// WithMkdirAll creates the parent directory of the database file.
func WithMkdirAll() Option { return func(o *options) { o.mkdirAll = true } }

// WithSchema runs s after the pragmas. May be repeated; order is kept.
func WithSchema(s string) Option { return func(o *options) { o.schemas = append(o.schemas, s) } }

// WithoutPing skips the final connectivity check.
func WithoutPing() Option { return func(o *options) { o.ping = false } }

func (o *options) pragmas() []string {
	return []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", o.busyTimeoutMS),
		"PRAGMA synchronous = " + o.synchronous,
	}
}

// Open opens (or creates) the database at path.
func Open(path string, opts ...Option) (*sql.DB, error) {
	o := options{busyTimeoutMS: 10_000, synchronous: "NORMAL", ping: true}
	for _, fn := range opts {
		fn(&o)
	}

	if o.mkdirAll && path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir %s: %w", filepath.Dir(path), err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open %s: %w", path, err)
	}
	if o.maxOpenConns > 0 {
		db.SetMaxOpenConns(o.maxOpenConns)
	}
	if err := prepare(db, &o); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func prepare(db *sql.DB, o *options) error {
	for _, p := range o.pragmas() {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("dbopen: %s: %w", p, err)
		}
	}
	for i, s := range o.schemas {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("dbopen: schema %d: %w", i, err)
		}
	}
	if o.ping {
		if err := db.Ping(); err != nil {
			return fmt.Errorf("dbopen: ping: %w", err)
		}
	}
	return nil
}

// OpenMemory opens a private in-memory database for a test and closes it
// on cleanup. The pool is pinned to one connection: every ":memory:"
// connection would otherwise be a different database.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(memoryPath, append(opts, WithMaxOpenConns(1))...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
