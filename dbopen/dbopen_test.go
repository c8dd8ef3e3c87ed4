package dbopen_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/snapd/dbopen"
)

func pragmaInt(t *testing.T, db *sql.DB, name string) int {
	t.Helper()
	var v int
	if err := db.QueryRow("PRAGMA " + name).Scan(&v); err != nil {
		t.Fatalf("PRAGMA %s: %v", name, err)
	}
	return v
}

func TestPragmas(t *testing.T) {
	tests := []struct {
		name   string
		opts   []dbopen.Option
		pragma string
		want   int
	}{
		{"foreign keys on", nil, "foreign_keys", 1},
		{"default busy timeout", nil, "busy_timeout", 10_000},
		{"custom busy timeout", []dbopen.Option{dbopen.WithBusyTimeout(2500)}, "busy_timeout", 2500},
		{"default synchronous NORMAL", nil, "synchronous", 1},
		{"synchronous FULL", []dbopen.Option{dbopen.WithSynchronous("FULL")}, "synchronous", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := dbopen.OpenMemory(t, tt.opts...)
			if got := pragmaInt(t, db, tt.pragma); got != tt.want {
				t.Fatalf("%s = %d, want %d", tt.pragma, got, tt.want)
			}
		})
	}
}

func TestOpen_FileIsWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "var", "lib", "snapd", "journal.db")
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithMaxOpenConns(2))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q", mode)
	}
	if db.Stats().MaxOpenConnections != 2 {
		t.Fatalf("max open conns %d", db.Stats().MaxOpenConnections)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}
}

func TestOpen_Errors(t *testing.T) {
	if _, err := dbopen.Open(filepath.Join(t.TempDir(), "missing", "x.db")); err == nil {
		t.Fatal("missing parent directory accepted without WithMkdirAll")
	}
	if _, err := dbopen.Open(":memory:", dbopen.WithSchema("CREATE TABLE")); err == nil {
		t.Fatal("bad schema accepted")
	}
}

func TestWithSchema_Ordered(t *testing.T) {
	db := dbopen.OpenMemory(t,
		dbopen.WithSchema(`CREATE TABLE captures (id TEXT PRIMARY KEY, url TEXT NOT NULL)`),
		dbopen.WithSchema(`CREATE INDEX idx_captures_url ON captures(url)`),
	)
	if _, err := db.Exec(`INSERT INTO captures VALUES ('c1', 'https://example.com')`); err != nil {
		t.Fatal(err)
	}
}

func TestIsBusy(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("no such table"), false},
		{errors.New("SQLITE_BUSY"), true},
		{errors.New("exec: database is locked (5)"), true},
		{errors.New("database table is locked"), true},
	}
	for _, tt := range tests {
		if got := dbopen.IsBusy(tt.err); got != tt.want {
			t.Errorf("IsBusy(%v) = %v", tt.err, got)
		}
	}
}

func TestRetry(t *testing.T) {
	ctx := context.Background()
	busy := errors.New("database is locked")

	calls := 0
	err := dbopen.Retry(ctx, func() error {
		calls++
		if calls < 2 {
			return busy
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}

	calls = 0
	err = dbopen.Retry(ctx, func() error { calls++; return busy })
	if !errors.Is(err, busy) || calls != dbopen.Attempts {
		t.Fatalf("err=%v calls=%d", err, calls)
	}

	calls = 0
	plain := errors.New("constraint failed")
	if err := dbopen.Retry(ctx, func() error { calls++; return plain }); err != plain || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if err := dbopen.Retry(cctx, func() error { return busy }); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
}

func TestExec(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE t (id TEXT PRIMARY KEY)`))
	ctx := context.Background()

	res, err := dbopen.Exec(ctx, db, `INSERT INTO t VALUES (?)`, "1")
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Fatalf("rows %d", n)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := dbopen.Exec(cctx, db, `INSERT INTO t VALUES ('2')`); err == nil {
		t.Fatal("cancelled context accepted")
	}
}

func TestInTx(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE t (id TEXT PRIMARY KEY)`))
	ctx := context.Background()

	err := dbopen.InTx(ctx, db, func(tx *sql.Tx) error {
		for _, id := range []string{"a", "b"} {
			if _, err := tx.ExecContext(ctx, `INSERT INTO t VALUES (?)`, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// A failing batch leaves nothing behind.
	err = dbopen.InTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO t VALUES ('c')`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO t VALUES ('a')`)
		return err
	})
	if err == nil {
		t.Fatal("duplicate key accepted")
	}

	var n int
	db.QueryRow(`SELECT COUNT(*) FROM t`).Scan(&n)
	if n != 2 {
		t.Fatalf("count %d, want 2", n)
	}
}
