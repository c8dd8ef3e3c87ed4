package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Attempts is how many times Exec and InTx try a statement that fails
// with SQLITE_BUSY. Backoff is 100ms, 200ms, ...
const Attempts = 3

// IsBusy reports whether err is an SQLite lock conflict.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"SQLITE_BUSY", "database is locked", "database table is locked"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Retry runs fn until it succeeds, fails with a non-busy error, or the
// attempts run out.
func Retry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i < Attempts; i++ {
		if i > 0 {
			if serr := sleepCtx(ctx, time.Duration(i)*100*time.Millisecond); serr != nil {
				return fmt.Errorf("dbopen: retry interrupted: %w (last error: %v)", serr, err)
			}
		}
		if err = fn(); err == nil || !IsBusy(err) {
			return err
		}
	}
	return fmt.Errorf("dbopen: still busy after %d attempts: %w", Attempts, err)
}

// Exec runs one statement with busy retry.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := Retry(ctx, func() error {
		var err error
		res, err = db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

// InTx runs fn inside a transaction and commits it. A busy failure anywhere
// rolls back and replays fn from the start, so fn must not keep state
// across calls.
func InTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	return Retry(ctx, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
