package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Busy-retry policy for SQLite writers. The reading engine persists
// telemetry on every page turn while HTTP handlers insert queue and
// schedule rows, so short BUSY windows under WAL are routine and worth
// riding out in-process.
const (
	busyAttempts = 4
	busyBaseWait = 50 * time.Millisecond
)

// IsBusy reports whether err indicates an SQLite BUSY condition.
// It checks for SQLITE_BUSY, "database is locked", and "database table is locked".
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// withBusyRetry runs op, retrying BUSY failures with a doubling wait
// between attempts (50, 100, 200 ms). Any other error returns immediately.
func withBusyRetry(ctx context.Context, op func() error) error {
	wait := busyBaseWait
	var err error
	for attempt := 0; attempt < busyAttempts; attempt++ {
		err = op()
		if err == nil || !IsBusy(err) {
			return err
		}
		if attempt == busyAttempts-1 {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("dbopen: retry wait: %w", ctx.Err())
		case <-timer.C:
		}
		wait *= 2
	}
	return err
}

// RunTx executes fn inside a transaction, retrying the whole transaction
// when SQLite reports BUSY. Errors from fn roll the transaction back and
// surface unwrapped.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	return withBusyRetry(ctx, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("dbopen: begin tx: %w", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("dbopen: commit: %w", err)
		}
		return nil
	})
}

// Exec runs one write statement with BUSY retry.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := withBusyRetry(ctx, func() error {
		var execErr error
		res, execErr = db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
