package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// busyAttempts is the number of tries for statements hitting SQLITE_BUSY,
// with linear backoff between them.
const (
	busyAttempts = 3
	busyBackoff  = 100 * time.Millisecond
)

// IsBusy reports whether err is an SQLite busy/locked condition. The driver
// surfaces these as strings, so this is a substring check.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	for _, marker := range []string{"SQLITE_BUSY", "database is locked", "database table is locked"} {
		if strings.Contains(err.Error(), marker) {
			return true
		}
	}
	return false
}

// withBusyRetry runs op, retrying on busy errors with linear backoff.
func withBusyRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = op()
		if err == nil || !IsBusy(err) || attempt == busyAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("dbopen: retry interrupted: %w", ctx.Err())
		case <-time.After(time.Duration(attempt) * busyBackoff):
		}
	}
}

// RunTx executes fn inside a transaction, retrying the whole transaction on
// SQLITE_BUSY. fn returning an error rolls the transaction back.
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

// Exec executes a single statement, retrying on SQLITE_BUSY.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := withBusyRetry(ctx, func() error {
		var err error
		res, err = db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
