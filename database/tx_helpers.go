package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// WithRetries re-invokes op up to n times when it fails with a transient
// SQLITE_BUSY/SQLITE_LOCKED signal; any other error propagates immediately.
func WithRetries(ctx context.Context, n int, op func() error) error {
	var err error
	for attempt := 0; attempt <= n; attempt++ {
		err = op()
		if err == nil || !isBusyErr(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
	return err
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

type txKey struct{}

// Transaction runs fn inside a transaction, committing on a nil return and
// rolling back otherwise. A transaction already present on ctx (a nested
// call) is reused rather than starting a new BEGIN.
func (db *DB) Transaction(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if existing, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx, existing)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	nested := context.WithValue(ctx, txKey{}, tx)

	if err := fn(nested, tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// TxInsertReturningID executes an INSERT inside tx and returns the new
// row's id via SQLite's last-insert-rowid.
func (db *DB) TxInsertReturningID(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (int64, error) {
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// ErrNotFound is returned by repository lookups that find no row, in place
// of propagating sql.ErrNoRows past the repository boundary.
var ErrNotFound = errors.New("not found")
