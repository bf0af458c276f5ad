package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return WrapDB(sqlDB)
}

func mustExec(t *testing.T, db *DB, query string) {
	t.Helper()
	_, err := db.Exec(query)
	require.NoError(t, err)
}

func TestWithRetriesRetriesOnBusyError(t *testing.T) {
	attempts := 0
	err := WithRetries(context.Background(), 3, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetriesPropagatesNonBusyErrorImmediately(t *testing.T) {
	attempts := 0
	sentinel := errors.New("constraint failed")
	err := WithRetries(context.Background(), 5, func() error {
		attempts++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, attempts, "a non-busy error must not be retried")
}

func TestWithRetriesExhaustsBudgetAndReturnsLastError(t *testing.T) {
	attempts := 0
	err := WithRetries(context.Background(), 2, func() error {
		attempts++
		return errors.New("database is busy")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, attempts, "n=2 retries means 3 total attempts")
}

func TestWithRetriesStopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := WithRetries(ctx, 3, func() error {
		attempts++
		return errors.New("database is locked")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestTransactionCommitsOnSuccess(t *testing.T) {
	db := newTestDB(t)
	mustExec(t, db, `CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)`)

	err := db.Transaction(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO items (name) VALUES (?)`, "a")
		return err
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestTransactionRollsBackOnError(t *testing.T) {
	db := newTestDB(t)
	mustExec(t, db, `CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)`)

	sentinel := errors.New("boom")
	err := db.Transaction(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		if _, execErr := tx.ExecContext(ctx, `INSERT INTO items (name) VALUES (?)`, "a"); execErr != nil {
			return execErr
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&count))
	assert.Equal(t, 0, count, "the insert must not survive a rolled-back transaction")
}

func TestTransactionNestedCallReusesOuterTx(t *testing.T) {
	db := newTestDB(t)
	mustExec(t, db, `CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)`)

	err := db.Transaction(context.Background(), func(ctx context.Context, outerTx *sql.Tx) error {
		if _, err := outerTx.ExecContext(ctx, `INSERT INTO items (name) VALUES (?)`, "outer"); err != nil {
			return err
		}
		return db.Transaction(ctx, func(innerCtx context.Context, innerTx *sql.Tx) error {
			assert.Same(t, outerTx, innerTx, "a nested Transaction call must reuse the outer tx, not BEGIN again")
			_, err := innerTx.ExecContext(innerCtx, `INSERT INTO items (name) VALUES (?)`, "inner")
			return err
		})
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&count))
	assert.Equal(t, 2, count)
}
