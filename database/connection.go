// Package database wraps the catalog's single SQLite file: connection
// setup, schema migrations and the scoped-transaction/retry helpers every
// repository builds on.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"catalogizer/config"
	_ "github.com/mutecomm/go-sqlcipher"
)

// DB wraps a *sql.DB for the catalog's single SQLite file.
type DB struct {
	*sql.DB
	config *config.DatabaseConfig
}

// NewConnection opens the catalog database, applying the busy-timeout/WAL
// pragmas the pipeline's retry discipline depends on.
func NewConnection(cfg *config.DatabaseConfig) (*DB, error) {
	connStr := fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=1",
		cfg.Path, cfg.BusyTimeoutMs)

	if cfg.CacheSize != 0 {
		connStr += fmt.Sprintf("&_cache_size=%d", cfg.CacheSize)
	}

	sqlDB, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite allows only one writer; a single pooled connection keeps
	// writers serialized instead of contending for the file lock.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{DB: sqlDB, config: cfg}, nil
}

// WrapDB adapts an already-open *sql.DB (e.g. a sqlmock database) into a
// *DB, for use in repository tests that don't want a real SQLite file.
func WrapDB(sqlDB *sql.DB) *DB {
	return &DB{DB: sqlDB, config: &config.DatabaseConfig{BusyTimeoutMs: 5000}}
}

// HealthCheck performs a bounded connectivity check.
func (db *DB) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(db.config.BusyTimeoutMs)*time.Millisecond)
	defer cancel()
	return db.PingContext(ctx)
}

