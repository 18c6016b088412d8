// Package storage persists graph snapshots as self-contained SQLite files
// and serves read queries against them.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// DB wraps one snapshot file connection with transaction helpers.
type DB struct {
	conn   *sql.DB
	logger *slog.Logger
	path   string
}

// openDB opens path. Read-only handles use an immutable URI so SQLite never
// takes locks or looks for a journal.
func openDB(path string, readOnly bool, logger *slog.Logger) (*DB, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}

	dsn := abs
	if readOnly {
		u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: "mode=ro&immutable=1"}
		dsn = u.String()
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	var pragmas []string
	if readOnly {
		pragmas = []string{
			"PRAGMA query_only=ON",
			"PRAGMA cache_size=-16000", // 16MB cache
			"PRAGMA temp_store=MEMORY",
		}
	} else {
		// A single connection so every pragma applies to the writing session.
		conn.SetMaxOpenConns(1)
		pragmas = []string{
			"PRAGMA journal_mode=DELETE", // rollback journal: the file is self-contained once closed
			"PRAGMA synchronous=FULL",
			"PRAGMA foreign_keys=ON",
			"PRAGMA busy_timeout=5000",
			"PRAGMA temp_store=MEMORY",
		}
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	return &DB{conn: conn, logger: logger, path: abs}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Path returns the absolute snapshot file path.
func (db *DB) Path() string {
	return db.path
}

// WithTx executes a function within a transaction
// If the function returns an error, the transaction is rolled back
// Otherwise, the transaction is committed
func (db *DB) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p) // Re-throw panic after rollback
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error("failed to rollback transaction",
				"error", err.Error(),
				"rollback_error", rbErr.Error(),
			)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
