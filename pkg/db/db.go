// Package db provides the SQLite-backed persistence surface the
// transactional core consumes (spec §6.3): users, wallets, wallet
// transactions, markets, positions and trades, plus the transactions needed
// to make a trade atomic (spec §5).
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Database wraps the SQL handle for easier swapping/testing.
type Database struct {
	DB *sql.DB
}

// New opens (and creates if needed) the SQLite database at path.
func New(path string) (*Database, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}

	if dir := filepath.Dir(path); dir != "." && dir != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := path
	if dsn != ":memory:" {
		dsn += "?_pragma=busy_timeout(5000)&_txlock=immediate"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite prefers a single writer; serializes transactions for us.
	db.SetConnMaxLifetime(time.Hour)

	return &Database{DB: db}, nil
}

// Close releases the underlying DB handle.
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}

// BeginTx starts a transaction. For a file-backed database the DSN built by
// New sets _txlock=immediate, so this issues BEGIN IMMEDIATE: SQLite has no
// row-level locking, and BEGIN IMMEDIATE is the stand-in for the
// per-wallet/per-market lock acquisition described in spec §5, grabbing the
// single writer lock up front instead of upgrading later and racing another
// writer. The ":memory:" DSN gets no _txlock; there the single pooled
// connection is what serializes transactions.
func (d *Database) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return d.DB.BeginTx(ctx, &sql.TxOptions{})
}

// Execer is satisfied by both *sql.DB and *sql.Tx, letting every model
// method run either standalone or inside a Uow's transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var _ Execer = (*sql.DB)(nil)
var _ Execer = (*sql.Tx)(nil)
