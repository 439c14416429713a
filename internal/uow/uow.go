// Package uow provides the unit-of-work wrapper that makes a trade or a
// settlement run atomically inside one SQLite transaction (spec §5):
// ledger, position and market mutations all share the same *sql.Tx, and a
// single commit (or rollback) decides the whole operation.
package uow

import (
	"context"
	"database/sql"
	"fmt"

	"predimarket/internal/ledger"
	"predimarket/internal/market"
	"predimarket/internal/position"
	"predimarket/pkg/db"
)

// Uow bundles one transaction with the repositories that operate on it.
type Uow struct {
	Tx       *sql.Tx
	Ledger   *ledger.Ledger
	Position *position.Store
	Market   *market.Store
}

// Begin opens a new immediate-mode transaction and the repositories bound to
// it. Callers must Commit or Rollback.
func Begin(ctx context.Context, database *db.Database) (*Uow, error) {
	tx, err := database.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Uow{
		Tx:       tx,
		Ledger:   ledger.New(tx),
		Position: position.New(tx),
		Market:   market.New(tx),
	}, nil
}

// Commit commits the underlying transaction.
func (u *Uow) Commit() error {
	return u.Tx.Commit()
}

// Rollback aborts the underlying transaction. Safe to call after Commit; the
// resulting sql.ErrTxDone is not an operational error and is ignored.
func (u *Uow) Rollback() {
	if err := u.Tx.Rollback(); err != nil && err != sql.ErrTxDone {
		_ = err // nothing actionable: transaction is already closed or broken
	}
}

// Run executes fn inside a fresh Uow, committing on success and rolling back
// on any error or panic (spec §5 "all-or-nothing" requirement).
func Run(ctx context.Context, database *db.Database, fn func(*Uow) error) (err error) {
	u, err := Begin(ctx, database)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			u.Rollback()
			panic(p)
		}
	}()

	if err = fn(u); err != nil {
		u.Rollback()
		return err
	}
	if err = u.Commit(); err != nil {
		u.Rollback()
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
