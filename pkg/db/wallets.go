package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// TxKind enumerates WalletTransaction kinds (spec §3).
type TxKind string

const (
	TxDeposit    TxKind = "deposit"
	TxWithdraw   TxKind = "withdraw"
	TxTrade      TxKind = "trade"
	TxSettlement TxKind = "settlement"
	TxRefund     TxKind = "refund"
)

// Wallet is the per-user balance record.
type Wallet struct {
	ID            string
	UserID        string
	Balance       decimal.Decimal
	FrozenBalance decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// WalletTransaction is an append-only ledger entry (spec §3, §4.2).
type WalletTransaction struct {
	ID            string
	WalletID      string
	Kind          TxKind
	Amount        decimal.Decimal // signed: +credit, -debit
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Description   string
	ReferenceID   *string
	CreatedAt     time.Time
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// CreateWallet inserts a new wallet row for a user (one per user).
func CreateWallet(ctx context.Context, ex Execer, w Wallet) error {
	now := time.Now().UTC()
	createdAt, updatedAt := w.CreatedAt, w.UpdatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	if updatedAt.IsZero() {
		updatedAt = now
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO wallets (id, user_id, balance, frozen_balance, created_at, updated_at)
		VALUES (?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), COALESCE(?, CURRENT_TIMESTAMP))
	`, w.ID, w.UserID, w.Balance.String(), w.FrozenBalance.String(), createdAt, updatedAt)
	if err != nil && isUniqueConstraint(err) {
		return ErrConflict
	}
	return err
}

func scanWallet(row *sql.Row) (*Wallet, error) {
	var w Wallet
	var balance, frozen string
	if err := row.Scan(&w.ID, &w.UserID, &balance, &frozen, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	w.Balance = dec(balance)
	w.FrozenBalance = dec(frozen)
	return &w, nil
}

// GetWalletByUserID returns a user's wallet, or nil if not found.
func GetWalletByUserID(ctx context.Context, ex Execer, userID string) (*Wallet, error) {
	row := ex.QueryRowContext(ctx, `
		SELECT id, user_id, balance, frozen_balance, created_at, updated_at
		FROM wallets WHERE user_id = ?
	`, userID)
	return scanWallet(row)
}

// GetWalletByID returns a wallet by id, or nil if not found.
func GetWalletByID(ctx context.Context, ex Execer, id string) (*Wallet, error) {
	row := ex.QueryRowContext(ctx, `
		SELECT id, user_id, balance, frozen_balance, created_at, updated_at
		FROM wallets WHERE id = ?
	`, id)
	return scanWallet(row)
}

// GetWalletForUpdate is identical to GetWalletByID: under SQLite's single
// writer + BEGIN IMMEDIATE model (see Database.BeginTx), the read already
// holds the lock needed for the subsequent compare-and-set write, so there
// is no separate "SELECT ... FOR UPDATE" form.
func GetWalletForUpdate(ctx context.Context, tx *sql.Tx, id string) (*Wallet, error) {
	return GetWalletByID(ctx, tx, id)
}

// UpdateWalletBalance writes the new balance using the previously-read value
// as the expected state (optimistic compare-and-set per spec §5). A zero
// rows-affected result means another writer raced us; the caller should
// surface Conflict.
func UpdateWalletBalance(ctx context.Context, ex Execer, id string, expectedBalance, newBalance decimal.Decimal) (bool, error) {
	res, err := ex.ExecContext(ctx, `
		UPDATE wallets SET balance = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND balance = ?
	`, newBalance.String(), id, expectedBalance.String())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListWallets returns all wallets, paginated, newest-first.
func ListWallets(ctx context.Context, ex Execer, limit, offset int) ([]Wallet, error) {
	rows, err := ex.QueryContext(ctx, `
		SELECT id, user_id, balance, frozen_balance, created_at, updated_at
		FROM wallets ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Wallet
	for rows.Next() {
		var w Wallet
		var balance, frozen string
		if err := rows.Scan(&w.ID, &w.UserID, &balance, &frozen, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		w.Balance = dec(balance)
		w.FrozenBalance = dec(frozen)
		out = append(out, w)
	}
	return out, rows.Err()
}

// SumWalletBalances returns the platform-wide total balance (used by the
// conservation property in spec §8.9).
func SumWalletBalances(ctx context.Context, ex Execer) (decimal.Decimal, error) {
	rows, err := ex.QueryContext(ctx, `SELECT balance FROM wallets`)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var balance string
		if err := rows.Scan(&balance); err != nil {
			return decimal.Zero, err
		}
		total = total.Add(dec(balance))
	}
	return total, rows.Err()
}

// AppendWalletTransaction inserts the append-only ledger row for a balance
// mutation. Never mutated afterward (spec §3).
func AppendWalletTransaction(ctx context.Context, ex Execer, t WalletTransaction) error {
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO wallet_transactions (
			id, wallet_id, kind, amount, balance_before, balance_after, description, reference_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, t.ID, t.WalletID, string(t.Kind), t.Amount.String(), t.BalanceBefore.String(), t.BalanceAfter.String(),
		t.Description, t.ReferenceID, createdAt)
	return err
}

// ListWalletTransactions returns a wallet's transaction log ordered by
// creation time, tie-broken by id (spec §6.3), paginated.
func ListWalletTransactions(ctx context.Context, ex Execer, walletID string, limit, offset int) ([]WalletTransaction, error) {
	rows, err := ex.QueryContext(ctx, `
		SELECT id, wallet_id, kind, amount, balance_before, balance_after, description, reference_id, created_at
		FROM wallet_transactions WHERE wallet_id = ?
		ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?
	`, walletID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWalletTransactions(rows)
}

// LastWalletTransaction returns the most recent transaction for a wallet, or
// nil if there are none yet.
func LastWalletTransaction(ctx context.Context, ex Execer, walletID string) (*WalletTransaction, error) {
	row := ex.QueryRowContext(ctx, `
		SELECT id, wallet_id, kind, amount, balance_before, balance_after, description, reference_id, created_at
		FROM wallet_transactions WHERE wallet_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1
	`, walletID)
	var t WalletTransaction
	var kind, amount, before, after string
	if err := row.Scan(&t.ID, &t.WalletID, &kind, &amount, &before, &after, &t.Description, &t.ReferenceID, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t.Kind = TxKind(kind)
	t.Amount = dec(amount)
	t.BalanceBefore = dec(before)
	t.BalanceAfter = dec(after)
	return &t, nil
}

func scanWalletTransactions(rows *sql.Rows) ([]WalletTransaction, error) {
	var out []WalletTransaction
	for rows.Next() {
		var t WalletTransaction
		var kind, amount, before, after string
		if err := rows.Scan(&t.ID, &t.WalletID, &kind, &amount, &before, &after, &t.Description, &t.ReferenceID, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Kind = TxKind(kind)
		t.Amount = dec(amount)
		t.BalanceBefore = dec(before)
		t.BalanceAfter = dec(after)
		out = append(out, t)
	}
	return out, rows.Err()
}

// FeeContributorRow aggregates a trading user's fee/cost contribution
// (spec §4.7 "fee contributors").
type FeeContributorRow struct {
	UserID    string
	Email     string
	Username  string
	TotalFee  decimal.Decimal
	TotalCost decimal.Decimal
	Trades    int
}
