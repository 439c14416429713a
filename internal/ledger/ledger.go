// Package ledger owns every wallet balance mutation (spec §4.2). Every
// credit or debit writes a matching append-only WalletTransaction whose
// balance_before/balance_after must chain contiguously; nothing outside this
// package is allowed to touch wallets.balance directly.
package ledger

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"predimarket/internal/errs"
	"predimarket/internal/money"
	"predimarket/pkg/db"
)

// Ledger mutates wallet balances against a single Execer (either the bare DB
// for standalone calls, or a *sql.Tx when composed inside a trade or
// settlement unit of work).
type Ledger struct {
	ex db.Execer
}

// New wraps an Execer (db.Database.DB or an open *sql.Tx) for ledger writes.
func New(ex db.Execer) *Ledger {
	return &Ledger{ex: ex}
}

// Deposit credits a wallet (spec §4.2 deposit).
func (l *Ledger) Deposit(ctx context.Context, walletID string, amount decimal.Decimal, description string) (*db.WalletTransaction, error) {
	if money.IsNegativeOrZero(amount) {
		return nil, errs.New(errs.InvalidAmount, "deposit amount must be positive")
	}
	return l.credit(ctx, walletID, amount, db.TxDeposit, description, nil)
}

// Withdraw debits a wallet (spec §4.2 withdraw); fails InsufficientFunds if
// the wallet cannot cover it.
func (l *Ledger) Withdraw(ctx context.Context, walletID string, amount decimal.Decimal, description string) (*db.WalletTransaction, error) {
	if money.IsNegativeOrZero(amount) {
		return nil, errs.New(errs.InvalidAmount, "withdrawal amount must be positive")
	}
	return l.debit(ctx, walletID, amount, db.TxWithdraw, description, nil)
}

// DeductForTrade debits a wallet for a buy's total cost (spec §4.4).
func (l *Ledger) DeductForTrade(ctx context.Context, walletID string, amount decimal.Decimal, tradeID string) (*db.WalletTransaction, error) {
	if money.IsNegativeOrZero(amount) {
		return nil, errs.New(errs.InvalidAmount, "trade debit amount must be positive")
	}
	return l.debit(ctx, walletID, amount, db.TxTrade, fmt.Sprintf("trade %s", tradeID), &tradeID)
}

// CreditForTrade credits a wallet for a sell's proceeds (spec §4.4).
func (l *Ledger) CreditForTrade(ctx context.Context, walletID string, amount decimal.Decimal, tradeID string) (*db.WalletTransaction, error) {
	if money.IsNegativeOrZero(amount) {
		return nil, errs.New(errs.InvalidAmount, "trade credit amount must be positive")
	}
	return l.credit(ctx, walletID, amount, db.TxTrade, fmt.Sprintf("trade %s", tradeID), &tradeID)
}

// CreditSettlement pays a winning position out on market resolution
// (spec §4.6).
func (l *Ledger) CreditSettlement(ctx context.Context, walletID string, amount decimal.Decimal, marketID string) (*db.WalletTransaction, error) {
	if money.IsNegativeOrZero(amount) {
		return nil, errs.New(errs.InvalidAmount, "settlement amount must be positive")
	}
	return l.credit(ctx, walletID, amount, db.TxSettlement, fmt.Sprintf("settlement %s", marketID), &marketID)
}

// AdminCredit deposits funds into a wallet on an admin's behalf, e.g. to
// resolve a support ticket (spec §6.1 "wallet list + admin credit"). It
// records the same deposit kind Deposit does; only the description marks it
// as admin-attributed.
func (l *Ledger) AdminCredit(ctx context.Context, walletID string, amount decimal.Decimal, adminUserID string) (*db.WalletTransaction, error) {
	if money.IsNegativeOrZero(amount) {
		return nil, errs.New(errs.InvalidAmount, "credit amount must be positive")
	}
	return l.credit(ctx, walletID, amount, db.TxDeposit, fmt.Sprintf("admin credit by %s", adminUserID), nil)
}

// RefundCancelledMarket returns a cancelled market's position cost basis to
// the wallet (spec §4.6 cancellation path).
func (l *Ledger) RefundCancelledMarket(ctx context.Context, walletID string, amount decimal.Decimal, marketID string) (*db.WalletTransaction, error) {
	if money.IsNegativeOrZero(amount) {
		return nil, errs.New(errs.InvalidAmount, "refund amount must be positive")
	}
	return l.credit(ctx, walletID, amount, db.TxRefund, fmt.Sprintf("cancellation refund %s", marketID), &marketID)
}

func (l *Ledger) credit(ctx context.Context, walletID string, amount decimal.Decimal, kind db.TxKind, description string, ref *string) (*db.WalletTransaction, error) {
	w, err := db.GetWalletByID(ctx, l.ex, walletID)
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	if w == nil {
		return nil, errs.New(errs.NotFound, "wallet not found")
	}

	before := w.Balance
	after := money.Round(before.Add(amount))

	ok, err := db.UpdateWalletBalance(ctx, l.ex, walletID, before, after)
	if err != nil {
		return nil, fmt.Errorf("update wallet balance: %w", err)
	}
	if !ok {
		return nil, errs.New(errs.Conflict, "wallet balance changed concurrently")
	}

	t := db.WalletTransaction{
		ID:            uuid.NewString(),
		WalletID:      walletID,
		Kind:          kind,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Description:   description,
		ReferenceID:   ref,
	}
	if err := db.AppendWalletTransaction(ctx, l.ex, t); err != nil {
		return nil, fmt.Errorf("append wallet transaction: %w", err)
	}

	log.Printf("💰 wallet %s credited %s (%s): %s -> %s", walletID, amount.String(), kind, before.String(), after.String())
	return &t, nil
}

func (l *Ledger) debit(ctx context.Context, walletID string, amount decimal.Decimal, kind db.TxKind, description string, ref *string) (*db.WalletTransaction, error) {
	w, err := db.GetWalletByID(ctx, l.ex, walletID)
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	if w == nil {
		return nil, errs.New(errs.NotFound, "wallet not found")
	}

	if w.Balance.LessThan(amount) {
		return nil, errs.New(errs.InsufficientFunds, fmt.Sprintf("balance %s is less than requested %s", w.Balance.String(), amount.String()))
	}

	before := w.Balance
	after := money.Round(before.Sub(amount))

	ok, err := db.UpdateWalletBalance(ctx, l.ex, walletID, before, after)
	if err != nil {
		return nil, fmt.Errorf("update wallet balance: %w", err)
	}
	if !ok {
		return nil, errs.New(errs.Conflict, "wallet balance changed concurrently")
	}

	t := db.WalletTransaction{
		ID:            uuid.NewString(),
		WalletID:      walletID,
		Kind:          kind,
		Amount:        amount.Neg(),
		BalanceBefore: before,
		BalanceAfter:  after,
		Description:   description,
		ReferenceID:   ref,
	}
	if err := db.AppendWalletTransaction(ctx, l.ex, t); err != nil {
		return nil, fmt.Errorf("append wallet transaction: %w", err)
	}

	log.Printf("💸 wallet %s debited %s (%s): %s -> %s", walletID, amount.String(), kind, before.String(), after.String())
	return &t, nil
}

// VerifyContiguity walks a wallet's transaction log in order and checks that
// each entry's balance_before matches the previous entry's balance_after,
// and that the final balance_after matches the wallet's current balance. It
// is the self-audit the spec's conservation property (§8.9) relies on.
func VerifyContiguity(ctx context.Context, ex db.Execer, walletID string) error {
	w, err := db.GetWalletByID(ctx, ex, walletID)
	if err != nil {
		return fmt.Errorf("load wallet: %w", err)
	}
	if w == nil {
		return errs.New(errs.NotFound, "wallet not found")
	}

	const pageSize = 500
	running := money.Zero
	first := true
	for offset := 0; ; offset += pageSize {
		txs, err := db.ListWalletTransactions(ctx, ex, walletID, pageSize, offset)
		if err != nil {
			return fmt.Errorf("list wallet transactions: %w", err)
		}
		if len(txs) == 0 {
			break
		}
		for _, t := range txs {
			if first {
				running = t.BalanceBefore
				first = false
			}
			if !t.BalanceBefore.Equal(running) {
				return errs.New(errs.Internal, fmt.Sprintf("wallet %s ledger discontinuity at tx %s: expected balance_before %s, got %s", walletID, t.ID, running.String(), t.BalanceBefore.String()))
			}
			running = t.BalanceAfter
		}
		if len(txs) < pageSize {
			break
		}
	}

	if !first && !running.Equal(w.Balance) {
		return errs.New(errs.Internal, fmt.Sprintf("wallet %s balance %s does not match ledger tail %s", walletID, w.Balance.String(), running.String()))
	}
	return nil
}
