package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"predimarket/internal/errs"
	"predimarket/pkg/db"
)

func newTestWallet(t *testing.T, ctx context.Context, database *db.Database, balance decimal.Decimal) string {
	t.Helper()
	userID := uuid.NewString()
	if err := db.CreateUser(ctx, database.DB, db.User{
		ID: userID, Email: userID + "@test.local", Username: userID, PasswordHash: "x", Role: db.RoleUser, Active: true,
	}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	walletID := uuid.NewString()
	if err := db.CreateWallet(ctx, database.DB, db.Wallet{ID: walletID, UserID: userID, Balance: balance}); err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	return walletID
}

func openTestDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestDepositCreditsBalanceAndAppendsTransaction(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	walletID := newTestWallet(t, ctx, database, decimal.NewFromInt(100))

	l := New(database.DB)
	tx, err := l.Deposit(ctx, walletID, decimal.NewFromInt(50), "top up")
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if !tx.BalanceBefore.Equal(decimal.NewFromInt(100)) || !tx.BalanceAfter.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("unexpected balances: before=%s after=%s", tx.BalanceBefore, tx.BalanceAfter)
	}

	w, err := db.GetWalletByID(ctx, database.DB, walletID)
	if err != nil {
		t.Fatalf("GetWalletByID: %v", err)
	}
	if !w.Balance.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("wallet balance = %s, want 150", w.Balance)
	}
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	walletID := newTestWallet(t, ctx, database, decimal.NewFromInt(10))

	l := New(database.DB)
	_, err := l.Withdraw(ctx, walletID, decimal.NewFromInt(20), "cash out")
	if !errs.Is(err, errs.InsufficientFunds) {
		t.Fatalf("err = %v, want InsufficientFunds", err)
	}
}

func TestNonPositiveAmountsRejected(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	walletID := newTestWallet(t, ctx, database, decimal.NewFromInt(10))
	l := New(database.DB)

	tests := []struct {
		name string
		call func() error
	}{
		{"deposit zero", func() error { _, err := l.Deposit(ctx, walletID, decimal.Zero, "x"); return err }},
		{"deposit negative", func() error { _, err := l.Deposit(ctx, walletID, decimal.NewFromInt(-1), "x"); return err }},
		{"withdraw zero", func() error { _, err := l.Withdraw(ctx, walletID, decimal.Zero, "x"); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errs.Is(err, errs.InvalidAmount) {
				t.Fatalf("err = %v, want InvalidAmount", err)
			}
		})
	}
}

func TestLedgerContiguityHoldsAcrossMixedTransactions(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	walletID := newTestWallet(t, ctx, database, decimal.NewFromInt(1000))
	l := New(database.DB)

	if _, err := l.DeductForTrade(ctx, walletID, decimal.NewFromInt(100), "trade-1"); err != nil {
		t.Fatalf("DeductForTrade: %v", err)
	}
	if _, err := l.CreditForTrade(ctx, walletID, decimal.NewFromInt(40), "trade-2"); err != nil {
		t.Fatalf("CreditForTrade: %v", err)
	}
	if _, err := l.CreditSettlement(ctx, walletID, decimal.NewFromInt(15), "market-1"); err != nil {
		t.Fatalf("CreditSettlement: %v", err)
	}

	if err := VerifyContiguity(ctx, database.DB, walletID); err != nil {
		t.Fatalf("VerifyContiguity: %v", err)
	}

	w, err := db.GetWalletByID(ctx, database.DB, walletID)
	if err != nil {
		t.Fatalf("GetWalletByID: %v", err)
	}
	want := decimal.NewFromInt(1000 - 100 + 40 + 15)
	if !w.Balance.Equal(want) {
		t.Fatalf("wallet balance = %s, want %s", w.Balance, want)
	}
}

func TestVerifyContiguityDetectsTamperedLedger(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	walletID := newTestWallet(t, ctx, database, decimal.NewFromInt(100))
	l := New(database.DB)

	if _, err := l.Deposit(ctx, walletID, decimal.NewFromInt(25), "top up"); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	// Simulate corruption: insert a dangling transaction whose balance_before
	// does not chain from the prior entry.
	bogusRef := "bogus"
	if err := db.AppendWalletTransaction(ctx, database.DB, db.WalletTransaction{
		ID:            uuid.NewString(),
		WalletID:      walletID,
		Kind:          db.TxRefund,
		Amount:        decimal.NewFromInt(5),
		BalanceBefore: decimal.NewFromInt(9999),
		BalanceAfter:  decimal.NewFromInt(10004),
		Description:   "corrupt",
		ReferenceID:   &bogusRef,
		CreatedAt:     time.Now().Add(time.Minute),
	}); err != nil {
		t.Fatalf("AppendWalletTransaction: %v", err)
	}

	if err := VerifyContiguity(ctx, database.DB, walletID); !errs.Is(err, errs.Internal) {
		t.Fatalf("err = %v, want Internal (discontinuity detected)", err)
	}
}

func TestAdminCreditRecordsAdminAttributedDeposit(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	walletID := newTestWallet(t, ctx, database, decimal.NewFromInt(10))
	adminID := uuid.NewString()

	l := New(database.DB)
	tx, err := l.AdminCredit(ctx, walletID, decimal.NewFromInt(40), adminID)
	if err != nil {
		t.Fatalf("AdminCredit: %v", err)
	}
	if tx.Kind != db.TxDeposit {
		t.Fatalf("Kind = %s, want %s", tx.Kind, db.TxDeposit)
	}
	if !tx.BalanceAfter.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("BalanceAfter = %s, want 50", tx.BalanceAfter)
	}

	if _, err := l.AdminCredit(ctx, walletID, decimal.NewFromInt(-1), adminID); !errs.Is(err, errs.InvalidAmount) {
		t.Fatalf("err = %v, want InvalidAmount", err)
	}
}
