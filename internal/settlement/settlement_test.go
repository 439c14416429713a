package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"predimarket/internal/errs"
	"predimarket/internal/events"
	"predimarket/internal/market"
	"predimarket/internal/trade"
	"predimarket/pkg/db"
)

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

func newUserWallet(t *testing.T, ctx context.Context, database *db.Database, balance decimal.Decimal) (string, string) {
	t.Helper()
	userID := uuid.NewString()
	if err := db.CreateUser(ctx, database.DB, db.User{ID: userID, Email: userID + "@t.local", Username: userID, PasswordHash: "x", Role: db.RoleUser, Active: true}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	walletID := uuid.NewString()
	if err := db.CreateWallet(ctx, database.DB, db.Wallet{ID: walletID, UserID: userID, Balance: balance}); err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	return userID, walletID
}

// TestSettleScenarioS4 matches spec scenario S4: a resolved market pays
// winning shares at 1.0 each and leaves losing shares worthless.
func TestSettleScenarioS4(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)

	ms := market.New(database.DB)
	m, err := ms.Create(ctx, market.CreateParams{
		Title: "Will it resolve yes?", LiquidityB: decimal.NewFromInt(1000),
		StartTime: time.Now().Add(-time.Hour), EndTime: time.Now().Add(time.Hour), CreatorID: uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("Create market: %v", err)
	}
	if _, err := ms.Transition(ctx, m.ID, db.MarketActive); err != nil {
		t.Fatalf("activate: %v", err)
	}

	winnerID, winnerWallet := newUserWallet(t, ctx, database, decimal.NewFromInt(1000))
	loserID, loserWallet := newUserWallet(t, ctx, database, decimal.NewFromInt(1000))
	_ = loserID

	tex := trade.New(database, events.NewBus())
	if _, err := tex.Buy(ctx, trade.BuyRequest{UserID: winnerID, WalletID: winnerWallet, MarketID: m.ID, Side: db.SideYes, Amount: decimal.NewFromInt(50)}); err != nil {
		t.Fatalf("winner buy: %v", err)
	}
	if _, err := tex.Buy(ctx, trade.BuyRequest{UserID: loserID, WalletID: loserWallet, MarketID: m.ID, Side: db.SideNo, Amount: decimal.NewFromInt(50)}); err != nil {
		t.Fatalf("loser buy: %v", err)
	}

	winnerPosBefore, err := db.GetPosition(ctx, database.DB, winnerID, m.ID)
	if err != nil {
		t.Fatalf("load winner position: %v", err)
	}

	if _, err := ms.Resolve(ctx, m.ID, db.OutcomeYes); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	svc := New(database, events.NewBus())
	n, err := svc.Settle(ctx, m.ID)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if n != 2 {
		t.Fatalf("settled %d positions, want 2", n)
	}

	wWallet, err := db.GetWalletByID(ctx, database.DB, winnerWallet)
	if err != nil {
		t.Fatalf("GetWalletByID winner: %v", err)
	}
	lWallet, err := db.GetWalletByID(ctx, database.DB, loserWallet)
	if err != nil {
		t.Fatalf("GetWalletByID loser: %v", err)
	}

	// Winner should have gained roughly winnerPosBefore.YesShares above their
	// post-buy balance (paid 1.0 per share); loser gets nothing.
	afterBuyWinnerBalance := decimal.NewFromInt(1000).Sub(decimal.NewFromInt(50))
	wantWinnerBalance := afterBuyWinnerBalance.Add(winnerPosBefore.YesShares)
	if !wWallet.Balance.Equal(wantWinnerBalance) {
		t.Fatalf("winner balance = %s, want %s", wWallet.Balance, wantWinnerBalance)
	}
	afterBuyLoserBalance := decimal.NewFromInt(1000).Sub(decimal.NewFromInt(50))
	if !lWallet.Balance.Equal(afterBuyLoserBalance) {
		t.Fatalf("loser balance = %s, want unchanged post-buy balance %s", lWallet.Balance, afterBuyLoserBalance)
	}

	winnerPosAfter, err := db.GetPosition(ctx, database.DB, winnerID, m.ID)
	if err != nil {
		t.Fatalf("load winner position after settle: %v", err)
	}
	if !winnerPosAfter.YesShares.IsZero() {
		t.Fatalf("winner YesShares = %s, want 0 after settlement", winnerPosAfter.YesShares)
	}
}

// TestSettleIsIdempotent matches scenario S4's idempotency requirement:
// settling twice does not pay out twice.
func TestSettleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)

	ms := market.New(database.DB)
	m, err := ms.Create(ctx, market.CreateParams{
		Title: "Idempotent settle", LiquidityB: decimal.NewFromInt(1000),
		StartTime: time.Now().Add(-time.Hour), EndTime: time.Now().Add(time.Hour), CreatorID: uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("Create market: %v", err)
	}
	if _, err := ms.Transition(ctx, m.ID, db.MarketActive); err != nil {
		t.Fatalf("activate: %v", err)
	}

	userID, walletID := newUserWallet(t, ctx, database, decimal.NewFromInt(1000))
	tex := trade.New(database, events.NewBus())
	if _, err := tex.Buy(ctx, trade.BuyRequest{UserID: userID, WalletID: walletID, MarketID: m.ID, Side: db.SideYes, Amount: decimal.NewFromInt(50)}); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := ms.Resolve(ctx, m.ID, db.OutcomeYes); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	svc := New(database, events.NewBus())
	if _, err := svc.Settle(ctx, m.ID); err != nil {
		t.Fatalf("first Settle: %v", err)
	}
	afterFirst, err := db.GetWalletByID(ctx, database.DB, walletID)
	if err != nil {
		t.Fatalf("GetWalletByID: %v", err)
	}

	n, err := svc.Settle(ctx, m.ID)
	if err != nil {
		t.Fatalf("second Settle: %v", err)
	}
	if n != 0 {
		t.Fatalf("second Settle paid %d positions, want 0", n)
	}

	afterSecond, err := db.GetWalletByID(ctx, database.DB, walletID)
	if err != nil {
		t.Fatalf("GetWalletByID: %v", err)
	}
	if !afterFirst.Balance.Equal(afterSecond.Balance) {
		t.Fatalf("balance changed on re-settle: %s -> %s", afterFirst.Balance, afterSecond.Balance)
	}
}

func TestSettleRejectsUnresolvedMarket(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	ms := market.New(database.DB)
	m, err := ms.Create(ctx, market.CreateParams{
		Title: "Not yet resolved", LiquidityB: decimal.NewFromInt(1000),
		StartTime: time.Now().Add(-time.Hour), EndTime: time.Now().Add(time.Hour), CreatorID: uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("Create market: %v", err)
	}

	svc := New(database, events.NewBus())
	if _, err := svc.Settle(ctx, m.ID); !errs.Is(err, errs.InvalidTransition) {
		t.Fatalf("err = %v, want InvalidTransition", err)
	}
}
