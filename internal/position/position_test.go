package position

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"predimarket/internal/errs"
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

	// Positions reference users and markets by foreign key; seed the "u1"
	// and "m1" rows the tests below trade against.
	ctx := context.Background()
	if err := db.CreateUser(ctx, database.DB, db.User{ID: "u1", Email: "u1@t.local", Username: "u1", PasswordHash: "x", Role: db.RoleUser, Active: true}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := db.CreateMarket(ctx, database.DB, db.Market{ID: "m1", Title: "m1", Status: db.MarketActive, LiquidityB: decimal.NewFromInt(1000), StartTime: time.Now(), EndTime: time.Now().Add(time.Hour), CreatorID: "u1"}); err != nil {
		t.Fatalf("create market: %v", err)
	}
	return database
}

func TestApplyBuyAveragesCostBasis(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	s := New(database.DB)

	if _, err := s.ApplyBuy(ctx, "u1", "m1", db.SideYes, decimal.NewFromInt(10), decimal.NewFromFloat(0.40)); err != nil {
		t.Fatalf("first ApplyBuy: %v", err)
	}
	p, err := s.ApplyBuy(ctx, "u1", "m1", db.SideYes, decimal.NewFromInt(10), decimal.NewFromFloat(0.60))
	if err != nil {
		t.Fatalf("second ApplyBuy: %v", err)
	}

	if !p.YesShares.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("YesShares = %s, want 20", p.YesShares)
	}
	wantAvg := decimal.NewFromFloat(0.50)
	if !p.AvgYesPrice.Equal(wantAvg) {
		t.Fatalf("AvgYesPrice = %s, want %s", p.AvgYesPrice, wantAvg)
	}
}

func TestApplySellPreservesAverageUntilZero(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	s := New(database.DB)

	if _, err := s.ApplyBuy(ctx, "u1", "m1", db.SideYes, decimal.NewFromInt(10), decimal.NewFromFloat(0.50)); err != nil {
		t.Fatalf("ApplyBuy: %v", err)
	}

	p, err := s.ApplySell(ctx, "u1", "m1", db.SideYes, decimal.NewFromInt(4))
	if err != nil {
		t.Fatalf("partial ApplySell: %v", err)
	}
	if !p.YesShares.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("YesShares = %s, want 6", p.YesShares)
	}
	if !p.AvgYesPrice.Equal(decimal.NewFromFloat(0.50)) {
		t.Fatalf("AvgYesPrice changed on partial sell: %s", p.AvgYesPrice)
	}

	p, err = s.ApplySell(ctx, "u1", "m1", db.SideYes, decimal.NewFromInt(6))
	if err != nil {
		t.Fatalf("closing ApplySell: %v", err)
	}
	if !p.YesShares.IsZero() {
		t.Fatalf("YesShares = %s, want 0", p.YesShares)
	}
	if !p.AvgYesPrice.IsZero() {
		t.Fatalf("AvgYesPrice = %s, want 0 after closing position", p.AvgYesPrice)
	}
}

func TestApplySellExceedingHoldingsIsInsufficientShares(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	s := New(database.DB)

	if _, err := s.ApplyBuy(ctx, "u1", "m1", db.SideYes, decimal.NewFromInt(5), decimal.NewFromFloat(0.50)); err != nil {
		t.Fatalf("ApplyBuy: %v", err)
	}

	_, err := s.ApplySell(ctx, "u1", "m1", db.SideYes, decimal.NewFromInt(6))
	if !errs.Is(err, errs.InsufficientShares) {
		t.Fatalf("err = %v, want InsufficientShares", err)
	}
}

func TestYesAndNoSidesAreIndependent(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	s := New(database.DB)

	if _, err := s.ApplyBuy(ctx, "u1", "m1", db.SideYes, decimal.NewFromInt(10), decimal.NewFromFloat(0.5)); err != nil {
		t.Fatalf("ApplyBuy yes: %v", err)
	}
	p, err := s.ApplyBuy(ctx, "u1", "m1", db.SideNo, decimal.NewFromInt(5), decimal.NewFromFloat(0.3))
	if err != nil {
		t.Fatalf("ApplyBuy no: %v", err)
	}

	if !p.YesShares.Equal(decimal.NewFromInt(10)) || !p.NoShares.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("unexpected shares: yes=%s no=%s", p.YesShares, p.NoShares)
	}
}
