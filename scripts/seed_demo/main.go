// seed_demo walks a handful of realistic trades through the exchange core
// against a scratch in-memory database. It does not touch any running server
// or persistent file, and exists purely to exercise the LMSR pricing and
// settlement paths end to end the way a developer would sanity-check them
// after a pricing change.
//
// Usage (from the module root):
//   go run ./scripts/seed_demo
package main

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"predimarket/internal/events"
	"predimarket/internal/ledger"
	"predimarket/internal/market"
	"predimarket/internal/settlement"
	"predimarket/internal/trade"
	"predimarket/pkg/db"
)

func main() {
	log.Println("=== seed_demo starting ===")

	ctx := context.Background()
	database, err := db.New(":memory:")
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}

	bus := events.NewBus()
	marketStore := market.New(database.DB)
	executor := trade.New(database, bus)
	settler := settlement.New(database, bus)

	m, err := marketStore.Create(ctx, market.CreateParams{
		Title:            "Will it rain in Lagos tomorrow?",
		Description:      "Resolves YES if >1mm rainfall is recorded at the reference station.",
		Category:         "weather",
		ResolutionSource: "demo",
		LiquidityB:       decimal.NewFromInt(1000),
		StartTime:        time.Now().Add(-time.Hour),
		EndTime:          time.Now().Add(24 * time.Hour),
		CreatorID:        "demo-admin",
	})
	if err != nil {
		log.Fatalf("create market: %v", err)
	}
	if _, err := marketStore.Transition(ctx, m.ID, db.MarketActive); err != nil {
		log.Fatalf("activate market: %v", err)
	}
	log.Printf("[SETUP] market %s created and activated, b=%s", m.ID, m.LiquidityB)

	alice := seedTrader(ctx, database, "alice", decimal.NewFromInt(500))
	bob := seedTrader(ctx, database, "bob", decimal.NewFromInt(500))

	log.Println("[SCENARIO 1] alice buys 50 YES shares by share count")
	buy1, err := executor.Buy(ctx, trade.BuyRequest{
		UserID: alice.id, WalletID: alice.walletID, MarketID: m.ID,
		Side: db.SideYes, Shares: decimal.NewFromInt(50),
	})
	if err != nil {
		log.Fatalf("alice buy: %v", err)
	}
	log.Printf("  cost=%s avg_price=%s new_q_yes=%s", buy1.Cost, buy1.Price, buy1.QYesAfter)

	log.Println("[SCENARIO 2] bob buys 20 currency units of NO shares")
	buy2, err := executor.Buy(ctx, trade.BuyRequest{
		UserID: bob.id, WalletID: bob.walletID, MarketID: m.ID,
		Side: db.SideNo, Amount: decimal.NewFromInt(20),
	})
	if err != nil {
		log.Fatalf("bob buy: %v", err)
	}
	log.Printf("  shares=%s avg_price=%s new_q_no=%s", buy2.Shares, buy2.Price, buy2.QNoAfter)

	log.Println("[SCENARIO 3] alice sells 10 YES shares back")
	sell1, err := executor.Sell(ctx, trade.SellRequest{
		UserID: alice.id, WalletID: alice.walletID, MarketID: m.ID,
		Side: db.SideYes, Shares: decimal.NewFromInt(10),
	})
	if err != nil {
		log.Fatalf("alice sell: %v", err)
	}
	log.Printf("  return=%s avg_price=%s", sell1.Cost, sell1.Price)

	log.Println("[SCENARIO 4] admin resolves market YES and settlement pays out")
	if _, err := marketStore.Resolve(ctx, m.ID, db.OutcomeYes); err != nil {
		log.Fatalf("resolve market: %v", err)
	}
	settled, err := settler.Settle(ctx, m.ID)
	if err != nil {
		log.Fatalf("settle market: %v", err)
	}
	log.Printf("  settled %d positions", settled)

	aliceWallet, _ := db.GetWalletByUserID(ctx, database.DB, alice.id)
	bobWallet, _ := db.GetWalletByUserID(ctx, database.DB, bob.id)
	log.Printf("[FINAL] alice balance=%s bob balance=%s", aliceWallet.Balance, bobWallet.Balance)
	log.Println("=== seed_demo finished ===")
}

type demoTrader struct {
	id       string
	walletID string
}

func seedTrader(ctx context.Context, database *db.Database, username string, initialDeposit decimal.Decimal) demoTrader {
	userID := uuid.NewString()
	walletID := uuid.NewString()
	if err := db.CreateUser(ctx, database.DB, db.User{
		ID: userID, Email: username + "@demo.local", Username: username,
		PasswordHash: "unused", Role: db.RoleUser, Active: true,
	}); err != nil {
		log.Fatalf("create user %s: %v", username, err)
	}
	if err := db.CreateWallet(ctx, database.DB, db.Wallet{ID: walletID, UserID: userID, Balance: decimal.Zero}); err != nil {
		log.Fatalf("create wallet %s: %v", username, err)
	}
	l := ledger.New(database.DB)
	if _, err := l.Deposit(ctx, walletID, initialDeposit, "seed_demo initial funding"); err != nil {
		log.Fatalf("seed deposit %s: %v", username, err)
	}
	return demoTrader{id: userID, walletID: walletID}
}
