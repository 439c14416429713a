package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"predimarket/internal/api"
	"predimarket/internal/events"
	"predimarket/internal/money"
	"predimarket/pkg/config"
	"predimarket/pkg/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Println("starting predimarket exchange core")
	log.Printf("listening on port %s, db at %s", cfg.Port, cfg.DBPath)

	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("db migrations failed: %v", err)
	}

	ctx := context.Background()
	if err := seedInitialAdmin(ctx, database, cfg); err != nil {
		log.Printf("initial admin seed skipped: %v", err)
	}

	server := api.NewServer(bus, database, cfg.JWTSecret)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")
}

// seedInitialAdmin creates the platform's first admin account from config if
// one is configured and no user yet holds that email. This is the only
// bootstrap path for an admin role; subsequent promotions go through the
// admin API.
func seedInitialAdmin(ctx context.Context, database *db.Database, cfg *config.Config) error {
	if cfg.InitialAdminEmail == "" || cfg.InitialAdminPassword == "" {
		return nil
	}
	existing, err := db.GetUserByEmail(ctx, database.DB, cfg.InitialAdminEmail)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	hash, err := api.HashPasswordForBootstrap(cfg.InitialAdminPassword)
	if err != nil {
		return err
	}

	userID := uuid.NewString()
	if err := db.CreateUser(ctx, database.DB, db.User{
		ID: userID, Email: cfg.InitialAdminEmail, Username: "admin",
		PasswordHash: hash, Role: db.RoleAdmin, Active: true,
	}); err != nil {
		return err
	}
	if err := db.CreateWallet(ctx, database.DB, db.Wallet{ID: uuid.NewString(), UserID: userID, Balance: money.Zero}); err != nil {
		return err
	}
	log.Printf("seeded initial admin account %s", cfg.InitialAdminEmail)
	return nil
}
