// Package config loads environment-driven settings for the exchange core,
// following the same env-with-defaults pattern the rest of the codebase
// expects (.env via godotenv, falling back to hardcoded defaults).
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the exchange core.
type Config struct {
	Port string

	// Database
	DBPath string

	// Auth
	JWTSecret     string
	TokenTTLHours int

	// LMSR market defaults (spec §6.5)
	DefaultLiquidityB float64
	FeeRate           float64

	// Bootstrap
	InitialAdminEmail    string
	InitialAdminPassword string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                 getEnv("PORT", "8080"),
		DBPath:               getEnv("DB_PATH", "./data/predimarket.db"),
		JWTSecret:            getEnv("JWT_SECRET", "dev-secret"),
		TokenTTLHours:        getEnvInt("TOKEN_TTL_HOURS", 72),
		DefaultLiquidityB:    getEnvFloat("DEFAULT_LIQUIDITY_B", 1000.0),
		FeeRate:              getEnvFloat("FEE_RATE", 0.02),
		InitialAdminEmail:    getEnv("INITIAL_ADMIN_EMAIL", ""),
		InitialAdminPassword: getEnv("INITIAL_ADMIN_PASSWORD", ""),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
