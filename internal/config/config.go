package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config carries everything the process reads from its environment. Load once
// in main and pass down; nothing else touches os.Getenv.
type Config struct {
	Env  string
	Port string

	DatabaseDSN string

	RedisURL  string
	RedisPass string
	RedisDB   int

	JWTSecret string

	// Chain access.
	ChainRPCURL    string
	ExplorerURL    string
	ExplorerAPIKey string
	TokenAddress   string
	TokenDecimals  int32

	// Wallet material.
	MasterKey   string
	SecretsPath string

	// Settlement policy.
	HouseEdge             float64
	RequiredConfirmations uint64
	MinDeposit            decimal.Decimal
	MinWithdrawal         decimal.Decimal
	MaxWithdrawal         decimal.Decimal
	DailyWithdrawalLimit  decimal.Decimal
	AutoApproveMax        decimal.Decimal

	DepositPollInterval time.Duration
	AddressCacheTTL     time.Duration
	QueuePopTimeout     time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Env:  getEnv("APP_ENV", "development"),
		Port: getEnv("PORT", "8080"),

		DatabaseDSN: os.Getenv("DATABASE_DSN"),

		RedisURL:  getEnv("REDIS_URL", "localhost:6379"),
		RedisPass: os.Getenv("REDIS_PASSWORD"),
		RedisDB:   getEnvInt("REDIS_DB", 0),

		JWTSecret: os.Getenv("JWT_SECRET"),

		ChainRPCURL:    os.Getenv("CHAIN_RPC_URL"),
		ExplorerURL:    os.Getenv("EXPLORER_URL"),
		ExplorerAPIKey: os.Getenv("EXPLORER_API_KEY"),
		TokenAddress:   os.Getenv("TOKEN_ADDRESS"),
		TokenDecimals:  int32(getEnvInt("TOKEN_DECIMALS", 6)),

		MasterKey:   os.Getenv("MASTER_KEY"),
		SecretsPath: getEnv("SECRETS_PATH", "./data/secrets"),

		HouseEdge:             getEnvFloat("HOUSE_EDGE", 0.01),
		RequiredConfirmations: uint64(getEnvInt("REQUIRED_CONFIRMATIONS", 20)),
		MinDeposit:            getEnvDecimal("MIN_DEPOSIT", "1"),
		MinWithdrawal:         getEnvDecimal("MIN_WITHDRAWAL", "5"),
		MaxWithdrawal:         getEnvDecimal("MAX_WITHDRAWAL", "10000"),
		DailyWithdrawalLimit:  getEnvDecimal("DAILY_WITHDRAWAL_LIMIT", "25000"),
		AutoApproveMax:        getEnvDecimal("AUTO_APPROVE_MAX", "100"),

		DepositPollInterval: getEnvDuration("DEPOSIT_POLL_INTERVAL", 10*time.Second),
		AddressCacheTTL:     getEnvDuration("ADDRESS_CACHE_TTL", 5*time.Minute),
		QueuePopTimeout:     getEnvDuration("QUEUE_POP_TIMEOUT", 5*time.Second),
	}

	if cfg.DatabaseDSN == "" {
		return nil, fmt.Errorf("DATABASE_DSN is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.MasterKey == "" {
		return nil, fmt.Errorf("MASTER_KEY is required")
	}
	if cfg.HouseEdge <= 0 || cfg.HouseEdge >= 1 {
		return nil, fmt.Errorf("HOUSE_EDGE must be in (0,1), got %f", cfg.HouseEdge)
	}

	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvDecimal(key, fallback string) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return decimal.RequireFromString(fallback)
}
