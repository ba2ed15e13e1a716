// Package config loads node configuration from the environment and optional
// YAML profiles, and manages the deployment record the client and oracle
// fleet read to locate the core.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds suretyd configuration.
type Config struct {
	Port          string
	LogLevel      string
	Owner         string
	StoreBackend  string // "memory" | "sqlite"
	SQLitePath    string
	DatabaseURL   string // Postgres custody tracker, empty disables
	RedisURL      string // watermark store, empty uses memory
	NATSURL       string // notification sink, empty disables
	WithdrawEvery time.Duration
	OTLPEndpoint  string
	PolicyRule    string // CEL attribution rule, empty uses the default
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("SURETY_PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("SURETY_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	owner := os.Getenv("SURETY_OWNER")
	if owner == "" {
		owner = "account:owner"
	}

	backend := os.Getenv("SURETY_STORE")
	if backend == "" {
		backend = "memory"
	}

	sqlitePath := os.Getenv("SURETY_SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "surety.db"
	}

	withdrawEvery := time.Duration(0)
	if raw := os.Getenv("SURETY_WITHDRAW_WINDOW_SECONDS"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			withdrawEvery = time.Duration(secs) * time.Second
		}
	}

	return &Config{
		Port:          port,
		LogLevel:      logLevel,
		Owner:         owner,
		StoreBackend:  backend,
		SQLitePath:    sqlitePath,
		DatabaseURL:   os.Getenv("SURETY_DATABASE_URL"),
		RedisURL:      os.Getenv("SURETY_REDIS_URL"),
		NATSURL:       os.Getenv("SURETY_NATS_URL"),
		WithdrawEvery: withdrawEvery,
		OTLPEndpoint:  os.Getenv("SURETY_OTLP_ENDPOINT"),
		PolicyRule:    os.Getenv("SURETY_POLICY_RULE"),
	}
}
