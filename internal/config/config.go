// Package config loads process configuration once at startup. The
// resulting Config is immutable for the process lifetime and passed by
// value into the components that need it — no hidden globals.
package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/oddsmill/bet-engine/internal/margin"
	"github.com/oddsmill/bet-engine/internal/pool"
)

// Defaults applied when the environment leaves a value unset.
var (
	defaultPoolSize      = decimal.NewFromInt(1000)
	defaultCommitTimeout = 5 * time.Second
)

// Config holds the full process configuration.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	// FeeRate is the house margin, clamped to [0.001, 0.10] at load.
	FeeRate decimal.Decimal

	// DefaultPoolSize seeds markets created without an explicit size.
	DefaultPoolSize decimal.Decimal

	// CommitTimeout bounds each settlement commit against the store.
	CommitTimeout time.Duration
}

// Load reads configuration from a .env file (if present) and the process
// environment. Out-of-range values are replaced with defaults and logged;
// Load never fails.
func Load() Config {
	// Missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	cfg := Config{
		Port:            envOr("PORT", "8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		FeeRate:         margin.DefaultFeeRate,
		DefaultPoolSize: defaultPoolSize,
		CommitTimeout:   defaultCommitTimeout,
	}

	if raw := os.Getenv("FEE_RATE"); raw != "" {
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			slog.Warn("unparsable FEE_RATE, using default",
				"raw", raw, "default", margin.DefaultFeeRate.String())
		} else {
			normalized, replaced := margin.NormalizeRate(rate)
			if replaced {
				slog.Warn("FEE_RATE out of range, using default",
					"configured", rate.String(),
					"min", margin.MinFeeRate.String(),
					"max", margin.MaxFeeRate.String(),
					"default", normalized.String())
			}
			cfg.FeeRate = normalized
		}
	}

	if raw := os.Getenv("DEFAULT_POOL_SIZE"); raw != "" {
		size, err := decimal.NewFromString(raw)
		switch {
		case err != nil:
			slog.Warn("unparsable DEFAULT_POOL_SIZE, using default",
				"raw", raw, "default", defaultPoolSize.String())
		case size.LessThan(pool.MinSize) || size.GreaterThan(pool.MaxSize):
			slog.Warn("DEFAULT_POOL_SIZE out of range, using default",
				"configured", size.String(),
				"min", pool.MinSize.String(),
				"max", pool.MaxSize.String())
		default:
			cfg.DefaultPoolSize = size
		}
	}

	if raw := os.Getenv("COMMIT_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			slog.Warn("invalid COMMIT_TIMEOUT, using default",
				"raw", raw, "default", defaultCommitTimeout.String())
		} else {
			cfg.CommitTimeout = d
		}
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
