// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Escrow timeline
	CommissionRate   float64       // Platform cut of each booking
	AutoReleaseHours int           // Hours after event start until auto-release
	SettlementDays   int           // Days after event start until final settlement
	SweepInterval    time.Duration // Cadence of the settlement job

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint; empty disables tracing
}

const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultCommissionRate   = 0.15
	DefaultAutoReleaseHours = 72
	DefaultSettlementDays   = 7
	DefaultSweepInterval    = 5 * time.Minute
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		CommissionRate:   getEnvFloat("COMMISSION_RATE", DefaultCommissionRate),
		AutoReleaseHours: int(getEnvInt64("AUTO_RELEASE_HOURS", DefaultAutoReleaseHours)),
		SettlementDays:   int(getEnvInt64("SETTLEMENT_DAYS", DefaultSettlementDays)),
		SweepInterval:    getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is coherent.
func (c *Config) Validate() error {
	if c.CommissionRate < 0 || c.CommissionRate >= 1 {
		return fmt.Errorf("COMMISSION_RATE must be in [0, 1), got %v", c.CommissionRate)
	}
	if c.AutoReleaseHours <= 0 {
		return fmt.Errorf("AUTO_RELEASE_HOURS must be positive, got %d", c.AutoReleaseHours)
	}
	if c.SettlementDays <= 0 {
		return fmt.Errorf("SETTLEMENT_DAYS must be positive, got %d", c.SettlementDays)
	}
	if c.AutoReleaseHours >= c.SettlementDays*24 {
		return fmt.Errorf("AUTO_RELEASE_HOURS (%d) must fall inside the settlement window (%d days)",
			c.AutoReleaseHours, c.SettlementDays)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %v", c.SweepInterval)
	}
	return nil
}

// AutoReleaseAfter returns the auto-release offset as a duration.
func (c *Config) AutoReleaseAfter() time.Duration {
	return time.Duration(c.AutoReleaseHours) * time.Hour
}

// SettlementAfter returns the final-settlement offset as a duration.
func (c *Config) SettlementAfter() time.Duration {
	return time.Duration(c.SettlementDays) * 24 * time.Hour
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
