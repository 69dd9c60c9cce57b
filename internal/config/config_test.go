package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "COMMISSION_RATE", "AUTO_RELEASE_HOURS", "SETTLEMENT_DAYS", "SWEEP_INTERVAL"} {
		setEnv(t, key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultCommissionRate, cfg.CommissionRate)
	assert.Equal(t, DefaultAutoReleaseHours, cfg.AutoReleaseHours)
	assert.Equal(t, DefaultSettlementDays, cfg.SettlementDays)
	assert.Equal(t, DefaultSweepInterval, cfg.SweepInterval)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "COMMISSION_RATE", "0.20")
	setEnv(t, "AUTO_RELEASE_HOURS", "48")
	setEnv(t, "SETTLEMENT_DAYS", "14")
	setEnv(t, "SWEEP_INTERVAL", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 0.20, cfg.CommissionRate)
	assert.Equal(t, 48, cfg.AutoReleaseHours)
	assert.Equal(t, 14, cfg.SettlementDays)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		CommissionRate:   0.15,
		AutoReleaseHours: 72,
		SettlementDays:   7,
		SweepInterval:    time.Minute,
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"negative rate", func(c *Config) { c.CommissionRate = -0.1 }, "COMMISSION_RATE"},
		{"rate of one", func(c *Config) { c.CommissionRate = 1.0 }, "COMMISSION_RATE"},
		{"zero release hours", func(c *Config) { c.AutoReleaseHours = 0 }, "AUTO_RELEASE_HOURS"},
		{"zero settlement days", func(c *Config) { c.SettlementDays = 0 }, "SETTLEMENT_DAYS"},
		{"release after settlement", func(c *Config) { c.AutoReleaseHours = 200 }, "settlement window"},
		{"zero sweep interval", func(c *Config) { c.SweepInterval = 0 }, "SWEEP_INTERVAL"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

func TestConfig_DurationHelpers(t *testing.T) {
	cfg := Config{AutoReleaseHours: 72, SettlementDays: 7}
	assert.Equal(t, 72*time.Hour, cfg.AutoReleaseAfter())
	assert.Equal(t, 7*24*time.Hour, cfg.SettlementAfter())
}

func TestConfig_EnvHelpers(t *testing.T) {
	cfg := Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.True(t, cfg.IsProduction())
}
