package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Helius.APIKey = "test-key"
	cfg.Helius.CallbackURL = "https://example.com/webhooks/callback"
	return cfg
}

func TestDefaultsValidateWithRequiredFields(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRequiresHeliusKey(t *testing.T) {
	cfg := validConfig()
	cfg.Helius.APIKey = ""
	cfg.Helius.EncryptedKeyPath = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "helius.api_key")
}

func TestValidateEncryptedKeyPathSatisfiesKeyRequirement(t *testing.T) {
	cfg := validConfig()
	cfg.Helius.APIKey = ""
	cfg.Helius.EncryptedKeyPath = "/etc/walletwatch/helius.key"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadTrackerRanges(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"interval zero", func(c *Config) { c.Tracker.CheckIntervalMinutes = 0 }},
		{"interval too large", func(c *Config) { c.Tracker.CheckIntervalMinutes = 2000 }},
		{"negative budget", func(c *Config) { c.Tracker.DailyCreditBudget = -1 }},
		{"min token count zero", func(c *Config) { c.Tracker.MinTokenCount = 0 }},
		{"max signatures below floor", func(c *Config) { c.Tracker.MaxSignatures = 5 }},
		{"max signatures above ceiling", func(c *Config) { c.Tracker.MaxSignatures = 500 }},
		{"max positions zero", func(c *Config) { c.Tracker.MaxPositionsPerRun = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateArchiveRequiresBucket(t *testing.T) {
	cfg := validConfig()
	cfg.Tracker.ArchiveEnabled = true
	cfg.S3.Bucket = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3.bucket")
}

func TestLoadTOMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
log_level = "debug"

[helius]
api_key = "hk"
callback_url = "https://cb.example.com/hook"
request_timeout = "45s"
history_credit_cost = 1

[tracker]
daily_credit_budget = 100
max_signatures = 25

[server]
port = 9090
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "hk", cfg.Helius.APIKey)
	assert.Equal(t, 45*time.Second, cfg.Helius.RequestTimeout.Duration)
	assert.Equal(t, 1, cfg.Helius.HistoryCreditCost)
	assert.Equal(t, 100, cfg.Tracker.DailyCreditBudget)
	assert.Equal(t, 25, cfg.Tracker.MaxSignatures)
	assert.Equal(t, 9090, cfg.Server.Port)

	// Unspecified fields keep their defaults.
	assert.Equal(t, 30, cfg.Tracker.CheckIntervalMinutes)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestEnvOverridesBeatTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nport = 9090\n"), 0o600))

	t.Setenv("WALLETWATCH_SERVER_PORT", "7070")
	t.Setenv("WALLETWATCH_HELIUS_API_KEY", "env-key")
	t.Setenv("WALLETWATCH_ORACLE_PRICE_TTL", "90s")
	t.Setenv("WALLETWATCH_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "env-key", cfg.Helius.APIKey)
	assert.Equal(t, 90*time.Second, cfg.Oracle.PriceTTL.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestSeedSettingsMirrorsTrackerBlock(t *testing.T) {
	cfg := validConfig()
	cfg.Tracker.CheckIntervalMinutes = 10
	cfg.Tracker.DailyCreditBudget = 42

	seed := cfg.SeedSettings()
	assert.Equal(t, 10, seed.CheckIntervalMinutes)
	assert.Equal(t, 42, seed.DailyCreditBudget)
	assert.True(t, seed.AutoCheckEnabled)
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "super-secret"
	cfg.Helius.APIKey = "helius-key-12345"
	cfg.Server.APIKey = "srv"

	red := cfg.RedactedConfig()
	assert.NotContains(t, red.Postgres.Password, "secret")
	assert.NotContains(t, red.Helius.APIKey, "12345")
	assert.Equal(t, "****", red.Server.APIKey)

	// Original must be untouched.
	assert.Equal(t, "super-secret", cfg.Postgres.Password)
}
