// Package config defines the top-level configuration for walletwatch and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by WALLETWATCH_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Helius   HeliusConfig   `toml:"helius"`
	Oracle   OracleConfig   `toml:"oracle"`
	Tracker  TrackerConfig  `toml:"tracker"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the nightly
// snapshot archiver. Leave Bucket empty to disable archiving.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// HeliusConfig holds the chain data provider parameters.
type HeliusConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`

	// EncryptedKeyPath and KeyPassword let operators keep the API key
	// encrypted at rest instead of plaintext in APIKey.
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`

	// CallbackURL is the public URL Helius posts transaction batches to.
	CallbackURL string `toml:"callback_url"`

	RequestTimeout duration `toml:"request_timeout"`
	// HistoryCreditCost is the provider credit cost of one transaction
	// history fetch.
	HistoryCreditCost int `toml:"history_credit_cost"`
	// RateLimit/RateWindow pace outbound calls.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// OracleConfig holds the market-data source parameters.
type OracleConfig struct {
	BaseURL        string   `toml:"base_url"`
	RequestTimeout duration `toml:"request_timeout"`
	// PriceTTL is the freshness SLA for cached oracle readings; older cache
	// entries are treated as misses.
	PriceTTL duration `toml:"price_ttl"`
	// HintTimeout bounds the synchronous price lookup on the webhook path.
	HintTimeout duration `toml:"hint_timeout"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// TrackerConfig seeds the persisted settings row on first start and holds
// operational knobs that are not runtime-tunable.
type TrackerConfig struct {
	CheckIntervalMinutes  int `toml:"check_interval_minutes"`
	StaleThresholdMinutes int `toml:"stale_threshold_minutes"`
	DailyCreditBudget     int `toml:"daily_credit_budget"`
	MinTokenCount         int `toml:"min_token_count"`
	MaxSignatures         int `toml:"max_signatures"`
	MaxPositionsPerRun    int `toml:"max_positions_per_run"`
	// ReconcileWorkers bounds the reconciliation worker pool.
	ReconcileWorkers int `toml:"reconcile_workers"`
	// ArchiveEnabled turns the nightly S3 snapshot on.
	ArchiveEnabled bool `toml:"archive_enabled"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds operator notification parameters.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration used when fields are absent
// from the TOML file and environment.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "walletwatch",
			User:          "walletwatch",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Helius: HeliusConfig{
			BaseURL:           "https://api.helius.xyz",
			RequestTimeout:    duration{30 * time.Second},
			HistoryCreditCost: 10,
			RateLimit:         10,
			RateWindow:        duration{time.Second},
		},
		Oracle: OracleConfig{
			BaseURL:        "https://api.dexscreener.com",
			RequestTimeout: duration{10 * time.Second},
			PriceTTL:       duration{5 * time.Minute},
			HintTimeout:    duration{3 * time.Second},
			RateLimit:      30,
			RateWindow:     duration{time.Minute},
		},
		Tracker: TrackerConfig{
			CheckIntervalMinutes:  30,
			StaleThresholdMinutes: 15,
			DailyCreditBudget:     500,
			MinTokenCount:         2,
			MaxSignatures:         50,
			MaxPositionsPerRun:    50,
			ReconcileWorkers:      4,
		},
		Server: ServerConfig{
			Port: 8080,
		},
		LogLevel: "info",
	}
}

// Validate checks the configuration for required fields and sane ranges.
func (c *Config) Validate() error {
	var problems []string

	if c.Helius.APIKey == "" && c.Helius.EncryptedKeyPath == "" {
		problems = append(problems, "helius.api_key or helius.encrypted_key_path is required")
	}
	if c.Helius.CallbackURL == "" {
		problems = append(problems, "helius.callback_url is required")
	}
	if c.Helius.HistoryCreditCost < 1 {
		problems = append(problems, "helius.history_credit_cost must be >= 1")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Tracker.ReconcileWorkers < 1 {
		problems = append(problems, "tracker.reconcile_workers must be >= 1")
	}
	if c.Tracker.ArchiveEnabled && c.S3.Bucket == "" {
		problems = append(problems, "s3.bucket is required when tracker.archive_enabled is set")
	}

	// The tracker block seeds the persisted settings row; reuse its range
	// checks so the seed cannot be invalid.
	seed := c.SeedSettings()
	if err := seed.Validate(); err != nil {
		problems = append(problems, fmt.Sprintf("tracker: %v", err))
	}

	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("log_level %q not one of debug/info/warn/error", c.LogLevel))
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}
