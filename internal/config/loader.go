package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"walletwatch/internal/domain"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies WALLETWATCH_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// SeedSettings converts the tracker config block into the settings record the
// initial migration seeds. Runtime updates go through the settings store.
func (c *Config) SeedSettings() domain.Settings {
	s := domain.DefaultSettings()
	s.CheckIntervalMinutes = c.Tracker.CheckIntervalMinutes
	s.StaleThresholdMinutes = c.Tracker.StaleThresholdMinutes
	s.DailyCreditBudget = c.Tracker.DailyCreditBudget
	s.MinTokenCount = c.Tracker.MinTokenCount
	s.MaxSignatures = c.Tracker.MaxSignatures
	s.MaxPositionsPerRun = c.Tracker.MaxPositionsPerRun
	return s
}

// applyEnvOverrides reads well-known WALLETWATCH_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This lets
// operators inject secrets at deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "WALLETWATCH_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "WALLETWATCH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "WALLETWATCH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "WALLETWATCH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "WALLETWATCH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "WALLETWATCH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "WALLETWATCH_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "WALLETWATCH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "WALLETWATCH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "WALLETWATCH_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "WALLETWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WALLETWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WALLETWATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WALLETWATCH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "WALLETWATCH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "WALLETWATCH_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "WALLETWATCH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WALLETWATCH_S3_REGION")
	setStr(&cfg.S3.Bucket, "WALLETWATCH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "WALLETWATCH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WALLETWATCH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "WALLETWATCH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "WALLETWATCH_S3_FORCE_PATH_STYLE")

	// ── Helius ──
	setStr(&cfg.Helius.BaseURL, "WALLETWATCH_HELIUS_BASE_URL")
	setStr(&cfg.Helius.APIKey, "WALLETWATCH_HELIUS_API_KEY")
	setStr(&cfg.Helius.EncryptedKeyPath, "WALLETWATCH_HELIUS_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Helius.KeyPassword, "WALLETWATCH_HELIUS_KEY_PASSWORD")
	setStr(&cfg.Helius.CallbackURL, "WALLETWATCH_HELIUS_CALLBACK_URL")
	setDuration(&cfg.Helius.RequestTimeout, "WALLETWATCH_HELIUS_REQUEST_TIMEOUT")
	setInt(&cfg.Helius.HistoryCreditCost, "WALLETWATCH_HELIUS_HISTORY_CREDIT_COST")
	setInt(&cfg.Helius.RateLimit, "WALLETWATCH_HELIUS_RATE_LIMIT")
	setDuration(&cfg.Helius.RateWindow, "WALLETWATCH_HELIUS_RATE_WINDOW")

	// ── Oracle ──
	setStr(&cfg.Oracle.BaseURL, "WALLETWATCH_ORACLE_BASE_URL")
	setDuration(&cfg.Oracle.RequestTimeout, "WALLETWATCH_ORACLE_REQUEST_TIMEOUT")
	setDuration(&cfg.Oracle.PriceTTL, "WALLETWATCH_ORACLE_PRICE_TTL")
	setDuration(&cfg.Oracle.HintTimeout, "WALLETWATCH_ORACLE_HINT_TIMEOUT")
	setInt(&cfg.Oracle.RateLimit, "WALLETWATCH_ORACLE_RATE_LIMIT")
	setDuration(&cfg.Oracle.RateWindow, "WALLETWATCH_ORACLE_RATE_WINDOW")

	// ── Tracker ──
	setInt(&cfg.Tracker.CheckIntervalMinutes, "WALLETWATCH_TRACKER_CHECK_INTERVAL_MINUTES")
	setInt(&cfg.Tracker.StaleThresholdMinutes, "WALLETWATCH_TRACKER_STALE_THRESHOLD_MINUTES")
	setInt(&cfg.Tracker.DailyCreditBudget, "WALLETWATCH_TRACKER_DAILY_CREDIT_BUDGET")
	setInt(&cfg.Tracker.MinTokenCount, "WALLETWATCH_TRACKER_MIN_TOKEN_COUNT")
	setInt(&cfg.Tracker.MaxSignatures, "WALLETWATCH_TRACKER_MAX_SIGNATURES")
	setInt(&cfg.Tracker.MaxPositionsPerRun, "WALLETWATCH_TRACKER_MAX_POSITIONS_PER_RUN")
	setInt(&cfg.Tracker.ReconcileWorkers, "WALLETWATCH_TRACKER_RECONCILE_WORKERS")
	setBool(&cfg.Tracker.ArchiveEnabled, "WALLETWATCH_TRACKER_ARCHIVE_ENABLED")

	// ── Server ──
	setInt(&cfg.Server.Port, "WALLETWATCH_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "WALLETWATCH_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "WALLETWATCH_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WALLETWATCH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "WALLETWATCH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "WALLETWATCH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "WALLETWATCH_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "WALLETWATCH_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
