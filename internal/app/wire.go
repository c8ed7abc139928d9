package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"walletwatch/internal/archive"
	"walletwatch/internal/cache/redis"
	"walletwatch/internal/config"
	"walletwatch/internal/crypto"
	"walletwatch/internal/domain"
	"walletwatch/internal/notify"
	"walletwatch/internal/platform/dexscreener"
	"walletwatch/internal/platform/helius"
	"walletwatch/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the tracker needs. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Positions     domain.PositionStore
	Cycles        domain.ClosedCycleStore
	Tokens        domain.TokenStore
	Wallets       domain.WalletStore
	Settings      domain.SettingsStore
	Registrations domain.RegistrationStore
	Budgets       domain.BudgetStore
	Audit         domain.AuditStore

	// Caches and coordination
	PriceCache  domain.PriceCache
	DedupSet    domain.DedupSet
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	// Platform clients
	History   domain.ChainHistory
	Registrar domain.WebhookRegistrar
	Oracle    domain.PriceOracle

	// Snapshotter is nil when archiving is disabled.
	Snapshotter *archive.Snapshotter

	// Pingers expose backing-service liveness probes for the health endpoint.
	Pingers map[string]func(context.Context) error

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	positions := postgres.NewPositionStore(pool)
	cycles := postgres.NewClosedCycleStore(pool)
	deps.Positions = positions
	deps.Cycles = cycles
	deps.Tokens = postgres.NewTokenStore(pool)
	deps.Wallets = postgres.NewWalletStore(pool)
	deps.Settings = postgres.NewSettingsStore(pool)
	deps.Registrations = postgres.NewRegistrationStore(pool)
	deps.Budgets = postgres.NewBudgetStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)

	if err := seedSettings(ctx, deps.Settings, cfg, logger); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: seed settings: %w", err)
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Oracle.PriceTTL.Duration)
	deps.DedupSet = redis.NewDedupSet(redisClient, 0)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Helius (chain data + webhook registration) ---
	apiKey, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:     cfg.Helius.APIKey,
		EncryptedPath: cfg.Helius.EncryptedKeyPath,
		Password:      cfg.Helius.KeyPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: helius api key: %w", err)
	}
	heliusClient := helius.New(helius.Config{
		BaseURL:           cfg.Helius.BaseURL,
		APIKey:            apiKey,
		RequestTimeout:    cfg.Helius.RequestTimeout.Duration,
		HistoryCreditCost: cfg.Helius.HistoryCreditCost,
		Limiter:           deps.RateLimiter,
		RateLimit:         cfg.Helius.RateLimit,
		RateWindow:        cfg.Helius.RateWindow.Duration,
	})
	deps.History = heliusClient
	deps.Registrar = heliusClient

	// --- DexScreener (market data) ---
	deps.Oracle = dexscreener.New(dexscreener.Config{
		BaseURL:        cfg.Oracle.BaseURL,
		RequestTimeout: cfg.Oracle.RequestTimeout.Duration,
		Cache:          deps.PriceCache,
		Limiter:        deps.RateLimiter,
		RateLimit:      cfg.Oracle.RateLimit,
		RateWindow:     cfg.Oracle.RateWindow.Duration,
	})

	// --- S3 snapshot archiver ---
	if cfg.Tracker.ArchiveEnabled && cfg.S3.Bucket != "" {
		s3Client, err := archive.NewClient(ctx, archive.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Snapshotter = archive.NewSnapshotter(s3Client, positions, cycles, deps.Audit)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.New(senders, cfg.Notify.Events, logger)

	deps.Pingers = map[string]func(context.Context) error{
		"postgres": pgClient.Ping,
		"redis":    redisClient.Ping,
	}

	return deps, cleanup, nil
}

// seedSettings applies the tracker config block to the settings row, but only
// while the row is still at the migration-seeded version 1. Once an operator
// has changed settings through the API the TOML values stop mattering.
func seedSettings(ctx context.Context, store domain.SettingsStore, cfg *config.Config, logger *slog.Logger) error {
	current, err := store.Get(ctx)
	if err != nil {
		return err
	}
	if current.Version != 1 {
		return nil
	}

	seed := cfg.SeedSettings()
	seed.AutoCheckEnabled = current.AutoCheckEnabled
	seed.Version = current.Version
	if seed.CheckIntervalMinutes == current.CheckIntervalMinutes &&
		seed.StaleThresholdMinutes == current.StaleThresholdMinutes &&
		seed.DailyCreditBudget == current.DailyCreditBudget &&
		seed.MinTokenCount == current.MinTokenCount &&
		seed.MaxSignatures == current.MaxSignatures &&
		seed.MaxPositionsPerRun == current.MaxPositionsPerRun {
		return nil
	}
	if err := seed.Validate(); err != nil {
		return fmt.Errorf("tracker config: %w", err)
	}

	if _, err := store.Update(ctx, seed); err != nil {
		// Another instance seeded first; its values are equivalent.
		if errors.Is(err, domain.ErrAlreadyExists) {
			logger.InfoContext(ctx, "settings already seeded by another instance")
			return nil
		}
		return err
	}
	logger.InfoContext(ctx, "seeded settings from tracker config")
	return nil
}
