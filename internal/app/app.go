// Package app provides the top-level application lifecycle for the wallet
// tracker. It wires together all dependencies (stores, caches, platform
// clients, services, and notifications) and runs the scheduler loop alongside
// the HTTP control surface until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"walletwatch/internal/config"
	"walletwatch/internal/gateway"
	"walletwatch/internal/ledger"
	"walletwatch/internal/reconcile"
	"walletwatch/internal/scheduler"
	"walletwatch/internal/server"
	"walletwatch/internal/server/handler"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, assembles the services, and blocks until the
// context is cancelled or a component fails. On return it runs all registered
// cleanup functions.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	// Core services.
	led := ledger.New(deps.Positions, deps.Cycles, deps.Wallets, deps.Audit, deps.SignalBus, a.logger)
	refresher := ledger.NewRefresher(deps.Positions, deps.Oracle, deps.PriceCache, a.logger)
	gw := gateway.New(led, deps.DedupSet, deps.Oracle, a.cfg.Oracle.HintTimeout.Duration, a.logger)
	budget := reconcile.NewBudget(deps.Budgets)
	engine := reconcile.New(
		deps.Positions, led, deps.History, deps.Oracle, budget,
		a.cfg.Tracker.ReconcileWorkers, a.logger,
	)

	var archiver scheduler.Archiver
	if deps.Snapshotter != nil {
		archiver = deps.Snapshotter
	}
	sched := scheduler.New(
		scheduler.Config{CallbackURL: a.cfg.Helius.CallbackURL},
		deps.Settings, deps.Wallets, deps.Tokens,
		deps.Registrar, deps.Registrations, deps.LockManager,
		gw, refresher, engine, archiver, deps.Notifier,
		a.logger,
	)

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
		},
		server.Handlers{
			Health:    handler.NewHealthHandler(a.logger, deps.Pingers),
			Settings:  handler.NewSettingsHandler(deps.Settings, a.logger),
			Positions: handler.NewPositionsHandler(deps.Positions, a.logger),
			Wallets:   handler.NewWalletsHandler(deps.Wallets, deps.Cycles, a.logger),
			Stats:     handler.NewStatsHandler(deps.Positions, budget, a.logger),
			Triggers:  handler.NewTriggersHandler(sched, refresher, engine, deps.Settings, a.logger),
			Webhooks:  handler.NewWebhooksHandler(gw, deps.Registrar, deps.Registrations, sched, a.logger),
			Status:    handler.NewStatusHandler(sched),
		},
		a.logger,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sched.Run(ctx)
	})

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
