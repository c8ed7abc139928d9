// Package server exposes the HTTP control surface and the provider webhook
// callback.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"walletwatch/internal/server/handler"
	"walletwatch/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers that the server registers.
type Handlers struct {
	Health    *handler.HealthHandler
	Settings  *handler.SettingsHandler
	Positions *handler.PositionsHandler
	Wallets   *handler.WalletsHandler
	Stats     *handler.StatsHandler
	Triggers  *handler.TriggersHandler
	Webhooks  *handler.WebhooksHandler
	Status    *handler.StatusHandler
}

// Server is the headless HTTP API server for the wallet tracker.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. Middleware order is
// CORS, logging, then auth; the provider callback is exempt from auth since
// the provider cannot carry our API key.
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/settings", handlers.Settings.GetSettings)
	mux.HandleFunc("PUT /api/settings", handlers.Settings.UpdateSettings)

	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
	mux.HandleFunc("GET /api/positions/{id}", handlers.Positions.GetPosition)
	mux.HandleFunc("POST /api/positions/{id}/untrack", handlers.Positions.UntrackPosition)

	mux.HandleFunc("GET /api/wallets", handlers.Wallets.ListWallets)
	mux.HandleFunc("GET /api/wallets/{address}/cycles", handlers.Wallets.ListCycles)

	mux.HandleFunc("GET /api/stats", handlers.Stats.GetStats)
	mux.HandleFunc("GET /api/scheduler/status", handlers.Status.GetStatus)

	mux.HandleFunc("POST /api/triggers/check", handlers.Triggers.TriggerCheck)
	mux.HandleFunc("POST /api/triggers/pnl-refresh", handlers.Triggers.TriggerPnLRefresh)
	mux.HandleFunc("POST /api/triggers/reconcile-all", handlers.Triggers.TriggerReconcileAll)
	mux.HandleFunc("POST /api/triggers/reconcile/{token}", handlers.Triggers.TriggerReconcileToken)

	mux.HandleFunc("GET /api/webhooks", handlers.Webhooks.ListRegistrations)
	mux.HandleFunc("POST /api/webhooks/sync", handlers.Webhooks.SyncRegistrations)
	mux.HandleFunc("DELETE /api/webhooks/{id}", handlers.Webhooks.DeleteRegistration)

	mux.HandleFunc("POST /webhooks/callback", handlers.Webhooks.Callback)

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/webhooks/callback")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
