package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// pingTimeout bounds each backing-service probe so a hung dependency cannot
// stall the health endpoint.
const pingTimeout = 2 * time.Second

// HealthHandler serves the health-check endpoint. Each named pinger probes a
// backing service (postgres, redis); the endpoint degrades when any fail.
type HealthHandler struct {
	logger  *slog.Logger
	pingers map[string]func(context.Context) error
}

// NewHealthHandler creates a HealthHandler probing the given backing services.
func NewHealthHandler(logger *slog.Logger, pingers map[string]func(context.Context) error) *HealthHandler {
	return &HealthHandler{logger: logger, pingers: pingers}
}

// HealthCheck reports tracker liveness and the state of each backing service.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	deps := make(map[string]string, len(h.pingers))
	status := http.StatusOK
	overall := "ok"

	for name, ping := range h.pingers {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		err := ping(ctx)
		cancel()
		if err != nil {
			h.logger.WarnContext(r.Context(), "health probe failed", "dependency", name, "error", err)
			deps[name] = "down"
			status = http.StatusServiceUnavailable
			overall = "degraded"
			continue
		}
		deps[name] = "ok"
	}

	writeJSON(w, status, map[string]any{
		"service":      "walletwatch",
		"status":       overall,
		"dependencies": deps,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}
