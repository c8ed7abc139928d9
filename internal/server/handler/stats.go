package handler

import (
	"context"
	"log/slog"
	"net/http"

	"walletwatch/internal/domain"
)

// CreditMeter reports credits consumed against the daily budget.
type CreditMeter interface {
	UsedToday(ctx context.Context) (int, error)
}

// StatsHandler serves aggregate tracker statistics.
type StatsHandler struct {
	positions domain.PositionStore
	credits   CreditMeter
	logger    *slog.Logger
}

// NewStatsHandler creates a StatsHandler.
func NewStatsHandler(positions domain.PositionStore, credits CreditMeter, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{positions: positions, credits: credits, logger: logger}
}

type statsResponse struct {
	Total            int64 `json:"total_positions"`
	Holding          int64 `json:"holding"`
	Sold             int64 `json:"sold"`
	NeedsReconcile   int64 `json:"needs_reconcile"`
	Untracked        int64 `json:"untracked"`
	CreditsUsedToday int   `json:"credits_used_today"`
}

// GetStats returns position counts plus today's credit consumption.
// GET /api/stats
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.positions.Stats(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: position stats failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}

	used, err := h.credits.UsedToday(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: credit usage lookup failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load credit usage")
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Total:            stats.Total,
		Holding:          stats.Holding,
		Sold:             stats.Sold,
		NeedsReconcile:   stats.NeedsReconcile,
		Untracked:        stats.Untracked,
		CreditsUsedToday: used,
	})
}
