package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"walletwatch/internal/domain"
	"walletwatch/internal/ledger"
	"walletwatch/internal/reconcile"
	"walletwatch/internal/scheduler"
)

// Ticker runs one full scheduler tick on demand.
type Ticker interface {
	Tick(ctx context.Context) (scheduler.TickReport, error)
}

// Refresher runs the free PnL refresh pass.
type Refresher interface {
	Refresh(ctx context.Context, cutoff time.Time, limit int) (ledger.RefreshReport, error)
}

// Reconciler runs credit-budgeted reconciliation passes.
type Reconciler interface {
	ReconcileAll(ctx context.Context, settings domain.Settings) (reconcile.Report, error)
	ReconcileToken(ctx context.Context, tokenAddress string, settings domain.Settings) (reconcile.Report, error)
}

// TriggersHandler serves the manual trigger endpoints. Every trigger returns
// the run summary; a tick already in progress elsewhere returns 409.
type TriggersHandler struct {
	ticker     Ticker
	refresher  Refresher
	reconciler Reconciler
	settings   domain.SettingsStore
	logger     *slog.Logger
}

// NewTriggersHandler creates a TriggersHandler.
func NewTriggersHandler(
	ticker Ticker,
	refresher Refresher,
	reconciler Reconciler,
	settings domain.SettingsStore,
	logger *slog.Logger,
) *TriggersHandler {
	return &TriggersHandler{
		ticker:     ticker,
		refresher:  refresher,
		reconciler: reconciler,
		settings:   settings,
		logger:     logger,
	}
}

// TriggerCheck runs one full tick now.
// POST /api/triggers/check
func (h *TriggersHandler) TriggerCheck(w http.ResponseWriter, r *http.Request) {
	report, err := h.ticker.Tick(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			writeError(w, http.StatusConflict, "a check is already running")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: manual check failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "check failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// TriggerPnLRefresh recomputes PnL for stale positions from cached prices.
// POST /api/triggers/pnl-refresh
func (h *TriggersHandler) TriggerPnLRefresh(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Get(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}

	cutoff := time.Now().Add(-time.Duration(settings.StaleThresholdMinutes) * time.Minute)
	report, err := h.refresher.Refresh(r.Context(), cutoff, settings.MaxPositionsPerRun)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: pnl refresh failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// TriggerReconcileAll reconciles flagged positions across every token.
// POST /api/triggers/reconcile-all
func (h *TriggersHandler) TriggerReconcileAll(w http.ResponseWriter, r *http.Request) {
	h.reconcileAndRespond(w, r, "")
}

// TriggerReconcileToken reconciles flagged positions in one token.
// POST /api/triggers/reconcile/{token}
func (h *TriggersHandler) TriggerReconcileToken(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "token address required")
		return
	}
	h.reconcileAndRespond(w, r, token)
}

func (h *TriggersHandler) reconcileAndRespond(w http.ResponseWriter, r *http.Request, token string) {
	settings, err := h.settings.Get(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}

	var report reconcile.Report
	if token == "" {
		report, err = h.reconciler.ReconcileAll(r.Context(), settings)
	} else {
		report, err = h.reconciler.ReconcileToken(r.Context(), token, settings)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: reconcile failed",
			slog.String("token", token),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "reconcile failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
