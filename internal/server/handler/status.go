package handler

import (
	"net/http"

	"walletwatch/internal/scheduler"
)

// StatusSource exposes the scheduler loop state.
type StatusSource interface {
	Status() scheduler.Status
}

// StatusHandler serves the scheduler status endpoint.
type StatusHandler struct {
	source StatusSource
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(source StatusSource) *StatusHandler {
	return &StatusHandler{source: source}
}

// GetStatus returns the scheduler loop state and last tick summary.
// GET /api/scheduler/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.source.Status())
}
