package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"walletwatch/internal/domain"
)

// SettingsHandler serves the runtime-tunable tracker settings.
type SettingsHandler struct {
	settings domain.SettingsStore
	logger   *slog.Logger
}

// NewSettingsHandler creates a SettingsHandler.
func NewSettingsHandler(settings domain.SettingsStore, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{settings: settings, logger: logger}
}

type settingsResponse struct {
	AutoCheckEnabled      bool   `json:"auto_check_enabled"`
	CheckIntervalMinutes  int    `json:"check_interval_minutes"`
	StaleThresholdMinutes int    `json:"stale_threshold_minutes"`
	DailyCreditBudget     int    `json:"daily_credit_budget"`
	MinTokenCount         int    `json:"min_token_count"`
	MaxSignatures         int    `json:"max_signatures"`
	MaxPositionsPerRun    int    `json:"max_positions_per_run"`
	Version               int    `json:"version"`
	UpdatedAt             string `json:"updated_at,omitempty"`
}

func toSettingsResponse(s domain.Settings) settingsResponse {
	resp := settingsResponse{
		AutoCheckEnabled:      s.AutoCheckEnabled,
		CheckIntervalMinutes:  s.CheckIntervalMinutes,
		StaleThresholdMinutes: s.StaleThresholdMinutes,
		DailyCreditBudget:     s.DailyCreditBudget,
		MinTokenCount:         s.MinTokenCount,
		MaxSignatures:         s.MaxSignatures,
		MaxPositionsPerRun:    s.MaxPositionsPerRun,
		Version:               s.Version,
	}
	if !s.UpdatedAt.IsZero() {
		resp.UpdatedAt = s.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// GetSettings returns the current settings record.
// GET /api/settings
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Get(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get settings failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(s))
}

type settingsUpdateRequest struct {
	AutoCheckEnabled      *bool `json:"auto_check_enabled"`
	CheckIntervalMinutes  *int  `json:"check_interval_minutes"`
	StaleThresholdMinutes *int  `json:"stale_threshold_minutes"`
	DailyCreditBudget     *int  `json:"daily_credit_budget"`
	MinTokenCount         *int  `json:"min_token_count"`
	MaxSignatures         *int  `json:"max_signatures"`
	MaxPositionsPerRun    *int  `json:"max_positions_per_run"`
}

// UpdateSettings applies a partial update to the settings record. Absent
// fields are left unchanged; the merged result is validated before
// persisting. A concurrent update returns 409.
// PUT /api/settings
func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	current, err := h.settings.Get(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: load settings failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}

	patch := domain.SettingsPatch{
		AutoCheckEnabled:      req.AutoCheckEnabled,
		CheckIntervalMinutes:  req.CheckIntervalMinutes,
		StaleThresholdMinutes: req.StaleThresholdMinutes,
		DailyCreditBudget:     req.DailyCreditBudget,
		MinTokenCount:         req.MinTokenCount,
		MaxSignatures:         req.MaxSignatures,
		MaxPositionsPerRun:    req.MaxPositionsPerRun,
	}
	next := patch.ApplyTo(current)

	if err := next.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.settings.Update(r.Context(), next)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "settings changed concurrently, retry")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: update settings failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to update settings")
		return
	}

	writeJSON(w, http.StatusOK, toSettingsResponse(updated))
}
