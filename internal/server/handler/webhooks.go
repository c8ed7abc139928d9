package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"walletwatch/internal/domain"
	"walletwatch/internal/gateway"
	"walletwatch/internal/platform/helius"
	"walletwatch/internal/scheduler"
)

// BatchIngester applies one webhook delivery; satisfied by the gateway.
type BatchIngester interface {
	HandleBatch(ctx context.Context, txs []domain.WalletTransaction) gateway.Report
}

// RegistrationSyncer replaces provider registrations to match the gate.
type RegistrationSyncer interface {
	SyncWebhooks(ctx context.Context) (scheduler.TickReport, error)
}

// WebhooksHandler serves the provider callback and registration management.
type WebhooksHandler struct {
	ingester  BatchIngester
	registrar domain.WebhookRegistrar
	regStore  domain.RegistrationStore
	syncer    RegistrationSyncer
	logger    *slog.Logger
}

// NewWebhooksHandler creates a WebhooksHandler.
func NewWebhooksHandler(
	ingester BatchIngester,
	registrar domain.WebhookRegistrar,
	regStore domain.RegistrationStore,
	syncer RegistrationSyncer,
	logger *slog.Logger,
) *WebhooksHandler {
	return &WebhooksHandler{
		ingester:  ingester,
		registrar: registrar,
		regStore:  regStore,
		syncer:    syncer,
		logger:    logger,
	}
}

// Callback ingests one provider delivery. Understood payloads always get a
// 2xx, even when individual events were deferred or ignored; a non-2xx makes
// the provider redeliver the whole batch. 400 is reserved for payloads that
// cannot be decoded at all.
// POST /webhooks/callback
func (h *WebhooksHandler) Callback(w http.ResponseWriter, r *http.Request) {
	var txs []helius.EnhancedTransaction
	if err := json.NewDecoder(r.Body).Decode(&txs); err != nil {
		writeError(w, http.StatusBadRequest, "undecodable payload: "+err.Error())
		return
	}

	batch := make([]domain.WalletTransaction, 0, len(txs))
	for i := range txs {
		batch = append(batch, txs[i].ToDomain())
	}

	report := h.ingester.HandleBatch(r.Context(), batch)
	writeJSON(w, http.StatusOK, report)
}

// SyncRegistrations replaces provider registrations to match the current
// monitored wallet set.
// POST /api/webhooks/sync
func (h *WebhooksHandler) SyncRegistrations(w http.ResponseWriter, r *http.Request) {
	report, err := h.syncer.SyncWebhooks(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			writeError(w, http.StatusConflict, "a check is already running")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: webhook sync failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "webhook sync failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type registrationResponse struct {
	ID        string   `json:"id"`
	URL       string   `json:"url"`
	Addresses []string `json:"addresses"`
	TxTypes   []string `json:"tx_types,omitempty"`
	CreatedAt string   `json:"created_at,omitempty"`
}

// ListRegistrations returns the live provider-side registrations.
// GET /api/webhooks
func (h *WebhooksHandler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	regs, err := h.registrar.ListWebhooks(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list registrations failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list webhooks")
		return
	}

	out := make([]registrationResponse, 0, len(regs))
	for _, reg := range regs {
		resp := registrationResponse{
			ID:        reg.ID,
			URL:       reg.URL,
			Addresses: reg.Addresses,
			TxTypes:   reg.TxTypes,
		}
		if !reg.CreatedAt.IsZero() {
			resp.CreatedAt = reg.CreatedAt.UTC().Format(time.RFC3339)
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": out})
}

// DeleteRegistration removes one provider-side registration and its mirror
// record. The next scheduler tick recreates coverage for gated wallets.
// DELETE /api/webhooks/{id}
func (h *WebhooksHandler) DeleteRegistration(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "webhook id required")
		return
	}

	if err := h.registrar.DeleteWebhook(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "webhook not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: delete registration failed",
			slog.String("webhook_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to delete webhook")
		return
	}

	if err := h.regStore.Delete(r.Context(), id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		h.logger.ErrorContext(r.Context(), "handler: registration mirror delete failed",
			slog.String("webhook_id", id),
			slog.String("error", err.Error()),
		)
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "deleted",
		"id":     id,
	})
}
