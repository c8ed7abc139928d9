package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletwatch/internal/domain"
	"walletwatch/internal/gateway"
	"walletwatch/internal/testkit"
)

func TestSettingsUpdateAppliesPartialPatch(t *testing.T) {
	store := testkit.NewSettingsStore()
	h := NewSettingsHandler(store, slog.Default())

	req := httptest.NewRequest(http.MethodPut, "/api/settings",
		strings.NewReader(`{"min_token_count": 3}`))
	rec := httptest.NewRecorder()
	h.UpdateSettings(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp settingsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.MinTokenCount)
	// Untouched field keeps its default.
	assert.Equal(t, domain.DefaultSettings().CheckIntervalMinutes, resp.CheckIntervalMinutes)
	assert.Equal(t, 2, resp.Version)
}

func TestSettingsUpdateRejectsOutOfRange(t *testing.T) {
	store := testkit.NewSettingsStore()
	h := NewSettingsHandler(store, slog.Default())

	req := httptest.NewRequest(http.MethodPut, "/api/settings",
		strings.NewReader(`{"min_token_count": 99}`))
	rec := httptest.NewRecorder()
	h.UpdateSettings(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	current, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSettings().MinTokenCount, current.MinTokenCount)
}

func TestSettingsUpdateRejectsMalformedBody(t *testing.T) {
	h := NewSettingsHandler(testkit.NewSettingsStore(), slog.Default())

	req := httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	h.UpdateSettings(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPositionsListFiltersByStatus(t *testing.T) {
	store := testkit.NewPositionStore()
	ctx := context.Background()

	_, err := store.Create(ctx, domain.Position{
		WalletAddress: "w1", TokenAddress: "t1",
		Status: domain.PositionStatusHolding, Tracked: true,
	})
	require.NoError(t, err)
	_, err = store.Create(ctx, domain.Position{
		WalletAddress: "w1", TokenAddress: "t2",
		Status: domain.PositionStatusSold, Tracked: true,
	})
	require.NoError(t, err)

	h := NewPositionsHandler(store, slog.Default())

	req := httptest.NewRequest(http.MethodGet, "/api/positions?status=sold", nil)
	rec := httptest.NewRecorder()
	h.ListPositions(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp listPositionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Positions, 1)
	assert.Equal(t, "t2", resp.Positions[0].TokenAddress)

	req = httptest.NewRequest(http.MethodGet, "/api/positions?status=borrowed", nil)
	rec = httptest.NewRecorder()
	h.ListPositions(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPositionUntrackIsIdempotent(t *testing.T) {
	store := testkit.NewPositionStore()
	id, err := store.Create(context.Background(), domain.Position{
		WalletAddress: "w1", TokenAddress: "t1",
		Status: domain.PositionStatusHolding, Tracked: true,
	})
	require.NoError(t, err)

	h := NewPositionsHandler(store, slog.Default())

	untrack := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/positions/1/untrack", nil)
		req.SetPathValue("id", "1")
		rec := httptest.NewRecorder()
		h.UntrackPosition(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, untrack().Code)
	assert.Equal(t, http.StatusOK, untrack().Code)

	pos, err := store.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, pos.Tracked)
}

func TestPositionGetUnknownIDReturns404(t *testing.T) {
	h := NewPositionsHandler(testkit.NewPositionStore(), slog.Default())

	req := httptest.NewRequest(http.MethodGet, "/api/positions/42", nil)
	req.SetPathValue("id", "42")
	rec := httptest.NewRecorder()
	h.GetPosition(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeIngester struct {
	batches [][]domain.WalletTransaction
}

func (f *fakeIngester) HandleBatch(_ context.Context, txs []domain.WalletTransaction) gateway.Report {
	f.batches = append(f.batches, txs)
	return gateway.Report{Transactions: len(txs), Applied: len(txs)}
}

func TestWebhookCallbackAccepted(t *testing.T) {
	ingester := &fakeIngester{}
	h := NewWebhooksHandler(ingester, testkit.NewWebhookRegistrar(), testkit.NewRegistrationStore(), nil, slog.Default())

	payload := `[{
		"signature": "sig-1",
		"timestamp": 1756400000,
		"type": "SWAP",
		"tokenTransfers": [
			{"fromUserAccount": "pool", "toUserAccount": "w1", "mint": "t1", "tokenAmount": 100}
		]
	}]`

	req := httptest.NewRequest(http.MethodPost, "/webhooks/callback", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	h.Callback(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, ingester.batches, 1)
	require.Len(t, ingester.batches[0], 1)
	assert.Equal(t, "sig-1", ingester.batches[0][0].Signature)
	require.Len(t, ingester.batches[0][0].Transfers, 1)
	assert.Equal(t, "t1", ingester.batches[0][0].Transfers[0].Mint)
}

func TestWebhookCallbackRejectsUndecodablePayload(t *testing.T) {
	h := NewWebhooksHandler(&fakeIngester{}, testkit.NewWebhookRegistrar(), testkit.NewRegistrationStore(), nil, slog.Default())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/callback", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	h.Callback(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsIncludesCreditUsage(t *testing.T) {
	positions := testkit.NewPositionStore()
	_, err := positions.Create(context.Background(), domain.Position{
		WalletAddress: "w1", TokenAddress: "t1",
		Status: domain.PositionStatusHolding, Tracked: true,
	})
	require.NoError(t, err)

	h := NewStatsHandler(positions, stubCredits(42), slog.Default())

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	h.GetStats(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Total)
	assert.Equal(t, 42, resp.CreditsUsedToday)
}

type stubCredits int

func (s stubCredits) UsedToday(context.Context) (int, error) {
	return int(s), nil
}

func TestHealthCheckReportsDependencies(t *testing.T) {
	h := NewHealthHandler(slog.Default(), map[string]func(context.Context) error{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return nil },
	})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Service      string            `json:"service"`
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "walletwatch", resp.Service)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Dependencies["postgres"])
	assert.Equal(t, "ok", resp.Dependencies["redis"])
}

func TestHealthCheckDegradesWhenDependencyDown(t *testing.T) {
	h := NewHealthHandler(slog.Default(), map[string]func(context.Context) error{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "ok", resp.Dependencies["postgres"])
	assert.Equal(t, "down", resp.Dependencies["redis"])
}
