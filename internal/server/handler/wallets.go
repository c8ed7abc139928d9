package handler

import (
	"log/slog"
	"net/http"
	"time"

	"walletwatch/internal/domain"
)

// WalletsHandler serves per-wallet aggregates and closed-cycle history.
type WalletsHandler struct {
	wallets domain.WalletStore
	cycles  domain.ClosedCycleStore
	logger  *slog.Logger
}

// NewWalletsHandler creates a WalletsHandler.
func NewWalletsHandler(wallets domain.WalletStore, cycles domain.ClosedCycleStore, logger *slog.Logger) *WalletsHandler {
	return &WalletsHandler{wallets: wallets, cycles: cycles, logger: logger}
}

type walletSummaryResponse struct {
	WalletAddress string   `json:"wallet_address"`
	TokenCount    int      `json:"token_count"`
	OpenPositions int      `json:"open_positions"`
	ClosedCycles  int      `json:"closed_cycles"`
	WinRate       *float64 `json:"win_rate,omitempty"`
	AvgRealized   *float64 `json:"avg_realized_pnl,omitempty"`
}

// ListWallets returns the per-wallet track record across tokens.
// GET /api/wallets
func (h *WalletsHandler) ListWallets(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.wallets.Summaries(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: wallet summaries failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list wallets")
		return
	}

	out := make([]walletSummaryResponse, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, walletSummaryResponse{
			WalletAddress: s.WalletAddress,
			TokenCount:    s.TokenCount,
			OpenPositions: s.OpenPositions,
			ClosedCycles:  s.ClosedCycles,
			WinRate:       s.WinRate,
			AvgRealized:   s.AvgRealized,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"wallets": out})
}

type closedCycleResponse struct {
	ID              int64    `json:"id"`
	PositionID      int64    `json:"position_id"`
	WalletAddress   string   `json:"wallet_address"`
	TokenAddress    string   `json:"token_address"`
	EntryPrice      float64  `json:"entry_price"`
	ExitPrice       float64  `json:"exit_price"`
	EntryMarketCap  float64  `json:"entry_market_cap"`
	ExitMarketCap   *float64 `json:"exit_market_cap,omitempty"`
	TotalBoughtUSD  float64  `json:"total_bought_usd"`
	TotalSoldUSD    float64  `json:"total_sold_usd"`
	RealizedPnL     float64  `json:"realized_pnl"`
	IsEstimatedExit bool     `json:"is_estimated_exit"`
	OpenedAt        string   `json:"opened_at"`
	ClosedAt        string   `json:"closed_at"`
}

// ListCycles returns a wallet's completed holding cycles, most recent first.
// GET /api/wallets/{address}/cycles
func (h *WalletsHandler) ListCycles(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if address == "" {
		writeError(w, http.StatusBadRequest, "wallet address required")
		return
	}

	cycles, err := h.cycles.ListByWallet(r.Context(), address, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list cycles failed",
			slog.String("wallet", address),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list cycles")
		return
	}

	out := make([]closedCycleResponse, 0, len(cycles))
	for _, c := range cycles {
		out = append(out, closedCycleResponse{
			ID:              c.ID,
			PositionID:      c.PositionID,
			WalletAddress:   c.WalletAddress,
			TokenAddress:    c.TokenAddress,
			EntryPrice:      c.EntryPrice,
			ExitPrice:       c.ExitPrice,
			EntryMarketCap:  c.EntryMarketCap,
			ExitMarketCap:   c.ExitMarketCap,
			TotalBoughtUSD:  c.TotalBoughtUSD,
			TotalSoldUSD:    c.TotalSoldUSD,
			RealizedPnL:     c.RealizedPnL,
			IsEstimatedExit: c.IsEstimatedExit,
			OpenedAt:        c.OpenedAt.UTC().Format(time.RFC3339),
			ClosedAt:        c.ClosedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycles": out})
}
