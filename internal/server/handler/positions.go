package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"walletwatch/internal/domain"
)

// PositionsHandler serves position read endpoints and the manual untrack
// operation.
type PositionsHandler struct {
	positions domain.PositionStore
	logger    *slog.Logger
}

// NewPositionsHandler creates a PositionsHandler.
func NewPositionsHandler(positions domain.PositionStore, logger *slog.Logger) *PositionsHandler {
	return &PositionsHandler{positions: positions, logger: logger}
}

type positionResponse struct {
	ID            int64  `json:"id"`
	WalletAddress string `json:"wallet_address"`
	TokenAddress  string `json:"token_address"`
	TokenSymbol   string `json:"token_symbol,omitempty"`
	Status        string `json:"status"`

	EntryPrice     float64 `json:"entry_price"`
	EntryMarketCap float64 `json:"entry_market_cap"`
	TotalBoughtUSD float64 `json:"total_bought_usd"`
	TotalSoldUSD   float64 `json:"total_sold_usd"`
	BuyCount       int     `json:"buy_count"`
	SellCount      int     `json:"sell_count"`

	ExitPrice       *float64 `json:"exit_price,omitempty"`
	ExitMarketCap   *float64 `json:"exit_market_cap,omitempty"`
	IsEstimatedExit bool     `json:"is_estimated_exit"`

	CurrentPrice     *float64 `json:"current_price,omitempty"`
	CurrentMarketCap *float64 `json:"current_market_cap,omitempty"`
	PnLRatio         *float64 `json:"pnl_ratio,omitempty"`
	FPnLRatio        *float64 `json:"fpnl_ratio,omitempty"`

	NeedsReconcile bool    `json:"needs_reconcile"`
	PhantomSale    bool    `json:"phantom_sale"`
	Tracked        bool    `json:"tracked"`
	OpenedAt       string  `json:"opened_at"`
	ExitAt         *string `json:"exit_at,omitempty"`
	LastCheckedAt  *string `json:"last_checked_at,omitempty"`
}

func toPositionResponse(p domain.Position) positionResponse {
	resp := positionResponse{
		ID:               p.ID,
		WalletAddress:    p.WalletAddress,
		TokenAddress:     p.TokenAddress,
		TokenSymbol:      p.TokenSymbol,
		Status:           string(p.Status),
		EntryPrice:       p.EntryPrice,
		EntryMarketCap:   p.EntryMarketCap,
		TotalBoughtUSD:   p.TotalBoughtUSD,
		TotalSoldUSD:     p.TotalSoldUSD,
		BuyCount:         p.BuyCount,
		SellCount:        p.SellCount,
		ExitPrice:        p.ExitPrice,
		ExitMarketCap:    p.ExitMarketCap,
		IsEstimatedExit:  p.IsEstimatedExit,
		CurrentPrice:     p.CurrentPrice,
		CurrentMarketCap: p.CurrentMarketCap,
		PnLRatio:         p.PnLRatio,
		FPnLRatio:        p.FPnLRatio,
		NeedsReconcile:   p.NeedsReconcile,
		PhantomSale:      p.PhantomSale(),
		Tracked:          p.Tracked,
		OpenedAt:         p.OpenedAt.UTC().Format(time.RFC3339),
	}
	if p.ExitAt != nil {
		v := p.ExitAt.UTC().Format(time.RFC3339)
		resp.ExitAt = &v
	}
	if p.LastCheckedAt != nil {
		v := p.LastCheckedAt.UTC().Format(time.RFC3339)
		resp.LastCheckedAt = &v
	}
	return resp
}

type listPositionsResponse struct {
	Positions []positionResponse `json:"positions"`
}

// ListPositions returns positions matching the query filters.
// GET /api/positions?wallet=...&token=...&status=holding&limit=50&offset=0
func (h *PositionsHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := parseListOpts(r)

	filter := domain.PositionFilter{
		WalletAddress: q.Get("wallet"),
		TokenAddress:  q.Get("token"),
		Limit:         opts.Limit,
		Offset:        opts.Offset,
	}

	switch status := q.Get("status"); status {
	case "":
	case string(domain.PositionStatusHolding), string(domain.PositionStatusSold):
		filter.Status = domain.PositionStatus(status)
	default:
		writeError(w, http.StatusBadRequest, "status must be holding or sold")
		return
	}

	positions, err := h.positions.List(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	resp := listPositionsResponse{Positions: make([]positionResponse, 0, len(positions))}
	for _, p := range positions {
		resp.Positions = append(resp.Positions, toPositionResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPosition returns one position by id.
// GET /api/positions/{id}
func (h *PositionsHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}

	pos, err := h.positions.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get position failed",
			slog.Int64("id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get position")
		return
	}
	writeJSON(w, http.StatusOK, toPositionResponse(pos))
}

// UntrackPosition clears the tracked flag so the scheduler stops polling the
// position. History is kept; the operation is idempotent.
// POST /api/positions/{id}/untrack
func (h *PositionsHandler) UntrackPosition(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}

	pos, err := h.positions.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get position")
		return
	}

	if pos.Tracked {
		pos.Tracked = false
		if err := h.positions.Update(r.Context(), pos); err != nil {
			h.logger.ErrorContext(r.Context(), "handler: untrack failed",
				slog.Int64("id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to untrack position")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "untracked",
		"id":     id,
	})
}
