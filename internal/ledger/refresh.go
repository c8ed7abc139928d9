package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"walletwatch/internal/domain"
)

// refreshWorkers bounds concurrent oracle lookups during a refresh pass.
const refreshWorkers = 8

// Refresher runs the recurring market-data pass: it updates current price,
// market cap, unrealized PnL, and fumbled PnL on positions using only free
// oracle lookups. It never touches cost basis or status.
type Refresher struct {
	positions domain.PositionStore
	oracle    domain.PriceOracle
	cache     domain.PriceCache
	logger    *slog.Logger
}

// NewRefresher creates a Refresher. cache may be nil; when set, the pass
// prefetches cached readings in one batch instead of one lookup per position.
func NewRefresher(positions domain.PositionStore, oracle domain.PriceOracle, cache domain.PriceCache, logger *slog.Logger) *Refresher {
	return &Refresher{positions: positions, oracle: oracle, cache: cache, logger: logger}
}

// RefreshReport summarizes one refresh pass.
type RefreshReport struct {
	Scanned   int `json:"scanned"`
	Refreshed int `json:"refreshed"`
	Failed    int `json:"failed"`
}

// Refresh updates market data on every tracked position staler than cutoff,
// oldest first, up to limit. A failed price lookup skips the position and
// leaves its staleness timestamp untouched so the next pass retries it.
func (r *Refresher) Refresh(ctx context.Context, cutoff time.Time, limit int) (RefreshReport, error) {
	stale, err := r.positions.ListStale(ctx, cutoff, limit)
	if err != nil {
		return RefreshReport{}, err
	}

	report := RefreshReport{Scanned: len(stale)}
	if len(stale) == 0 {
		return report, nil
	}

	cached := r.prefetch(ctx, stale)

	var (
		g, gctx   = errgroup.WithContext(ctx)
		refreshed = make([]bool, len(stale))
	)
	g.SetLimit(refreshWorkers)

	for i := range stale {
		g.Go(func() error {
			ok, err := r.refreshOne(gctx, &stale[i], cached)
			if err != nil {
				return err
			}
			refreshed[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	for _, ok := range refreshed {
		if ok {
			report.Refreshed++
		} else {
			report.Failed++
		}
	}
	return report, nil
}

// prefetch pulls cached readings for the distinct token set in one batch.
// Tokens without a cached reading fall through to the per-position oracle
// lookup. A cache failure degrades to per-position lookups entirely.
func (r *Refresher) prefetch(ctx context.Context, stale []domain.Position) map[string]domain.TokenPrice {
	if r.cache == nil {
		return nil
	}

	seen := make(map[string]bool, len(stale))
	tokens := make([]string, 0, len(stale))
	for i := range stale {
		if addr := stale[i].TokenAddress; !seen[addr] {
			seen[addr] = true
			tokens = append(tokens, addr)
		}
	}

	cached, err := r.cache.GetPrices(ctx, tokens)
	if err != nil {
		r.logger.WarnContext(ctx, "refresh: price prefetch failed",
			slog.Int("tokens", len(tokens)),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return cached
}

// refreshOne updates one position's market data in place and persists it.
// Returns false when the price lookup failed; only infrastructure errors
// (store writes, cancellation) are returned as errors.
func (r *Refresher) refreshOne(ctx context.Context, pos *domain.Position, cached map[string]domain.TokenPrice) (bool, error) {
	price, ok := cached[pos.TokenAddress]
	if !ok {
		var (
			outcome domain.Outcome
			err     error
		)
		price, outcome, err = r.oracle.GetPrice(ctx, pos.TokenAddress)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false, err
			}
			r.logger.DebugContext(ctx, "refresh: price lookup failed",
				slog.String("token", pos.TokenAddress),
				slog.String("outcome", outcome.String()),
				slog.String("error", err.Error()),
			)
			return false, nil
		}
	}

	now := time.Now().UTC()
	pos.CurrentPrice = &price.PriceUSD
	pos.CurrentMarketCap = &price.MarketCapUSD
	pos.LastCheckedAt = &now

	switch pos.Status {
	case domain.PositionStatusHolding:
		if ratio, ok := pos.UnrealizedPnL(price.PriceUSD); ok {
			pos.PnLRatio = &ratio
		}
	case domain.PositionStatusSold:
		if ratio, ok := pos.FumbledPnL(price.MarketCapUSD); ok {
			pos.FPnLRatio = &ratio
		}
	}

	if err := r.positions.Update(ctx, *pos); err != nil {
		return false, err
	}
	return true, nil
}
