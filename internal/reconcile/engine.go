// Package reconcile recovers transfers the webhook path missed or recorded
// without prices. It pulls bounded transaction history for flagged positions,
// re-derives the missing transfer events, and feeds them back through the
// ledger. History fetches cost provider credits and are metered against the
// daily budget; everything else here is free.
package reconcile

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"walletwatch/internal/domain"
)

// wrappedSOLMint is the native SOL wrapper token, used to price historical
// swap counter-legs.
const wrappedSOLMint = "So11111111111111111111111111111111111111112"

// Applier is the ledger surface the engine needs.
type Applier interface {
	Apply(ctx context.Context, ev domain.TransferEvent) (domain.ApplyResult, error)
}

// Engine runs reconciliation passes over flagged positions.
type Engine struct {
	positions domain.PositionStore
	ledger    Applier
	history   domain.ChainHistory
	oracle    domain.PriceOracle
	budget    *Budget
	logger    *slog.Logger
	workers   int
}

// New creates an Engine. workers bounds concurrent history fetches.
func New(
	positions domain.PositionStore,
	ledger Applier,
	history domain.ChainHistory,
	oracle domain.PriceOracle,
	budget *Budget,
	workers int,
	logger *slog.Logger,
) *Engine {
	if workers < 1 {
		workers = 4
	}
	return &Engine{
		positions: positions,
		ledger:    ledger,
		history:   history,
		oracle:    oracle,
		budget:    budget,
		logger:    logger,
		workers:   workers,
	}
}

// Report summarizes one reconciliation pass.
type Report struct {
	Candidates int32 `json:"candidates"`
	Repaired   int32 `json:"repaired"`
	Applied    int32 `json:"applied"`
	Unresolved int32 `json:"unresolved"`
	Skipped    int32 `json:"skipped"`
	Failed     int32 `json:"failed"`

	CreditsSpent int32 `json:"credits_spent"`
}

// ReconcileAll scans flagged positions across every token.
func (e *Engine) ReconcileAll(ctx context.Context, settings domain.Settings) (Report, error) {
	return e.reconcile(ctx, "", settings)
}

// ReconcileToken scans flagged positions in one token.
func (e *Engine) ReconcileToken(ctx context.Context, tokenAddress string, settings domain.Settings) (Report, error) {
	return e.reconcile(ctx, tokenAddress, settings)
}

func (e *Engine) reconcile(ctx context.Context, tokenAddress string, settings domain.Settings) (Report, error) {
	candidates, err := e.positions.ListReconcileCandidates(ctx, tokenAddress, settings.MaxPositionsPerRun)
	if err != nil {
		return Report{}, err
	}

	var report Report
	report.Candidates = int32(len(candidates))
	if len(candidates) == 0 {
		return report, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i := range candidates {
		pos := candidates[i]
		g.Go(func() error {
			e.reconcileOne(gctx, pos, settings, &report)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	e.logger.InfoContext(ctx, "reconcile: pass complete",
		slog.String("token", tokenAddress),
		slog.Int("candidates", int(report.Candidates)),
		slog.Int("repaired", int(report.Repaired)),
		slog.Int("applied", int(report.Applied)),
		slog.Int("unresolved", int(report.Unresolved)),
		slog.Int("skipped", int(report.Skipped)),
		slog.Int("failed", int(report.Failed)),
		slog.Int("credits_spent", int(report.CreditsSpent)),
	)
	return report, nil
}

// reconcileOne resolves a single flagged position. Failures never regress
// position state: an unresolved candidate keeps its flags and is picked up
// again on the next pass.
func (e *Engine) reconcileOne(ctx context.Context, pos domain.Position, settings domain.Settings, report *Report) {
	cost := e.history.CreditCost()
	ok, err := e.budget.Reserve(ctx, cost, settings.DailyCreditBudget)
	if err != nil {
		atomic.AddInt32(&report.Failed, 1)
		e.logger.ErrorContext(ctx, "reconcile: budget reserve failed", slog.String("error", err.Error()))
		return
	}
	if !ok {
		atomic.AddInt32(&report.Skipped, 1)
		e.logger.WarnContext(ctx, "reconcile: daily credit budget exhausted",
			slog.String("wallet", pos.WalletAddress),
			slog.String("token", pos.TokenAddress),
			slog.Int("budget", settings.DailyCreditBudget),
		)
		return
	}
	atomic.AddInt32(&report.CreditsSpent, int32(cost))

	txs, outcome, err := e.history.RecentTransactions(ctx, pos.WalletAddress, settings.MaxSignatures)
	if err != nil {
		// The adapter already retried retryable failures with backoff. A
		// still-retryable outcome defers the candidate to the next pass with
		// its flags intact; only a permanent outcome counts as a failure.
		if outcome == domain.OutcomeRetryable {
			atomic.AddInt32(&report.Unresolved, 1)
			e.logger.WarnContext(ctx, "reconcile: history fetch deferred",
				slog.String("wallet", pos.WalletAddress),
				slog.String("error", err.Error()),
			)
			return
		}
		atomic.AddInt32(&report.Failed, 1)
		e.logger.ErrorContext(ctx, "reconcile: history fetch failed",
			slog.String("wallet", pos.WalletAddress),
			slog.String("outcome", outcome.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	ev, found := e.deriveEvent(ctx, pos, txs)
	if !found {
		// The bounded window did not reach the missing transfer. Leave the
		// flags in place; a wider manual pull can resolve it later.
		atomic.AddInt32(&report.Unresolved, 1)
		return
	}

	res, err := e.ledger.Apply(ctx, ev)
	if err != nil {
		atomic.AddInt32(&report.Failed, 1)
		e.logger.ErrorContext(ctx, "reconcile: apply failed",
			slog.String("wallet", pos.WalletAddress),
			slog.String("token", pos.TokenAddress),
			slog.String("error", err.Error()),
		)
		return
	}

	switch res.Transition {
	case domain.TransitionRepair:
		atomic.AddInt32(&report.Repaired, 1)
	case domain.TransitionIgnored, domain.TransitionDeduped:
		atomic.AddInt32(&report.Unresolved, 1)
	default:
		atomic.AddInt32(&report.Applied, 1)
	}
}

// deriveEvent scans the history window, newest first, for the most recent
// transfer of the position's token involving the wallet and synthesizes the
// transfer event the webhook path should have produced.
func (e *Engine) deriveEvent(ctx context.Context, pos domain.Position, txs []domain.WalletTransaction) (domain.TransferEvent, bool) {
	for i := range txs {
		tx := &txs[i]
		for _, tr := range tx.Transfers {
			if tr.Mint != pos.TokenAddress {
				continue
			}
			switch {
			case tr.FromUserAccount == pos.WalletAddress:
				return e.sellEvent(ctx, pos, tx, tr), true
			case tr.ToUserAccount == pos.WalletAddress:
				return e.buyEvent(ctx, pos, tx, tr), true
			}
		}
	}
	return domain.TransferEvent{}, false
}

// sellEvent prices an outgoing transfer. The swap's SOL counter-leg gives the
// actual proceeds when present; otherwise the current price stands in and the
// exit is marked estimated.
func (e *Engine) sellEvent(ctx context.Context, pos domain.Position, tx *domain.WalletTransaction, tr domain.TokenTransfer) domain.TransferEvent {
	ev := domain.TransferEvent{
		WalletAddress: pos.WalletAddress,
		TokenAddress:  pos.TokenAddress,
		TokenSymbol:   pos.TokenSymbol,
		Direction:     domain.DirectionOut,
		RawAmount:     tr.Amount,
		TxSignature:   tx.Signature,
		ObservedAt:    tx.Timestamp,
		Source:        domain.SourceReconcile,
	}

	if tx.NativeSOL > 0 {
		if solPrice, _, err := e.oracle.GetPrice(ctx, wrappedSOLMint); err == nil && solPrice.PriceUSD > 0 {
			usd := tx.NativeSOL * solPrice.PriceUSD
			ev.USDValueHint = &usd
			if tr.Amount > 0 {
				perToken := usd / tr.Amount
				ev.PriceHint = &perToken
			}
			return ev
		}
	}

	// Fallback: value the transfer at the current price and say so.
	if price, _, err := e.oracle.GetPrice(ctx, pos.TokenAddress); err == nil && price.PriceUSD > 0 {
		usd := price.PriceUSD * tr.Amount
		ev.USDValueHint = &usd
		ev.PriceHint = &price.PriceUSD
		ev.MarketCapHint = &price.MarketCapUSD
		ev.Estimated = true
	}
	return ev
}

// buyEvent re-prices an incoming transfer at the current price. Historical
// buy-side pricing has no counter-leg shortcut because the wallet paid SOL,
// which the provider reports as an outgoing native transfer mixed with fees.
func (e *Engine) buyEvent(ctx context.Context, pos domain.Position, tx *domain.WalletTransaction, tr domain.TokenTransfer) domain.TransferEvent {
	ev := domain.TransferEvent{
		WalletAddress: pos.WalletAddress,
		TokenAddress:  pos.TokenAddress,
		TokenSymbol:   pos.TokenSymbol,
		Direction:     domain.DirectionIn,
		RawAmount:     tr.Amount,
		TxSignature:   tx.Signature,
		ObservedAt:    tx.Timestamp,
		Source:        domain.SourceReconcile,
	}

	if price, _, err := e.oracle.GetPrice(ctx, pos.TokenAddress); err == nil && price.PriceUSD > 0 {
		usd := price.PriceUSD * tr.Amount
		ev.USDValueHint = &usd
		ev.PriceHint = &price.PriceUSD
		ev.MarketCapHint = &price.MarketCapUSD
		ev.Estimated = true
	}
	return ev
}
