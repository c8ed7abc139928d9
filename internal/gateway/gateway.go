// Package gateway turns raw webhook transaction batches into transfer events
// and feeds them to the position ledger. The provider delivers at least once;
// the gateway's dedup layer collapses redeliveries before they reach the
// ledger.
package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"walletwatch/internal/domain"
)

// Applier is the ledger surface the gateway needs.
type Applier interface {
	Apply(ctx context.Context, ev domain.TransferEvent) (domain.ApplyResult, error)
}

// Gateway processes pushed transaction batches for the monitored wallet set.
type Gateway struct {
	ledger Applier
	dedup  domain.DedupSet
	oracle domain.PriceOracle
	logger *slog.Logger

	// hintTimeout bounds the synchronous price lookup per event. A timeout
	// produces an event with no USD value; the ledger flags the position and
	// reconciliation resolves it later.
	hintTimeout time.Duration

	mu      sync.RWMutex
	wallets map[string]bool
	tokens  map[string]string // address -> symbol
}

// New creates a Gateway. The monitored wallet and token sets start empty;
// the scheduler populates them via SetWallets and SetTokens.
func New(
	ledger Applier,
	dedup domain.DedupSet,
	oracle domain.PriceOracle,
	hintTimeout time.Duration,
	logger *slog.Logger,
) *Gateway {
	if hintTimeout <= 0 {
		hintTimeout = 3 * time.Second
	}
	return &Gateway{
		ledger:      ledger,
		dedup:       dedup,
		oracle:      oracle,
		logger:      logger,
		hintTimeout: hintTimeout,
		wallets:     map[string]bool{},
		tokens:      map[string]string{},
	}
}

// SetWallets replaces the monitored wallet set.
func (g *Gateway) SetWallets(wallets []string) {
	set := make(map[string]bool, len(wallets))
	for _, w := range wallets {
		set[w] = true
	}
	g.mu.Lock()
	g.wallets = set
	g.mu.Unlock()
}

// SetTokens replaces the tracked token set.
func (g *Gateway) SetTokens(tokens []domain.Token) {
	set := make(map[string]string, len(tokens))
	for _, t := range tokens {
		if t.Tracked {
			set[t.Address] = t.Symbol
		}
	}
	g.mu.Lock()
	g.tokens = set
	g.mu.Unlock()
}

// Wallets returns the current monitored wallet set.
func (g *Gateway) Wallets() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.wallets))
	for w := range g.wallets {
		out = append(out, w)
	}
	return out
}

// Report summarizes one processed batch.
type Report struct {
	Transactions int `json:"transactions"`
	Events       int `json:"events"`
	Applied      int `json:"applied"`
	Deduped      int `json:"deduped"`
	Ignored      int `json:"ignored"`
	Malformed    int `json:"malformed"`
	Errors       int `json:"errors"`
}

// HandleBatch processes one webhook delivery. Each transaction may touch
// several monitored wallets and tracked tokens; every (wallet, token) leg
// becomes its own transfer event. Individual event failures are counted, not
// propagated: the provider retries the whole batch on non-2xx, which would
// redeliver legs that already applied.
func (g *Gateway) HandleBatch(ctx context.Context, txs []domain.WalletTransaction) Report {
	report := Report{Transactions: len(txs)}

	for i := range txs {
		tx := &txs[i]
		if tx.Signature == "" {
			report.Malformed++
			continue
		}
		for _, ev := range g.eventsFromTx(tx) {
			report.Events++
			g.processEvent(ctx, ev, &report)
		}
	}

	g.logger.InfoContext(ctx, "gateway: batch processed",
		slog.Int("transactions", report.Transactions),
		slog.Int("events", report.Events),
		slog.Int("applied", report.Applied),
		slog.Int("deduped", report.Deduped),
		slog.Int("ignored", report.Ignored),
		slog.Int("malformed", report.Malformed),
		slog.Int("errors", report.Errors),
	)
	return report
}

// eventsFromTx extracts the (monitored wallet, tracked token) legs of one
// transaction. A transfer between two monitored wallets yields two events.
func (g *Gateway) eventsFromTx(tx *domain.WalletTransaction) []domain.TransferEvent {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var events []domain.TransferEvent
	for _, tr := range tx.Transfers {
		symbol, tracked := g.tokens[tr.Mint]
		if !tracked {
			continue
		}
		if g.wallets[tr.ToUserAccount] {
			events = append(events, domain.TransferEvent{
				WalletAddress: tr.ToUserAccount,
				TokenAddress:  tr.Mint,
				TokenSymbol:   symbol,
				Direction:     domain.DirectionIn,
				RawAmount:     tr.Amount,
				TxSignature:   tx.Signature,
				ObservedAt:    tx.Timestamp,
				Source:        domain.SourceWebhook,
			})
		}
		if g.wallets[tr.FromUserAccount] {
			events = append(events, domain.TransferEvent{
				WalletAddress: tr.FromUserAccount,
				TokenAddress:  tr.Mint,
				TokenSymbol:   symbol,
				Direction:     domain.DirectionOut,
				RawAmount:     tr.Amount,
				TxSignature:   tx.Signature,
				ObservedAt:    tx.Timestamp,
				Source:        domain.SourceWebhook,
			})
		}
	}
	return events
}

// processEvent dedups, prices, and applies one transfer event.
func (g *Gateway) processEvent(ctx context.Context, ev domain.TransferEvent, report *Report) {
	key := ev.TxSignature + "|" + ev.WalletAddress + "|" + ev.TokenAddress + "|" + string(ev.Direction)
	first, err := g.dedup.FirstSeen(ctx, key)
	if err != nil {
		// Fail open: a dedup outage must not drop events, the ledger's
		// signature check is the second layer.
		g.logger.WarnContext(ctx, "gateway: dedup check failed", slog.String("error", err.Error()))
	} else if !first {
		report.Deduped++
		return
	}

	g.attachPriceHints(ctx, &ev)

	res, err := g.ledger.Apply(ctx, ev)
	if err != nil {
		report.Errors++
		g.logger.ErrorContext(ctx, "gateway: apply failed",
			slog.String("wallet", ev.WalletAddress),
			slog.String("token", ev.TokenAddress),
			slog.String("signature", ev.TxSignature),
			slog.String("error", err.Error()),
		)
		return
	}

	switch res.Transition {
	case domain.TransitionDeduped:
		report.Deduped++
	case domain.TransitionIgnored:
		report.Ignored++
	default:
		report.Applied++
	}
}

// attachPriceHints resolves the transfer's USD notional within the hint
// timeout. The oracle retries transient failures internally, bounded by the
// same timeout; a lookup that stays unresolved sends the event through
// unpriced, because blocking the webhook path on a slow oracle would back up
// the provider's delivery queue. Unpriced events are flagged downstream and
// picked up by reconciliation.
func (g *Gateway) attachPriceHints(ctx context.Context, ev *domain.TransferEvent) {
	hintCtx, cancel := context.WithTimeout(ctx, g.hintTimeout)
	defer cancel()

	price, outcome, err := g.oracle.GetPrice(hintCtx, ev.TokenAddress)
	if err != nil {
		g.logger.DebugContext(ctx, "gateway: price hint unavailable",
			slog.String("token", ev.TokenAddress),
			slog.String("outcome", outcome.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	usd := price.PriceUSD * ev.RawAmount
	ev.USDValueHint = &usd
	ev.PriceHint = &price.PriceUSD
	ev.MarketCapHint = &price.MarketCapUSD
}
