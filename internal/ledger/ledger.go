// Package ledger is the sole writer of position state. Both ingestion paths
// (webhook push and reconciliation pull) reduce to transfer events and submit
// them here; Apply serializes per (wallet, token) pair and runs the position
// state machine.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"walletwatch/internal/domain"
)

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

// PositionsChannel is the pub/sub channel position lifecycle events are
// published on.
const PositionsChannel = "walletwatch:positions"

// Ledger applies transfer events to position state.
type Ledger struct {
	positions domain.PositionStore
	cycles    domain.ClosedCycleStore
	wallets   domain.WalletStore
	audit     domain.AuditStore
	bus       domain.SignalBus
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Ledger with all required dependencies. audit and bus may be
// nil; lifecycle events are then not recorded or published.
func New(
	positions domain.PositionStore,
	cycles domain.ClosedCycleStore,
	wallets domain.WalletStore,
	audit domain.AuditStore,
	bus domain.SignalBus,
	logger *slog.Logger,
) *Ledger {
	return &Ledger{
		positions: positions,
		cycles:    cycles,
		wallets:   wallets,
		audit:     audit,
		bus:       bus,
		logger:    logger,
		locks:     map[string]*sync.Mutex{},
	}
}

// pairLock returns the mutex serializing one (wallet, token) pair. Locks are
// never evicted; the tracked pair set is small and bounded by the gate.
func (l *Ledger) pairLock(wallet, token string) *sync.Mutex {
	key := wallet + "|" + token
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	return m
}

// Apply runs one transfer event through the position state machine. Events
// for the same pair are applied strictly one at a time; concurrent events for
// different pairs proceed in parallel.
func (l *Ledger) Apply(ctx context.Context, ev domain.TransferEvent) (domain.ApplyResult, error) {
	if ev.WalletAddress == "" || ev.TokenAddress == "" || ev.TxSignature == "" {
		return domain.ApplyResult{}, fmt.Errorf("ledger: event missing wallet, token, or signature")
	}

	lock := l.pairLock(ev.WalletAddress, ev.TokenAddress)
	lock.Lock()
	defer lock.Unlock()

	pos, err := l.positions.Get(ctx, ev.WalletAddress, ev.TokenAddress)
	switch {
	case err == nil:
		return l.applyExisting(ctx, pos, ev)
	case isNotFound(err):
		return l.applyNew(ctx, ev)
	default:
		return domain.ApplyResult{}, fmt.Errorf("ledger: load position: %w", err)
	}
}

// applyNew handles events for a pair with no position record.
func (l *Ledger) applyNew(ctx context.Context, ev domain.TransferEvent) (domain.ApplyResult, error) {
	if ev.Direction != domain.DirectionIn {
		// A sell for a pair we never opened carries no usable cost basis.
		return domain.ApplyResult{Transition: domain.TransitionIgnored}, nil
	}

	pos := domain.Position{
		WalletAddress: ev.WalletAddress,
		TokenAddress:  ev.TokenAddress,
		TokenSymbol:   ev.TokenSymbol,
		Status:        domain.PositionStatusHolding,
		Tracked:       true,
		LastSignature: ev.TxSignature,
		OpenedAt:      ev.ObservedAt,
		BuyCount:      1,
	}
	applyBuyHints(&pos, ev)

	id, err := l.positions.Create(ctx, pos)
	if err != nil {
		return domain.ApplyResult{}, fmt.Errorf("ledger: create position: %w", err)
	}
	pos.ID = id

	if err := l.wallets.RecordEarlyBuyer(ctx, ev.WalletAddress, ev.TokenAddress, ev.ObservedAt); err != nil {
		// Gate membership self-heals on the next buy; the position is already
		// persisted.
		l.logger.WarnContext(ctx, "ledger: record early buyer failed",
			slog.String("wallet", ev.WalletAddress),
			slog.String("token", ev.TokenAddress),
			slog.String("error", err.Error()),
		)
	}

	res := domain.ApplyResult{Position: pos, Transition: domain.TransitionOpen}
	l.emit(ctx, res, ev)
	return res, nil
}

// applyExisting handles events for an existing position.
func (l *Ledger) applyExisting(ctx context.Context, pos domain.Position, ev domain.TransferEvent) (domain.ApplyResult, error) {
	sameSig := pos.LastSignature == ev.TxSignature
	if sameSig && !repairException(pos, ev) {
		return domain.ApplyResult{Position: pos, Transition: domain.TransitionDeduped}, nil
	}

	var transition domain.Transition
	switch {
	case ev.Direction == domain.DirectionIn && pos.Status == domain.PositionStatusHolding:
		if sameSig {
			transition = l.applyBuyRepair(&pos, ev)
		} else {
			transition = l.applyDCA(&pos, ev)
		}

	case ev.Direction == domain.DirectionIn && pos.Status == domain.PositionStatusSold:
		var err error
		transition, err = l.applyReEntry(ctx, &pos, ev)
		if err != nil {
			return domain.ApplyResult{}, err
		}

	case ev.Direction == domain.DirectionOut && pos.Status == domain.PositionStatusHolding:
		transition = l.applySell(&pos, ev)

	case ev.Direction == domain.DirectionOut && pos.Status == domain.PositionStatusSold:
		transition = l.applyRepair(&pos, ev)

	default:
		transition = domain.TransitionIgnored
	}

	if transition == domain.TransitionIgnored {
		return domain.ApplyResult{Position: pos, Transition: transition}, nil
	}

	pos.LastSignature = ev.TxSignature
	if err := l.positions.Update(ctx, pos); err != nil {
		return domain.ApplyResult{}, fmt.Errorf("ledger: update position %d: %w", pos.ID, err)
	}

	res := domain.ApplyResult{Position: pos, Transition: transition}
	l.emit(ctx, res, ev)
	return res, nil
}

// repairException allows a reconciliation event to reuse the signature of the
// transfer it is repairing; the original pass recorded the transfer without a
// resolvable USD value.
func repairException(pos domain.Position, ev domain.TransferEvent) bool {
	return ev.Source == domain.SourceReconcile &&
		(pos.NeedsReconcile || pos.PhantomSale())
}

// applyBuyRepair re-prices an already counted buy whose original event
// carried no hints. Counts stay untouched.
func (l *Ledger) applyBuyRepair(pos *domain.Position, ev domain.TransferEvent) domain.Transition {
	if !pos.NeedsReconcile || ev.USDValueHint == nil {
		return domain.TransitionIgnored
	}
	pos.NeedsReconcile = false
	applyBuyHints(pos, ev)
	return domain.TransitionRepair
}

// applyDCA folds another buy into the current cycle's cost basis. The entry
// price is the USD-weighted average across the cycle's buys.
func (l *Ledger) applyDCA(pos *domain.Position, ev domain.TransferEvent) domain.Transition {
	pos.BuyCount++
	applyBuyHints(pos, ev)
	return domain.TransitionDCA
}

// applyReEntry freezes the completed cycle into the closed-cycle history and
// restarts the position with a fresh cost basis.
func (l *Ledger) applyReEntry(ctx context.Context, pos *domain.Position, ev domain.TransferEvent) (domain.Transition, error) {
	cycle := frozenCycle(*pos, ev.ObservedAt)
	if err := l.cycles.Insert(ctx, cycle); err != nil {
		return "", fmt.Errorf("ledger: freeze cycle for position %d: %w", pos.ID, err)
	}

	// Reset to a fresh cycle; identity and tracking flags survive.
	pos.Status = domain.PositionStatusHolding
	pos.EntryPrice = 0
	pos.EntryMarketCap = 0
	pos.TotalBoughtUSD = 0
	pos.TotalSoldUSD = 0
	pos.BuyCount = 1
	pos.SellCount = 0
	pos.ExitPrice = nil
	pos.ExitMarketCap = nil
	pos.IsEstimatedExit = false
	pos.PnLRatio = nil
	pos.FPnLRatio = nil
	pos.NeedsReconcile = false
	pos.OpenedAt = ev.ObservedAt
	pos.ExitAt = nil
	applyBuyHints(pos, ev)

	return domain.TransitionReEntry, nil
}

// applySell closes the position. An outgoing transfer is treated as a full
// exit; a missing USD value leaves the sell phantom and flags the position
// for reconciliation.
func (l *Ledger) applySell(pos *domain.Position, ev domain.TransferEvent) domain.Transition {
	pos.Status = domain.PositionStatusSold
	exitAt := ev.ObservedAt
	pos.ExitAt = &exitAt

	if ev.USDValueHint == nil {
		pos.NeedsReconcile = true
		return domain.TransitionSell
	}

	pos.TotalSoldUSD += *ev.USDValueHint
	pos.SellCount++
	pos.IsEstimatedExit = ev.Estimated
	if ev.PriceHint != nil {
		pos.ExitPrice = ev.PriceHint
		if pos.EntryPrice > 0 {
			r := *ev.PriceHint / pos.EntryPrice
			pos.PnLRatio = &r
		}
	} else {
		pos.NeedsReconcile = true
	}
	if ev.MarketCapHint != nil {
		pos.ExitMarketCap = ev.MarketCapHint
	}
	return domain.TransitionSell
}

// applyRepair completes a phantom or unpriced sell with reconciled values.
// Out events for cleanly sold positions carry no information and are ignored.
func (l *Ledger) applyRepair(pos *domain.Position, ev domain.TransferEvent) domain.Transition {
	if !pos.NeedsReconcile && !pos.PhantomSale() {
		return domain.TransitionIgnored
	}
	if ev.USDValueHint == nil {
		// Still unresolved; leave the flag set for the next pass.
		return domain.TransitionIgnored
	}

	// A prior pass may already have counted the notional while the price
	// stayed unresolved; the same sell must never be added twice.
	if pos.SellCount == 0 {
		pos.TotalSoldUSD += *ev.USDValueHint
		pos.SellCount = 1
	}
	pos.IsEstimatedExit = ev.Estimated
	if ev.PriceHint != nil {
		pos.ExitPrice = ev.PriceHint
		if pos.EntryPrice > 0 {
			r := *ev.PriceHint / pos.EntryPrice
			pos.PnLRatio = &r
		}
	}
	if ev.MarketCapHint != nil {
		pos.ExitMarketCap = ev.MarketCapHint
	}
	pos.NeedsReconcile = false
	return domain.TransitionRepair
}

// applyBuyHints folds a buy's oracle hints into the cost basis. A missing USD
// value records the buy and flags the position instead of guessing.
func applyBuyHints(pos *domain.Position, ev domain.TransferEvent) {
	if ev.USDValueHint == nil {
		pos.NeedsReconcile = true
		return
	}
	usd := *ev.USDValueHint

	if ev.PriceHint != nil && *ev.PriceHint > 0 && usd > 0 {
		total := pos.TotalBoughtUSD + usd
		if pos.EntryPrice > 0 && pos.TotalBoughtUSD > 0 {
			pos.EntryPrice = (pos.EntryPrice*pos.TotalBoughtUSD + *ev.PriceHint*usd) / total
		} else {
			pos.EntryPrice = *ev.PriceHint
		}
	}
	if pos.EntryMarketCap == 0 && ev.MarketCapHint != nil {
		pos.EntryMarketCap = *ev.MarketCapHint
	}
	pos.TotalBoughtUSD += usd
}

// frozenCycle snapshots a sold position's realized outcome.
func frozenCycle(pos domain.Position, closedAt time.Time) domain.ClosedCycle {
	c := domain.ClosedCycle{
		PositionID:      pos.ID,
		WalletAddress:   pos.WalletAddress,
		TokenAddress:    pos.TokenAddress,
		EntryPrice:      pos.EntryPrice,
		EntryMarketCap:  pos.EntryMarketCap,
		ExitMarketCap:   pos.ExitMarketCap,
		TotalBoughtUSD:  pos.TotalBoughtUSD,
		TotalSoldUSD:    pos.TotalSoldUSD,
		IsEstimatedExit: pos.IsEstimatedExit,
		OpenedAt:        pos.OpenedAt,
		ClosedAt:        closedAt,
	}
	if pos.ExitAt != nil {
		c.ClosedAt = *pos.ExitAt
	}
	if pos.ExitPrice != nil {
		c.ExitPrice = *pos.ExitPrice
	}
	if r, ok := pos.RealizedPnL(); ok {
		c.RealizedPnL = r
	}
	return c
}

// emit records the transition in the audit log and publishes it on the signal
// bus. Both are best effort.
func (l *Ledger) emit(ctx context.Context, res domain.ApplyResult, ev domain.TransferEvent) {
	detail := map[string]any{
		"transition": string(res.Transition),
		"wallet":     res.Position.WalletAddress,
		"token":      res.Position.TokenAddress,
		"signature":  ev.TxSignature,
		"source":     string(ev.Source),
		"status":     string(res.Position.Status),
	}

	if l.audit != nil {
		if err := l.audit.Log(ctx, "position."+string(res.Transition), detail); err != nil {
			l.logger.WarnContext(ctx, "ledger: audit log failed", slog.String("error", err.Error()))
		}
	}

	if l.bus != nil {
		payload, err := json.Marshal(detail)
		if err == nil {
			if err := l.bus.Publish(ctx, PositionsChannel, payload); err != nil {
				l.logger.WarnContext(ctx, "ledger: publish failed", slog.String("error", err.Error()))
			}
		}
	}

	l.logger.InfoContext(ctx, "ledger: event applied",
		slog.String("transition", string(res.Transition)),
		slog.String("wallet", res.Position.WalletAddress),
		slog.String("token", res.Position.TokenAddress),
		slog.String("source", string(ev.Source)),
	)
}
