package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletwatch/internal/domain"
	"walletwatch/internal/testkit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type ledgerFixture struct {
	ledger    *Ledger
	positions *testkit.PositionStore
	cycles    *testkit.ClosedCycleStore
	wallets   *testkit.WalletStore
	audit     *testkit.AuditStore
	bus       *testkit.SignalBus
}

func newFixture() *ledgerFixture {
	f := &ledgerFixture{
		positions: testkit.NewPositionStore(),
		cycles:    testkit.NewClosedCycleStore(),
		wallets:   testkit.NewWalletStore(),
		audit:     testkit.NewAuditStore(),
		bus:       testkit.NewSignalBus(),
	}
	f.ledger = New(f.positions, f.cycles, f.wallets, f.audit, f.bus, testLogger())
	return f
}

func fp(v float64) *float64 { return &v }

func buyEvent(wallet, token, sig string, usd, price, mcap float64) domain.TransferEvent {
	return domain.TransferEvent{
		WalletAddress: wallet,
		TokenAddress:  token,
		Direction:     domain.DirectionIn,
		RawAmount:     100,
		USDValueHint:  fp(usd),
		PriceHint:     fp(price),
		MarketCapHint: fp(mcap),
		TxSignature:   sig,
		ObservedAt:    time.Now().UTC(),
		Source:        domain.SourceWebhook,
	}
}

func sellEvent(wallet, token, sig string, usd, price float64) domain.TransferEvent {
	return domain.TransferEvent{
		WalletAddress: wallet,
		TokenAddress:  token,
		Direction:     domain.DirectionOut,
		RawAmount:     100,
		USDValueHint:  fp(usd),
		PriceHint:     fp(price),
		TxSignature:   sig,
		ObservedAt:    time.Now().UTC(),
		Source:        domain.SourceWebhook,
	}
}

func TestApplyOpensPositionOnFirstBuy(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	res, err := f.ledger.Apply(ctx, buyEvent("w1", "tokA", "sig1", 100, 1.0, 50_000))
	require.NoError(t, err)

	assert.Equal(t, domain.TransitionOpen, res.Transition)
	assert.Equal(t, domain.PositionStatusHolding, res.Position.Status)
	assert.Equal(t, 1.0, res.Position.EntryPrice)
	assert.Equal(t, 50_000.0, res.Position.EntryMarketCap)
	assert.Equal(t, 100.0, res.Position.TotalBoughtUSD)
	assert.Equal(t, 1, res.Position.BuyCount)
	assert.Equal(t, "sig1", res.Position.LastSignature)

	// The wallet is recorded as an early buyer of the token.
	n, err := f.wallets.DistinctTokenCount(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestApplyDCAWeightsEntryByNotional(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.ledger.Apply(ctx, buyEvent("w1", "tokA", "sig1", 100, 1.0, 50_000))
	require.NoError(t, err)

	res, err := f.ledger.Apply(ctx, buyEvent("w1", "tokA", "sig2", 300, 2.0, 80_000))
	require.NoError(t, err)

	assert.Equal(t, domain.TransitionDCA, res.Transition)
	// (1.0*100 + 2.0*300) / 400 = 1.75
	assert.InDelta(t, 1.75, res.Position.EntryPrice, 1e-9)
	assert.Equal(t, 400.0, res.Position.TotalBoughtUSD)
	assert.Equal(t, 2, res.Position.BuyCount)
	// Entry market cap is pinned at first buy.
	assert.Equal(t, 50_000.0, res.Position.EntryMarketCap)
}

func TestApplyDuplicateSignatureIsDeduped(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.ledger.Apply(ctx, buyEvent("w1", "tokA", "sig1", 100, 1.0, 50_000))
	require.NoError(t, err)

	res, err := f.ledger.Apply(ctx, buyEvent("w1", "tokA", "sig1", 100, 1.0, 50_000))
	require.NoError(t, err)

	assert.Equal(t, domain.TransitionDeduped, res.Transition)
	assert.False(t, res.Applied())
	assert.Equal(t, 100.0, res.Position.TotalBoughtUSD)
	assert.Equal(t, 1, res.Position.BuyCount)
}

func TestApplySellClosesPosition(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.ledger.Apply(ctx, buyEvent("w1", "tokA", "sig1", 100, 1.0, 50_000))
	require.NoError(t, err)

	res, err := f.ledger.Apply(ctx, sellEvent("w1", "tokA", "sig2", 250, 2.5))
	require.NoError(t, err)

	assert.Equal(t, domain.TransitionSell, res.Transition)
	assert.Equal(t, domain.PositionStatusSold, res.Position.Status)
	assert.Equal(t, 250.0, res.Position.TotalSoldUSD)
	assert.Equal(t, 1, res.Position.SellCount)
	require.NotNil(t, res.Position.ExitPrice)
	assert.Equal(t, 2.5, *res.Position.ExitPrice)
	require.NotNil(t, res.Position.PnLRatio)
	assert.InDelta(t, 2.5, *res.Position.PnLRatio, 1e-9)
	assert.False(t, res.Position.PhantomSale())
	assert.False(t, res.Position.NeedsReconcile)
}

func TestApplySellWithoutHintLeavesPhantom(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.ledger.Apply(ctx, buyEvent("w1", "tokA", "sig1", 100, 1.0, 50_000))
	require.NoError(t, err)

	ev := sellEvent("w1", "tokA", "sig2", 0, 0)
	ev.USDValueHint = nil
	ev.PriceHint = nil

	res, err := f.ledger.Apply(ctx, ev)
	require.NoError(t, err)

	assert.Equal(t, domain.TransitionSell, res.Transition)
	assert.Equal(t, domain.PositionStatusSold, res.Position.Status)
	assert.True(t, res.Position.PhantomSale())
	assert.True(t, res.Position.NeedsReconcile)
	assert.Equal(t, 0, res.Position.SellCount)
	assert.Equal(t, 0.0, res.Position.TotalSoldUSD)
}

func TestApplyRepairCompletesPhantomSale(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.ledger.Apply(ctx, buyEvent("w1", "tokA", "sig1", 100, 1.0, 50_000))
	require.NoError(t, err)

	phantom := sellEvent("w1", "tokA", "sig2", 0, 0)
	phantom.USDValueHint = nil
	phantom.PriceHint = nil
	_, err = f.ledger.Apply(ctx, phantom)
	require.NoError(t, err)

	// The reconciliation pass re-derives the same transfer with prices; it
	// reuses the original signature.
	repair := sellEvent("w1", "tokA", "sig2", 180, 1.8)
	repair.Source = domain.SourceReconcile

	res, err := f.ledger.Apply(ctx, repair)
	require.NoError(t, err)

	assert.Equal(t, domain.TransitionRepair, res.Transition)
	assert.False(t, res.Position.PhantomSale())
	assert.False(t, res.Position.NeedsReconcile)
	assert.Equal(t, 180.0, res.Position.TotalSoldUSD)
	assert.Equal(t, 1, res.Position.SellCount)
	require.NotNil(t, res.Position.ExitPrice)
	assert.Equal(t, 1.8, *res.Position.ExitPrice)
}

func TestApplyRepairNeverRecountsSoldNotional(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.ledger.Apply(ctx, buyEvent("w1", "tokA", "sig1", 100, 1.0, 50_000))
	require.NoError(t, err)

	// A sell priced from its counter-leg carries a USD value but no token
	// price; the notional is counted but the position stays flagged.
	partial := sellEvent("w1", "tokA", "sig2", 250, 0)
	partial.PriceHint = nil
	res, err := f.ledger.Apply(ctx, partial)
	require.NoError(t, err)
	assert.Equal(t, domain.TransitionSell, res.Transition)
	assert.Equal(t, 250.0, res.Position.TotalSoldUSD)
	assert.Equal(t, 1, res.Position.SellCount)
	assert.True(t, res.Position.NeedsReconcile)

	// The next reconcile pass re-derives the same transfer, now with a
	// price. The repair fills the price but must not add the notional again.
	repair := sellEvent("w1", "tokA", "sig2", 250, 2.5)
	repair.Source = domain.SourceReconcile
	res, err = f.ledger.Apply(ctx, repair)
	require.NoError(t, err)

	assert.Equal(t, domain.TransitionRepair, res.Transition)
	assert.Equal(t, 250.0, res.Position.TotalSoldUSD, "one sell must be counted exactly once")
	assert.Equal(t, 1, res.Position.SellCount)
	assert.False(t, res.Position.NeedsReconcile)
	require.NotNil(t, res.Position.ExitPrice)
	assert.Equal(t, 2.5, *res.Position.ExitPrice)
}

func TestApplyRepairFromWebhookSourceIsDeduped(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.ledger.Apply(ctx, buyEvent("w1", "tokA", "sig1", 100, 1.0, 50_000))
	require.NoError(t, err)

	phantom := sellEvent("w1", "tokA", "sig2", 0, 0)
	phantom.USDValueHint = nil
	phantom.PriceHint = nil
	_, err = f.ledger.Apply(ctx, phantom)
	require.NoError(t, err)

	// A webhook redelivery of the same signature must not bypass dedup even
	// though the position is flagged.
	res, err := f.ledger.Apply(ctx, sellEvent("w1", "tokA", "sig2", 180, 1.8))
	require.NoError(t, err)
	assert.Equal(t, domain.TransitionDeduped, res.Transition)
}

func TestApplyReEntryFreezesClosedCycle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.ledger.Apply(ctx, buyEvent("w1", "tokA", "sig1", 100, 1.0, 50_000))
	require.NoError(t, err)
	_, err = f.ledger.Apply(ctx, sellEvent("w1", "tokA", "sig2", 300, 3.0))
	require.NoError(t, err)

	res, err := f.ledger.Apply(ctx, buyEvent("w1", "tokA", "sig3", 50, 0.5, 20_000))
	require.NoError(t, err)

	assert.Equal(t, domain.TransitionReEntry, res.Transition)
	assert.Equal(t, domain.PositionStatusHolding, res.Position.Status)
	// Fresh cycle: old cost basis must not leak into the new one.
	assert.Equal(t, 0.5, res.Position.EntryPrice)
	assert.Equal(t, 50.0, res.Position.TotalBoughtUSD)
	assert.Equal(t, 1, res.Position.BuyCount)
	assert.Equal(t, 0, res.Position.SellCount)
	assert.Nil(t, res.Position.ExitPrice)

	// The completed cycle is preserved with its realized outcome.
	require.Len(t, f.cycles.Cycles, 1)
	cycle := f.cycles.Cycles[0]
	assert.Equal(t, 1.0, cycle.EntryPrice)
	assert.Equal(t, 3.0, cycle.ExitPrice)
	assert.InDelta(t, 3.0, cycle.RealizedPnL, 1e-9)
	assert.Equal(t, 300.0, cycle.TotalSoldUSD)
}

func TestApplySellForUnknownPairIsIgnored(t *testing.T) {
	f := newFixture()

	res, err := f.ledger.Apply(context.Background(), sellEvent("w1", "tokA", "sig1", 100, 1.0))
	require.NoError(t, err)
	assert.Equal(t, domain.TransitionIgnored, res.Transition)
	assert.False(t, res.Applied())
}

func TestApplyBuyWithoutHintFlagsReconcile(t *testing.T) {
	f := newFixture()

	ev := buyEvent("w1", "tokA", "sig1", 0, 0, 0)
	ev.USDValueHint = nil
	ev.PriceHint = nil
	ev.MarketCapHint = nil

	res, err := f.ledger.Apply(context.Background(), ev)
	require.NoError(t, err)

	assert.Equal(t, domain.TransitionOpen, res.Transition)
	assert.True(t, res.Position.NeedsReconcile)
	assert.Equal(t, 0.0, res.Position.TotalBoughtUSD)
	assert.Equal(t, 1, res.Position.BuyCount)
}

func TestApplyBuyRepairRepricesWithoutRecounting(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	unpriced := buyEvent("w1", "tokA", "sig1", 0, 0, 0)
	unpriced.USDValueHint = nil
	unpriced.PriceHint = nil
	unpriced.MarketCapHint = nil
	_, err := f.ledger.Apply(ctx, unpriced)
	require.NoError(t, err)

	repair := buyEvent("w1", "tokA", "sig1", 120, 1.2, 60_000)
	repair.Source = domain.SourceReconcile

	res, err := f.ledger.Apply(ctx, repair)
	require.NoError(t, err)

	assert.Equal(t, domain.TransitionRepair, res.Transition)
	assert.False(t, res.Position.NeedsReconcile)
	assert.Equal(t, 120.0, res.Position.TotalBoughtUSD)
	assert.Equal(t, 1.2, res.Position.EntryPrice)
	assert.Equal(t, 1, res.Position.BuyCount)
}

func TestApplyOutEventOnCleanSoldPositionIsIgnored(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.ledger.Apply(ctx, buyEvent("w1", "tokA", "sig1", 100, 1.0, 50_000))
	require.NoError(t, err)
	_, err = f.ledger.Apply(ctx, sellEvent("w1", "tokA", "sig2", 300, 3.0))
	require.NoError(t, err)

	res, err := f.ledger.Apply(ctx, sellEvent("w1", "tokA", "sig3", 10, 3.1))
	require.NoError(t, err)
	assert.Equal(t, domain.TransitionIgnored, res.Transition)

	// The ignored event must not advance dedup state either.
	pos, err := f.positions.Get(ctx, "w1", "tokA")
	require.NoError(t, err)
	assert.Equal(t, "sig2", pos.LastSignature)
	assert.Equal(t, 300.0, pos.TotalSoldUSD)
}

func TestApplyEmitsAuditAndBusEvents(t *testing.T) {
	f := newFixture()

	_, err := f.ledger.Apply(context.Background(), buyEvent("w1", "tokA", "sig1", 100, 1.0, 50_000))
	require.NoError(t, err)

	assert.Equal(t, []string{"position.open"}, f.audit.Events)
	assert.Len(t, f.bus.Messages, 1)
}

func TestApplyConcurrentSamePairStaysConsistent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.ledger.Apply(ctx, buyEvent("w1", "tokA", "sig0", 100, 1.0, 50_000))
	require.NoError(t, err)

	const n = 20
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			sig := "sig-concurrent-" + string(rune('a'+i))
			_, err := f.ledger.Apply(ctx, buyEvent("w1", "tokA", sig, 10, 1.0, 50_000))
			done <- err
		}(i)
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-done)
	}

	pos, err := f.positions.Get(ctx, "w1", "tokA")
	require.NoError(t, err)
	assert.Equal(t, 1+n, pos.BuyCount)
	assert.InDelta(t, 100.0+10*n, pos.TotalBoughtUSD, 1e-9)
}

func TestRefreshUpdatesMarketData(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.ledger.Apply(ctx, buyEvent("w1", "tokA", "sig1", 100, 1.0, 50_000))
	require.NoError(t, err)
	_, err = f.ledger.Apply(ctx, buyEvent("w1", "tokB", "sigB1", 100, 2.0, 100_000))
	require.NoError(t, err)
	_, err = f.ledger.Apply(ctx, sellEvent("w1", "tokB", "sigB2", 150, 3.0))
	require.NoError(t, err)

	oracle := testkit.NewPriceOracle()
	oracle.Prices["tokA"] = domain.TokenPrice{PriceUSD: 2.0, MarketCapUSD: 100_000, AsOf: time.Now()}
	oracle.Prices["tokB"] = domain.TokenPrice{PriceUSD: 4.0, MarketCapUSD: 200_000, AsOf: time.Now()}

	r := NewRefresher(f.positions, oracle, nil, testLogger())
	report, err := r.Refresh(ctx, time.Now().Add(time.Minute), 100)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 2, report.Refreshed)

	// Holding position gets unrealized PnL.
	holding, err := f.positions.Get(ctx, "w1", "tokA")
	require.NoError(t, err)
	require.NotNil(t, holding.PnLRatio)
	assert.InDelta(t, 2.0, *holding.PnLRatio, 1e-9)
	require.NotNil(t, holding.LastCheckedAt)

	// Sold position gets fumbled PnL from market cap ratio.
	sold, err := f.positions.Get(ctx, "w1", "tokB")
	require.NoError(t, err)
	require.NotNil(t, sold.FPnLRatio)
	assert.InDelta(t, 2.0, *sold.FPnLRatio, 1e-9)
}

func TestRefreshSkipsFailedLookups(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.ledger.Apply(ctx, buyEvent("w1", "tokA", "sig1", 100, 1.0, 50_000))
	require.NoError(t, err)

	oracle := testkit.NewPriceOracle() // knows no prices

	r := NewRefresher(f.positions, oracle, nil, testLogger())
	report, err := r.Refresh(ctx, time.Now().Add(time.Minute), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 0, report.Refreshed)
	assert.Equal(t, 1, report.Failed)

	// Staleness timestamp untouched so the next pass retries.
	pos, err := f.positions.Get(ctx, "w1", "tokA")
	require.NoError(t, err)
	assert.Nil(t, pos.LastCheckedAt)
}

func TestRefreshServesCachedPricesWithoutOracleLookups(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.ledger.Apply(ctx, buyEvent("w1", "tokA", "sig1", 100, 1.0, 50_000))
	require.NoError(t, err)
	_, err = f.ledger.Apply(ctx, buyEvent("w1", "tokB", "sigB1", 100, 2.0, 100_000))
	require.NoError(t, err)

	cache := testkit.NewPriceCache()
	cache.Prices["tokA"] = domain.TokenPrice{PriceUSD: 3.0, MarketCapUSD: 150_000, AsOf: time.Now()}

	oracle := testkit.NewPriceOracle()
	oracle.Prices["tokB"] = domain.TokenPrice{PriceUSD: 4.0, MarketCapUSD: 200_000, AsOf: time.Now()}

	r := NewRefresher(f.positions, oracle, cache, testLogger())
	report, err := r.Refresh(ctx, time.Now().Add(time.Minute), 100)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Refreshed)

	// One batch read covers the cached token; only the miss hits the oracle.
	assert.Equal(t, 1, cache.BatchCalls)
	assert.Zero(t, oracle.Calls["tokA"])
	assert.Equal(t, 1, oracle.Calls["tokB"])

	cached, err := f.positions.Get(ctx, "w1", "tokA")
	require.NoError(t, err)
	require.NotNil(t, cached.PnLRatio)
	assert.InDelta(t, 3.0, *cached.PnLRatio, 1e-9)
}

func TestRefreshFallsBackWhenCacheFails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.ledger.Apply(ctx, buyEvent("w1", "tokA", "sig1", 100, 1.0, 50_000))
	require.NoError(t, err)

	cache := testkit.NewPriceCache()
	cache.Err = errors.New("redis down")

	oracle := testkit.NewPriceOracle()
	oracle.Prices["tokA"] = domain.TokenPrice{PriceUSD: 2.0, MarketCapUSD: 100_000, AsOf: time.Now()}

	r := NewRefresher(f.positions, oracle, cache, testLogger())
	report, err := r.Refresh(ctx, time.Now().Add(time.Minute), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Refreshed)
	assert.Equal(t, 1, oracle.Calls["tokA"])
}
