package gateway

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletwatch/internal/domain"
	"walletwatch/internal/ledger"
	"walletwatch/internal/testkit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	gateway   *Gateway
	positions *testkit.PositionStore
	oracle    *testkit.PriceOracle
	dedup     *testkit.DedupSet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	positions := testkit.NewPositionStore()
	led := ledger.New(
		positions,
		testkit.NewClosedCycleStore(),
		testkit.NewWalletStore(),
		testkit.NewAuditStore(),
		testkit.NewSignalBus(),
		testLogger(),
	)
	oracle := testkit.NewPriceOracle()
	dedup := testkit.NewDedupSet()

	gw := New(led, dedup, oracle, 100*time.Millisecond, testLogger())
	gw.SetWallets([]string{"w1", "w2"})
	gw.SetTokens([]domain.Token{
		{Address: "tokA", Symbol: "AAA", Tracked: true},
		{Address: "tokB", Symbol: "BBB", Tracked: true},
	})

	return &fixture{gateway: gw, positions: positions, oracle: oracle, dedup: dedup}
}

func tx(sig string, transfers ...domain.TokenTransfer) domain.WalletTransaction {
	return domain.WalletTransaction{
		Signature: sig,
		Timestamp: time.Now().UTC(),
		Transfers: transfers,
	}
}

func TestHandleBatchOpensPositionOnIncomingTransfer(t *testing.T) {
	f := newFixture(t)
	f.oracle.Prices["tokA"] = domain.TokenPrice{PriceUSD: 2.0, MarketCapUSD: 80_000, AsOf: time.Now()}

	report := f.gateway.HandleBatch(context.Background(), []domain.WalletTransaction{
		tx("sig1", domain.TokenTransfer{FromUserAccount: "dex", ToUserAccount: "w1", Mint: "tokA", Amount: 50}),
	})

	assert.Equal(t, 1, report.Applied)
	assert.Equal(t, 0, report.Errors)

	pos, err := f.positions.Get(context.Background(), "w1", "tokA")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusHolding, pos.Status)
	assert.Equal(t, 2.0, pos.EntryPrice)
	assert.Equal(t, 100.0, pos.TotalBoughtUSD) // 2.0 * 50
	assert.Equal(t, "AAA", pos.TokenSymbol)
	assert.False(t, pos.NeedsReconcile)
}

func TestHandleBatchIgnoresUntrackedTokensAndUnknownWallets(t *testing.T) {
	f := newFixture(t)

	report := f.gateway.HandleBatch(context.Background(), []domain.WalletTransaction{
		tx("sig1",
			domain.TokenTransfer{FromUserAccount: "dex", ToUserAccount: "w1", Mint: "tokUnknown", Amount: 50},
			domain.TokenTransfer{FromUserAccount: "dex", ToUserAccount: "stranger", Mint: "tokA", Amount: 50},
		),
	})

	assert.Equal(t, 0, report.Events)
	assert.Equal(t, 0, report.Applied)
}

func TestHandleBatchDedupsRedelivery(t *testing.T) {
	f := newFixture(t)
	f.oracle.Prices["tokA"] = domain.TokenPrice{PriceUSD: 1.0, MarketCapUSD: 10_000, AsOf: time.Now()}

	batch := []domain.WalletTransaction{
		tx("sig1", domain.TokenTransfer{FromUserAccount: "dex", ToUserAccount: "w1", Mint: "tokA", Amount: 10}),
	}

	first := f.gateway.HandleBatch(context.Background(), batch)
	assert.Equal(t, 1, first.Applied)

	second := f.gateway.HandleBatch(context.Background(), batch)
	assert.Equal(t, 0, second.Applied)
	assert.Equal(t, 1, second.Deduped)

	pos, err := f.positions.Get(context.Background(), "w1", "tokA")
	require.NoError(t, err)
	assert.Equal(t, 1, pos.BuyCount)
	assert.Equal(t, 10.0, pos.TotalBoughtUSD)
}

func TestHandleBatchMultiWalletTransactionYieldsEventPerWallet(t *testing.T) {
	f := newFixture(t)
	f.oracle.Prices["tokA"] = domain.TokenPrice{PriceUSD: 1.0, MarketCapUSD: 10_000, AsOf: time.Now()}

	// Seed w2 with a holding so its outgoing leg is a sell, not an ignore.
	seed := f.gateway.HandleBatch(context.Background(), []domain.WalletTransaction{
		tx("seed", domain.TokenTransfer{FromUserAccount: "dex", ToUserAccount: "w2", Mint: "tokA", Amount: 30}),
	})
	require.Equal(t, 1, seed.Applied)

	// One transaction moving tokens from w2 to w1 touches both wallets.
	report := f.gateway.HandleBatch(context.Background(), []domain.WalletTransaction{
		tx("sig1", domain.TokenTransfer{FromUserAccount: "w2", ToUserAccount: "w1", Mint: "tokA", Amount: 30}),
	})

	assert.Equal(t, 2, report.Events)
	assert.Equal(t, 2, report.Applied)

	w1pos, err := f.positions.Get(context.Background(), "w1", "tokA")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusHolding, w1pos.Status)

	w2pos, err := f.positions.Get(context.Background(), "w2", "tokA")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusSold, w2pos.Status)
}

func TestHandleBatchOracleTimeoutFlagsReconcile(t *testing.T) {
	f := newFixture(t)
	f.oracle.Prices["tokA"] = domain.TokenPrice{PriceUSD: 1.0, MarketCapUSD: 10_000, AsOf: time.Now()}
	f.oracle.Delay = 500 * time.Millisecond // beyond the 100ms hint timeout

	report := f.gateway.HandleBatch(context.Background(), []domain.WalletTransaction{
		tx("sig1", domain.TokenTransfer{FromUserAccount: "dex", ToUserAccount: "w1", Mint: "tokA", Amount: 10}),
	})

	assert.Equal(t, 1, report.Applied)

	pos, err := f.positions.Get(context.Background(), "w1", "tokA")
	require.NoError(t, err)
	assert.True(t, pos.NeedsReconcile)
	assert.Equal(t, 0.0, pos.TotalBoughtUSD)
	assert.Equal(t, 1, pos.BuyCount)
}

func TestHandleBatchCountsMalformedTransactions(t *testing.T) {
	f := newFixture(t)

	report := f.gateway.HandleBatch(context.Background(), []domain.WalletTransaction{
		{Signature: "", Timestamp: time.Now()},
	})

	assert.Equal(t, 1, report.Malformed)
	assert.Equal(t, 0, report.Events)
}
