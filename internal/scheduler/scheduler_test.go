package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletwatch/internal/archive"
	"walletwatch/internal/domain"
	"walletwatch/internal/ledger"
	"walletwatch/internal/reconcile"
	"walletwatch/internal/testkit"
)

type fakeSink struct {
	mu      sync.Mutex
	wallets []string
	tokens  []domain.Token
}

func (f *fakeSink) SetWallets(wallets []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wallets = wallets
}

func (f *fakeSink) SetTokens(tokens []domain.Token) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = tokens
}

type fakeRefresher struct {
	calls  int
	report ledger.RefreshReport
}

func (f *fakeRefresher) Refresh(context.Context, time.Time, int) (ledger.RefreshReport, error) {
	f.calls++
	return f.report, nil
}

type fakeReconciler struct {
	calls  int
	report reconcile.Report
}

func (f *fakeReconciler) ReconcileAll(context.Context, domain.Settings) (reconcile.Report, error) {
	f.calls++
	return f.report, nil
}

type fakeArchiver struct {
	runs int
}

func (f *fakeArchiver) Run(context.Context, time.Time) (archive.SnapshotReport, error) {
	f.runs++
	return archive.SnapshotReport{Positions: 1}, nil
}

type fakeAlerter struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeAlerter) Notify(_ context.Context, event, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

type fixture struct {
	scheduler  *Scheduler
	settings   *testkit.SettingsStore
	wallets    *testkit.WalletStore
	tokens     *testkit.TokenStore
	registrar  *testkit.WebhookRegistrar
	regStore   *testkit.RegistrationStore
	locks      *testkit.LockManager
	sink       *fakeSink
	refresher  *fakeRefresher
	reconciler *fakeReconciler
	archiver   *fakeArchiver
	alerter    *fakeAlerter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		settings:   testkit.NewSettingsStore(),
		wallets:    testkit.NewWalletStore(),
		tokens:     testkit.NewTokenStore(),
		registrar:  testkit.NewWebhookRegistrar(),
		regStore:   testkit.NewRegistrationStore(),
		locks:      testkit.NewLockManager(),
		sink:       &fakeSink{},
		refresher:  &fakeRefresher{},
		reconciler: &fakeReconciler{},
		archiver:   &fakeArchiver{},
		alerter:    &fakeAlerter{},
	}
	f.scheduler = New(
		Config{CallbackURL: "https://tracker.example.com/webhooks/callback"},
		f.settings, f.wallets, f.tokens,
		f.registrar, f.regStore, f.locks,
		f.sink, f.refresher, f.reconciler, f.archiver, f.alerter,
		slog.Default(),
	)
	return f
}

func (f *fixture) seedGate(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	for _, addr := range []string{"token-a", "token-b"} {
		require.NoError(t, f.tokens.Upsert(ctx, domain.Token{Address: addr, Tracked: true}))
	}
	// wallet-1 and wallet-2 qualify at min_token_count=2, wallet-3 does not.
	require.NoError(t, f.wallets.RecordEarlyBuyer(ctx, "wallet-1", "token-a", now))
	require.NoError(t, f.wallets.RecordEarlyBuyer(ctx, "wallet-1", "token-b", now))
	require.NoError(t, f.wallets.RecordEarlyBuyer(ctx, "wallet-2", "token-a", now))
	require.NoError(t, f.wallets.RecordEarlyBuyer(ctx, "wallet-2", "token-b", now))
	require.NoError(t, f.wallets.RecordEarlyBuyer(ctx, "wallet-3", "token-a", now))
}

func TestTickRecomputesGateAndRegistersWebhooks(t *testing.T) {
	f := newFixture(t)
	f.seedGate(t)

	report, err := f.scheduler.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.GateWallets)
	assert.Equal(t, 2, report.TrackedTokens)
	assert.ElementsMatch(t, []string{"wallet-1", "wallet-2"}, f.sink.wallets)
	assert.Len(t, f.sink.tokens, 2)

	assert.Equal(t, 1, report.WebhooksCreated)
	regs, err := f.registrar.ListWebhooks(context.Background())
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.ElementsMatch(t, []string{"wallet-1", "wallet-2"}, regs[0].Addresses)

	mirrored, err := f.regStore.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, mirrored, 1)

	assert.Equal(t, 1, f.refresher.calls)
	assert.Equal(t, 1, f.reconciler.calls)
}

func TestTickWebhookSyncIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedGate(t)

	_, err := f.scheduler.Tick(context.Background())
	require.NoError(t, err)

	report, err := f.scheduler.Tick(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.WebhooksCreated)
	assert.Zero(t, report.WebhooksDeleted)
	regs, err := f.registrar.ListWebhooks(context.Background())
	require.NoError(t, err)
	assert.Len(t, regs, 1)
}

func TestTickReplacesStaleRegistrations(t *testing.T) {
	f := newFixture(t)
	f.seedGate(t)
	ctx := context.Background()

	// A stale registration at our callback URL and a foreign one that must
	// be left alone.
	staleID, err := f.registrar.CreateWebhook(ctx,
		"https://tracker.example.com/webhooks/callback", []string{"wallet-old"}, nil)
	require.NoError(t, err)
	foreignID, err := f.registrar.CreateWebhook(ctx,
		"https://other.example.com/hook", []string{"wallet-old"}, nil)
	require.NoError(t, err)

	report, err := f.scheduler.Tick(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.WebhooksCreated)
	assert.Equal(t, 1, report.WebhooksDeleted)

	regs, err := f.registrar.ListWebhooks(ctx)
	require.NoError(t, err)
	require.Len(t, regs, 2)

	ids := map[string]bool{}
	for _, r := range regs {
		ids[r.ID] = true
	}
	assert.False(t, ids[staleID], "stale registration should be deleted")
	assert.True(t, ids[foreignID], "foreign registration must not be touched")
}

func TestTickSkippedWhenLockHeld(t *testing.T) {
	f := newFixture(t)

	unlock, err := f.locks.Acquire(context.Background(), "scheduler:tick", time.Minute)
	require.NoError(t, err)
	defer unlock()

	_, err = f.scheduler.Tick(context.Background())
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Zero(t, f.reconciler.calls)
	assert.Equal(t, int64(1), f.scheduler.Status().TicksSkipped)
}

func TestTickSkipsReconcileWhenAutoCheckDisabled(t *testing.T) {
	f := newFixture(t)

	s, err := f.settings.Get(context.Background())
	require.NoError(t, err)
	s.AutoCheckEnabled = false
	_, err = f.settings.Update(context.Background(), s)
	require.NoError(t, err)

	report, err := f.scheduler.Tick(context.Background())
	require.NoError(t, err)

	assert.False(t, report.ReconcileRan)
	assert.Zero(t, f.reconciler.calls)
	assert.Equal(t, 1, f.refresher.calls, "free refresh always runs")
}

func TestTickNotifiesOnBudgetExhaustion(t *testing.T) {
	f := newFixture(t)
	f.reconciler.report = reconcile.Report{Candidates: 5, Skipped: 3}

	_, err := f.scheduler.Tick(context.Background())
	require.NoError(t, err)

	assert.Contains(t, f.alerter.events, "budget.exhausted")
}

func TestTickArchivesOncePerDay(t *testing.T) {
	f := newFixture(t)

	report, err := f.scheduler.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, report.ArchiveRan)

	report, err = f.scheduler.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, report.ArchiveRan)
	assert.Equal(t, 1, f.archiver.runs)
}

func TestBatchAddresses(t *testing.T) {
	batches := batchAddresses([]string{"c", "a", "b"}, 2)
	require.Len(t, batches, 2)
	assert.Equal(t, []string{"a", "b"}, batches[0])
	assert.Equal(t, []string{"c"}, batches[1])

	assert.Empty(t, batchAddresses(nil, 10))
}

func TestStatusTracksTicks(t *testing.T) {
	f := newFixture(t)

	_, err := f.scheduler.Tick(context.Background())
	require.NoError(t, err)

	status := f.scheduler.Status()
	assert.Equal(t, int64(1), status.TicksTotal)
	assert.False(t, status.LastTickAt.IsZero())
	assert.Empty(t, status.LastError)
}
