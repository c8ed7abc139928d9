// Package scheduler drives the periodic tracker tick: gate recompute,
// webhook registration sync, free PnL refresh, budgeted reconciliation, and
// the nightly snapshot. Ticks are single-flight across instances via a
// distributed lock; an overlapping tick is skipped, never queued.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"walletwatch/internal/archive"
	"walletwatch/internal/domain"
	"walletwatch/internal/ledger"
	"walletwatch/internal/notify"
	"walletwatch/internal/reconcile"
)

// tickLockKey scopes the single-flight lock shared by the loop and manual
// triggers.
const tickLockKey = "scheduler:tick"

// maxAddressesPerWebhook caps how many wallet addresses one provider-side
// registration covers.
const maxAddressesPerWebhook = 100

// TargetSink receives the recomputed monitored sets; satisfied by the
// ingestion gateway.
type TargetSink interface {
	SetWallets(wallets []string)
	SetTokens(tokens []domain.Token)
}

// Refresher recomputes PnL from cached prices without external calls.
type Refresher interface {
	Refresh(ctx context.Context, cutoff time.Time, limit int) (ledger.RefreshReport, error)
}

// Reconciler runs the credit-budgeted pull reconciliation pass.
type Reconciler interface {
	ReconcileAll(ctx context.Context, settings domain.Settings) (reconcile.Report, error)
}

// Archiver uploads the daily snapshot; nil disables archiving.
type Archiver interface {
	Run(ctx context.Context, now time.Time) (archive.SnapshotReport, error)
}

// Alerter delivers operator notifications.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds the scheduler knobs that are not runtime-tunable.
type Config struct {
	// CallbackURL is the public webhook endpoint registrations point at.
	CallbackURL string
	// LockTTL bounds how long a crashed holder blocks the next tick.
	LockTTL time.Duration
}

// Scheduler owns the tick loop.
type Scheduler struct {
	cfg        Config
	settings   domain.SettingsStore
	wallets    domain.WalletStore
	tokens     domain.TokenStore
	registrar  domain.WebhookRegistrar
	regStore   domain.RegistrationStore
	locks      domain.LockManager
	sink       TargetSink
	refresher  Refresher
	reconciler Reconciler
	archiver   Archiver
	alerter    Alerter
	logger     *slog.Logger

	mu             sync.Mutex
	status         Status
	lastArchiveDay string
}

// New creates a Scheduler. archiver may be nil when snapshots are disabled.
func New(
	cfg Config,
	settings domain.SettingsStore,
	wallets domain.WalletStore,
	tokens domain.TokenStore,
	registrar domain.WebhookRegistrar,
	regStore domain.RegistrationStore,
	locks domain.LockManager,
	sink TargetSink,
	refresher Refresher,
	reconciler Reconciler,
	archiver Archiver,
	alerter Alerter,
	logger *slog.Logger,
) *Scheduler {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &Scheduler{
		cfg:        cfg,
		settings:   settings,
		wallets:    wallets,
		tokens:     tokens,
		registrar:  registrar,
		regStore:   regStore,
		locks:      locks,
		sink:       sink,
		refresher:  refresher,
		reconciler: reconciler,
		archiver:   archiver,
		alerter:    alerter,
		logger:     logger.With(slog.String("component", "scheduler")),
	}
}

// TickReport summarizes one tick.
type TickReport struct {
	GateWallets     int `json:"gate_wallets"`
	TrackedTokens   int `json:"tracked_tokens"`
	WebhooksCreated int `json:"webhooks_created"`
	WebhooksDeleted int `json:"webhooks_deleted"`

	Refresh ledger.RefreshReport `json:"refresh"`

	ReconcileRan bool             `json:"reconcile_ran"`
	Reconcile    reconcile.Report `json:"reconcile"`

	ArchiveRan bool                   `json:"archive_ran"`
	Archive    archive.SnapshotReport `json:"archive"`
}

// Status is the control-surface view of the loop.
type Status struct {
	Running      bool          `json:"running"`
	TicksTotal   int64         `json:"ticks_total"`
	TicksSkipped int64         `json:"ticks_skipped"`
	LastTickAt   time.Time     `json:"last_tick_at"`
	LastDuration time.Duration `json:"last_duration_ns"`
	LastError    string        `json:"last_error,omitempty"`
	LastReport   TickReport    `json:"last_report"`
}

// Status returns a snapshot of the loop state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Run executes the tick loop until ctx is cancelled. The first tick fires
// immediately; the interval follows the persisted settings and picks up
// changes on the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	s.setRunning(true)
	defer s.setRunning(false)

	interval := s.interval(ctx)
	s.logger.Info("scheduler starting", slog.Duration("interval", interval))

	s.runTick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runTick(ctx)
			if next := s.interval(ctx); next != interval {
				s.logger.Info("tick interval changed",
					slog.Duration("from", interval),
					slog.Duration("to", next),
				)
				interval = next
				ticker.Reset(next)
			}
		}
	}
}

// Tick runs one full tick under the distributed lock. A held lock returns
// domain.ErrLockHeld; callers treat that as "already in progress".
func (s *Scheduler) Tick(ctx context.Context) (TickReport, error) {
	unlock, err := s.locks.Acquire(ctx, tickLockKey, s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			s.mu.Lock()
			s.status.TicksSkipped++
			s.mu.Unlock()
			return TickReport{}, domain.ErrLockHeld
		}
		return TickReport{}, fmt.Errorf("scheduler: acquire tick lock: %w", err)
	}
	defer unlock()

	started := time.Now()
	report, err := s.tick(ctx)
	s.recordTick(report, time.Since(started), err)
	return report, err
}

// SyncWebhooks recomputes the gate and replaces provider registrations to
// match it, without running the rest of the tick. Shares the tick lock so a
// manual sync never races a running tick.
func (s *Scheduler) SyncWebhooks(ctx context.Context) (TickReport, error) {
	unlock, err := s.locks.Acquire(ctx, tickLockKey, s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return TickReport{}, domain.ErrLockHeld
		}
		return TickReport{}, fmt.Errorf("scheduler: acquire tick lock: %w", err)
	}
	defer unlock()

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return TickReport{}, fmt.Errorf("scheduler: load settings: %w", err)
	}

	var report TickReport
	wallets := s.recomputeGate(ctx, settings, &report)
	s.syncWebhooks(ctx, wallets, &report)
	return report, nil
}

func (s *Scheduler) runTick(ctx context.Context) {
	report, err := s.Tick(ctx)
	switch {
	case errors.Is(err, domain.ErrLockHeld):
		s.logger.Debug("tick skipped, lock held elsewhere")
	case err != nil:
		s.logger.Error("tick failed", slog.String("error", err.Error()))
		if s.alerter != nil {
			_ = s.alerter.Notify(ctx, notify.EventSchedulerError,
				"Scheduler tick failed", err.Error())
		}
	default:
		s.logger.Info("tick complete",
			slog.Int("gate_wallets", report.GateWallets),
			slog.Int("tracked_tokens", report.TrackedTokens),
			slog.Int("refreshed", report.Refresh.Refreshed),
			slog.Bool("reconcile_ran", report.ReconcileRan),
		)
	}
}

// tick is the lock-protected tick body. The settings load is the only fatal
// step; everything after degrades to logging so one failing subsystem does
// not starve the others.
func (s *Scheduler) tick(ctx context.Context) (TickReport, error) {
	var report TickReport

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return report, fmt.Errorf("scheduler: load settings: %w", err)
	}

	wallets := s.recomputeGate(ctx, settings, &report)
	s.syncWebhooks(ctx, wallets, &report)

	cutoff := time.Now().Add(-time.Duration(settings.StaleThresholdMinutes) * time.Minute)
	refresh, err := s.refresher.Refresh(ctx, cutoff, settings.MaxPositionsPerRun)
	if err != nil {
		s.logger.Error("pnl refresh failed", slog.String("error", err.Error()))
	}
	report.Refresh = refresh

	if settings.AutoCheckEnabled {
		rec, err := s.reconciler.ReconcileAll(ctx, settings)
		if err != nil {
			s.logger.Error("reconciliation failed", slog.String("error", err.Error()))
		} else {
			report.ReconcileRan = true
			report.Reconcile = rec
			if rec.Skipped > 0 && s.alerter != nil {
				_ = s.alerter.Notify(ctx, notify.EventBudgetExhausted,
					"Credit budget exhausted",
					fmt.Sprintf("%d reconcile candidates deferred to tomorrow", rec.Skipped))
			}
		}
	} else {
		s.logger.Debug("auto check disabled, reconciliation skipped")
	}

	s.maybeArchive(ctx, &report)

	return report, nil
}

// recomputeGate refreshes the monitored wallet and token sets from the gate
// query and pushes them to the ingestion gateway. On failure the gateway
// keeps its last-known sets.
func (s *Scheduler) recomputeGate(ctx context.Context, settings domain.Settings, report *TickReport) []string {
	wallets, err := s.wallets.GateEligible(ctx, settings.MinTokenCount)
	if err != nil {
		s.logger.Error("gate recompute failed", slog.String("error", err.Error()))
		return nil
	}

	tokens, err := s.tokens.ListTracked(ctx)
	if err != nil {
		s.logger.Error("tracked token load failed", slog.String("error", err.Error()))
		return nil
	}

	s.sink.SetWallets(wallets)
	s.sink.SetTokens(tokens)
	report.GateWallets = len(wallets)
	report.TrackedTokens = len(tokens)
	return wallets
}

// maybeArchive runs the snapshot once per UTC day. Failures are logged,
// never fatal to the tick.
func (s *Scheduler) maybeArchive(ctx context.Context, report *TickReport) {
	if s.archiver == nil {
		return
	}

	now := time.Now().UTC()
	day := now.Format("2006-01-02")

	s.mu.Lock()
	due := s.lastArchiveDay != day
	s.mu.Unlock()
	if !due {
		return
	}

	snap, err := s.archiver.Run(ctx, now)
	if err != nil {
		s.logger.Error("snapshot failed", slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	s.lastArchiveDay = day
	s.mu.Unlock()

	report.ArchiveRan = true
	report.Archive = snap
	s.logger.Info("snapshot uploaded",
		slog.String("day", day),
		slog.Int("positions", snap.Positions),
		slog.Int("cycles", snap.Cycles),
	)
}

// interval reads the tick interval from settings, falling back to the
// default when the store is unreachable.
func (s *Scheduler) interval(ctx context.Context) time.Duration {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		s.logger.Warn("interval lookup failed, using default",
			slog.String("error", err.Error()),
		)
		settings = domain.DefaultSettings()
	}
	return time.Duration(settings.CheckIntervalMinutes) * time.Minute
}

func (s *Scheduler) setRunning(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Running = v
}

func (s *Scheduler) recordTick(report TickReport, took time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.TicksTotal++
	s.status.LastTickAt = time.Now()
	s.status.LastDuration = took
	s.status.LastReport = report
	if err != nil {
		s.status.LastError = err.Error()
	} else {
		s.status.LastError = ""
	}
}
