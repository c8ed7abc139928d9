package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// PositionFilter narrows position list queries.
type PositionFilter struct {
	WalletAddress string
	TokenAddress  string
	Status        PositionStatus
	TrackedOnly   bool
	Limit         int
	Offset        int
}

// PositionStore persists Position records. The position ledger is the sole
// writer; every other component reads or submits events to the ledger.
type PositionStore interface {
	Create(ctx context.Context, pos Position) (int64, error)
	Update(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id int64) (Position, error)
	Get(ctx context.Context, wallet, tokenAddress string) (Position, error)
	List(ctx context.Context, f PositionFilter) ([]Position, error)
	// ListStale returns tracked positions whose LastCheckedAt is nil or older
	// than cutoff, oldest first.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]Position, error)
	// ListReconcileCandidates returns tracked positions that are phantom
	// sales or flagged NeedsReconcile, oldest-unresolved-first. tokenAddress
	// may be empty to scan all tokens.
	ListReconcileCandidates(ctx context.Context, tokenAddress string, limit int) ([]Position, error)
	Stats(ctx context.Context) (PositionStats, error)
}

// ClosedCycleStore persists the append-only history of completed
// holding→sold cycles.
type ClosedCycleStore interface {
	Insert(ctx context.Context, c ClosedCycle) error
	ListByWallet(ctx context.Context, wallet string, opts ListOpts) ([]ClosedCycle, error)
}

// TokenStore exposes the monitored token set. Writes come from the external
// discovery pipeline; this core reads it.
type TokenStore interface {
	Upsert(ctx context.Context, t Token) error
	GetByAddress(ctx context.Context, address string) (Token, error)
	ListTracked(ctx context.Context) ([]Token, error)
}

// WalletStore records early-buyer observations and answers gate membership
// queries over them.
type WalletStore interface {
	// RecordEarlyBuyer marks wallet as an early buyer of the token; repeated
	// calls for the same pair are idempotent.
	RecordEarlyBuyer(ctx context.Context, wallet, tokenAddress string, firstBuyAt time.Time) error
	// DistinctTokenCount returns how many distinct tracked tokens the wallet
	// bought early.
	DistinctTokenCount(ctx context.Context, wallet string) (int, error)
	// GateEligible returns wallets that are early buyers of at least
	// minTokenCount distinct tracked tokens.
	GateEligible(ctx context.Context, minTokenCount int) ([]string, error)
	Summaries(ctx context.Context) ([]WalletSummary, error)
}

// SettingsStore persists the single versioned settings record.
type SettingsStore interface {
	Get(ctx context.Context) (Settings, error)
	// Update persists s and bumps its version. It fails with ErrAlreadyExists
	// when s.Version no longer matches the stored row (lost update).
	Update(ctx context.Context, s Settings) (Settings, error)
}

// RegistrationStore persists our record of provider-side webhook
// registrations so restarts can reconcile against the live set.
type RegistrationStore interface {
	Save(ctx context.Context, reg WebhookRegistration) error
	List(ctx context.Context) ([]WebhookRegistration, error)
	Delete(ctx context.Context, id string) error
}

// BudgetStore tracks external API credits consumed per UTC day. Reserve is
// the single check-then-increment critical section: it atomically adds n to
// the day's counter only when the result stays within limit.
type BudgetStore interface {
	Reserve(ctx context.Context, day string, n, limit int) (bool, error)
	Used(ctx context.Context, day string) (int, error)
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}
