package domain

import "time"

// TransferDirection is the direction of a token transfer relative to the
// monitored wallet.
type TransferDirection string

const (
	// DirectionIn means the monitored wallet received tokens (candidate buy).
	DirectionIn TransferDirection = "in"
	// DirectionOut means the monitored wallet sent tokens (candidate sell).
	DirectionOut TransferDirection = "out"
)

// EventSource identifies which ingestion path produced a transfer event.
type EventSource string

const (
	SourceWebhook   EventSource = "webhook"
	SourceReconcile EventSource = "reconcile"
)

// TransferEvent is the single event type both the webhook gateway (push) and
// the reconciliation engine (pull) feed into the position ledger. All state
// mutations flow through Ledger.Apply consuming these.
type TransferEvent struct {
	WalletAddress string
	TokenAddress  string
	TokenSymbol   string
	Direction     TransferDirection
	RawAmount     float64 // token units moved

	// USDValueHint is the best-effort notional of the transfer, resolved at
	// observation time. Nil when the price lookup timed out; the ledger then
	// records the transfer and flags the position for reconciliation.
	USDValueHint *float64

	// PriceHint and MarketCapHint carry the oracle reading taken alongside
	// the USD value, used for cost basis and FPnL accounting.
	PriceHint     *float64
	MarketCapHint *float64

	// Estimated is true when the USD value came from a fallback estimate
	// (current price) rather than the observed transaction.
	Estimated bool

	TxSignature string
	ObservedAt  time.Time
	Source      EventSource
}

// Transition names the ledger state transition an event produced.
type Transition string

const (
	TransitionOpen    Transition = "open"     // untracked -> holding
	TransitionDCA     Transition = "dca"      // holding -> holding
	TransitionSell    Transition = "sell"     // holding -> sold
	TransitionReEntry Transition = "re-entry" // sold -> holding
	TransitionRepair  Transition = "repair"   // phantom sell completed
	TransitionIgnored Transition = "ignored"  // not a tracked pair
	TransitionDeduped Transition = "deduped"  // duplicate signature/intent
)

// ApplyResult reports what the ledger did with a transfer event.
type ApplyResult struct {
	Position   Position
	Transition Transition
}

// Applied reports whether the event mutated position state.
func (r ApplyResult) Applied() bool {
	return r.Transition != TransitionIgnored && r.Transition != TransitionDeduped
}
