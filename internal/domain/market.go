package domain

import (
	"context"
	"time"
)

// Token is a monitored token. The discovery/enrichment pipeline that writes
// these lives outside this service; we consume the tracked set read-only
// (plus Upsert for that external layer and for tests).
type Token struct {
	Address   string
	Symbol    string
	Name      string
	Tracked   bool
	CreatedAt time.Time
}

// TokenPrice is one oracle reading for a token.
type TokenPrice struct {
	PriceUSD     float64
	MarketCapUSD float64
	AsOf         time.Time
}

// Outcome classifies a best-effort external lookup so callers can tell
// "try again later" apart from "stop trying".
type Outcome int

const (
	OutcomeResolved Outcome = iota
	OutcomeRetryable
	OutcomePermanent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeResolved:
		return "resolved"
	case OutcomeRetryable:
		return "retryable"
	default:
		return "permanent"
	}
}

// PriceOracle returns the current price and market cap for a token.
type PriceOracle interface {
	GetPrice(ctx context.Context, tokenAddress string) (TokenPrice, Outcome, error)
}

// TokenTransfer is one token movement inside a wallet transaction.
type TokenTransfer struct {
	FromUserAccount string
	ToUserAccount   string
	Mint            string
	Amount          float64
}

// WalletTransaction is one parsed historical transaction from the chain
// history provider.
type WalletTransaction struct {
	Signature string
	Timestamp time.Time
	Transfers []TokenTransfer

	// NativeSOL is the SOL amount of the swap counter-leg when the provider
	// could parse one, used to price historical sells without an oracle
	// snapshot from that moment.
	NativeSOL float64
}

// ChainHistory returns a bounded, reverse-chronological window of a wallet's
// past transactions. The window is finite and may not reach far enough back
// for highly active wallets; completeness is never guaranteed.
type ChainHistory interface {
	RecentTransactions(ctx context.Context, wallet string, limit int) ([]WalletTransaction, Outcome, error)
	// CreditCost returns the provider credit cost of one RecentTransactions call.
	CreditCost() int
}

// WebhookRegistration is one provider-side webhook covering a batch of
// monitored wallet addresses.
type WebhookRegistration struct {
	ID        string // provider webhook id
	URL       string
	Addresses []string
	TxTypes   []string
	CreatedAt time.Time
}

// WebhookRegistrar manages provider-side webhook registrations. Registrations
// are replaced wholesale, never patched, to avoid partial-update races.
type WebhookRegistrar interface {
	CreateWebhook(ctx context.Context, url string, addresses []string, txTypes []string) (string, error)
	ListWebhooks(ctx context.Context) ([]WebhookRegistration, error)
	DeleteWebhook(ctx context.Context, id string) error
}
