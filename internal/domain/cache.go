package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest oracle readings.
type PriceCache interface {
	SetPrice(ctx context.Context, tokenAddress string, p TokenPrice) error
	GetPrice(ctx context.Context, tokenAddress string) (TokenPrice, error)
	// GetPrices omits tokens with no cached reading from the result map.
	GetPrices(ctx context.Context, tokenAddresses []string) (map[string]TokenPrice, error)
}

// DedupSet remembers transfer-event keys so at-least-once webhook delivery
// collapses to exactly-once processing.
type DedupSet interface {
	// FirstSeen returns true exactly once per key within the retention window.
	FirstSeen(ctx context.Context, key string) (bool, error)
}

// RateLimiter provides distributed rate limiting for external API calls.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	// Wait blocks until a call for key is admitted or ctx is done.
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// LockManager provides distributed locking; used to keep scheduler ticks and
// manual triggers single-flight per scope.
type LockManager interface {
	// Acquire returns ErrLockHeld when another holder owns the key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus publishes position lifecycle events for external consumers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}
