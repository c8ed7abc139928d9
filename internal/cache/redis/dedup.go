package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"walletwatch/internal/domain"
)

// defaultDedupRetention bounds how long seen event keys are remembered.
// Provider redeliveries arrive within minutes; two days is generous.
const defaultDedupRetention = 48 * time.Hour

// DedupSet implements domain.DedupSet using SETNX with a retention TTL.
type DedupSet struct {
	rdb       *redis.Client
	retention time.Duration
}

// NewDedupSet creates a DedupSet backed by the given Client.
func NewDedupSet(c *Client, retention time.Duration) *DedupSet {
	if retention <= 0 {
		retention = defaultDedupRetention
	}
	return &DedupSet{rdb: c.Underlying(), retention: retention}
}

func dedupKey(key string) string {
	return "dedup:" + key
}

// FirstSeen returns true exactly once per key within the retention window.
func (d *DedupSet) FirstSeen(ctx context.Context, key string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, dedupKey(key), "1", d.retention).Result()
	if err != nil {
		return false, fmt.Errorf("redis: dedup first-seen %s: %w", key, err)
	}
	return ok, nil
}

// Compile-time interface check.
var _ domain.DedupSet = (*DedupSet)(nil)
