package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"walletwatch/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes.
// Each token's reading is stored as a hash at key "price:{tokenAddress}" with
// fields "price", "mcap", and "ts" (Unix nanosecond timestamp). Keys expire
// after the configured TTL, so a cache hit is always a fresh reading.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. Entries
// expire after ttl.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(tokenAddress string) string {
	return "price:" + tokenAddress
}

// SetPrice stores the latest oracle reading for a token.
func (pc *PriceCache) SetPrice(ctx context.Context, tokenAddress string, p domain.TokenPrice) error {
	key := priceKey(tokenAddress)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(p.PriceUSD, 'f', -1, 64),
		"mcap":  strconv.FormatFloat(p.MarketCapUSD, 'f', -1, 64),
		"ts":    strconv.FormatInt(p.AsOf.UnixNano(), 10),
	}

	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, pc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", tokenAddress, err)
	}
	return nil
}

// GetPrice retrieves the cached reading for a token. It returns
// domain.ErrNotFound when the key does not exist or has expired.
func (pc *PriceCache) GetPrice(ctx context.Context, tokenAddress string) (domain.TokenPrice, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(tokenAddress)).Result()
	if err != nil {
		return domain.TokenPrice{}, fmt.Errorf("redis: get price %s: %w", tokenAddress, err)
	}
	if len(vals) == 0 {
		return domain.TokenPrice{}, domain.ErrNotFound
	}
	return parsePriceHash(tokenAddress, vals)
}

// GetPrices retrieves cached readings for multiple tokens using a pipeline.
// Tokens with no cached reading are omitted from the result map.
func (pc *PriceCache) GetPrices(ctx context.Context, tokenAddresses []string) (map[string]domain.TokenPrice, error) {
	if len(tokenAddresses) == 0 {
		return map[string]domain.TokenPrice{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(tokenAddresses))
	for _, addr := range tokenAddresses {
		cmds[addr] = pipe.HGetAll(ctx, priceKey(addr))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	result := make(map[string]domain.TokenPrice, len(tokenAddresses))
	for addr, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		p, err := parsePriceHash(addr, vals)
		if err != nil {
			continue
		}
		result[addr] = p
	}

	return result, nil
}

func parsePriceHash(tokenAddress string, vals map[string]string) (domain.TokenPrice, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return domain.TokenPrice{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return domain.TokenPrice{}, fmt.Errorf("redis: parse price %s: %w", tokenAddress, err)
	}

	mcap, err := strconv.ParseFloat(vals["mcap"], 64)
	if err != nil {
		mcap = 0
	}

	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.TokenPrice{}, fmt.Errorf("redis: parse ts %s: %w", tokenAddress, err)
	}

	return domain.TokenPrice{
		PriceUSD:     price,
		MarketCapUSD: mcap,
		AsOf:         time.Unix(0, tsNano),
	}, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
