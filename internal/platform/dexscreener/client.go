// Package dexscreener is the REST client for the DexScreener token price API.
// Lookups are free, so this is the oracle of choice for the recurring PnL
// refresh pass.
package dexscreener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"walletwatch/internal/domain"
	"walletwatch/internal/platform"
)

// Transient failures are retried inline up to retryAttempts before the
// lookup is reported as a miss.
const (
	retryAttempts  = 3
	retryBaseDelay = 200 * time.Millisecond
)

// pairResponse is the token pairs endpoint response.
type pairResponse struct {
	Pairs []pair `json:"pairs"`
}

type pair struct {
	PriceUSD  string    `json:"priceUsd"`
	MarketCap float64   `json:"marketCap"`
	FDV       float64   `json:"fdv"`
	Liquidity liquidity `json:"liquidity"`
}

type liquidity struct {
	USD float64 `json:"usd"`
}

// Client resolves token prices, reading through the shared price cache so
// concurrent lookups for hot tokens collapse to one upstream call per TTL.
type Client struct {
	baseURL    string
	httpClient *http.Client

	cache      domain.PriceCache
	limiter    domain.RateLimiter
	rateLimit  int
	rateWindow time.Duration
}

// Config holds Client construction parameters.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration

	// Cache is consulted before the API and refreshed after it. May be nil.
	Cache domain.PriceCache

	// Limiter paces outbound calls when non-nil.
	Limiter    domain.RateLimiter
	RateLimit  int
	RateWindow time.Duration
}

// New creates a DexScreener client.
func New(cfg Config) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cfg.Cache,
		limiter:    cfg.Limiter,
		rateLimit:  cfg.RateLimit,
		rateWindow: cfg.RateWindow,
	}
}

// GetPrice returns the current price and market cap for a token. A cache hit
// short-circuits the API call entirely; transient upstream failures are
// retried with backoff before the miss is reported.
func (c *Client) GetPrice(ctx context.Context, tokenAddress string) (domain.TokenPrice, domain.Outcome, error) {
	if c.cache != nil {
		if p, err := c.cache.GetPrice(ctx, tokenAddress); err == nil {
			return p, domain.OutcomeResolved, nil
		}
	}

	return platform.Retry(ctx, retryAttempts, retryBaseDelay, func(ctx context.Context) (domain.TokenPrice, domain.Outcome, error) {
		return c.fetchPrice(ctx, tokenAddress)
	})
}

func (c *Client) fetchPrice(ctx context.Context, tokenAddress string) (domain.TokenPrice, domain.Outcome, error) {
	if err := c.pace(ctx); err != nil {
		return domain.TokenPrice{}, domain.OutcomeRetryable, err
	}

	path := "/latest/dex/tokens/" + url.PathEscape(tokenAddress)
	body, err := c.doGet(ctx, path)
	if err != nil {
		return domain.TokenPrice{}, classify(err), fmt.Errorf("dexscreener: get price %s: %w", tokenAddress, err)
	}

	var resp pairResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.TokenPrice{}, domain.OutcomePermanent, fmt.Errorf("dexscreener: decode pairs: %w", err)
	}

	best, ok := bestPair(resp.Pairs)
	if !ok {
		// No pair listed yet; the token may get one later.
		return domain.TokenPrice{}, domain.OutcomeRetryable, fmt.Errorf("dexscreener: no pairs for %s: %w", tokenAddress, domain.ErrNotFound)
	}

	price, err := strconv.ParseFloat(best.PriceUSD, 64)
	if err != nil || price <= 0 {
		return domain.TokenPrice{}, domain.OutcomeRetryable, fmt.Errorf("dexscreener: unusable price %q for %s", best.PriceUSD, tokenAddress)
	}

	mcap := best.MarketCap
	if mcap <= 0 {
		mcap = best.FDV
	}

	out := domain.TokenPrice{
		PriceUSD:     price,
		MarketCapUSD: mcap,
		AsOf:         time.Now().UTC(),
	}

	if c.cache != nil {
		// Cache write failures must not fail the lookup.
		_ = c.cache.SetPrice(ctx, tokenAddress, out)
	}

	return out, domain.OutcomeResolved, nil
}

// bestPair picks the deepest pool; thin pools quote junk prices.
func bestPair(pairs []pair) (pair, bool) {
	var best pair
	found := false
	for _, p := range pairs {
		if p.PriceUSD == "" {
			continue
		}
		if !found || p.Liquidity.USD > best.Liquidity.USD {
			best = p
			found = true
		}
	}
	return best, found
}

// pace blocks until the shared limiter admits the call, bounded by ctx.
func (c *Client) pace(ctx context.Context) error {
	if c.limiter == nil || c.rateLimit <= 0 {
		return nil
	}
	if err := c.limiter.Wait(ctx, "dexscreener", c.rateLimit, c.rateWindow); err != nil {
		return fmt.Errorf("dexscreener: rate limiter: %w", err)
	}
	return nil
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

func classify(err error) domain.Outcome {
	if errors.Is(err, domain.ErrNotFound) {
		return domain.OutcomePermanent
	}
	return domain.OutcomeRetryable
}

// Compile-time interface check.
var _ domain.PriceOracle = (*Client)(nil)
