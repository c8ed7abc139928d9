// Package helius is the REST client for the Helius enhanced transactions and
// webhooks APIs.
package helius

import (
	"bytes"
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

// Transient failures are retried inline up to retryAttempts before a fetch
// is given up; the reserved credits cover the whole attempt group.
const (
	retryAttempts  = 3
	retryBaseDelay = 200 * time.Millisecond
)

// Client talks to the Helius API. Every history fetch consumes provider
// credits, so callers must reserve budget before invoking RecentTransactions.
type Client struct {
	baseURL    string
	apiKey     string
	creditCost int
	httpClient *http.Client

	limiter    domain.RateLimiter
	rateLimit  int
	rateWindow time.Duration
}

// Config holds Client construction parameters.
type Config struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	// HistoryCreditCost is the provider credit cost of one history fetch.
	HistoryCreditCost int

	// Limiter paces outbound calls when non-nil.
	Limiter    domain.RateLimiter
	RateLimit  int
	RateWindow time.Duration
}

// New creates a Helius API client.
func New(cfg Config) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cost := cfg.HistoryCreditCost
	if cost <= 0 {
		cost = 10
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		creditCost: cost,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    cfg.Limiter,
		rateLimit:  cfg.RateLimit,
		rateWindow: cfg.RateWindow,
	}
}

// CreditCost returns the provider credit cost of one RecentTransactions call.
func (c *Client) CreditCost() int {
	return c.creditCost
}

// RecentTransactions fetches up to limit parsed transactions for a wallet,
// newest first. Transient provider failures are retried with backoff before
// the fetch is given up. The window is bounded by the provider; completeness
// is never guaranteed for highly active wallets.
func (c *Client) RecentTransactions(ctx context.Context, wallet string, limit int) ([]domain.WalletTransaction, domain.Outcome, error) {
	return platform.Retry(ctx, retryAttempts, retryBaseDelay, func(ctx context.Context) ([]domain.WalletTransaction, domain.Outcome, error) {
		return c.fetchTransactions(ctx, wallet, limit)
	})
}

func (c *Client) fetchTransactions(ctx context.Context, wallet string, limit int) ([]domain.WalletTransaction, domain.Outcome, error) {
	if err := c.pace(ctx); err != nil {
		return nil, domain.OutcomeRetryable, err
	}

	params := url.Values{}
	params.Set("api-key", c.apiKey)
	params.Set("limit", strconv.Itoa(limit))
	path := fmt.Sprintf("/v0/addresses/%s/transactions?%s", url.PathEscape(wallet), params.Encode())

	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, classify(err), fmt.Errorf("helius: recent transactions for %s: %w", wallet, err)
	}

	var txs []EnhancedTransaction
	if err := json.Unmarshal(body, &txs); err != nil {
		return nil, domain.OutcomePermanent, fmt.Errorf("helius: decode transactions: %w", err)
	}

	out := make([]domain.WalletTransaction, 0, len(txs))
	for i := range txs {
		out = append(out, toDomain(&txs[i], wallet))
	}
	return out, domain.OutcomeResolved, nil
}

// toDomain converts one enhanced transaction, extracting the SOL counter-leg
// relative to the wallet so sells can be priced from the swap itself.
func toDomain(tx *EnhancedTransaction, wallet string) domain.WalletTransaction {
	out := tx.ToDomain()

	// The largest native transfer into the wallet is the swap proceeds leg;
	// dust legs (rent, fees) are much smaller.
	var maxIn int64
	for _, nt := range tx.NativeTransfers {
		if nt.ToUserAccount == wallet && nt.Amount > maxIn {
			maxIn = nt.Amount
		}
	}
	out.NativeSOL = float64(maxIn) / lamportsPerSOL

	return out
}

// ToDomain converts the transaction's token legs without a wallet context.
// The webhook ingestion path uses this form; NativeSOL stays zero because
// the counter-leg is only meaningful relative to a single wallet.
func (tx *EnhancedTransaction) ToDomain() domain.WalletTransaction {
	out := domain.WalletTransaction{
		Signature: tx.Signature,
		Timestamp: time.Unix(tx.Timestamp, 0).UTC(),
	}
	for _, tt := range tx.TokenTransfers {
		out.Transfers = append(out.Transfers, domain.TokenTransfer{
			FromUserAccount: tt.FromUserAccount,
			ToUserAccount:   tt.ToUserAccount,
			Mint:            tt.Mint,
			Amount:          tt.TokenAmount,
		})
	}
	return out
}

// pace blocks until the shared limiter admits the call, bounded by ctx.
func (c *Client) pace(ctx context.Context) error {
	if c.limiter == nil || c.rateLimit <= 0 {
		return nil
	}
	if err := c.limiter.Wait(ctx, "helius", c.rateLimit, c.rateWindow); err != nil {
		return fmt.Errorf("helius: rate limiter: %w", err)
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

func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respBody any) error {
	var r io.Reader
	if reqBody != nil {
		payload, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return err
	}

	if respBody != nil && len(body) > 0 {
		if err := json.Unmarshal(body, respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

// classify maps transport-level failures to an outcome: auth failures and
// not-found are permanent, everything else is worth retrying.
func classify(err error) domain.Outcome {
	switch {
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrNotFound):
		return domain.OutcomePermanent
	default:
		return domain.OutcomeRetryable
	}
}
