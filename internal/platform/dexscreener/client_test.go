package dexscreener

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletwatch/internal/domain"
	"walletwatch/internal/testkit"
)

const pairsBody = `{"pairs":[{"priceUsd":"0.05","marketCap":120000,"fdv":150000,"liquidity":{"usd":80000}}]}`

func newTestClient(baseURL string) *Client {
	return New(Config{BaseURL: baseURL, RequestTimeout: 2 * time.Second})
}

func TestGetPriceRetriesTransientFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		w.Write([]byte(pairsBody))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	price, outcome, err := c.GetPrice(context.Background(), "So11111111111111111111111111111111111111112")

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeResolved, outcome)
	assert.InDelta(t, 0.05, price.PriceUSD, 1e-9)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "one transient failure should cost exactly one retry")
}

func TestGetPriceDoesNotRetryPermanentFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "no such token", http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, outcome, err := c.GetPrice(context.Background(), "BadToken")

	require.Error(t, err)
	assert.Equal(t, domain.OutcomePermanent, outcome)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGetPriceGivesUpAfterRetryBound(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "still down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, outcome, err := c.GetPrice(context.Background(), "SomeToken")

	require.Error(t, err)
	assert.Equal(t, domain.OutcomeRetryable, outcome)
	assert.Equal(t, int32(retryAttempts), atomic.LoadInt32(&calls))
}

func TestGetPricePacesEveryAttempt(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		w.Write([]byte(pairsBody))
	}))
	defer srv.Close()

	limiter := testkit.NewRateLimiter()
	c := New(Config{
		BaseURL:        srv.URL,
		RequestTimeout: 2 * time.Second,
		Limiter:        limiter,
		RateLimit:      10,
		RateWindow:     time.Second,
	})

	_, _, err := c.GetPrice(context.Background(), "SomeToken")

	require.NoError(t, err)
	assert.Equal(t, 2, limiter.WaitCalls["dexscreener"], "every attempt must wait on the shared limiter")
}

func TestGetPricePrefersDeepestPool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pairs":[
			{"priceUsd":"9.99","marketCap":1,"liquidity":{"usd":10}},
			{"priceUsd":"0.05","marketCap":120000,"liquidity":{"usd":80000}}
		]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	price, _, err := c.GetPrice(context.Background(), "SomeToken")

	require.NoError(t, err)
	assert.InDelta(t, 0.05, price.PriceUSD, 1e-9)
}
