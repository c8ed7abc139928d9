package helius

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
)

const txBody = `[{
	"signature": "sig-1",
	"timestamp": 1700000000,
	"tokenTransfers": [{
		"fromUserAccount": "wallet-1",
		"toUserAccount": "pool-1",
		"mint": "MintAAA",
		"tokenAmount": 1000
	}],
	"nativeTransfers": [{
		"fromUserAccount": "pool-1",
		"toUserAccount": "wallet-1",
		"amount": 2000000000
	}]
}]`

func newTestClient(baseURL string) *Client {
	return New(Config{BaseURL: baseURL, APIKey: "test-key", RequestTimeout: 2 * time.Second})
}

func TestRecentTransactionsRetriesTransientFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		w.Write([]byte(txBody))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	txs, outcome, err := c.RecentTransactions(context.Background(), "wallet-1", 50)

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeResolved, outcome)
	require.Len(t, txs, 1)
	assert.Equal(t, "sig-1", txs[0].Signature)
	assert.InDelta(t, 2.0, txs[0].NativeSOL, 1e-9, "counter-leg SOL should survive the retry")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRecentTransactionsDoesNotRetryAuthFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, outcome, err := c.RecentTransactions(context.Background(), "wallet-1", 50)

	require.Error(t, err)
	assert.Equal(t, domain.OutcomePermanent, outcome)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
