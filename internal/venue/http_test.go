package venue

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPQuoterQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "WETH/USDC", r.URL.Query().Get("pair"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"pair": "WETH/USDC",
			"buy_price": 100.5,
			"sell_price": 100.1,
			"liquidity": 42,
			"fee_rate": 0.003,
			"gas_estimate": 180000
		}`))
	}))
	defer srv.Close()

	q := NewHTTPQuoter("uniswap", srv.URL, 2*time.Second)
	quote, err := q.Quote(context.Background(), "WETH/USDC")
	require.NoError(t, err)

	assert.Equal(t, "uniswap", quote.Venue)
	assert.Equal(t, "WETH/USDC", quote.Pair)
	assert.InDelta(t, 100.5, quote.BuyPrice, 1e-9)
	assert.InDelta(t, 100.1, quote.SellPrice, 1e-9)
	assert.InDelta(t, 42.0, quote.Liquidity, 1e-9)
	assert.EqualValues(t, 180000, quote.GasEstimate)
	assert.WithinDuration(t, time.Now().UTC(), quote.Timestamp, time.Second)
}

func TestHTTPQuoterRejectsBadPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"pair":"WETH/USDC","buy_price":0,"sell_price":100}`))
	}))
	defer srv.Close()

	q := NewHTTPQuoter("uniswap", srv.URL, 2*time.Second)
	_, err := q.Quote(context.Background(), "WETH/USDC")
	assert.ErrorContains(t, err, "non-positive prices")
}

func TestHTTPQuoterStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	q := NewHTTPQuoter("uniswap", srv.URL, 2*time.Second)
	_, err := q.Quote(context.Background(), "WETH/USDC")
	assert.ErrorContains(t, err, "unexpected status 502")
}

func TestWSQuoterServesOnlyFreshQuotes(t *testing.T) {
	q := NewWSQuoter("sushiswap", "ws://example.invalid/feed", []string{"WETH/USDC"}, testLogger())

	_, err := q.Quote(context.Background(), "WETH/USDC")
	assert.ErrorContains(t, err, "no streamed quote")

	q.mu.Lock()
	quote := q.latest
	quote["WETH/USDC"] = stubQuote(time.Now().UTC())
	q.mu.Unlock()

	got, err := q.Quote(context.Background(), "WETH/USDC")
	require.NoError(t, err)
	assert.Equal(t, "sushiswap", got.Venue)

	q.mu.Lock()
	quote["WETH/USDC"] = stubQuote(time.Now().UTC().Add(-time.Minute))
	q.mu.Unlock()

	_, err = q.Quote(context.Background(), "WETH/USDC")
	assert.ErrorContains(t, err, "stale")
}
