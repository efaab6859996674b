// Package venue provides quote-source adapters for the scanner: a polling
// REST quoter and a streaming WebSocket quoter that keeps the latest quote
// warm. Venues are soft dependencies; every method here can fail or time out
// and the scanner tolerates that per venue.
package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/vantrace/flasharb/internal/domain"
)

// quotePayload is the wire shape venues answer quote requests with.
type quotePayload struct {
	Pair        string  `json:"pair"`
	BuyPrice    float64 `json:"buy_price"`
	SellPrice   float64 `json:"sell_price"`
	Liquidity   float64 `json:"liquidity"`
	FeeRate     float64 `json:"fee_rate"`
	GasEstimate uint64  `json:"gas_estimate"`
}

// HTTPQuoter fetches quotes from a venue's REST endpoint.
type HTTPQuoter struct {
	name     string
	endpoint string
	client   *http.Client
}

// NewHTTPQuoter creates a quoter for the given venue endpoint. The timeout
// bounds each individual quote request; the scanner additionally applies its
// own per-cycle deadline.
func NewHTTPQuoter(name, endpoint string, timeout time.Duration) *HTTPQuoter {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPQuoter{
		name:     name,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Name returns the venue identifier.
func (q *HTTPQuoter) Name() string {
	return q.name
}

// Quote requests the venue's current two-sided quote for the pair.
func (q *HTTPQuoter) Quote(ctx context.Context, pair string) (domain.VenueQuote, error) {
	reqURL := fmt.Sprintf("%s?pair=%s", q.endpoint, url.QueryEscape(pair))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return domain.VenueQuote{}, fmt.Errorf("venue %s: create request: %w", q.name, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := q.client.Do(req)
	if err != nil {
		return domain.VenueQuote{}, fmt.Errorf("venue %s: quote %s: %w", q.name, pair, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.VenueQuote{}, fmt.Errorf("venue %s: quote %s: unexpected status %d", q.name, pair, resp.StatusCode)
	}

	var payload quotePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.VenueQuote{}, fmt.Errorf("venue %s: decode quote: %w", q.name, err)
	}
	if payload.BuyPrice <= 0 || payload.SellPrice <= 0 {
		return domain.VenueQuote{}, fmt.Errorf("venue %s: quote %s: non-positive prices", q.name, pair)
	}

	return domain.VenueQuote{
		Venue:       q.name,
		Pair:        pair,
		BuyPrice:    payload.BuyPrice,
		SellPrice:   payload.SellPrice,
		Liquidity:   payload.Liquidity,
		FeeRate:     payload.FeeRate,
		GasEstimate: payload.GasEstimate,
		Timestamp:   time.Now().UTC(),
	}, nil
}
