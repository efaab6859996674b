package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vantrace/flasharb/internal/domain"
)

// quoteTTL bounds how long a cached quote stays servable. Quotes go stale
// fast; downstream readers should prefer a miss over old prices.
const quoteTTL = 15 * time.Second

// QuoteCache stores the latest quote per (venue, pair) as JSON under a TTL.
// It implements domain.QuoteCache.
type QuoteCache struct {
	client *Client
}

// NewQuoteCache binds a cache to the shared client.
func NewQuoteCache(client *Client) *QuoteCache {
	return &QuoteCache{client: client}
}

func quoteKey(venue, pair string) string {
	return fmt.Sprintf("flasharb:quote:%s:%s", venue, pair)
}

// SetQuote stores the quote, replacing any previous value for the same
// (venue, pair).
func (c *QuoteCache) SetQuote(ctx context.Context, q domain.VenueQuote) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("redis: marshal quote: %w", err)
	}
	if err := c.client.RDB().Set(ctx, quoteKey(q.Venue, q.Pair), data, quoteTTL).Err(); err != nil {
		return fmt.Errorf("redis: set quote %s/%s: %w", q.Venue, q.Pair, err)
	}
	return nil
}

// GetQuote returns the cached quote, or domain.ErrNotFound when the key is
// missing or expired.
func (c *QuoteCache) GetQuote(ctx context.Context, venue, pair string) (domain.VenueQuote, error) {
	data, err := c.client.RDB().Get(ctx, quoteKey(venue, pair)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.VenueQuote{}, fmt.Errorf("redis: quote %s/%s: %w", venue, pair, domain.ErrNotFound)
	}
	if err != nil {
		return domain.VenueQuote{}, fmt.Errorf("redis: get quote %s/%s: %w", venue, pair, err)
	}

	var q domain.VenueQuote
	if err := json.Unmarshal(data, &q); err != nil {
		return domain.VenueQuote{}, fmt.Errorf("redis: unmarshal quote %s/%s: %w", venue, pair, err)
	}
	return q, nil
}

var _ domain.QuoteCache = (*QuoteCache)(nil)
