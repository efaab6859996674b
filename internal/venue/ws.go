package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vantrace/flasharb/internal/domain"
)

// maxQuoteAge is how long a streamed quote stays servable after the venue
// last pushed it.
const maxQuoteAge = 10 * time.Second

// WSQuoter consumes a venue's streaming quote feed and serves the most recent
// quote per pair from memory. Quote() never performs network I/O; if the feed
// has not delivered a fresh quote for the pair, the call fails and the
// scanner excludes the venue for that cycle.
type WSQuoter struct {
	name   string
	wsURL  string
	pairs  []string
	logger *slog.Logger

	mu     sync.RWMutex
	latest map[string]domain.VenueQuote // pair -> last streamed quote
}

// NewWSQuoter creates a streaming quoter for the given venue feed. Run must
// be started before Quote returns data.
func NewWSQuoter(name, wsURL string, pairs []string, logger *slog.Logger) *WSQuoter {
	return &WSQuoter{
		name:   name,
		wsURL:  wsURL,
		pairs:  pairs,
		logger: logger.With(slog.String("component", "ws_quoter"), slog.String("venue", name)),
		latest: make(map[string]domain.VenueQuote),
	}
}

// Name returns the venue identifier.
func (q *WSQuoter) Name() string {
	return q.name
}

// Quote returns the last streamed quote for the pair, failing when nothing
// fresh has arrived yet.
func (q *WSQuoter) Quote(ctx context.Context, pair string) (domain.VenueQuote, error) {
	q.mu.RLock()
	quote, ok := q.latest[pair]
	q.mu.RUnlock()

	if !ok {
		return domain.VenueQuote{}, fmt.Errorf("venue %s: no streamed quote for %s", q.name, pair)
	}
	if time.Since(quote.Timestamp) > maxQuoteAge {
		return domain.VenueQuote{}, fmt.Errorf("venue %s: quote for %s is stale", q.name, pair)
	}
	return quote, nil
}

// Run connects to the venue feed, subscribes to the configured pairs, and
// keeps the in-memory quote map current. It reconnects with backoff on
// disconnect and returns only when ctx is cancelled.
func (q *WSQuoter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := q.runConnection(ctx); err != nil && ctx.Err() == nil {
			q.logger.Warn("feed disconnected, reconnecting",
				slog.String("error", err.Error()),
			)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

// subscribeMsg is the feed subscription request.
type subscribeMsg struct {
	Op    string   `json:"op"`
	Pairs []string `json:"pairs"`
}

func (q *WSQuoter) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, q.wsURL, nil)
	if err != nil {
		return fmt.Errorf("venue %s: dial %s: %w", q.name, q.wsURL, err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeMsg{Op: "subscribe", Pairs: q.pairs}); err != nil {
		return fmt.Errorf("venue %s: subscribe: %w", q.name, err)
	}
	q.logger.Info("feed subscribed", slog.Int("pairs", len(q.pairs)))

	// Close the connection when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("venue %s: read: %w", q.name, err)
		}

		var payload quotePayload
		if err := json.Unmarshal(data, &payload); err != nil {
			q.logger.Debug("skipping unparseable feed message")
			continue
		}
		if payload.Pair == "" || payload.BuyPrice <= 0 || payload.SellPrice <= 0 {
			continue
		}

		q.mu.Lock()
		q.latest[payload.Pair] = domain.VenueQuote{
			Venue:       q.name,
			Pair:        payload.Pair,
			BuyPrice:    payload.BuyPrice,
			SellPrice:   payload.SellPrice,
			Liquidity:   payload.Liquidity,
			FeeRate:     payload.FeeRate,
			GasEstimate: payload.GasEstimate,
			Timestamp:   time.Now().UTC(),
		}
		q.mu.Unlock()
	}
}
