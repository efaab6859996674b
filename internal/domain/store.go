package domain

import (
	"context"
	"io"
	"time"
)

// OpportunityStore persists detected opportunities for audit and analysis.
type OpportunityStore interface {
	Insert(ctx context.Context, opp Opportunity) error
	// MarkExecuted flags an opportunity after its single execution attempt.
	MarkExecuted(ctx context.Context, id string) error
	ListRecent(ctx context.Context, limit int) ([]Opportunity, error)
	// ListBefore returns opportunities detected strictly before the cutoff,
	// for cold-storage archival.
	ListBefore(ctx context.Context, before time.Time) ([]Opportunity, error)
}

// TradeStore persists execution outcomes.
type TradeStore interface {
	Insert(ctx context.Context, res TradeResult) error
	ListRecent(ctx context.Context, limit int) ([]TradeResult, error)
	ListBefore(ctx context.Context, before time.Time) ([]TradeResult, error)
	// DailyPnL sums realized profit minus gas for trades completed on the
	// given UTC calendar day.
	DailyPnL(ctx context.Context, day time.Time) (float64, error)
}

// QuoteCache holds the most recent venue quote per (venue, pair) with a TTL,
// so slow consumers (status queries, dashboards) never hit venues directly.
type QuoteCache interface {
	SetQuote(ctx context.Context, q VenueQuote) error
	GetQuote(ctx context.Context, venue, pair string) (VenueQuote, error)
}

// BlobWriter uploads an object to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
}
