package s3

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantrace/flasharb/internal/domain"
)

type stubOppStore struct {
	rows []domain.Opportunity
}

func (s *stubOppStore) Insert(ctx context.Context, opp domain.Opportunity) error { return nil }
func (s *stubOppStore) MarkExecuted(ctx context.Context, id string) error        { return nil }

func (s *stubOppStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	return s.rows, nil
}

func (s *stubOppStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error) {
	var out []domain.Opportunity
	for _, r := range s.rows {
		if r.DetectedAt.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

type stubTradeStore struct {
	rows []domain.TradeResult
}

func (s *stubTradeStore) Insert(ctx context.Context, res domain.TradeResult) error { return nil }

func (s *stubTradeStore) ListRecent(ctx context.Context, limit int) ([]domain.TradeResult, error) {
	return s.rows, nil
}

func (s *stubTradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeResult, error) {
	var out []domain.TradeResult
	for _, r := range s.rows {
		if r.CompletedAt.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubTradeStore) DailyPnL(ctx context.Context, day time.Time) (float64, error) {
	return 0, nil
}

type stubWriter struct {
	keys   []string
	putErr error
}

func (w *stubWriter) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	if w.putErr != nil {
		return w.putErr
	}
	w.keys = append(w.keys, key)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func agedRecords() (*stubOppStore, *stubTradeStore) {
	old := time.Now().UTC().Add(-100 * 24 * time.Hour)
	opps := &stubOppStore{rows: []domain.Opportunity{
		{ID: "opp-old", Pair: "WETH/USDC", DetectedAt: old},
	}}
	trades := &stubTradeStore{rows: []domain.TradeResult{
		{OpportunityID: "opp-old", Success: true, CompletedAt: old},
	}}
	return opps, trades
}

func TestSweepExportsAgedRows(t *testing.T) {
	opps, trades := agedRecords()
	w := &stubWriter{}
	a := NewArchiver(w, opps, trades, 90, testLogger())

	require.NoError(t, a.Sweep(context.Background()))

	require.Len(t, w.keys, 2)
	assert.Contains(t, w.keys[0], "opportunities/")
	assert.Contains(t, w.keys[1], "trades/")
}

func TestSweepDoesNotReexportArchivedRows(t *testing.T) {
	opps, trades := agedRecords()
	w := &stubWriter{}
	a := NewArchiver(w, opps, trades, 90, testLogger())

	require.NoError(t, a.Sweep(context.Background()))
	require.Len(t, w.keys, 2)

	// The rows are still in the store, but the second sweep must skip them.
	require.NoError(t, a.Sweep(context.Background()))
	assert.Len(t, w.keys, 2)
}

func TestSweepRetriesAfterFailedUpload(t *testing.T) {
	opps, trades := agedRecords()
	w := &stubWriter{putErr: errors.New("bucket unavailable")}
	a := NewArchiver(w, opps, trades, 90, testLogger())

	require.Error(t, a.Sweep(context.Background()))

	// The mark did not advance, so the rows are exported once storage is back.
	w.putErr = nil
	require.NoError(t, a.Sweep(context.Background()))
	assert.Len(t, w.keys, 2)
}
