package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vantrace/flasharb/internal/domain"
)

// archiveInterval is how often the archiver sweeps aged rows to cold storage.
const archiveInterval = 6 * time.Hour

// Archiver periodically exports opportunities and trades older than the
// retention cutoff to object storage as JSON lines, one object per sweep and
// record type. A high-water mark between sweeps keeps already-archived rows
// from being re-exported.
type Archiver struct {
	writer        domain.BlobWriter
	opportunities domain.OpportunityStore
	trades        domain.TradeStore
	retention     time.Duration
	logger        *slog.Logger

	mu   sync.Mutex
	mark time.Time // rows at or before this instant are already archived

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewArchiver creates an archiver sweeping records older than retentionDays.
func NewArchiver(writer domain.BlobWriter, opps domain.OpportunityStore, trades domain.TradeStore, retentionDays int, logger *slog.Logger) *Archiver {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &Archiver{
		writer:        writer,
		opportunities: opps,
		trades:        trades,
		retention:     time.Duration(retentionDays) * 24 * time.Hour,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Start launches the sweep loop. Calling Start while running is a no-op.
func (a *Archiver) Start(ctx context.Context) {
	if !a.running.CompareAndSwap(false, true) {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		ticker := time.NewTicker(archiveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := a.Sweep(runCtx); err != nil {
					a.logger.Error("archive sweep failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	a.logger.Info("archiver started", slog.Duration("retention", a.retention))
}

// Stop halts the sweep loop.
func (a *Archiver) Stop() {
	if !a.running.CompareAndSwap(true, false) {
		return
	}
	a.cancel()
	a.wg.Wait()
}

// Sweep exports records older than the retention cutoff that have not been
// archived by an earlier sweep. The mark only advances after both uploads
// succeed; a failed upload leaves the rows eligible for the next sweep, at
// the cost of a possible duplicate export of the batch that did go through.
func (a *Archiver) Sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-a.retention)
	stamp := time.Now().UTC().Format("20060102T150405")

	a.mu.Lock()
	mark := a.mark
	a.mu.Unlock()

	opps, err := a.opportunities.ListBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("s3: list opportunities for archive: %w", err)
	}
	opps = oppsAfter(opps, mark)
	if len(opps) > 0 {
		key := fmt.Sprintf("opportunities/%s.jsonl", stamp)
		if err := a.upload(ctx, key, toLines(opps)); err != nil {
			return err
		}
		a.logger.Info("opportunities archived", slog.Int("count", len(opps)), slog.String("key", key))
	}

	trades, err := a.trades.ListBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("s3: list trades for archive: %w", err)
	}
	trades = tradesAfter(trades, mark)
	if len(trades) > 0 {
		key := fmt.Sprintf("trades/%s.jsonl", stamp)
		if err := a.upload(ctx, key, toLines(trades)); err != nil {
			return err
		}
		a.logger.Info("trades archived", slog.Int("count", len(trades)), slog.String("key", key))
	}

	a.mu.Lock()
	a.mark = cutoff
	a.mu.Unlock()
	return nil
}

// oppsAfter drops opportunities already covered by the high-water mark.
func oppsAfter(rows []domain.Opportunity, mark time.Time) []domain.Opportunity {
	if mark.IsZero() {
		return rows
	}
	out := make([]domain.Opportunity, 0, len(rows))
	for _, r := range rows {
		if r.DetectedAt.After(mark) {
			out = append(out, r)
		}
	}
	return out
}

// tradesAfter drops trades already covered by the high-water mark.
func tradesAfter(rows []domain.TradeResult, mark time.Time) []domain.TradeResult {
	if mark.IsZero() {
		return rows
	}
	out := make([]domain.TradeResult, 0, len(rows))
	for _, r := range rows {
		if r.CompletedAt.After(mark) {
			out = append(out, r)
		}
	}
	return out
}

func (a *Archiver) upload(ctx context.Context, key string, body []byte) error {
	return a.writer.Put(ctx, key, bytes.NewReader(body), "application/x-ndjson")
}

// toLines renders a slice as newline-delimited JSON.
func toLines[T any](records []T) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		// Encoding value types of our own domain cannot fail.
		_ = enc.Encode(r)
	}
	return buf.Bytes()
}
