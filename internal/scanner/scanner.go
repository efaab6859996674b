// Package scanner polls configured trading pairs across configured venues and
// emits cross-venue arbitrage opportunities. Venue failures are tolerated per
// venue and cycle failures per cycle; the scan loop itself never terminates
// on error.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vantrace/flasharb/internal/domain"
	"github.com/vantrace/flasharb/internal/metrics"
)

// defaultGasEstimate is assumed for a venue leg when the quote carries no gas
// estimate of its own.
const defaultGasEstimate uint64 = 250_000

// Quoter is a single venue's quote source. Implementations may poll REST or
// serve from a streaming feed.
type Quoter interface {
	Name() string
	Quote(ctx context.Context, pair string) (domain.VenueQuote, error)
}

// GasOracle supplies the per-cycle gas price reading used to cost
// opportunities.
type GasOracle interface {
	GasPriceGwei(ctx context.Context) (float64, error)
}

// Config holds the scanner's tunable parameters.
type Config struct {
	Pairs        []string
	Interval     time.Duration
	ErrorBackoff time.Duration
	QuoteTimeout time.Duration
	// MinProfitUSD is the inclusive net-profit floor: an opportunity whose
	// net profit equals the threshold is emitted.
	MinProfitUSD        float64
	LiquidityBaseline   float64
	VolumeCap           float64
	OpportunityTTL      time.Duration
	HistorySize         int
	NativeTokenPriceUSD float64
}

// Scanner runs the polling loop. Start and Stop are idempotent; a second
// Start while running is a no-op and never creates a second loop.
type Scanner struct {
	cfg     Config
	quoters []Quoter
	gas     GasOracle
	cache   domain.QuoteCache // optional
	bus     domain.EventBus   // optional
	logger  *slog.Logger

	out chan domain.Opportunity

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	histMu  sync.Mutex
	history []domain.Opportunity
}

// New creates a Scanner. cache and bus may be nil; the scanner then skips
// quote caching and audit publishing.
func New(cfg Config, quoters []Quoter, gas GasOracle, cache domain.QuoteCache, bus domain.EventBus, logger *slog.Logger) *Scanner {
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	return &Scanner{
		cfg:     cfg,
		quoters: quoters,
		gas:     gas,
		cache:   cache,
		bus:     bus,
		logger:  logger.With(slog.String("component", "scanner")),
		out:     make(chan domain.Opportunity, 64),
	}
}

// Out returns the channel on which detected opportunities are delivered.
func (s *Scanner) Out() <-chan domain.Opportunity {
	return s.out
}

// Start launches the polling loop. Calling Start while already running is a
// no-op.
func (s *Scanner) Start(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("start ignored: scanner already running")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(runCtx)

	s.logger.Info("scanner started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Int("pairs", len(s.cfg.Pairs)),
		slog.Int("venues", len(s.quoters)),
	)
	s.publish(runCtx, domain.NewEvent(domain.EventScannerStarted, nil))
}

// Stop halts the polling loop and waits for the in-flight cycle to finish.
// Calling Stop when not running is a no-op.
func (s *Scanner) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.logger.Info("scanner stopped")
	s.publish(context.Background(), domain.NewEvent(domain.EventScannerStopped, nil))
}

// run executes scan cycles until the context is cancelled. A failed cycle is
// logged and followed by the longer error backoff; the loop never exits on
// error.
func (s *Scanner) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := s.scanCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("scan cycle failed, backing off",
				slog.String("error", err.Error()),
				slog.Duration("backoff", s.cfg.ErrorBackoff),
			)
			s.publish(ctx, domain.NewEvent(domain.EventAgentError, map[string]any{
				"agent": "scanner",
				"error": err.Error(),
			}))
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.ErrorBackoff):
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// scanCycle performs one full scan over all pairs. Per-venue and per-pair
// failures are swallowed; only cycle-level faults (gas oracle down, panic)
// surface as an error to trigger the backoff.
func (s *Scanner) scanCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scanner: cycle panic: %v", r)
		}
	}()

	start := time.Now()

	gasGwei, err := s.gas.GasPriceGwei(ctx)
	if err != nil {
		return fmt.Errorf("scanner: gas price reading: %w", err)
	}

	var (
		mu    sync.Mutex
		found []domain.Opportunity
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, pair := range s.cfg.Pairs {
		g.Go(func() error {
			opp, ok := s.scanPair(gctx, pair, gasGwei)
			if ok {
				mu.Lock()
				found = append(found, opp)
				mu.Unlock()
			}
			// Pair-level problems never fail the cycle for sibling pairs.
			return nil
		})
	}
	_ = g.Wait()

	for _, opp := range found {
		s.emit(ctx, opp)
	}

	elapsed := time.Since(start)
	metrics.ScanCycles.Inc()
	metrics.ScanDuration.Observe(elapsed.Seconds())

	s.logger.Debug("scan complete",
		slog.Int("opportunities", len(found)),
		slog.Duration("duration", elapsed),
	)
	s.publish(ctx, domain.NewEvent(domain.EventScanComplete, map[string]any{
		"opportunities": len(found),
		"duration_ms":   elapsed.Milliseconds(),
	}))

	return nil
}

// scanPair gathers quotes from every venue concurrently and reduces them to
// at most one opportunity: the single best net-profit ordered venue
// combination, and only when net profit meets the threshold.
func (s *Scanner) scanPair(ctx context.Context, pair string, gasGwei float64) (domain.Opportunity, bool) {
	var (
		mu     sync.Mutex
		quotes []domain.VenueQuote
	)

	var wg sync.WaitGroup
	for _, q := range s.quoters {
		wg.Add(1)
		go func() {
			defer wg.Done()

			quoteCtx, cancel := context.WithTimeout(ctx, s.cfg.QuoteTimeout)
			defer cancel()

			quote, err := q.Quote(quoteCtx, pair)
			if err != nil {
				// Venue failures are expected; exclude the venue this cycle.
				s.logger.Debug("venue quote failed",
					slog.String("venue", q.Name()),
					slog.String("pair", pair),
					slog.String("error", err.Error()),
				)
				return
			}

			if s.cache != nil {
				if cerr := s.cache.SetQuote(ctx, quote); cerr != nil {
					s.logger.Debug("quote cache write failed", slog.String("error", cerr.Error()))
				}
			}

			mu.Lock()
			quotes = append(quotes, quote)
			mu.Unlock()
		}()
	}
	wg.Wait()

	// A pair proceeds only with a two-venue quorum. Fewer responses yield no
	// opportunity this cycle, not an error.
	if len(quotes) < 2 {
		return domain.Opportunity{}, false
	}

	best, ok := s.bestCombination(pair, quotes, gasGwei)
	if !ok {
		return domain.Opportunity{}, false
	}
	return best, true
}

// bestCombination evaluates every ordered (buy venue, sell venue) pairing and
// returns the one with the highest net profit, provided that profit meets the
// inclusive threshold.
func (s *Scanner) bestCombination(pair string, quotes []domain.VenueQuote, gasGwei float64) (domain.Opportunity, bool) {
	var (
		best  domain.Opportunity
		found bool
	)

	for i, buy := range quotes {
		for j, sell := range quotes {
			if i == j {
				continue
			}

			volume := min(buy.Liquidity, sell.Liquidity)
			if volume > s.cfg.VolumeCap {
				volume = s.cfg.VolumeCap
			}
			if volume <= 0 {
				continue
			}

			gasUnits := legGas(buy) + legGas(sell)
			gasCost := float64(gasUnits) * gasGwei * 1e-9 * s.cfg.NativeTokenPriceUSD

			gross := (sell.SellPrice - buy.BuyPrice) * volume
			net := gross - gasCost
			if net < s.cfg.MinProfitUSD {
				continue
			}
			if found && net <= best.NetProfit {
				continue
			}

			liquidity := min(buy.Liquidity, sell.Liquidity)
			notional := buy.BuyPrice * volume

			best = domain.Opportunity{
				ID:           uuid.New().String(),
				Pair:         pair,
				BuyVenue:     buy.Venue,
				SellVenue:    sell.Venue,
				BuyPrice:     buy.BuyPrice,
				SellPrice:    sell.SellPrice,
				Volume:       volume,
				Liquidity:    liquidity,
				GasEstimate:  gasUnits,
				GasPriceGwei: gasGwei,
				GasCostUSD:   gasCost,
				GrossProfit:  gross,
				NetProfit:    net,
				ProfitPct:    net / notional * 100,
				Confidence:   s.confidence(liquidity),
				DetectedAt:   time.Now().UTC(),
				TTL:          s.cfg.OpportunityTTL,
			}
			found = true
		}
	}

	return best, found
}

// confidence maps available liquidity to a 0-100 confidence value, capped at
// 95. The mapping is a configuration policy, not a contract: quotes at or
// above the baseline saturate at the cap.
func (s *Scanner) confidence(liquidity float64) float64 {
	ratio := liquidity / s.cfg.LiquidityBaseline
	if ratio > 1 {
		ratio = 1
	}
	conf := 50 + 45*ratio
	if conf > 95 {
		conf = 95
	}
	return conf
}

// legGas returns a leg's gas estimate, defaulting when the venue did not
// provide one.
func legGas(q domain.VenueQuote) uint64 {
	if q.GasEstimate > 0 {
		return q.GasEstimate
	}
	return defaultGasEstimate
}

// emit delivers the opportunity downstream and records it in the bounded
// history ring.
func (s *Scanner) emit(ctx context.Context, opp domain.Opportunity) {
	s.histMu.Lock()
	s.history = append(s.history, opp)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
	s.histMu.Unlock()

	metrics.OpportunitiesFound.Inc()

	s.logger.Info("opportunity found",
		slog.String("id", opp.ID),
		slog.String("pair", opp.Pair),
		slog.String("buy_venue", opp.BuyVenue),
		slog.String("sell_venue", opp.SellVenue),
		slog.Float64("net_profit", opp.NetProfit),
		slog.Float64("confidence", opp.Confidence),
	)
	s.publish(ctx, domain.NewEvent(domain.EventOpportunityFound, map[string]any{
		"id":         opp.ID,
		"pair":       opp.Pair,
		"buy_venue":  opp.BuyVenue,
		"sell_venue": opp.SellVenue,
		"net_profit": opp.NetProfit,
	}))

	select {
	case s.out <- opp:
	case <-ctx.Done():
	}
}

// History returns a copy of the recent-opportunity ring, newest last.
func (s *Scanner) History() []domain.Opportunity {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	out := make([]domain.Opportunity, len(s.history))
	copy(out, s.history)
	return out
}

// Running reports whether the polling loop is active.
func (s *Scanner) Running() bool {
	return s.running.Load()
}

// publish sends an audit event, tolerating a missing or failing bus.
func (s *Scanner) publish(ctx context.Context, ev domain.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.logger.Debug("audit publish failed", slog.String("error", err.Error()))
	}
}
