package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantrace/flasharb/internal/domain"
	"github.com/vantrace/flasharb/internal/engine"
	"github.com/vantrace/flasharb/internal/health"
	"github.com/vantrace/flasharb/internal/risk"
	"github.com/vantrace/flasharb/internal/scanner"
)

type stubGas struct{ gwei float64 }

func (s *stubGas) GasPriceGwei(ctx context.Context) (float64, error) { return s.gwei, nil }

type stubHandle struct{ settlement engine.Settlement }

func (h *stubHandle) Hash() string { return "0xtest" }
func (h *stubHandle) Wait(ctx context.Context) (engine.Settlement, error) {
	return h.settlement, nil
}

type stubBorrower struct {
	mu       sync.Mutex
	borrowed int
}

func (b *stubBorrower) Borrow(ctx context.Context, req engine.LoanRequest) (engine.TxHandle, error) {
	b.mu.Lock()
	b.borrowed++
	b.mu.Unlock()
	return &stubHandle{settlement: engine.Settlement{Executed: true, Profit: 12, GasCostUSD: 3}}, nil
}

func (b *stubBorrower) EstimateGasUSD(ctx context.Context, req engine.LoanRequest) (float64, error) {
	return 5, nil
}

func (b *stubBorrower) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.borrowed
}

type memOppStore struct {
	mu       sync.Mutex
	inserted []string
	executed []string
}

func (s *memOppStore) Insert(ctx context.Context, opp domain.Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, opp.ID)
	return nil
}

func (s *memOppStore) MarkExecuted(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed = append(s.executed, id)
	return nil
}

func (s *memOppStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	return nil, nil
}

func (s *memOppStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error) {
	return nil, nil
}

type memTradeStore struct {
	mu      sync.Mutex
	results []domain.TradeResult
}

func (s *memTradeStore) Insert(ctx context.Context, res domain.TradeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, res)
	return nil
}

func (s *memTradeStore) ListRecent(ctx context.Context, limit int) ([]domain.TradeResult, error) {
	return nil, nil
}

func (s *memTradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeResult, error) {
	return nil, nil
}

func (s *memTradeStore) DailyPnL(ctx context.Context, day time.Time) (float64, error) {
	return 0, nil
}

type failingProbe struct{}

func (p *failingProbe) Ping(ctx context.Context) (time.Duration, error) {
	return 0, errors.New("rpc unreachable")
}
func (p *failingProbe) SignerBalanceETH(ctx context.Context) (float64, error) { return 0, nil }
func (p *failingProbe) GasPriceGwei(ctx context.Context) (float64, error)     { return 0, nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRiskConfig() risk.Config {
	return risk.Config{
		MaxPositionUSD:       25_000,
		MinConfidence:        60,
		MaxSlippageBps:       500,
		MaxGasPriceGwei:      150,
		Cooldown:             time.Millisecond,
		MaxDailyLossUSD:      500,
		MinMarginPct:         0.5,
		ConsecutiveLossLimit: 3,
		RapidLossLimit:       5,
		RapidLossWindow:      5 * time.Minute,
		MinSuccessRate:       0.5,
		SuccessRateMinTrades: 10,
		ExecutionBudget:      5 * time.Second,
		StopLossPct:          0.95,
	}
}

func testOpportunity(id string) domain.Opportunity {
	return domain.Opportunity{
		ID:           id,
		Pair:         "WETH/USDC",
		BuyVenue:     "uniswap",
		SellVenue:    "sushiswap",
		BuyPrice:     100,
		SellPrice:    102,
		Volume:       10,
		Liquidity:    1000,
		GasPriceGwei: 30,
		NetProfit:    15,
		ProfitPct:    1.5,
		Confidence:   90,
		DetectedAt:   time.Now().UTC(),
		TTL:          30 * time.Second,
	}
}

// newTestOrchestrator wires a pipeline with in-memory infrastructure. The
// scanner never runs its loop in these tests; opportunities go straight
// through process.
func newTestOrchestrator(withEngine bool) (*Orchestrator, *stubBorrower, *memOppStore, *memTradeStore) {
	logger := testLogger()

	sc := scanner.New(scanner.Config{
		Pairs:               []string{"WETH/USDC"},
		Interval:            time.Hour,
		QuoteTimeout:        time.Second,
		MinProfitUSD:        10,
		LiquidityBaseline:   100,
		VolumeCap:           10,
		OpportunityTTL:      30 * time.Second,
		NativeTokenPriceUSD: 1000,
	}, nil, &stubGas{gwei: 10}, nil, nil, logger)

	ev := risk.New(testRiskConfig(), risk.NewState(), logger)

	borrower := &stubBorrower{}
	var eng *engine.Engine
	if withEngine {
		eng = engine.New(engine.Config{
			MaxConcurrent:        3,
			LoanCapUSD:           100_000,
			FallbackGasBudgetUSD: 50,
		}, borrower, nil, logger)
	}

	mon := health.New(health.Config{
		Interval:         time.Hour,
		FailureThreshold: 5,
	}, nil, nil, logger)

	opps := &memOppStore{}
	trades := &memTradeStore{}

	o := New(Config{Mode: "full", DrainTimeout: 5 * time.Second},
		sc, ev, eng, mon, opps, trades, nil, nil, logger)
	return o, borrower, opps, trades
}

func TestProcessExecutesApprovedInOrder(t *testing.T) {
	o, borrower, opps, trades := newTestOrchestrator(true)

	o.process(context.Background(), testOpportunity("opp-1"))

	assert.Equal(t, 1, borrower.count())
	assert.Equal(t, []string{"opp-1"}, opps.inserted)
	assert.Equal(t, []string{"opp-1"}, opps.executed)
	require.Len(t, trades.results, 1)
	assert.True(t, trades.results[0].Success)

	// The risk ledger saw the result after execution.
	snap := o.Evaluator().Snapshot()
	assert.Equal(t, 1, snap.TotalTrades)
	assert.Equal(t, 1, snap.Successes)
}

func TestProcessRejectedNeverExecutes(t *testing.T) {
	o, borrower, opps, trades := newTestOrchestrator(true)

	opp := testOpportunity("opp-low")
	opp.Confidence = 10

	o.process(context.Background(), opp)

	assert.Zero(t, borrower.count())
	assert.Equal(t, []string{"opp-low"}, opps.inserted, "rejected opportunities are still recorded")
	assert.Empty(t, opps.executed)
	assert.Empty(t, trades.results)
	assert.Zero(t, o.Evaluator().Snapshot().TotalTrades)
}

func TestProcessScanModeStopsAfterEvaluation(t *testing.T) {
	o, borrower, opps, _ := newTestOrchestrator(false)

	o.process(context.Background(), testOpportunity("opp-1"))

	assert.Zero(t, borrower.count())
	assert.Equal(t, []string{"opp-1"}, opps.inserted)
	assert.Zero(t, o.Evaluator().Snapshot().TotalTrades, "no execution means no risk state update")
}

func TestProcessDuplicateOpportunitySkipsRiskUpdate(t *testing.T) {
	o, borrower, _, trades := newTestOrchestrator(true)
	ctx := context.Background()

	o.process(ctx, testOpportunity("opp-1"))
	o.process(ctx, testOpportunity("opp-1"))

	assert.Equal(t, 1, borrower.count())
	assert.Len(t, trades.results, 1)
	assert.Equal(t, 1, o.Evaluator().Snapshot().TotalTrades)
}

func TestStartStopIdempotent(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(true)
	ctx := context.Background()

	require.NoError(t, o.Start(ctx))
	require.NoError(t, o.Start(ctx)) // no-op
	assert.True(t, o.Running())

	o.Stop()
	assert.False(t, o.Running())
	o.Stop() // no-op
}

func TestPreflightFailsClosed(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(true)
	o.chain = &failingProbe{}

	err := o.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "preflight")
	assert.False(t, o.Running(), "no partial pipeline may run after a failed preflight")
}

func TestEmergencyRestartBudget(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(true)
	ctx := context.Background()

	require.NoError(t, o.Start(ctx))

	// First trip: pipeline stops, recovers once, and keeps running.
	o.handleEmergency(ctx, "probe failures")
	assert.True(t, o.Running())
	assert.False(t, o.Evaluator().Snapshot().EmergencyStop, "recovery clears the stop")

	// Second trip exhausts the restart budget and surfaces as fatal.
	o.handleEmergency(ctx, "probe failures again")
	select {
	case err := <-o.fatal:
		assert.Contains(t, err.Error(), "restart budget")
	case <-time.After(time.Second):
		t.Fatal("expected a fatal error after the second emergency")
	}
	assert.False(t, o.Running())
}

func TestStatusSnapshot(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(true)

	st := o.Status()
	assert.False(t, st.Running)
	assert.Equal(t, "full", st.Mode)
	assert.Zero(t, st.Restarts)
	assert.Zero(t, st.Risk.TotalTrades)
}
