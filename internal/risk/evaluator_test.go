package risk

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantrace/flasharb/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		MaxPositionUSD:       25_000,
		MinConfidence:        60,
		MaxSlippageBps:       500,
		MaxGasPriceGwei:      150,
		Cooldown:             10 * time.Second,
		MaxDailyLossUSD:      500,
		MinMarginPct:         0.5,
		ConsecutiveLossLimit: 3,
		RapidLossLimit:       5,
		RapidLossWindow:      5 * time.Minute,
		MinSuccessRate:       0.5,
		SuccessRateMinTrades: 10,
		ExecutionBudget:      60 * time.Second,
		StopLossPct:          0.95,
	}
}

// newTestEvaluator returns an evaluator with a controllable clock.
func newTestEvaluator(t *testing.T) (*Evaluator, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	e := New(testConfig(), NewState(), testLogger())
	e.now = func() time.Time { return now }
	return e, &now
}

// goodOpportunity clears every check: small position, high confidence, low
// slippage, healthy margin.
func goodOpportunity() domain.Opportunity {
	return domain.Opportunity{
		ID:           "opp-1",
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
		DetectedAt:   time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		TTL:          30 * time.Second,
	}
}

func TestEvaluateApproves(t *testing.T) {
	e, _ := newTestEvaluator(t)

	d := e.Evaluate(goodOpportunity())

	assert.True(t, d.Approved)
	assert.Empty(t, d.Violations)
	assert.Less(t, d.RiskScore, 50.0)
	assert.Equal(t, "opp-1", d.OpportunityID)
	assert.InDelta(t, 900.0, d.PositionSize, 1e-9) // notional scaled by 90% confidence
	assert.InDelta(t, 95.0, d.StopLossPrice, 1e-9)
	assert.Equal(t, 60*time.Second, d.TimeBudget)
}

func TestEvaluateCollectsAllViolations(t *testing.T) {
	e, _ := newTestEvaluator(t)
	e.TripEmergencyStop("test")

	opp := goodOpportunity()
	opp.Volume = 300       // notional 30k over the 25k cap
	opp.Liquidity = 100_000 // deep book, slippage stays in bounds
	opp.Confidence = 40
	opp.GasPriceGwei = 200

	d := e.Evaluate(opp)

	assert.False(t, d.Approved)
	assert.True(t, d.Rejected(domain.ViolationEmergencyStop))
	assert.True(t, d.Rejected(domain.ViolationPositionSize))
	assert.True(t, d.Rejected(domain.ViolationLowConfidence))
	assert.True(t, d.Rejected(domain.ViolationGasPrice))
	assert.Len(t, d.Violations, 4, "every failed check must be listed, not just the first")
}

func TestEvaluateDailyLossLimit(t *testing.T) {
	e, _ := newTestEvaluator(t)

	// One bad day: a single large loss breaches the 500 USD daily limit.
	e.RecordResult(domain.TradeResult{
		OpportunityID: "opp-loss",
		Success:       false,
		GasCost:       600,
	})

	d := e.Evaluate(goodOpportunity())
	assert.False(t, d.Approved)
	assert.True(t, d.Rejected(domain.ViolationDailyLoss))
}

func TestDailyLossLimitBoundaryIsExclusive(t *testing.T) {
	e, _ := newTestEvaluator(t)

	// Landing exactly on the limit leaves the day's budget intact; only a
	// deeper loss trips the check.
	e.RecordResult(domain.TradeResult{Success: false, GasCost: 500})
	assert.False(t, e.Evaluate(goodOpportunity()).Rejected(domain.ViolationDailyLoss))

	e.RecordResult(domain.TradeResult{Success: false, GasCost: 1})
	assert.True(t, e.Evaluate(goodOpportunity()).Rejected(domain.ViolationDailyLoss))
}

func TestEvaluateDailyLossResetsAtMidnightUTC(t *testing.T) {
	e, now := newTestEvaluator(t)

	e.RecordResult(domain.TradeResult{Success: false, GasCost: 600})
	require.True(t, e.Evaluate(goodOpportunity()).Rejected(domain.ViolationDailyLoss))

	// Cross into the next UTC day; the ledger starts fresh. The cooldown has
	// long expired and the single loss left no breaker open.
	*now = now.Add(24 * time.Hour)
	d := e.Evaluate(goodOpportunity())
	assert.False(t, d.Rejected(domain.ViolationDailyLoss))
	assert.True(t, d.Approved)
	assert.InDelta(t, 0.0, e.Snapshot().DailyPnL, 1e-9)
}

func TestEvaluateCooldown(t *testing.T) {
	e, now := newTestEvaluator(t)

	e.RecordResult(domain.TradeResult{Success: true, Profit: 20, GasCost: 5})

	d := e.Evaluate(goodOpportunity())
	assert.True(t, d.Rejected(domain.ViolationCooldown))

	*now = now.Add(11 * time.Second)
	d = e.Evaluate(goodOpportunity())
	assert.False(t, d.Rejected(domain.ViolationCooldown))
}

func TestEvaluateSlippage(t *testing.T) {
	e, _ := newTestEvaluator(t)

	opp := goodOpportunity()
	opp.Volume = 60
	opp.Liquidity = 1000 // 600 bps implied, over the 500 bps limit

	d := e.Evaluate(opp)
	assert.True(t, d.Rejected(domain.ViolationSlippage))
}

func TestEvaluateSoftScoreRejectsWithoutViolation(t *testing.T) {
	e, _ := newTestEvaluator(t)

	opp := goodOpportunity()
	opp.ProfitPct = 0.2  // thin margin: +30
	opp.Confidence = 65  // within 10 of the floor: +15
	opp.Volume = 30      // 300 bps, over half the limit: +10
	opp.Liquidity = 1000

	d := e.Evaluate(opp)
	assert.False(t, d.Approved)
	assert.Empty(t, d.Violations)
	assert.GreaterOrEqual(t, d.RiskScore, 50.0)
}

func TestPositionSizeIsCapped(t *testing.T) {
	e, _ := newTestEvaluator(t)

	opp := goodOpportunity()
	opp.Volume = 400 // notional 40k; 90% confidence still asks for 36k

	d := e.Evaluate(opp)
	assert.InDelta(t, 25_000.0, d.PositionSize, 1e-9)
}

func TestEmergencyStopForcesMaxScore(t *testing.T) {
	e, _ := newTestEvaluator(t)
	e.TripEmergencyStop("test")

	d := e.Evaluate(goodOpportunity())
	assert.False(t, d.Approved)
	assert.InDelta(t, 100.0, d.RiskScore, 1e-9)
}
