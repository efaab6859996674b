package risk

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantrace/flasharb/internal/domain"
)

func loss(i int) domain.TradeResult {
	return domain.TradeResult{
		OpportunityID: fmt.Sprintf("opp-%d", i),
		Success:       false,
		GasCost:       5,
	}
}

func win(i int) domain.TradeResult {
	return domain.TradeResult{
		OpportunityID: fmt.Sprintf("opp-%d", i),
		Success:       true,
		Profit:        20,
		GasCost:       5,
	}
}

func TestConsecutiveLossBreakerTripsAtLimit(t *testing.T) {
	e, now := newTestEvaluator(t)

	for i := 0; i < 2; i++ {
		e.RecordResult(loss(i))
		*now = now.Add(time.Minute)
	}
	assert.False(t, e.Snapshot().BreakerConsecutive)

	e.RecordResult(loss(2))
	snap := e.Snapshot()
	assert.True(t, snap.BreakerConsecutive)
	assert.Equal(t, 3, snap.ConsecutiveLosses)

	// With a breaker open, the evaluator rejects everything.
	*now = now.Add(time.Minute)
	d := e.Evaluate(goodOpportunity())
	assert.False(t, d.Approved)
	assert.True(t, d.Rejected(domain.ViolationCircuitBreaker))
}

func TestSuccessResetsConsecutiveLossCount(t *testing.T) {
	e, now := newTestEvaluator(t)

	e.RecordResult(loss(0))
	e.RecordResult(loss(1))
	*now = now.Add(time.Minute)
	e.RecordResult(win(2))
	require.Equal(t, 0, e.Snapshot().ConsecutiveLosses)

	// The streak starts over; two more losses still leave the breaker shut.
	e.RecordResult(loss(3))
	e.RecordResult(loss(4))
	assert.False(t, e.Snapshot().BreakerConsecutive)
}

func TestRapidLossBreakerFollowsWindow(t *testing.T) {
	e, now := newTestEvaluator(t)

	// Five losses inside five minutes trip the rapid breaker. Wins between
	// them keep the consecutive counter from tripping first.
	for i := 0; i < 5; i++ {
		e.RecordResult(loss(i))
		*now = now.Add(30 * time.Second)
		e.RecordResult(win(100 + i))
		*now = now.Add(10 * time.Second)
	}
	snap := e.Snapshot()
	assert.True(t, snap.BreakerRapid)
	assert.False(t, snap.BreakerConsecutive)

	// Once the losses age out of the window the breaker closes on its own.
	*now = now.Add(6 * time.Minute)
	snap = e.Snapshot()
	assert.False(t, snap.BreakerRapid)
	assert.Zero(t, snap.RecentLosses)
}

func TestSuccessRateBreakerRequiresManualClearance(t *testing.T) {
	e, now := newTestEvaluator(t)

	// 3 wins and 7 losses over ten trades: 30% success, under the 50% floor.
	// Interleave so neither loss breaker trips first.
	seq := []bool{true, false, false, true, false, false, true, false, false, false}
	for i, ok := range seq {
		if ok {
			e.RecordResult(win(i))
		} else {
			e.RecordResult(loss(i))
		}
		*now = now.Add(2 * time.Minute)
	}
	require.True(t, e.Snapshot().BreakerSuccessRate)

	// Time passing never clears it.
	*now = now.Add(24 * time.Hour)
	assert.True(t, e.Snapshot().BreakerSuccessRate)

	// Only the operator's reset does.
	e.ResetBreakers()
	snap := e.Snapshot()
	assert.False(t, snap.BreakerSuccessRate)
	assert.False(t, snap.BreakerConsecutive)
	assert.False(t, snap.BreakerRapid)
	assert.Zero(t, snap.ConsecutiveLosses)
}

func TestEmergencyStopIndependentOfBreakers(t *testing.T) {
	e, _ := newTestEvaluator(t)

	e.TripEmergencyStop("operator request")
	d := e.Evaluate(goodOpportunity())
	assert.True(t, d.Rejected(domain.ViolationEmergencyStop))
	assert.False(t, d.Rejected(domain.ViolationCircuitBreaker))

	e.ClearEmergencyStop()
	d = e.Evaluate(goodOpportunity())
	assert.False(t, d.Rejected(domain.ViolationEmergencyStop))
}

func TestSnapshotSuccessRate(t *testing.T) {
	e, now := newTestEvaluator(t)

	assert.InDelta(t, 1.0, e.Snapshot().SuccessRate(), 1e-9)

	e.RecordResult(win(0))
	*now = now.Add(time.Minute)
	e.RecordResult(loss(1))

	snap := e.Snapshot()
	assert.Equal(t, 2, snap.TotalTrades)
	assert.Equal(t, 1, snap.Successes)
	assert.InDelta(t, 0.5, snap.SuccessRate(), 1e-9)
}
