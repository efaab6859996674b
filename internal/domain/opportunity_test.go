package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOpportunityExpiry(t *testing.T) {
	detected := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	opp := Opportunity{DetectedAt: detected, TTL: 30 * time.Second}

	assert.Equal(t, detected.Add(30*time.Second), opp.ExpiresAt())
	assert.False(t, opp.Expired(detected.Add(30*time.Second)), "expiry boundary is inclusive")
	assert.True(t, opp.Expired(detected.Add(31*time.Second)))
}

func TestTradeResultPnL(t *testing.T) {
	win := TradeResult{Success: true, Profit: 25, GasCost: 5}
	assert.InDelta(t, 20.0, win.PnL(), 1e-9)

	// A failed attempt still burned gas.
	fail := TradeResult{Success: false, GasCost: 8}
	assert.InDelta(t, -8.0, fail.PnL(), 1e-9)
}

func TestRiskSnapshotHelpers(t *testing.T) {
	var s RiskSnapshot
	assert.False(t, s.AnyBreaker())
	assert.InDelta(t, 1.0, s.SuccessRate(), 1e-9)

	s.BreakerRapid = true
	s.TotalTrades = 4
	s.Successes = 1
	assert.True(t, s.AnyBreaker())
	assert.InDelta(t, 0.25, s.SuccessRate(), 1e-9)
}

func TestRiskDecisionRejected(t *testing.T) {
	d := RiskDecision{Violations: []ViolationCode{ViolationCooldown, ViolationDailyLoss}}
	assert.True(t, d.Rejected(ViolationCooldown))
	assert.False(t, d.Rejected(ViolationEmergencyStop))
}
