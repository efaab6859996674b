package domain

import "time"

// CheckResult is one health probe outcome.
type CheckResult struct {
	Name      string        `json:"name"`
	Healthy   bool          `json:"healthy"`
	Detail    string        `json:"detail,omitempty"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checked_at"`
}

// HealthAlert is one entry in the monitor's bounded alert ring.
type HealthAlert struct {
	Check  string    `json:"check"`
	Detail string    `json:"detail"`
	At     time.Time `json:"at"`
}

// HealthSnapshot is an immutable view of the health monitor's state, taken
// under the monitor's lock and safe to hand to status queries.
type HealthSnapshot struct {
	Healthy             bool          `json:"healthy"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	EmergencyTripped    bool          `json:"emergency_tripped"`
	LastCheck           time.Time     `json:"last_check"`
	Checks              []CheckResult `json:"checks"`
	Alerts              []HealthAlert `json:"alerts"`
}

// RiskSnapshot is an immutable view of the risk evaluator's state.
type RiskSnapshot struct {
	DailyPnL           float64   `json:"daily_pnl"`
	TotalTrades        int       `json:"total_trades"`
	Successes          int       `json:"successes"`
	ConsecutiveLosses  int       `json:"consecutive_losses"`
	RecentLosses       int       `json:"recent_losses"` // losses inside the rolling window
	EmergencyStop      bool      `json:"emergency_stop"`
	BreakerConsecutive bool      `json:"breaker_consecutive"`
	BreakerRapid       bool      `json:"breaker_rapid"`
	BreakerSuccessRate bool      `json:"breaker_success_rate"`
	LastTradeAt        time.Time `json:"last_trade_at"`
}

// AnyBreaker reports whether at least one circuit breaker is active.
func (s RiskSnapshot) AnyBreaker() bool {
	return s.BreakerConsecutive || s.BreakerRapid || s.BreakerSuccessRate
}

// SuccessRate returns the lifetime success rate, or 1 when no trades have
// completed yet.
func (s RiskSnapshot) SuccessRate() float64 {
	if s.TotalTrades == 0 {
		return 1
	}
	return float64(s.Successes) / float64(s.TotalTrades)
}
