package risk

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vantrace/flasharb/internal/domain"
	"github.com/vantrace/flasharb/internal/metrics"
)

// State is the risk evaluator's mutable ledger: the daily PnL, the trade
// counters, the loss window, and the circuit breakers. All access goes through
// its mutex; snapshots are taken under the lock and returned by value.
type State struct {
	mu sync.Mutex

	day      time.Time // UTC date the daily ledger belongs to
	dailyPnL float64

	totalTrades       int
	successes         int
	consecutiveLosses int
	lossTimes         []time.Time
	lastTradeAt       time.Time

	emergencyStop      bool
	breakerConsecutive bool
	breakerRapid       bool
	breakerSuccessRate bool
}

// NewState returns an empty ledger.
func NewState() *State {
	return &State{}
}

// rollDay resets the daily ledger when the UTC calendar date has changed.
// Caller holds the lock.
func (s *State) rollDay(now time.Time) {
	date := now.UTC().Truncate(24 * time.Hour)
	if !date.Equal(s.day) {
		s.day = date
		s.dailyPnL = 0
		metrics.DailyPnL.Set(0)
	}
}

// pruneLosses drops loss timestamps that fell out of the rolling window and
// re-evaluates the rapid-loss breaker. Caller holds the lock.
func (s *State) pruneLosses(now time.Time, window time.Duration, limit int) {
	cutoff := now.Add(-window)
	kept := s.lossTimes[:0]
	for _, t := range s.lossTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.lossTimes = kept

	// The rapid breaker follows the window: it opens while enough losses sit
	// inside it and closes once they age out.
	rapid := len(s.lossTimes) >= limit
	if rapid != s.breakerRapid {
		s.breakerRapid = rapid
		setBreakerGauge("rapid", rapid)
	}
}

// snapshotLocked builds a RiskSnapshot. Caller holds the lock.
func (s *State) snapshotLocked() domain.RiskSnapshot {
	return domain.RiskSnapshot{
		DailyPnL:           s.dailyPnL,
		TotalTrades:        s.totalTrades,
		Successes:          s.successes,
		ConsecutiveLosses:  s.consecutiveLosses,
		RecentLosses:       len(s.lossTimes),
		EmergencyStop:      s.emergencyStop,
		BreakerConsecutive: s.breakerConsecutive,
		BreakerRapid:       s.breakerRapid,
		BreakerSuccessRate: s.breakerSuccessRate,
		LastTradeAt:        s.lastTradeAt,
	}
}

func setBreakerGauge(name string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	metrics.BreakerOpen.WithLabelValues(name).Set(v)
}

// RecordResult folds one completed trade into the ledger and re-evaluates
// every circuit breaker. It must be called exactly once per trade result,
// after execution and before the next opportunity is evaluated.
func (e *Evaluator) RecordResult(result domain.TradeResult) {
	now := e.now()

	e.state.mu.Lock()
	defer e.state.mu.Unlock()
	s := e.state

	s.rollDay(now)

	pnl := result.PnL()
	s.dailyPnL += pnl
	metrics.DailyPnL.Set(s.dailyPnL)

	s.totalTrades++
	s.lastTradeAt = now

	if result.Success && pnl >= 0 {
		s.successes++
		s.consecutiveLosses = 0
		if s.breakerConsecutive {
			s.breakerConsecutive = false
			setBreakerGauge("consecutive", false)
		}
	} else {
		s.consecutiveLosses++
		s.lossTimes = append(s.lossTimes, now)

		if s.consecutiveLosses >= e.cfg.ConsecutiveLossLimit && !s.breakerConsecutive {
			s.breakerConsecutive = true
			setBreakerGauge("consecutive", true)
			e.logger.Warn("consecutive-loss circuit breaker opened",
				slog.Int("consecutive_losses", s.consecutiveLosses),
			)
		}
	}

	s.pruneLosses(now, e.cfg.RapidLossWindow, e.cfg.RapidLossLimit)
	if s.breakerRapid {
		e.logger.Warn("rapid-loss circuit breaker open",
			slog.Int("recent_losses", len(s.lossTimes)),
			slog.Duration("window", e.cfg.RapidLossWindow),
		)
	}

	// The success-rate breaker only ever opens here; clearing it is a manual
	// operator action through ResetBreakers.
	if s.totalTrades >= e.cfg.SuccessRateMinTrades {
		rate := float64(s.successes) / float64(s.totalTrades)
		if rate < e.cfg.MinSuccessRate && !s.breakerSuccessRate {
			s.breakerSuccessRate = true
			setBreakerGauge("success_rate", true)
			e.logger.Warn("success-rate circuit breaker opened",
				slog.Float64("success_rate", rate),
				slog.Int("total_trades", s.totalTrades),
			)
		}
	}

	e.logger.Info("trade recorded",
		slog.String("opportunity_id", result.OpportunityID),
		slog.Bool("success", result.Success),
		slog.Float64("pnl", pnl),
		slog.Float64("daily_pnl", s.dailyPnL),
		slog.Int("consecutive_losses", s.consecutiveLosses),
	)
}

// TripEmergencyStop engages the emergency stop. All subsequent evaluations
// are rejected until ClearEmergencyStop.
func (e *Evaluator) TripEmergencyStop(reason string) {
	e.state.mu.Lock()
	already := e.state.emergencyStop
	e.state.emergencyStop = true
	e.state.mu.Unlock()

	metrics.EmergencyStop.Set(1)
	if !already {
		e.logger.Error("emergency stop engaged", slog.String("reason", reason))
	}
}

// ClearEmergencyStop releases the emergency stop. Circuit breakers are
// unaffected; they clear on their own terms or via ResetBreakers.
func (e *Evaluator) ClearEmergencyStop() {
	e.state.mu.Lock()
	e.state.emergencyStop = false
	e.state.mu.Unlock()

	metrics.EmergencyStop.Set(0)
	e.logger.Info("emergency stop cleared")
}

// ResetBreakers is the operator's manual clearance: it closes all three
// circuit breakers and zeroes the loss counters. The trade totals and the
// daily ledger are preserved.
func (e *Evaluator) ResetBreakers() {
	e.state.mu.Lock()
	s := e.state
	s.breakerConsecutive = false
	s.breakerRapid = false
	s.breakerSuccessRate = false
	s.consecutiveLosses = 0
	s.lossTimes = nil
	e.state.mu.Unlock()

	setBreakerGauge("consecutive", false)
	setBreakerGauge("rapid", false)
	setBreakerGauge("success_rate", false)
	e.logger.Info("circuit breakers reset")
}

// Snapshot returns a point-in-time copy of the ledger, with the loss window
// freshly pruned.
func (e *Evaluator) Snapshot() domain.RiskSnapshot {
	now := e.now()
	e.state.mu.Lock()
	defer e.state.mu.Unlock()
	e.state.rollDay(now)
	e.state.pruneLosses(now, e.cfg.RapidLossWindow, e.cfg.RapidLossLimit)
	return e.state.snapshotLocked()
}
