// Package risk evaluates detected opportunities against position limits,
// market-quality thresholds, and account state, and owns the circuit breakers
// that halt trading after sustained losses. It is the only component that
// mutates trading state; everyone else reads snapshots.
package risk

import (
	"log/slog"
	"time"

	"github.com/vantrace/flasharb/internal/domain"
	"github.com/vantrace/flasharb/internal/metrics"
)

// approvalScoreLimit is the risk score at or above which an opportunity is
// rejected even without a hard violation.
const approvalScoreLimit = 50.0

// Config holds the evaluator's thresholds and breaker limits.
type Config struct {
	MaxPositionUSD  float64
	MinConfidence   float64
	MaxSlippageBps  float64
	MaxGasPriceGwei float64
	Cooldown        time.Duration
	MaxDailyLossUSD float64
	MinMarginPct    float64

	ConsecutiveLossLimit int
	RapidLossLimit       int
	RapidLossWindow      time.Duration
	MinSuccessRate       float64
	SuccessRateMinTrades int

	ExecutionBudget time.Duration
	StopLossPct     float64
}

// Evaluator applies the risk checks and maintains the trading ledger.
type Evaluator struct {
	cfg    Config
	state  *State
	logger *slog.Logger

	// now is swapped by tests to drive the cooldown, loss-window, and daily
	// rollover logic deterministically.
	now func() time.Time
}

// New creates an Evaluator over the given state.
func New(cfg Config, state *State, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		cfg:    cfg,
		state:  state,
		logger: logger.With(slog.String("component", "risk")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate renders a verdict on one opportunity. Every check runs regardless
// of earlier failures so the decision lists all violations, not just the
// first. Approval requires zero violations and a risk score under the limit.
func (e *Evaluator) Evaluate(opp domain.Opportunity) domain.RiskDecision {
	now := e.now()

	e.state.mu.Lock()
	e.state.rollDay(now)
	e.state.pruneLosses(now, e.cfg.RapidLossWindow, e.cfg.RapidLossLimit)
	snap := e.state.snapshotLocked()
	e.state.mu.Unlock()

	var violations []domain.ViolationCode
	score := 0.0

	if snap.EmergencyStop {
		violations = append(violations, domain.ViolationEmergencyStop)
	}
	if snap.AnyBreaker() {
		violations = append(violations, domain.ViolationCircuitBreaker)
	}
	if opp.Notional() > e.cfg.MaxPositionUSD {
		violations = append(violations, domain.ViolationPositionSize)
	}
	if opp.Confidence < e.cfg.MinConfidence {
		violations = append(violations, domain.ViolationLowConfidence)
	}

	slippage := impliedSlippageBps(opp)
	if slippage > e.cfg.MaxSlippageBps {
		violations = append(violations, domain.ViolationSlippage)
	}
	if opp.GasPriceGwei > e.cfg.MaxGasPriceGwei {
		violations = append(violations, domain.ViolationGasPrice)
	}
	if !snap.LastTradeAt.IsZero() && now.Sub(snap.LastTradeAt) < e.cfg.Cooldown {
		violations = append(violations, domain.ViolationCooldown)
	}
	if snap.DailyPnL < -e.cfg.MaxDailyLossUSD {
		violations = append(violations, domain.ViolationDailyLoss)
	}

	// Soft factors accrue score without rejecting on their own. Together they
	// can still push past the approval limit.
	if opp.ProfitPct < e.cfg.MinMarginPct {
		score += 30
	}
	if opp.Confidence < e.cfg.MinConfidence+10 {
		score += 15
	}
	if slippage > e.cfg.MaxSlippageBps/2 {
		score += 10
	}
	if snap.EmergencyStop {
		score = 100
	}

	decision := domain.RiskDecision{
		OpportunityID: opp.ID,
		Approved:      len(violations) == 0 && score < approvalScoreLimit,
		RiskScore:     score,
		Violations:    violations,
		PositionSize:  e.positionSize(opp),
		StopLossPrice: opp.BuyPrice * e.cfg.StopLossPct,
		TimeBudget:    e.cfg.ExecutionBudget,
		EvaluatedAt:   now,
	}

	if decision.Approved {
		e.logger.Info("opportunity approved",
			slog.String("opportunity_id", opp.ID),
			slog.Float64("risk_score", score),
			slog.Float64("position_size", decision.PositionSize),
		)
	} else {
		for _, v := range violations {
			metrics.RiskRejections.WithLabelValues(string(v)).Inc()
		}
		e.logger.Info("opportunity rejected",
			slog.String("opportunity_id", opp.ID),
			slog.Float64("risk_score", score),
			slog.Any("violations", violations),
		)
	}

	return decision
}

// positionSize scales the quoted notional by confidence and caps it at the
// position limit. Lower-confidence opportunities trade smaller.
func (e *Evaluator) positionSize(opp domain.Opportunity) float64 {
	size := opp.Notional() * opp.Confidence / 100
	if size > e.cfg.MaxPositionUSD {
		size = e.cfg.MaxPositionUSD
	}
	return size
}

// impliedSlippageBps estimates execution slippage from how much of the quoted
// depth the trade consumes: a trade taking the full quoted liquidity implies
// 10000 bps.
func impliedSlippageBps(opp domain.Opportunity) float64 {
	if opp.Liquidity <= 0 {
		return 10_000
	}
	return opp.Volume / opp.Liquidity * 10_000
}
