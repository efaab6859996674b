// Package engine turns approved opportunities into settled flash-loan trades.
// It sizes the loan, budgets gas, submits the borrow through a Borrower, and
// waits for settlement within the decision's time budget. Every opportunity
// gets at most one attempt.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vantrace/flasharb/internal/domain"
	"github.com/vantrace/flasharb/internal/metrics"
)

// gasMargin is the multiplier applied to the on-chain gas estimate when
// deriving the USD gas budget.
const gasMargin = 1.2

// LoanRequest describes one flash-loan borrow to submit.
type LoanRequest struct {
	OpportunityID string
	Pair          string
	BuyVenue      string
	SellVenue     string
	Principal     float64 // USD
	MinProfit     float64 // USD; settlement must clear this or revert
	Deadline      time.Time
	GasBudgetUSD  float64
}

// Settlement is the decoded outcome of a mined borrow transaction. Executed
// is false when the transaction reverted or settled without a recognizable
// settlement event; Profit and Premium are then zero.
type Settlement struct {
	Executed   bool
	Profit     float64 // USD, net as reported by the settlement contract
	Premium    float64 // USD flash-loan fee paid
	GasCostUSD float64
}

// TxHandle tracks a submitted borrow until it settles.
type TxHandle interface {
	Hash() string
	Wait(ctx context.Context) (Settlement, error)
}

// Borrower submits flash-loan transactions. The chain package provides the
// production implementation; tests substitute fakes.
type Borrower interface {
	Borrow(ctx context.Context, req LoanRequest) (TxHandle, error)
	EstimateGasUSD(ctx context.Context, req LoanRequest) (float64, error)
}

// Config holds the engine's sizing and budget parameters.
type Config struct {
	MaxConcurrent        int64
	LoanCapUSD           float64
	FallbackGasBudgetUSD float64
	DeadlineSlack        time.Duration
}

// Engine executes approved opportunities. Concurrency is capped by a weighted
// semaphore; callers beyond the cap block until a slot frees or their context
// expires.
type Engine struct {
	cfg      Config
	borrower Borrower
	attempts *attemptGuard
	slots    *semaphore.Weighted
	bus      domain.EventBus // optional
	logger   *slog.Logger
}

// New creates an Engine bound to the given borrower.
func New(cfg Config, borrower Borrower, bus domain.EventBus, logger *slog.Logger) *Engine {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.DeadlineSlack <= 0 {
		cfg.DeadlineSlack = 2 * time.Minute
	}
	return &Engine{
		cfg:      cfg,
		borrower: borrower,
		attempts: newAttemptGuard(),
		slots:    semaphore.NewWeighted(cfg.MaxConcurrent),
		bus:      bus,
		logger:   logger.With(slog.String("component", "engine")),
	}
}

// Execute runs one approved opportunity end to end and returns the trade
// result. Guard failures (mismatched decision, unapproved, expired, repeat
// attempt) return an error and no result; a submitted trade always returns a
// result, failed or not.
func (e *Engine) Execute(ctx context.Context, opp domain.Opportunity, decision domain.RiskDecision) (domain.TradeResult, error) {
	if decision.OpportunityID != opp.ID {
		return domain.TradeResult{}, fmt.Errorf("engine: decision for %s does not match opportunity %s: %w",
			decision.OpportunityID, opp.ID, domain.ErrDecisionMismatch)
	}
	if !decision.Approved {
		return domain.TradeResult{}, fmt.Errorf("engine: opportunity %s: %w", opp.ID, domain.ErrNotApproved)
	}
	if opp.Expired(time.Now().UTC()) {
		return domain.TradeResult{}, fmt.Errorf("engine: opportunity %s: %w", opp.ID, domain.ErrExpired)
	}
	if !e.attempts.begin(opp.ID) {
		return domain.TradeResult{}, fmt.Errorf("engine: opportunity %s: %w", opp.ID, domain.ErrAlreadyAttempted)
	}

	if err := e.slots.Acquire(ctx, 1); err != nil {
		e.attempts.forget(opp.ID)
		return domain.TradeResult{}, fmt.Errorf("engine: acquire execution slot: %w", err)
	}
	defer e.slots.Release(1)

	// The wait for a slot can outlast the TTL. A quote that went stale while
	// queued must not reach the chain, so expiry is checked again here.
	if opp.Expired(time.Now().UTC()) {
		e.attempts.forget(opp.ID)
		return domain.TradeResult{}, fmt.Errorf("engine: opportunity %s: %w", opp.ID, domain.ErrExpired)
	}

	// The decision's time budget bounds the whole attempt, submission and
	// settlement wait included.
	execCtx, cancel := context.WithTimeout(ctx, decision.TimeBudget)
	defer cancel()

	req := e.buildRequest(opp, decision)

	budget, err := e.gasBudget(execCtx, req)
	if err != nil {
		e.logger.Warn("gas budget estimation failed, using fallback",
			slog.String("opportunity_id", opp.ID),
			slog.String("error", err.Error()),
		)
		budget = e.cfg.FallbackGasBudgetUSD
	}
	req.GasBudgetUSD = budget

	start := time.Now()

	handle, err := e.borrower.Borrow(execCtx, req)
	if err != nil {
		return e.finish(ctx, opp, domain.TradeResult{
			OpportunityID: opp.ID,
			Success:       false,
			Err:           fmt.Sprintf("borrow: %v", err),
			Duration:      time.Since(start),
			CompletedAt:   time.Now().UTC(),
		}), nil
	}

	settlement, err := handle.Wait(execCtx)
	if err != nil {
		// The transaction may still mine later, but past the budget its
		// outcome no longer counts as a success.
		return e.finish(ctx, opp, domain.TradeResult{
			OpportunityID: opp.ID,
			Success:       false,
			TxHash:        handle.Hash(),
			Err:           fmt.Sprintf("settlement wait: %v", err),
			Duration:      time.Since(start),
			CompletedAt:   time.Now().UTC(),
		}), nil
	}

	result := domain.TradeResult{
		OpportunityID: opp.ID,
		Success:       settlement.Executed,
		Profit:        settlement.Profit,
		GasCost:       settlement.GasCostUSD,
		TxHash:        handle.Hash(),
		Duration:      time.Since(start),
		CompletedAt:   time.Now().UTC(),
	}
	if !settlement.Executed {
		result.Err = domain.ErrNoSettlement.Error()
	}
	return e.finish(ctx, opp, result), nil
}

// buildRequest sizes the loan and assembles the borrow request. Principal is
// the position base scaled by the profit tier and capped at the loan cap.
func (e *Engine) buildRequest(opp domain.Opportunity, decision domain.RiskDecision) LoanRequest {
	base := opp.Notional()
	if decision.PositionSize > 0 && decision.PositionSize < base {
		base = decision.PositionSize
	}

	principal := base * loanMultiplier(opp.ProfitPct)
	if principal > e.cfg.LoanCapUSD {
		principal = e.cfg.LoanCapUSD
	}

	return LoanRequest{
		OpportunityID: opp.ID,
		Pair:          opp.Pair,
		BuyVenue:      opp.BuyVenue,
		SellVenue:     opp.SellVenue,
		Principal:     principal,
		MinProfit:     opp.NetProfit,
		Deadline:      time.Now().UTC().Add(decision.TimeBudget + e.cfg.DeadlineSlack),
	}
}

// loanMultiplier maps the opportunity's profit margin to a leverage tier.
// Wider margins justify larger loans; the cap still applies afterwards.
func loanMultiplier(profitPct float64) float64 {
	switch {
	case profitPct >= 2.0:
		return 3
	case profitPct >= 1.0:
		return 2
	default:
		return 1
	}
}

// gasBudget derives the USD gas budget from an on-chain estimate with the
// safety margin applied.
func (e *Engine) gasBudget(ctx context.Context, req LoanRequest) (float64, error) {
	est, err := e.borrower.EstimateGasUSD(ctx, req)
	if err != nil {
		return 0, err
	}
	return est * gasMargin, nil
}

// finish records metrics and the audit event for a completed attempt.
func (e *Engine) finish(ctx context.Context, opp domain.Opportunity, result domain.TradeResult) domain.TradeResult {
	outcome := "failed"
	if result.Success {
		outcome = "success"
	}
	metrics.TradesExecuted.WithLabelValues(outcome).Inc()
	metrics.ExecutionDuration.Observe(result.Duration.Seconds())

	e.logger.Info("execution complete",
		slog.String("opportunity_id", result.OpportunityID),
		slog.Bool("success", result.Success),
		slog.Float64("profit", result.Profit),
		slog.Float64("gas_cost", result.GasCost),
		slog.String("tx", result.TxHash),
		slog.Duration("duration", result.Duration),
	)

	if e.bus != nil {
		ev := domain.NewEvent(domain.EventExecutionComplete, map[string]any{
			"opportunity_id": result.OpportunityID,
			"pair":           opp.Pair,
			"success":        result.Success,
			"profit":         result.Profit,
			"gas_cost":       result.GasCost,
			"tx":             result.TxHash,
			"error":          result.Err,
		})
		if err := e.bus.Publish(ctx, ev); err != nil {
			e.logger.Debug("audit publish failed", slog.String("error", err.Error()))
		}
	}

	return result
}
