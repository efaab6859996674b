package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantrace/flasharb/internal/domain"
)

type fakeHandle struct {
	hash       string
	settlement Settlement
	delay      time.Duration
}

func (h *fakeHandle) Hash() string { return h.hash }

func (h *fakeHandle) Wait(ctx context.Context) (Settlement, error) {
	if h.delay > 0 {
		select {
		case <-ctx.Done():
			return Settlement{}, fmt.Errorf("await receipt: %w", ctx.Err())
		case <-time.After(h.delay):
		}
	}
	return h.settlement, nil
}

type fakeBorrower struct {
	handle    *fakeHandle
	borrowErr error
	gasUSD    float64
	gasErr    error

	mu       sync.Mutex
	lastReq  LoanRequest
	borrowed []string
}

func (b *fakeBorrower) Borrow(ctx context.Context, req LoanRequest) (TxHandle, error) {
	b.mu.Lock()
	b.lastReq = req
	b.borrowed = append(b.borrowed, req.OpportunityID)
	b.mu.Unlock()
	if b.borrowErr != nil {
		return nil, b.borrowErr
	}
	return b.handle, nil
}

func (b *fakeBorrower) borrowedIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.borrowed...)
}

func (b *fakeBorrower) EstimateGasUSD(ctx context.Context, req LoanRequest) (float64, error) {
	return b.gasUSD, b.gasErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		MaxConcurrent:        3,
		LoanCapUSD:           100_000,
		FallbackGasBudgetUSD: 50,
		DeadlineSlack:        2 * time.Minute,
	}
}

func testOpportunity(id string) domain.Opportunity {
	return domain.Opportunity{
		ID:         id,
		Pair:       "WETH/USDC",
		BuyVenue:   "uniswap",
		SellVenue:  "sushiswap",
		BuyPrice:   100,
		SellPrice:  102,
		Volume:     10,
		NetProfit:  15,
		ProfitPct:  1.5,
		DetectedAt: time.Now().UTC(),
		TTL:        30 * time.Second,
	}
}

func approval(id string) domain.RiskDecision {
	return domain.RiskDecision{
		OpportunityID: id,
		Approved:      true,
		PositionSize:  25_000,
		TimeBudget:    5 * time.Second,
		EvaluatedAt:   time.Now().UTC(),
	}
}

func TestExecuteSuccess(t *testing.T) {
	b := &fakeBorrower{
		gasUSD: 10,
		handle: &fakeHandle{
			hash:       "0xabc",
			settlement: Settlement{Executed: true, Profit: 25, Premium: 0.9, GasCostUSD: 12},
		},
	}
	e := New(testConfig(), b, nil, testLogger())

	result, err := e.Execute(context.Background(), testOpportunity("opp-1"), approval("opp-1"))
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.InDelta(t, 25.0, result.Profit, 1e-9)
	assert.InDelta(t, 12.0, result.GasCost, 1e-9)
	assert.Equal(t, "0xabc", result.TxHash)
	assert.Empty(t, result.Err)
	assert.InDelta(t, 12.0, b.lastReq.GasBudgetUSD, 1e-9) // estimate plus margin
}

func TestExecuteNoSettlementEventIsFailure(t *testing.T) {
	b := &fakeBorrower{
		gasUSD: 10,
		handle: &fakeHandle{hash: "0xdef", settlement: Settlement{Executed: false, GasCostUSD: 8}},
	}
	e := New(testConfig(), b, nil, testLogger())

	result, err := e.Execute(context.Background(), testOpportunity("opp-1"), approval("opp-1"))
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Zero(t, result.Profit)
	assert.InDelta(t, 8.0, result.GasCost, 1e-9)
	assert.Contains(t, result.Err, domain.ErrNoSettlement.Error())
}

func TestExecuteTimeBudgetExpires(t *testing.T) {
	b := &fakeBorrower{
		gasUSD: 10,
		handle: &fakeHandle{hash: "0xslow", delay: time.Minute},
	}
	e := New(testConfig(), b, nil, testLogger())

	decision := approval("opp-1")
	decision.TimeBudget = 50 * time.Millisecond

	result, err := e.Execute(context.Background(), testOpportunity("opp-1"), decision)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Zero(t, result.Profit)
	assert.Equal(t, "0xslow", result.TxHash)
	assert.Contains(t, result.Err, "settlement wait")
}

func TestExecuteBorrowFailureIsFailedTrade(t *testing.T) {
	b := &fakeBorrower{gasUSD: 10, borrowErr: errors.New("nonce too low")}
	e := New(testConfig(), b, nil, testLogger())

	result, err := e.Execute(context.Background(), testOpportunity("opp-1"), approval("opp-1"))
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Err, "borrow")
	assert.Empty(t, result.TxHash)
}

func TestExecuteGuards(t *testing.T) {
	b := &fakeBorrower{gasUSD: 10, handle: &fakeHandle{hash: "0x1", settlement: Settlement{Executed: true}}}
	e := New(testConfig(), b, nil, testLogger())
	ctx := context.Background()

	_, err := e.Execute(ctx, testOpportunity("opp-1"), approval("other"))
	assert.ErrorIs(t, err, domain.ErrDecisionMismatch)

	rejected := approval("opp-1")
	rejected.Approved = false
	_, err = e.Execute(ctx, testOpportunity("opp-1"), rejected)
	assert.ErrorIs(t, err, domain.ErrNotApproved)

	stale := testOpportunity("opp-2")
	stale.DetectedAt = time.Now().UTC().Add(-time.Minute)
	_, err = e.Execute(ctx, stale, approval("opp-2"))
	assert.ErrorIs(t, err, domain.ErrExpired)
}

func TestExecuteSingleAttemptPerOpportunity(t *testing.T) {
	b := &fakeBorrower{gasUSD: 10, handle: &fakeHandle{hash: "0x1", settlement: Settlement{Executed: true, Profit: 1}}}
	e := New(testConfig(), b, nil, testLogger())
	ctx := context.Background()

	_, err := e.Execute(ctx, testOpportunity("opp-1"), approval("opp-1"))
	require.NoError(t, err)

	_, err = e.Execute(ctx, testOpportunity("opp-1"), approval("opp-1"))
	assert.ErrorIs(t, err, domain.ErrAlreadyAttempted)
}

func TestExecuteExpiredWhileQueuedIsNotSubmitted(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	b := &fakeBorrower{
		gasUSD: 10,
		handle: &fakeHandle{hash: "0xhold", delay: 400 * time.Millisecond, settlement: Settlement{Executed: true, Profit: 1}},
	}
	e := New(cfg, b, nil, testLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := e.Execute(context.Background(), testOpportunity("opp-hold"), approval("opp-hold"))
		assert.NoError(t, err)
	}()

	// Give the first attempt the only slot, then queue one whose TTL runs out
	// before the slot frees.
	time.Sleep(50 * time.Millisecond)
	stale := testOpportunity("opp-stale")
	stale.TTL = 100 * time.Millisecond
	_, err := e.Execute(context.Background(), stale, approval("opp-stale"))
	<-done

	assert.ErrorIs(t, err, domain.ErrExpired)
	assert.NotContains(t, b.borrowedIDs(), "opp-stale",
		"an opportunity that expired while queued must never be borrowed against")
}

func TestLoanSizingTiers(t *testing.T) {
	e := New(testConfig(), &fakeBorrower{}, nil, testLogger())

	// Base notional is 1000 (100 x 10), under the position size.
	opp := testOpportunity("opp-1")
	decision := approval("opp-1")

	opp.ProfitPct = 0.4
	assert.InDelta(t, 1000.0, e.buildRequest(opp, decision).Principal, 1e-9)

	opp.ProfitPct = 1.2
	assert.InDelta(t, 2000.0, e.buildRequest(opp, decision).Principal, 1e-9)

	opp.ProfitPct = 2.5
	assert.InDelta(t, 3000.0, e.buildRequest(opp, decision).Principal, 1e-9)
}

func TestLoanSizingRespectsCapAndPosition(t *testing.T) {
	cfg := testConfig()
	cfg.LoanCapUSD = 2500
	e := New(cfg, &fakeBorrower{}, nil, testLogger())

	opp := testOpportunity("opp-1")
	opp.ProfitPct = 2.5 // 3x tier would ask for 3000
	req := e.buildRequest(opp, approval("opp-1"))
	assert.InDelta(t, 2500.0, req.Principal, 1e-9)

	// The risk decision's position size bounds the base before leverage.
	decision := approval("opp-1")
	decision.PositionSize = 500
	opp.ProfitPct = 0.4
	req = e.buildRequest(opp, decision)
	assert.InDelta(t, 500.0, req.Principal, 1e-9)
}

func TestGasBudgetFallsBack(t *testing.T) {
	b := &fakeBorrower{
		gasErr: errors.New("estimation reverted"),
		handle: &fakeHandle{hash: "0x1", settlement: Settlement{Executed: true, Profit: 1}},
	}
	e := New(testConfig(), b, nil, testLogger())

	_, err := e.Execute(context.Background(), testOpportunity("opp-1"), approval("opp-1"))
	require.NoError(t, err)
	assert.InDelta(t, 50.0, b.lastReq.GasBudgetUSD, 1e-9)
}
