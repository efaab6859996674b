package domain

import "time"

// TradeResult is the outcome of one flash-loan execution attempt. It is
// created by the execution engine and feeds the risk evaluator's state update
// exactly once.
type TradeResult struct {
	OpportunityID string        `json:"opportunity_id"`
	Success       bool          `json:"success"`
	Profit        float64       `json:"profit"` // realized profit net of loan fee; 0 on failure
	GasCost       float64       `json:"gas_cost"`
	TxHash        string        `json:"tx_hash,omitempty"`
	Err           string        `json:"error,omitempty"`
	Duration      time.Duration `json:"duration"`
	CompletedAt   time.Time     `json:"completed_at"`
}

// PnL returns the signed profit-and-loss delta this result contributes to the
// daily ledger: realized profit minus the resources burned getting it.
func (r TradeResult) PnL() float64 {
	return r.Profit - r.GasCost
}
