package domain

import "time"

// ViolationCode identifies a single failed risk check.
type ViolationCode string

const (
	ViolationEmergencyStop  ViolationCode = "EMERGENCY_STOP"
	ViolationCircuitBreaker ViolationCode = "CIRCUIT_BREAKER"
	ViolationPositionSize   ViolationCode = "POSITION_SIZE_LIMIT"
	ViolationLowConfidence  ViolationCode = "LOW_CONFIDENCE"
	ViolationSlippage       ViolationCode = "SLIPPAGE_LIMIT"
	ViolationGasPrice       ViolationCode = "GAS_PRICE_LIMIT"
	ViolationCooldown       ViolationCode = "COOLDOWN_ACTIVE"
	ViolationDailyLoss      ViolationCode = "DAILY_LOSS_LIMIT"
)

// RiskDecision is the risk evaluator's verdict on one opportunity. It is
// created per evaluation and consumed exactly once by the execution engine;
// it is only valid for its originating opportunity within that opportunity's
// TTL.
type RiskDecision struct {
	OpportunityID string          `json:"opportunity_id"`
	Approved      bool            `json:"approved"`
	RiskScore     float64         `json:"risk_score"`
	Violations    []ViolationCode `json:"violations,omitempty"`
	PositionSize  float64         `json:"position_size"`
	StopLossPrice float64         `json:"stop_loss_price"`
	TimeBudget    time.Duration   `json:"time_budget"`
	EvaluatedAt   time.Time       `json:"evaluated_at"`
}

// Rejected reports whether the decision carries the given violation.
func (d RiskDecision) Rejected(code ViolationCode) bool {
	for _, v := range d.Violations {
		if v == code {
			return true
		}
	}
	return false
}
