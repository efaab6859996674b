// Package domain defines the value objects exchanged between the flasharb
// agents (scanner, risk evaluator, execution engine, health monitor) and the
// store/cache interfaces implemented by the infrastructure packages. All
// cross-component communication happens through these immutable values; no
// component writes another component's state.
package domain

import "time"

// VenueQuote is a single venue's answer to a quote request for a trading pair.
type VenueQuote struct {
	Venue       string    `json:"venue"`
	Pair        string    `json:"pair"`
	BuyPrice    float64   `json:"buy_price"`  // price to buy the base asset (venue ask)
	SellPrice   float64   `json:"sell_price"` // price to sell the base asset (venue bid)
	Liquidity   float64   `json:"liquidity"`  // available depth in base units
	FeeRate     float64   `json:"fee_rate"`   // taker fee as a fraction (0.003 = 30 bps)
	GasEstimate uint64    `json:"gas_estimate"`
	Timestamp   time.Time `json:"timestamp"`
}

// Opportunity is a detected, time-bounded candidate for a profitable
// cross-venue trade. It is created by the scanner, read-only downstream, and
// discarded at TTL expiry or after one execution attempt.
type Opportunity struct {
	ID           string        `json:"id"`
	Pair         string        `json:"pair"`
	BuyVenue     string        `json:"buy_venue"`
	SellVenue    string        `json:"sell_venue"`
	BuyPrice     float64       `json:"buy_price"`
	SellPrice    float64       `json:"sell_price"`
	Volume       float64       `json:"volume"`
	Liquidity    float64       `json:"liquidity"` // min depth across the two venues
	GasEstimate  uint64        `json:"gas_estimate"`
	GasPriceGwei float64       `json:"gas_price_gwei"`
	GasCostUSD   float64       `json:"gas_cost_usd"`
	GrossProfit  float64       `json:"gross_profit"`
	NetProfit    float64       `json:"net_profit"`
	ProfitPct    float64       `json:"profit_pct"`
	Confidence   float64       `json:"confidence"` // 0-100
	DetectedAt   time.Time     `json:"detected_at"`
	TTL          time.Duration `json:"ttl"`

	// Executed is set by the store once an execution attempt was recorded.
	Executed bool `json:"executed"`
}

// ExpiresAt returns the instant after which the opportunity is stale.
func (o Opportunity) ExpiresAt() time.Time {
	return o.DetectedAt.Add(o.TTL)
}

// Expired reports whether the opportunity is stale at the given instant.
func (o Opportunity) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt())
}

// Notional returns the quoted trade size in quote-currency terms.
func (o Opportunity) Notional() float64 {
	return o.BuyPrice * o.Volume
}
