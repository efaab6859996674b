// Package metrics defines the Prometheus instruments for the arbitrage
// pipeline. All collectors are registered on the default registry and served
// by the control server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScanCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_scan_cycles_total",
		Help: "Completed scan cycles.",
	})

	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flasharb_scan_duration_seconds",
		Help:    "Wall time of a full scan cycle.",
		Buckets: prometheus.DefBuckets,
	})

	OpportunitiesFound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_opportunities_found_total",
		Help: "Opportunities that cleared the profit threshold.",
	})

	RiskRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flasharb_risk_rejections_total",
		Help: "Opportunities rejected by the risk evaluator, by violation code.",
	}, []string{"code"})

	TradesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flasharb_trades_total",
		Help: "Completed trade attempts by outcome.",
	}, []string{"outcome"})

	ExecutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flasharb_execution_duration_seconds",
		Help:    "Wall time from borrow submission to settled result.",
		Buckets: []float64{1, 5, 10, 20, 30, 45, 60, 90},
	})

	DailyPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flasharb_daily_pnl_usd",
		Help: "Realized profit and loss for the current UTC day.",
	})

	BreakerOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flasharb_circuit_breaker_open",
		Help: "1 when the named circuit breaker is open.",
	}, []string{"breaker"})

	EmergencyStop = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flasharb_emergency_stop",
		Help: "1 when the emergency stop is engaged.",
	})

	HealthCheckFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flasharb_health_check_failures_total",
		Help: "Failed health probes by check name.",
	}, []string{"check"})

	RPCLatency = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flasharb_rpc_latency_seconds",
		Help: "Latency of the most recent chain RPC health probe.",
	})
)
