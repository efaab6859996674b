package health

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vantrace/flasharb/internal/domain"
	"github.com/vantrace/flasharb/internal/metrics"
)

// Config holds the monitor's probe cadence and trip threshold.
type Config struct {
	Interval         time.Duration
	FailureThreshold int
	AlertRingSize    int
}

// Monitor runs the configured checks on a fixed cadence. A probe cycle fails
// when any single check fails; FailureThreshold consecutive failed cycles trip
// the emergency stop. The trip is latched: it fires exactly once until Rearm.
type Monitor struct {
	cfg    Config
	checks []Check
	bus    domain.EventBus // optional
	logger *slog.Logger

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// emergency receives exactly one reason string per arming period.
	emergency chan string

	mu                  sync.Mutex
	consecutiveFailures int
	tripped             bool
	lastCheck           time.Time
	lastResults         []domain.CheckResult
	alerts              []domain.HealthAlert
}

// New creates a Monitor over the given checks.
func New(cfg Config, checks []Check, bus domain.EventBus, logger *slog.Logger) *Monitor {
	if cfg.AlertRingSize <= 0 {
		cfg.AlertRingSize = 100
	}
	return &Monitor{
		cfg:       cfg,
		checks:    checks,
		bus:       bus,
		logger:    logger.With(slog.String("component", "health")),
		emergency: make(chan string, 1),
	}
}

// Emergency returns the channel the monitor signals on when the failure
// threshold is crossed. At most one value is delivered per arming period.
func (m *Monitor) Emergency() <-chan string {
	return m.emergency
}

// Start launches the probe loop. Calling Start while running is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	if !m.running.CompareAndSwap(false, true) {
		m.logger.Warn("start ignored: health monitor already running")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go m.run(runCtx)

	m.logger.Info("health monitor started",
		slog.Duration("interval", m.cfg.Interval),
		slog.Int("checks", len(m.checks)),
		slog.Int("failure_threshold", m.cfg.FailureThreshold),
	)
}

// Stop halts the probe loop. Calling Stop when not running is a no-op.
func (m *Monitor) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	m.cancel()
	m.wg.Wait()
	m.logger.Info("health monitor stopped")
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		m.probeCycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// probeCycle runs every check once and folds the outcome into the failure
// counter. Exposed to in-package tests; production code only reaches it
// through the loop.
func (m *Monitor) probeCycle(ctx context.Context) {
	results := make([]domain.CheckResult, 0, len(m.checks))
	cycleHealthy := true

	for _, check := range m.checks {
		res := check.Run(ctx)
		results = append(results, res)
		if !res.Healthy {
			cycleHealthy = false
			metrics.HealthCheckFailures.WithLabelValues(res.Name).Inc()
			m.logger.Warn("health check failed",
				slog.String("check", res.Name),
				slog.String("detail", res.Detail),
			)
		}
	}

	m.mu.Lock()
	m.lastCheck = time.Now().UTC()
	m.lastResults = results

	if cycleHealthy {
		m.consecutiveFailures = 0
		m.mu.Unlock()
		return
	}

	m.consecutiveFailures++
	for _, res := range results {
		if !res.Healthy {
			m.pushAlertLocked(domain.HealthAlert{
				Check:  res.Name,
				Detail: res.Detail,
				At:     res.CheckedAt,
			})
		}
	}

	shouldTrip := m.consecutiveFailures >= m.cfg.FailureThreshold && !m.tripped
	if shouldTrip {
		m.tripped = true
	}
	failures := m.consecutiveFailures
	m.mu.Unlock()

	if !shouldTrip {
		return
	}

	reason := "health failure threshold crossed"
	m.logger.Error("tripping emergency stop",
		slog.Int("consecutive_failures", failures),
		slog.Int("threshold", m.cfg.FailureThreshold),
	)
	if m.bus != nil {
		ev := domain.NewEvent(domain.EventEmergencyStop, map[string]any{
			"source":               "health",
			"consecutive_failures": failures,
		})
		if err := m.bus.Publish(ctx, ev); err != nil {
			m.logger.Debug("audit publish failed", slog.String("error", err.Error()))
		}
	}

	// The channel is buffered for exactly one value and tripped gates the
	// send, so this never blocks.
	m.emergency <- reason
}

// pushAlertLocked appends to the bounded alert ring. Caller holds the lock.
func (m *Monitor) pushAlertLocked(alert domain.HealthAlert) {
	m.alerts = append(m.alerts, alert)
	if len(m.alerts) > m.cfg.AlertRingSize {
		m.alerts = m.alerts[len(m.alerts)-m.cfg.AlertRingSize:]
	}
}

// Rearm resets the latch and the failure counter so a recovered pipeline can
// trip again on a fresh failure streak.
func (m *Monitor) Rearm() {
	m.mu.Lock()
	m.tripped = false
	m.consecutiveFailures = 0
	// Drop a stale, unconsumed trip from the previous arming period.
	select {
	case <-m.emergency:
	default:
	}
	m.mu.Unlock()
	m.logger.Info("health monitor rearmed")
}

// Snapshot returns a point-in-time copy of the monitor's state.
func (m *Monitor) Snapshot() domain.HealthSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	checks := make([]domain.CheckResult, len(m.lastResults))
	copy(checks, m.lastResults)
	alerts := make([]domain.HealthAlert, len(m.alerts))
	copy(alerts, m.alerts)

	healthy := true
	for _, c := range checks {
		if !c.Healthy {
			healthy = false
			break
		}
	}

	return domain.HealthSnapshot{
		Healthy:             healthy && m.consecutiveFailures == 0,
		ConsecutiveFailures: m.consecutiveFailures,
		EmergencyTripped:    m.tripped,
		LastCheck:           m.lastCheck,
		Checks:              checks,
		Alerts:              alerts,
	}
}
