// Package orchestrator wires the scanner, risk evaluator, execution engine,
// and health monitor into one supervised pipeline. It owns the lifecycle:
// fail-closed preflight, per-opportunity processing, emergency handling with
// a single automatic restart, and bounded drain on shutdown.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vantrace/flasharb/internal/domain"
	"github.com/vantrace/flasharb/internal/engine"
	"github.com/vantrace/flasharb/internal/health"
	"github.com/vantrace/flasharb/internal/notify"
	"github.com/vantrace/flasharb/internal/risk"
	"github.com/vantrace/flasharb/internal/scanner"
)

// maxRestarts is how many automatic recoveries the orchestrator performs
// after an emergency stop before giving up and exiting.
const maxRestarts = 1

// Config holds the orchestrator's supervision parameters.
type Config struct {
	Mode                string
	DrainTimeout        time.Duration
	MinSignerBalanceETH float64
}

// Orchestrator supervises the trading pipeline.
type Orchestrator struct {
	cfg       Config
	scanner   *scanner.Scanner
	evaluator *risk.Evaluator
	engine    *engine.Engine // nil in scan-only deployments
	monitor   *health.Monitor
	opps      domain.OpportunityStore // optional
	trades    domain.TradeStore       // optional
	notifier  *notify.Manager         // optional
	chain     ChainProbe              // optional in scan-only deployments
	logger    *slog.Logger

	running   atomic.Bool
	cancel    context.CancelFunc
	loops     sync.WaitGroup // process loop + emergency watcher
	inflight  sync.WaitGroup // per-opportunity executions
	startedAt time.Time

	mu       sync.Mutex
	restarts int

	fatal chan error
}

// New assembles the orchestrator. opps, trades, notifier, and chain may be
// nil; engine is nil for scan-only operation.
func New(cfg Config, sc *scanner.Scanner, ev *risk.Evaluator, eng *engine.Engine, mon *health.Monitor,
	opps domain.OpportunityStore, trades domain.TradeStore, notifier *notify.Manager, chain ChainProbe,
	logger *slog.Logger) *Orchestrator {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 90 * time.Second
	}
	return &Orchestrator{
		cfg:       cfg,
		scanner:   sc,
		evaluator: ev,
		engine:    eng,
		monitor:   mon,
		opps:      opps,
		trades:    trades,
		notifier:  notifier,
		chain:     chain,
		logger:    logger.With(slog.String("component", "orchestrator")),
		fatal:     make(chan error, 1),
	}
}

// Start brings the pipeline up: preflight, health monitor, scanner, and the
// processing loops. It is idempotent; a second Start while running is a
// no-op.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		o.logger.Warn("start ignored: orchestrator already running")
		return nil
	}

	if err := o.preflight(ctx); err != nil {
		o.running.Store(false)
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.startedAt = time.Now().UTC()

	o.monitor.Start(runCtx)
	o.scanner.Start(runCtx)

	o.loops.Add(2)
	go o.processLoop(runCtx)
	go o.emergencyWatch(ctx, runCtx)

	o.logger.Info("pipeline started", slog.String("mode", o.cfg.Mode))
	return nil
}

// Stop tears the pipeline down in order: stop detecting, drain in-flight
// executions within the drain budget, then stop the monitor.
func (o *Orchestrator) Stop() {
	if !o.running.CompareAndSwap(true, false) {
		return
	}

	o.scanner.Stop()

	drained := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(o.cfg.DrainTimeout):
		o.logger.Warn("drain timeout elapsed with executions still in flight",
			slog.Duration("timeout", o.cfg.DrainTimeout),
		)
	}

	o.cancel()
	o.loops.Wait()
	o.monitor.Stop()

	o.logger.Info("pipeline stopped")
}

// Run starts the pipeline and blocks until the context is cancelled or an
// unrecoverable emergency occurs. The returned error is nil on a clean
// shutdown.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		o.Stop()
		return nil
	case err := <-o.fatal:
		return err
	}
}

// processLoop consumes detected opportunities. Each one runs its full
// evaluate, execute, record sequence in its own goroutine; the engine's
// semaphore bounds how many execute concurrently.
func (o *Orchestrator) processLoop(ctx context.Context) {
	defer o.loops.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case opp := <-o.scanner.Out():
			o.inflight.Add(1)
			go func() {
				defer o.inflight.Done()
				o.process(ctx, opp)
			}()
		}
	}
}

// process runs one opportunity through the pipeline in strict order:
// persist, evaluate, execute, record. The risk state update always happens
// after the execution outcome is known, never before.
func (o *Orchestrator) process(ctx context.Context, opp domain.Opportunity) {
	if o.opps != nil {
		if err := o.opps.Insert(ctx, opp); err != nil {
			o.logger.Warn("opportunity persist failed",
				slog.String("opportunity_id", opp.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	decision := o.evaluator.Evaluate(opp)
	if !decision.Approved {
		return
	}
	if o.engine == nil {
		// Scan-only operation records what would have traded and goes no
		// further.
		return
	}

	result, err := o.engine.Execute(ctx, opp, decision)
	if err != nil {
		// Guard rejections (expired, duplicate, mismatched decision) produce
		// no trade and therefore no risk state update.
		o.logger.Info("execution skipped",
			slog.String("opportunity_id", opp.ID),
			slog.String("reason", err.Error()),
		)
		return
	}

	o.evaluator.RecordResult(result)

	if o.trades != nil {
		if err := o.trades.Insert(ctx, result); err != nil {
			o.logger.Warn("trade persist failed",
				slog.String("opportunity_id", opp.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if o.opps != nil {
		if err := o.opps.MarkExecuted(ctx, opp.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			o.logger.Warn("opportunity flag failed",
				slog.String("opportunity_id", opp.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if o.notifier != nil {
		o.notifier.NotifyEvent(ctx, domain.NewEvent(domain.EventExecutionComplete, map[string]any{
			"opportunity_id": result.OpportunityID,
			"success":        result.Success,
			"profit":         result.Profit,
		}))
	}
}

// emergencyWatch reacts to the health monitor's trip signal. The first trip
// stops the pipeline and restarts it once; a trip after the restart budget is
// exhausted surfaces as a fatal error. The watcher leaves the loop group
// before handling the trip because Stop waits on that group.
func (o *Orchestrator) emergencyWatch(parentCtx, runCtx context.Context) {
	select {
	case <-runCtx.Done():
		o.loops.Done()
		return
	case reason := <-o.monitor.Emergency():
		o.loops.Done()
		o.handleEmergency(parentCtx, reason)
	}
}

func (o *Orchestrator) handleEmergency(ctx context.Context, reason string) {
	o.evaluator.TripEmergencyStop(reason)
	o.logger.Error("emergency stop received", slog.String("reason", reason))

	if o.notifier != nil {
		o.notifier.NotifyEvent(ctx, domain.NewEvent(domain.EventEmergencyStop, map[string]any{
			"reason": reason,
		}))
	}

	o.mu.Lock()
	o.restarts++
	attempt := o.restarts
	o.mu.Unlock()

	// Stop runs in this goroutine; it waits for the other loop but not for
	// this one.
	o.Stop()

	if attempt > maxRestarts {
		o.fatal <- fmt.Errorf("orchestrator: emergency stop after restart budget exhausted: %s", reason)
		return
	}

	o.logger.Warn("attempting automatic recovery",
		slog.Int("attempt", attempt),
		slog.Int("max", maxRestarts),
	)
	o.monitor.Rearm()
	o.evaluator.ClearEmergencyStop()

	if err := o.Start(ctx); err != nil {
		o.fatal <- fmt.Errorf("orchestrator: recovery restart failed: %w", err)
	}
}

// Status is the composite view served by the control surface.
type Status struct {
	Running       bool                  `json:"running"`
	Mode          string                `json:"mode"`
	StartedAt     time.Time             `json:"started_at,omitempty"`
	Restarts      int                   `json:"restarts"`
	Risk          domain.RiskSnapshot   `json:"risk"`
	Health        domain.HealthSnapshot `json:"health"`
	Opportunities []domain.Opportunity  `json:"recent_opportunities"`
}

// Status returns a point-in-time composite snapshot.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	restarts := o.restarts
	o.mu.Unlock()

	return Status{
		Running:       o.running.Load(),
		Mode:          o.cfg.Mode,
		StartedAt:     o.startedAt,
		Restarts:      restarts,
		Risk:          o.evaluator.Snapshot(),
		Health:        o.monitor.Snapshot(),
		Opportunities: o.scanner.History(),
	}
}

// Running reports whether the pipeline is up.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Evaluator exposes the risk evaluator for operator actions on the control
// surface.
func (o *Orchestrator) Evaluator() *risk.Evaluator {
	return o.evaluator
}
