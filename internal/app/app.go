// Package app assembles and runs the flasharb process: it builds the logger,
// wires the dependency graph for the configured mode, and supervises the
// long-lived goroutines with an errgroup.
package app

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vantrace/flasharb/internal/config"
)

// App is one configured flasharb process.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	deps   *Dependencies
}

// NewLogger builds the process-wide structured JSON logger.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}

// New validates the configuration and wires the dependency graph.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	deps, err := Wire(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	return &App{cfg: cfg, logger: logger, deps: deps}, nil
}

// Run executes the process until ctx is cancelled or a component fails
// unrecoverably. In full and scan modes the pipeline starts immediately; in
// server mode it waits for an operator start through the control surface.
func (a *App) Run(ctx context.Context) error {
	defer a.deps.Close()

	g, gctx := errgroup.WithContext(ctx)

	for _, ws := range a.deps.WSQuoters {
		g.Go(func() error {
			err := ws.Run(gctx)
			if gctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	if a.deps.Archiver != nil {
		a.deps.Archiver.Start(gctx)
		defer a.deps.Archiver.Stop()
	}

	if a.deps.Server != nil {
		g.Go(func() error {
			return a.deps.Server.Start()
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return a.deps.Server.Shutdown(shutdownCtx)
		})
	}

	switch a.cfg.Mode {
	case "full", "scan":
		g.Go(func() error {
			return a.deps.Orchestrator.Run(gctx)
		})
	case "server":
		a.logger.Info("pipeline idle, awaiting operator start")
	}

	a.logger.Info("flasharb running", slog.String("mode", a.cfg.Mode))
	return g.Wait()
}
