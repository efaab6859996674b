// Package server exposes the operator control surface over HTTP: pipeline
// start/stop, emergency-stop control, status and health queries, and the
// Prometheus metrics endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds the HTTP server parameters.
type Config struct {
	Port   int
	APIKey string // empty disables authentication
}

// Pipeline is the orchestrator surface the control endpoints drive.
type Pipeline interface {
	Start(ctx context.Context) error
	Stop()
	Running() bool
}

// Server is the control-surface HTTP server.
type Server struct {
	cfg    Config
	http   *http.Server
	logger *slog.Logger
}

// New builds the server and its routes around the given handler set.
func New(cfg Config, h *Handler, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/control/start", h.handleStart)
	mux.HandleFunc("POST /api/control/stop", h.handleStop)
	mux.HandleFunc("POST /api/control/emergency-stop", h.handleEmergencyStop)
	mux.HandleFunc("POST /api/control/reset", h.handleReset)
	mux.HandleFunc("GET /api/status", h.handleStatus)
	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	var root http.Handler = mux
	root = authMiddleware(cfg.APIKey, root)
	root = loggingMiddleware(logger, root)

	return &Server{
		cfg: cfg,
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           root,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Start serves until Shutdown. It returns on listener failure; a clean
// shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("control server listening", slog.Int("port", s.cfg.Port))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen on :%d: %w", s.cfg.Port, err)
	}
	return nil
}

// Shutdown drains connections within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("control server shutting down")
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
