package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/vantrace/flasharb/internal/orchestrator"
)

// Controller is the pipeline surface the handlers drive.
type Controller interface {
	Pipeline
	Status() orchestrator.Status
}

// RiskControl is the operator's handle on the risk state.
type RiskControl interface {
	TripEmergencyStop(reason string)
	ClearEmergencyStop()
	ResetBreakers()
}

// Handler bundles the control-surface endpoints. baseCtx outlives any single
// request; pipeline starts must not die with the request that triggered them.
type Handler struct {
	baseCtx context.Context
	ctrl    Controller
	risk    RiskControl
	logger  *slog.Logger
}

// NewHandler creates the endpoint set.
func NewHandler(baseCtx context.Context, ctrl Controller, risk RiskControl, logger *slog.Logger) *Handler {
	return &Handler{
		baseCtx: baseCtx,
		ctrl:    ctrl,
		risk:    risk,
		logger:  logger.With(slog.String("component", "handler")),
	}
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	if h.ctrl.Running() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "already running"})
		return
	}
	if err := h.ctrl.Start(h.baseCtx); err != nil {
		h.logger.Error("pipeline start failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	if !h.ctrl.Running() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "not running"})
		return
	}
	h.ctrl.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// emergencyStopRequest is the optional body for the emergency-stop endpoint.
type emergencyStopRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	var req emergencyStopRequest
	// An empty or malformed body still trips the stop; the reason is detail.
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "operator request"
	}

	h.risk.TripEmergencyStop(req.Reason)
	writeJSON(w, http.StatusOK, map[string]string{"status": "emergency stop engaged", "reason": req.Reason})
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	h.risk.ClearEmergencyStop()
	h.risk.ResetBreakers()
	writeJSON(w, http.StatusOK, map[string]string{"status": "risk state reset"})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := h.ctrl.Status().Health
	status := http.StatusOK
	if !snap.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
