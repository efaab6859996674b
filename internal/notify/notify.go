// Package notify pushes operator alerts to external channels. Delivery is
// best-effort and fanned out: one failing channel never blocks another, and
// notification failures never affect the trading pipeline.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vantrace/flasharb/internal/domain"
)

// Notifier delivers one message to a single channel.
type Notifier interface {
	Name() string
	Send(ctx context.Context, subject, message string) error
}

// Manager filters pipeline events against the configured allow-list and fans
// the surviving ones out to every channel.
type Manager struct {
	notifiers []Notifier
	allowed   map[string]bool
	logger    *slog.Logger
}

// NewManager creates a Manager. events lists the event types to forward;
// an empty list forwards nothing.
func NewManager(notifiers []Notifier, events []string, logger *slog.Logger) *Manager {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.ToLower(e)] = true
	}
	return &Manager{
		notifiers: notifiers,
		allowed:   allowed,
		logger:    logger.With(slog.String("component", "notify")),
	}
}

// NotifyEvent forwards the event to every channel when its type is on the
// allow-list.
func (m *Manager) NotifyEvent(ctx context.Context, ev domain.Event) {
	if len(m.notifiers) == 0 || !m.allowed[eventKey(ev.Type)] {
		return
	}

	subject := fmt.Sprintf("flasharb: %s", ev.Type)
	message := formatFields(ev.Fields)

	for _, n := range m.notifiers {
		if err := n.Send(ctx, subject, message); err != nil {
			m.logger.Warn("notification failed",
				slog.String("channel", n.Name()),
				slog.String("event", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// eventKey maps the camelCase event type to the snake_case keys used in
// configuration.
func eventKey(t domain.EventType) string {
	switch t {
	case domain.EventEmergencyStop:
		return "emergency_stop"
	case domain.EventExecutionComplete:
		return "execution_complete"
	case domain.EventAgentError:
		return "agent_error"
	case domain.EventOpportunityFound:
		return "opportunity_found"
	default:
		return strings.ToLower(string(t))
	}
}

func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return "(no details)"
	}
	parts := make([]string, 0, len(fields))
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, "\n")
}
