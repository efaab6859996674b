package domain

import (
	"context"
	"time"
)

// EventType enumerates the structured events the pipeline publishes to the
// audit sink.
type EventType string

const (
	EventScannerStarted    EventType = "scannerStarted"
	EventScannerStopped    EventType = "scannerStopped"
	EventOpportunityFound  EventType = "opportunityFound"
	EventScanComplete      EventType = "scanComplete"
	EventExecutionComplete EventType = "executionComplete"
	EventEmergencyStop     EventType = "emergencyStop"
	EventAgentError        EventType = "agentError"
	EventStats             EventType = "stats"
)

// Event is one timestamped audit record. Fields carry event-specific details
// and must be JSON-serializable.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// NewEvent builds an Event stamped with the current UTC time.
func NewEvent(t EventType, fields map[string]any) Event {
	return Event{Type: t, Timestamp: time.Now().UTC(), Fields: fields}
}

// EventBus is the audit sink: an append-only, capped stream of pipeline
// events. Publishing is best-effort; callers log and continue on error.
type EventBus interface {
	Publish(ctx context.Context, ev Event) error
}
