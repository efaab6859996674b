package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vantrace/flasharb/internal/domain"
)

// eventStreamKey is the Redis stream the pipeline appends audit events to.
const eventStreamKey = "flasharb:events"

// EventBus appends pipeline events to a capped Redis stream. It implements
// domain.EventBus. Publishing is best-effort for callers; the stream is an
// audit trail, not a control channel.
type EventBus struct {
	client *Client
	maxLen int64
}

// NewEventBus binds the bus to the shared client. maxLen caps the stream
// length with approximate trimming.
func NewEventBus(client *Client, maxLen int64) *EventBus {
	if maxLen <= 0 {
		maxLen = 10_000
	}
	return &EventBus{client: client, maxLen: maxLen}
}

// Publish appends one event to the stream.
func (b *EventBus) Publish(ctx context.Context, ev domain.Event) error {
	fields, err := json.Marshal(ev.Fields)
	if err != nil {
		return fmt.Errorf("redis: marshal event fields: %w", err)
	}

	err = b.client.RDB().XAdd(ctx, &goredis.XAddArgs{
		Stream: eventStreamKey,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":      string(ev.Type),
			"timestamp": ev.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
			"fields":    string(fields),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: publish event %s: %w", ev.Type, err)
	}
	return nil
}

var _ domain.EventBus = (*EventBus)(nil)
