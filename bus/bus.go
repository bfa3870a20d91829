// Package bus is the realtime event contract of the operations core: a
// durable, ordered, append-only log with opaque monotone IDs. Producers
// publish after their database transaction commits; consumers poll with
// (after_id, max_count) and receive events in insertion order.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Event is one immutable log entry. ID is assigned by the stream backend and
// is totally ordered across all event types.
type Event struct {
	ID      string         `json:"id,omitempty"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
	At      time.Time      `json:"at"`
}

// StartID addresses the beginning of the stream.
const StartID = "0-0"

// Stream is the durable log. Publish appends and returns the assigned ID;
// Read returns up to maxCount events strictly after afterID plus the ID of
// the last event returned (afterID when empty).
type Stream interface {
	Publish(ctx context.Context, event Event) (string, error)
	Read(ctx context.Context, afterID string, maxCount int64) ([]Event, string, error)
}

// Emitter publishes post-commit events. Failures are logged and counted but
// never surfaced to the caller; the transaction that produced the event has
// already committed.
type Emitter struct {
	stream Stream
	log    *slog.Logger
}

// NewEmitter wires a stream with a logger.
func NewEmitter(stream Stream, log *slog.Logger) *Emitter {
	if log == nil {
		log = slog.Default()
	}
	return &Emitter{stream: stream, log: log}
}

// Emit appends events in order. Per-event failure does not stop the batch.
func (e *Emitter) Emit(ctx context.Context, events ...Event) {
	for _, event := range events {
		if event.At.IsZero() {
			event.At = time.Now().UTC()
		}
		if _, err := e.stream.Publish(ctx, event); err != nil {
			publishFailures.WithLabelValues(event.Type).Inc()
			e.log.Error("event emission failed", "type", event.Type, "error", err)
			continue
		}
		published.WithLabelValues(event.Type).Inc()
	}
}

func encodePayload(payload map[string]any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode event payload: %w", err)
	}
	return string(data), nil
}

func decodePayload(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("decode event payload: %w", err)
	}
	return payload, nil
}
