package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultStreamKey = "mesaops:events"

// RedisStream persists the event log as a Redis stream. Stream IDs are the
// canonical `<ms>-<seq>` identifiers of the contract. The client may be
// shared; go-redis clients are safe for concurrent use.
type RedisStream struct {
	client redis.UniversalClient
	key    string
	maxLen int64
}

// RedisStreamOption adjusts stream behaviour.
type RedisStreamOption func(*RedisStream)

// WithStreamKey overrides the Redis key holding the log.
func WithStreamKey(key string) RedisStreamOption {
	return func(s *RedisStream) {
		if key != "" {
			s.key = key
		}
	}
}

// WithMaxLen caps the stream with an approximate MAXLEN trim.
func WithMaxLen(maxLen int64) RedisStreamOption {
	return func(s *RedisStream) {
		if maxLen > 0 {
			s.maxLen = maxLen
		}
	}
}

// NewRedisStream wraps a connected client.
func NewRedisStream(client redis.UniversalClient, opts ...RedisStreamOption) *RedisStream {
	s := &RedisStream{client: client, key: defaultStreamKey}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Publish appends one event and returns the assigned stream ID.
func (s *RedisStream) Publish(ctx context.Context, event Event) (string, error) {
	payload, err := encodePayload(event.Payload)
	if err != nil {
		return "", err
	}
	at := event.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	args := &redis.XAddArgs{
		Stream: s.key,
		Values: map[string]any{
			"type":    event.Type,
			"payload": payload,
			"at":      at.Format(time.RFC3339Nano),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", s.key, err)
	}
	return id, nil
}

// Read returns up to maxCount events strictly after afterID in insertion
// order. afterID StartID (or empty) reads from the beginning.
func (s *RedisStream) Read(ctx context.Context, afterID string, maxCount int64) ([]Event, string, error) {
	if maxCount <= 0 {
		maxCount = 100
	}
	start := "-"
	if afterID != "" && afterID != StartID {
		// Exclusive range start, Redis 6.2+.
		start = "(" + afterID
	}
	messages, err := s.client.XRangeN(ctx, s.key, start, "+", maxCount).Result()
	if err != nil {
		return nil, afterID, fmt.Errorf("xrange %s: %w", s.key, err)
	}
	events := make([]Event, 0, len(messages))
	lastID := afterID
	if lastID == "" {
		lastID = StartID
	}
	for _, msg := range messages {
		event, err := eventFromValues(msg.ID, msg.Values)
		if err != nil {
			return nil, lastID, err
		}
		events = append(events, event)
		lastID = msg.ID
	}
	return events, lastID, nil
}

func eventFromValues(id string, values map[string]any) (Event, error) {
	event := Event{ID: id}
	if t, ok := values["type"].(string); ok {
		event.Type = t
	}
	if raw, ok := values["payload"].(string); ok {
		payload, err := decodePayload(raw)
		if err != nil {
			return Event{}, err
		}
		event.Payload = payload
	}
	if raw, ok := values["at"].(string); ok {
		if at, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			event.At = at
		}
	}
	return event, nil
}
