package bus

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryStream is an in-process log with the same ID format and ordering
// semantics as the Redis backend. It backs tests and single-node deployments
// that run without Redis.
type MemoryStream struct {
	mu      sync.Mutex
	entries []Event
	lastMS  int64
	lastSeq int64
	now     func() time.Time
}

// NewMemoryStream constructs an empty log.
func NewMemoryStream() *MemoryStream {
	return &MemoryStream{now: time.Now}
}

// Publish appends one event with a synthesized monotone `<ms>-<seq>` ID.
func (s *MemoryStream) Publish(_ context.Context, event Event) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := s.now().UnixMilli()
	if ms < s.lastMS {
		ms = s.lastMS
	}
	if ms == s.lastMS {
		s.lastSeq++
	} else {
		s.lastMS = ms
		s.lastSeq = 0
	}
	event.ID = fmt.Sprintf("%d-%d", ms, s.lastSeq)
	if event.At.IsZero() {
		event.At = s.now().UTC()
	}
	s.entries = append(s.entries, event)
	return event.ID, nil
}

// Read returns up to maxCount events strictly after afterID.
func (s *MemoryStream) Read(_ context.Context, afterID string, maxCount int64) ([]Event, string, error) {
	if maxCount <= 0 {
		maxCount = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cursor := afterID
	if cursor == "" {
		cursor = StartID
	}
	lastID := cursor
	events := make([]Event, 0, maxCount)
	for _, entry := range s.entries {
		if compareStreamIDs(entry.ID, cursor) <= 0 {
			continue
		}
		events = append(events, entry)
		lastID = entry.ID
		if int64(len(events)) >= maxCount {
			break
		}
	}
	return events, lastID, nil
}

// compareStreamIDs orders `<ms>-<seq>` identifiers.
func compareStreamIDs(a, b string) int {
	ams, aseq := splitStreamID(a)
	bms, bseq := splitStreamID(b)
	switch {
	case ams != bms:
		if ams < bms {
			return -1
		}
		return 1
	case aseq != bseq:
		if aseq < bseq {
			return -1
		}
		return 1
	}
	return 0
}

func splitStreamID(id string) (int64, int64) {
	parts := strings.SplitN(id, "-", 2)
	ms, _ := strconv.ParseInt(parts[0], 10, 64)
	var seq int64
	if len(parts) == 2 {
		seq, _ = strconv.ParseInt(parts[1], 10, 64)
	}
	return ms, seq
}
