package bus

import (
	"context"
	"testing"
	"time"
)

func publishN(t *testing.T, stream *MemoryStream, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, err := stream.Publish(context.Background(), Event{Type: TypeOrderCreated, Payload: map[string]any{"order_id": i}})
		if err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestMemoryStreamIDsAreMonotone(t *testing.T) {
	stream := NewMemoryStream()
	// Freeze the clock so every entry lands in the same millisecond and the
	// sequence component has to disambiguate.
	at := time.Now()
	stream.now = func() time.Time { return at }

	ids := publishN(t, stream, 5)
	for i := 1; i < len(ids); i++ {
		if compareStreamIDs(ids[i-1], ids[i]) >= 0 {
			t.Fatalf("ids not strictly increasing: %s then %s", ids[i-1], ids[i])
		}
	}
}

func TestMemoryStreamReadFromStart(t *testing.T) {
	stream := NewMemoryStream()
	ids := publishN(t, stream, 3)

	events, last, err := stream.Read(context.Background(), StartID, 100)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events", len(events))
	}
	if last != ids[2] {
		t.Fatalf("last = %s, want %s", last, ids[2])
	}
	for i, event := range events {
		if event.ID != ids[i] {
			t.Fatalf("event %d id = %s, want %s", i, event.ID, ids[i])
		}
	}
}

func TestMemoryStreamCursorResumes(t *testing.T) {
	stream := NewMemoryStream()
	ids := publishN(t, stream, 4)

	events, last, err := stream.Read(context.Background(), ids[1], 100)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(events) != 2 || events[0].ID != ids[2] {
		t.Fatalf("resume returned %d events starting %s", len(events), events[0].ID)
	}

	// An exhausted cursor returns nothing and keeps its position.
	events, again, err := stream.Read(context.Background(), last, 100)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(events) != 0 || again != last {
		t.Fatalf("exhausted read returned %d events, cursor %s", len(events), again)
	}
}

func TestMemoryStreamHonorsMaxCount(t *testing.T) {
	stream := NewMemoryStream()
	ids := publishN(t, stream, 5)

	events, last, err := stream.Read(context.Background(), StartID, 2)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(events) != 2 || last != ids[1] {
		t.Fatalf("page = %d events, cursor %s", len(events), last)
	}

	events, _, err = stream.Read(context.Background(), last, 100)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("remainder = %d events", len(events))
	}
}

func TestNotificationAudience(t *testing.T) {
	if got := NotificationAudience(NotificationType("waiter")); got != "waiter" {
		t.Fatalf("audience = %q", got)
	}
	if got := NotificationAudience(TypeOrderCreated); got != "" {
		t.Fatalf("non-notification audience = %q", got)
	}
	if got := NotificationAudience("notification."); got != "" {
		t.Fatalf("empty audience = %q", got)
	}
}

func TestEmitterAssignsTimestamps(t *testing.T) {
	stream := NewMemoryStream()
	emitter := NewEmitter(stream, nil)
	emitter.Emit(context.Background(), Event{Type: TypeSessionStatusChanged, Payload: map[string]any{"session_id": 1}})

	events, _, err := stream.Read(context.Background(), StartID, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	if events[0].At.IsZero() {
		t.Fatalf("event timestamp not assigned")
	}
}
