package workflow

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"mesaops/bus"
	"mesaops/fault"
)

func TestNewDefaultsWithoutConfig(t *testing.T) {
	e := New(Options{})
	if !e.storeCancelReason {
		t.Fatalf("storeCancelReason defaulted to false")
	}
	if !e.autoAssignDefault {
		t.Fatalf("autoAssignDefault defaulted to false")
	}
}

func TestInTxDefersCountersAndEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	hits := 0
	err := env.engine.inTx(ctx, func(tx *gorm.DB, ev *eventBuffer) error {
		ev.count(func() { hits++ })
		ev.add(bus.SessionStatusChanged(1, "open", "T-M02"))
		return errors.New("forced rollback")
	})
	if err == nil {
		t.Fatalf("error swallowed")
	}
	if hits != 0 {
		t.Fatalf("counter moved on rollback: %d", hits)
	}
	if events := env.drainEvents(t); len(events) != 0 {
		t.Fatalf("events published on rollback: %v", eventTypes(events))
	}

	err = env.engine.inTx(ctx, func(tx *gorm.DB, ev *eventBuffer) error {
		ev.count(func() { hits++ })
		ev.add(bus.SessionStatusChanged(1, "open", "T-M02"))
		return nil
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if hits != 1 {
		t.Fatalf("counter ran %d times, want 1", hits)
	}
	events := env.drainEvents(t)
	if len(events) != 1 || events[0].Type != bus.TypeSessionStatusChanged {
		t.Fatalf("events after commit: %v", eventTypes(events))
	}
}

func TestWrapDBClassification(t *testing.T) {
	if wrapDB(nil, "order") != nil {
		t.Fatalf("nil error wrapped")
	}

	err := wrapDB(gorm.ErrRecordNotFound, "order")
	if fault.KindOf(err) != fault.KindNotFound {
		t.Fatalf("record-not-found -> %v", err)
	}

	// Duplicate-key errors pass through untouched so callers can recover
	// from the races they arbitrate.
	if got := wrapDB(gorm.ErrDuplicatedKey, "session"); !errors.Is(got, gorm.ErrDuplicatedKey) {
		t.Fatalf("duplicate key rewrapped: %v", got)
	}

	err = wrapDB(errors.New("ERROR: canceling statement due to lock timeout (SQLSTATE 55P03)"), "order")
	if fault.KindOf(err) != fault.KindLocked {
		t.Fatalf("lock timeout -> %v", err)
	}

	typed := fault.Conflict("session already settled")
	if got := wrapDB(typed, "session"); !errors.Is(got, typed) {
		t.Fatalf("typed error rewrapped: %v", got)
	}

	err = wrapDB(errors.New("driver glitch"), "order")
	if fault.KindOf(err) != fault.KindInternal {
		t.Fatalf("unknown error -> %v", err)
	}
}
