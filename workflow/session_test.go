package workflow

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"

	"mesaops/bus"
	"mesaops/models"
)

func TestSessionReusedAcrossOrders(t *testing.T) {
	env := newTestEnv(t)
	env.seedTable(t, "T-M02")
	dish := env.seedMenuItem(t, "Tlayuda", "80.00", false)

	first := env.placeOrder(t, "T-M02", OrderItemInput{MenuItemID: dish.ID, Quantity: 1})
	second := env.placeOrder(t, "T-M02", OrderItemInput{MenuItemID: dish.ID, Quantity: 2})
	if first.Session.ID != second.Session.ID {
		t.Fatalf("orders landed in different sessions: %d vs %d", first.Session.ID, second.Session.ID)
	}

	var open int64
	if err := env.db.Model(&models.DiningSession{}).
		Where("table_code = ? AND status = ?", "T-M02", models.SessionOpen).
		Count(&open).Error; err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	if open != 1 {
		t.Fatalf("open sessions for T-M02 = %d, want 1", open)
	}

	session := env.reloadSession(t, first.Session.ID)
	decEq(t, "240.00", session.Subtotal, "session subtotal")
	decEq(t, "38.40", session.TaxAmount, "session tax")
	decEq(t, "278.40", session.TotalAmount, "session total")
}

func TestSessionRaceRecoveredByReRead(t *testing.T) {
	env := newTestEnv(t)
	table := env.seedTable(t, "T-M02")

	winner := models.DiningSession{
		CustomerID: 1,
		TableID:    &table.ID,
		TableCode:  table.Code,
		Status:     models.SessionOpen,
		OpenedAt:   env.now,
		ExpiresAt:  env.now.Add(4 * time.Hour),
	}
	if err := env.db.Create(&winner).Error; err != nil {
		t.Fatalf("seed winner: %v", err)
	}

	// A losing insert against the partial unique index must fall back to the
	// row that won. SQLite serializes writers, so the winner is pre-seeded
	// rather than raced from a second goroutine; truly concurrent creators on
	// postgres lose the insert the same way and take this recovery path.
	err := env.db.Transaction(func(tx *gorm.DB) error {
		got, err := env.engine.createSession(tx, 2, &table, env.now)
		if err != nil {
			return err
		}
		if got.ID != winner.ID {
			t.Fatalf("recovered session %d, want winner %d", got.ID, winner.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestExpiredSessionClosedOnNextTouch(t *testing.T) {
	env := newTestEnv(t)
	env.seedTable(t, "T-M02")
	dish := env.seedMenuItem(t, "Tlayuda", "80.00", false)

	first := env.placeOrder(t, "T-M02", OrderItemInput{MenuItemID: dish.ID, Quantity: 1})
	env.advance(5 * time.Hour)

	second := env.placeOrder(t, "T-M02", OrderItemInput{MenuItemID: dish.ID, Quantity: 1})
	if first.Session.ID == second.Session.ID {
		t.Fatalf("expired session was reused")
	}
	old := env.reloadSession(t, first.Session.ID)
	if old.Status != models.SessionClosed || old.ClosedAt == nil {
		t.Fatalf("expired session not closed: %s", old.Status)
	}
}

func TestGetSessionClosesExpired(t *testing.T) {
	env := newTestEnv(t)
	env.seedTable(t, "T-M02")
	dish := env.seedMenuItem(t, "Tlayuda", "80.00", false)
	result := env.placeOrder(t, "T-M02", OrderItemInput{MenuItemID: dish.ID, Quantity: 1})

	env.advance(5 * time.Hour)
	session, err := env.engine.GetSession(context.Background(), result.Session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.Status != models.SessionClosed {
		t.Fatalf("read returned an expired open session: %s", session.Status)
	}
}

func TestCancellingLastOrderClosesSessionAndZeroesTip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedTable(t, "T-M02")
	dish := env.seedMenuItem(t, "Tlayuda", "80.00", false)
	result := env.placeOrder(t, "T-M02", OrderItemInput{MenuItemID: dish.ID, Quantity: 1})

	tip := dec("15.00")
	if _, err := env.engine.ApplyTip(ctx, result.Session.ID, TipInput{Fixed: &tip}); err != nil {
		t.Fatalf("apply tip: %v", err)
	}

	if _, err := env.engine.Transition(ctx, result.Order.ID, models.OrderCancelled, models.ScopeClient, nil, TransitionPayload{}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	session := env.reloadSession(t, result.Session.ID)
	if session.Status != models.SessionClosed {
		t.Fatalf("session status = %s, want closed", session.Status)
	}
	decEq(t, "0", session.TipAmount, "tip after empty close")
	decEq(t, "0", session.TotalAmount, "total after empty close")

	events := env.drainEvents(t)
	if !hasEventType(events, bus.TypeSessionStatusChanged) {
		t.Fatalf("no session.status_changed emitted, got %v", eventTypes(events))
	}
}

func TestCancelOneOfTwoRecomputesTotals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedTable(t, "T-M02")
	dish := env.seedMenuItem(t, "Tlayuda", "80.00", false)
	drink := env.seedMenuItem(t, "Agua de Jamaica", "30.00", true)

	first := env.placeOrder(t, "T-M02", OrderItemInput{MenuItemID: dish.ID, Quantity: 1})
	second := env.placeOrder(t, "T-M02", OrderItemInput{MenuItemID: drink.ID, Quantity: 1})

	if _, err := env.engine.Transition(ctx, second.Order.ID, models.OrderCancelled, models.ScopeClient, nil, TransitionPayload{}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	session := env.reloadSession(t, first.Session.ID)
	if session.Status != models.SessionOpen {
		t.Fatalf("session closed with a live order: %s", session.Status)
	}
	decEq(t, "80.00", session.Subtotal, "subtotal excludes cancelled order")
	decEq(t, "12.80", session.TaxAmount, "tax excludes cancelled order")
}

func TestListClosedSessionsWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedTable(t, "T-M02")
	env.seedTable(t, "T-M03")
	dish := env.seedMenuItem(t, "Tlayuda", "80.00", false)

	old := env.placeOrder(t, "T-M02", OrderItemInput{MenuItemID: dish.ID, Quantity: 1})
	if _, err := env.engine.Transition(ctx, old.Order.ID, models.OrderCancelled, models.ScopeClient, nil, TransitionPayload{}); err != nil {
		t.Fatalf("cancel old: %v", err)
	}

	env.advance(30 * time.Hour)
	recent := env.placeOrder(t, "T-M03", OrderItemInput{MenuItemID: dish.ID, Quantity: 1})
	if _, err := env.engine.Transition(ctx, recent.Order.ID, models.OrderCancelled, models.ScopeClient, nil, TransitionPayload{}); err != nil {
		t.Fatalf("cancel recent: %v", err)
	}

	sessions, err := env.engine.ListClosedSessions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != recent.Session.ID {
		t.Fatalf("window returned %d sessions, want only the recent one", len(sessions))
	}
}

func TestSessionWithoutTableBindsToCustomer(t *testing.T) {
	env := newTestEnv(t)
	dish := env.seedMenuItem(t, "Tlayuda", "80.00", false)

	first, err := env.engine.CreateOrder(context.Background(), CreateOrderInput{
		CustomerEmail: "ana@example.com",
		Items:         []OrderItemInput{{MenuItemID: dish.ID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("first order: %v", err)
	}
	second, err := env.engine.CreateOrder(context.Background(), CreateOrderInput{
		CustomerEmail: "ana@example.com",
		Items:         []OrderItemInput{{MenuItemID: dish.ID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("second order: %v", err)
	}
	if first.Session.ID != second.Session.ID {
		t.Fatalf("same customer got two sessions without a table")
	}
	if first.Order.CustomerID != second.Order.CustomerID {
		t.Fatalf("customer deduplication by email hash failed")
	}
}
