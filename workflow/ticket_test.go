package workflow

import (
	"context"
	"strings"
	"testing"

	"mesaops/fault"
)

func settlePaidSession(t *testing.T, env *testEnv, email string) uint {
	t.Helper()
	ctx := context.Background()
	env.seedTable(t, "T-M01")
	dish := env.seedMenuItem(t, "Mole Negro", "50.00", false)

	result, err := env.engine.CreateOrder(ctx, CreateOrderInput{
		TableCode:     "T-M01",
		CustomerEmail: email,
		Items:         []OrderItemInput{{MenuItemID: dish.ID, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := env.engine.FinalizePayment(ctx, result.Session.ID, FinalizePaymentInput{Method: "stripe", Reference: "pi_1"}); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return result.Session.ID
}

func TestRenderTicketDeterministic(t *testing.T) {
	env := newTestEnv(t)
	sessionID := settlePaidSession(t, env, "ana@example.com")

	first, err := env.engine.RenderTicket(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	second, err := env.engine.RenderTicket(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("render again: %v", err)
	}
	if first.Body != second.Body {
		t.Fatalf("ticket rendering is not deterministic")
	}
	for _, want := range []string{"table T-M01", "Mole Negro", "subtotal", "100.00", "paid (stripe)"} {
		if !strings.Contains(first.Body, want) {
			t.Fatalf("ticket missing %q:\n%s", want, first.Body)
		}
	}
	if first.Email != "ana@example.com" {
		t.Fatalf("email = %q", first.Email)
	}
}

func TestTicketRequiresPaidSession(t *testing.T) {
	env := newTestEnv(t)
	env.seedTable(t, "T-M01")
	dish := env.seedMenuItem(t, "Mole Negro", "50.00", false)
	result := env.placeOrder(t, "T-M01", OrderItemInput{MenuItemID: dish.ID, Quantity: 1})

	_, err := env.engine.RenderTicket(context.Background(), result.Session.ID)
	if fault.KindOf(err) != fault.KindConflict {
		t.Fatalf("ticket rendered for open session: %v", err)
	}
}

func TestResendTicketHonorsAnonymousSentinel(t *testing.T) {
	env := newTestEnv(t)
	sessionID := settlePaidSession(t, env, "")

	_, err := env.engine.ResendTicket(context.Background(), sessionID)
	if fault.KindOf(err) != fault.KindConflict {
		t.Fatalf("resend to anonymous guest accepted: %v", err)
	}
}

func TestResendTicketWithRealEmail(t *testing.T) {
	env := newTestEnv(t)
	sessionID := settlePaidSession(t, env, "ana@example.com")

	ticket, err := env.engine.ResendTicket(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if ticket.Email != "ana@example.com" {
		t.Fatalf("email = %q", ticket.Email)
	}
}
