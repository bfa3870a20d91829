package workflow

import (
	"context"
	"testing"

	"mesaops/fault"
	"mesaops/models"
	"mesaops/money"
)

func TestCashRequiresConfirmationAndPartialPayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedTable(t, "T-M01")
	big := env.seedMenuItem(t, "Parrillada", "100.00", false)
	small := env.seedMenuItem(t, "Sopa", "50.00", false)

	first := env.placeOrder(t, "T-M01", OrderItemInput{MenuItemID: big.ID, Quantity: 1})
	second := env.placeOrder(t, "T-M01", OrderItemInput{MenuItemID: small.ID, Quantity: 1})
	sessionID := first.Session.ID

	result, err := env.engine.FinalizePayment(ctx, sessionID, FinalizePaymentInput{Method: "cash"})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !result.RequiresConfirmation {
		t.Fatalf("cash must require confirmation")
	}
	session := env.reloadSession(t, sessionID)
	if session.Status != models.SessionAwaitingConfirm {
		t.Fatalf("session status = %s, want awaiting_payment_confirmation", session.Status)
	}
	if env.reloadOrder(t, first.Order.ID).PaymentStatus == models.PaymentPaid {
		t.Fatalf("order paid before confirmation")
	}

	var call models.WaiterCall
	if err := env.db.Where("session_id = ? AND status = ?", sessionID, models.CallPending).First(&call).Error; err != nil {
		t.Fatalf("payment request call missing: %v", err)
	}
	if call.Note != models.PaymentRequestNote(models.MethodCash) {
		t.Fatalf("call note = %q, want payment_request:cash", call.Note)
	}

	if _, err := env.engine.ConfirmPartialPayment(ctx, sessionID, []uint{first.Order.ID}); err != nil {
		t.Fatalf("partial payment 1: %v", err)
	}
	session = env.reloadSession(t, sessionID)
	if session.Status != models.SessionAwaitingConfirm {
		t.Fatalf("session settled with an unpaid order: %s", session.Status)
	}
	if env.reloadOrder(t, first.Order.ID).PaymentStatus != models.PaymentPaid {
		t.Fatalf("first order not paid")
	}
	if env.reloadOrder(t, second.Order.ID).PaymentStatus == models.PaymentPaid {
		t.Fatalf("second order paid prematurely")
	}

	if _, err := env.engine.ConfirmPartialPayment(ctx, sessionID, []uint{second.Order.ID}); err != nil {
		t.Fatalf("partial payment 2: %v", err)
	}
	session = env.reloadSession(t, sessionID)
	if session.Status != models.SessionPaid || session.ClosedAt == nil {
		t.Fatalf("session not settled after last order: %s", session.Status)
	}
}

func TestConfirmPaymentClosesCashSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedTable(t, "T-M01")
	dish := env.seedMenuItem(t, "Parrillada", "100.00", false)
	result := env.placeOrder(t, "T-M01", OrderItemInput{MenuItemID: dish.ID, Quantity: 1})

	if _, err := env.engine.FinalizePayment(ctx, result.Session.ID, FinalizePaymentInput{Method: "card", Reference: "term-7"}); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if _, err := env.engine.ConfirmPayment(ctx, result.Session.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	session := env.reloadSession(t, result.Session.ID)
	if session.Status != models.SessionPaid {
		t.Fatalf("status = %s, want paid", session.Status)
	}
	order := env.reloadOrder(t, result.Order.ID)
	if order.PaymentStatus != models.PaymentPaid || order.PaymentMethod != models.MethodCard {
		t.Fatalf("order settlement fields wrong: %s/%s", order.PaymentStatus, order.PaymentMethod)
	}
	if order.PaymentReference != "term-7" {
		t.Fatalf("order reference = %q", order.PaymentReference)
	}
}

func TestConfirmPaymentRequiresAwaitingConfirmation(t *testing.T) {
	env := newTestEnv(t)
	env.seedTable(t, "T-M01")
	dish := env.seedMenuItem(t, "Parrillada", "100.00", false)
	result := env.placeOrder(t, "T-M01", OrderItemInput{MenuItemID: dish.ID, Quantity: 1})

	_, err := env.engine.ConfirmPayment(context.Background(), result.Session.ID)
	if fault.KindOf(err) != fault.KindConflict {
		t.Fatalf("err = %v, want Conflict", err)
	}
}

func TestRequestCheckReusesPendingCall(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedTable(t, "T-M01")
	dish := env.seedMenuItem(t, "Parrillada", "100.00", false)
	result := env.placeOrder(t, "T-M01", OrderItemInput{MenuItemID: dish.ID, Quantity: 1})

	if _, err := env.engine.RequestCheck(ctx, result.Session.ID); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := env.engine.RequestCheck(ctx, result.Session.ID); err != nil {
		t.Fatalf("second request: %v", err)
	}
	var calls int64
	if err := env.db.Model(&models.WaiterCall{}).
		Where("session_id = ? AND note = ?", result.Session.ID, models.CallNoteCheckout).
		Count(&calls).Error; err != nil {
		t.Fatalf("count calls: %v", err)
	}
	if calls != 1 {
		t.Fatalf("checkout calls = %d, want 1", calls)
	}
	session := env.reloadSession(t, result.Session.ID)
	if session.Status != models.SessionAwaitingTip || session.CheckRequestedAt == nil {
		t.Fatalf("check request not recorded: %s", session.Status)
	}
}

func TestTipLinearity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedTable(t, "T-M01")
	env.seedTable(t, "T-M02")
	dish := env.seedMenuItem(t, "Parrillada", "123.45", false)

	byPercent := env.placeOrder(t, "T-M01", OrderItemInput{MenuItemID: dish.ID, Quantity: 1})
	byFixed := env.placeOrder(t, "T-M02", OrderItemInput{MenuItemID: dish.ID, Quantity: 1})

	pct := dec("12.5")
	if _, err := env.engine.ApplyTip(ctx, byPercent.Session.ID, TipInput{Percent: &pct}); err != nil {
		t.Fatalf("percent tip: %v", err)
	}
	fixed := money.TipFromPercent(dec("123.45"), pct)
	if _, err := env.engine.ApplyTip(ctx, byFixed.Session.ID, TipInput{Fixed: &fixed}); err != nil {
		t.Fatalf("fixed tip: %v", err)
	}

	a := env.reloadSession(t, byPercent.Session.ID)
	b := env.reloadSession(t, byFixed.Session.ID)
	if !a.TipAmount.Equal(b.TipAmount) {
		t.Fatalf("tips differ: %s vs %s", a.TipAmount, b.TipAmount)
	}
	if !a.TotalAmount.Equal(b.TotalAmount) {
		t.Fatalf("totals differ: %s vs %s", a.TotalAmount, b.TotalAmount)
	}
}

func TestTipInputValidation(t *testing.T) {
	env := newTestEnv(t)
	env.seedTable(t, "T-M01")
	dish := env.seedMenuItem(t, "Parrillada", "100.00", false)
	result := env.placeOrder(t, "T-M01", OrderItemInput{MenuItemID: dish.ID, Quantity: 1})

	ctx := context.Background()
	over := dec("101")
	if _, err := env.engine.ApplyTip(ctx, result.Session.ID, TipInput{Percent: &over}); fault.KindOf(err) != fault.KindBadRequest {
		t.Fatalf("percent 101 accepted: %v", err)
	}
	if _, err := env.engine.ApplyTip(ctx, result.Session.ID, TipInput{}); fault.KindOf(err) != fault.KindBadRequest {
		t.Fatalf("empty tip accepted: %v", err)
	}
	fixed, pct := dec("10"), dec("10")
	if _, err := env.engine.ApplyTip(ctx, result.Session.ID, TipInput{Fixed: &fixed, Percent: &pct}); fault.KindOf(err) != fault.KindBadRequest {
		t.Fatalf("both tip forms accepted: %v", err)
	}
}

func TestFinalizeUpdatesAnonymousContact(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedTable(t, "T-M01")
	dish := env.seedMenuItem(t, "Parrillada", "100.00", false)
	result := env.placeOrder(t, "T-M01", OrderItemInput{MenuItemID: dish.ID, Quantity: 1})

	var before models.Customer
	if err := env.db.First(&before, "id = ?", result.Order.CustomerID).Error; err != nil {
		t.Fatalf("load customer: %v", err)
	}
	if !before.IsAnonymous {
		t.Fatalf("guest without email must be anonymous")
	}

	if _, err := env.engine.FinalizePayment(ctx, result.Session.ID, FinalizePaymentInput{
		Method:       "stripe",
		ContactName:  "Ana",
		ContactEmail: "Ana@Example.com",
	}); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	var after models.Customer
	if err := env.db.First(&after, "id = ?", result.Order.CustomerID).Error; err != nil {
		t.Fatalf("reload customer: %v", err)
	}
	if after.IsAnonymous {
		t.Fatalf("anonymous flag not cleared")
	}
	if after.EmailHash == "" || after.EmailHash == before.EmailHash {
		t.Fatalf("email hash not updated")
	}
}

func TestFinalizeRejectsPaidSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedTable(t, "T-M01")
	dish := env.seedMenuItem(t, "Parrillada", "100.00", false)
	result := env.placeOrder(t, "T-M01", OrderItemInput{MenuItemID: dish.ID, Quantity: 1})

	if _, err := env.engine.FinalizePayment(ctx, result.Session.ID, FinalizePaymentInput{Method: "clip"}); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	_, err := env.engine.FinalizePayment(ctx, result.Session.ID, FinalizePaymentInput{Method: "cash"})
	if fault.KindOf(err) != fault.KindConflict {
		t.Fatalf("double settlement allowed: %v", err)
	}
}

func TestFinalizeUnknownMethod(t *testing.T) {
	env := newTestEnv(t)
	env.seedTable(t, "T-M01")
	dish := env.seedMenuItem(t, "Parrillada", "100.00", false)
	result := env.placeOrder(t, "T-M01", OrderItemInput{MenuItemID: dish.ID, Quantity: 1})

	_, err := env.engine.FinalizePayment(context.Background(), result.Session.ID, FinalizePaymentInput{Method: "bitcoin"})
	if fault.KindOf(err) != fault.KindBadRequest {
		t.Fatalf("unknown method accepted: %v", err)
	}
}
