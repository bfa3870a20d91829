package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"mesaops/bus"
	"mesaops/fault"
	"mesaops/models"
	"mesaops/money"
	"mesaops/pii"
)

// TipInput selects exactly one tip form: a fixed amount or a percentage of
// the session subtotal.
type TipInput struct {
	Fixed   *decimal.Decimal
	Percent *decimal.Decimal
}

func (t TipInput) validate() error {
	if (t.Fixed == nil) == (t.Percent == nil) {
		return fault.BadRequest("exactly one of fixed or percent is required")
	}
	if t.Percent != nil {
		if t.Percent.IsNegative() || t.Percent.GreaterThan(decimal.NewFromInt(100)) {
			return fault.BadRequest("tip percent must be within [0, 100]")
		}
	}
	if t.Fixed != nil {
		if t.Fixed.IsNegative() || t.Fixed.GreaterThan(decimal.NewFromInt(10000)) {
			return fault.BadRequest("fixed tip must be within [0, 10000]")
		}
	}
	return nil
}

func (t TipInput) amount(subtotal decimal.Decimal) decimal.Decimal {
	if t.Fixed != nil {
		return money.Quantize(*t.Fixed)
	}
	return money.TipFromPercent(subtotal, *t.Percent)
}

// FinalizePaymentInput carries the settlement request.
type FinalizePaymentInput struct {
	Method    string
	Tip       *TipInput
	Reference string

	// Optional contact update for anonymous guests.
	ContactName  string
	ContactEmail string
	ContactPhone string
}

// FinalizeResult reports whether the chosen method still needs a cashier
// confirmation.
type FinalizeResult struct {
	Session              models.DiningSession
	RequiresConfirmation bool
}

var settleableStatuses = []models.SessionStatus{
	models.SessionOpen, models.SessionAwaitingTip, models.SessionAwaitingPayment,
}

func sessionSettleable(status models.SessionStatus) bool {
	for _, s := range settleableStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// RequestCheck starts the settlement flow: the session enters awaiting_tip
// and a checkout waiter call goes out (re-emitted if one is already
// pending).
func (e *Engine) RequestCheck(ctx context.Context, sessionID uint) (*models.DiningSession, error) {
	var out models.DiningSession
	err := e.inTx(ctx, func(tx *gorm.DB, ev *eventBuffer) error {
		session, err := e.lockSession(tx, sessionID)
		if err != nil {
			return err
		}
		if !sessionSettleable(session.Status) {
			return fault.Conflict("session %d is %s, check cannot be requested", session.ID, session.Status)
		}
		now := e.now()
		session.CheckRequestedAt = &now
		session.TipRequestedAt = &now
		session.Status = models.SessionAwaitingTip
		session.UpdatedAt = now
		if err := tx.Omit("Orders").Save(session).Error; err != nil {
			return wrapDB(err, "session")
		}

		call, _, err := e.ensurePendingCall(tx, session, models.CallNoteCheckout, now)
		if err != nil {
			return err
		}
		orderIDs, err := e.sessionOrderIDs(tx, session.ID)
		if err != nil {
			return err
		}
		payload := bus.WaiterCallPayload{
			CallID:       call.ID,
			SessionID:    session.ID,
			TableCode:    session.TableCode,
			Status:       string(call.Status),
			CallType:     call.Note,
			OrderNumbers: orderIDs,
		}
		// A pre-existing pending call is re-emitted rather than duplicated.
		ev.add(bus.WaiterCallCreated(payload))
		ev.add(bus.SessionStatusChanged(session.ID, string(session.Status), session.TableCode))

		out = *session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ApplyTip records the tip and advances the session to awaiting_payment.
func (e *Engine) ApplyTip(ctx context.Context, sessionID uint, tip TipInput) (*models.DiningSession, error) {
	if err := tip.validate(); err != nil {
		return nil, err
	}
	var out models.DiningSession
	err := e.inTx(ctx, func(tx *gorm.DB, ev *eventBuffer) error {
		session, err := e.lockSession(tx, sessionID)
		if err != nil {
			return err
		}
		if !sessionSettleable(session.Status) {
			return fault.Conflict("session %d is %s, tip cannot be applied", session.ID, session.Status)
		}
		now := e.now()
		session.TipAmount = tip.amount(session.Subtotal)
		session.TipConfirmedAt = &now
		session.Status = models.SessionAwaitingPayment
		if err := e.recomputeTotals(tx, session); err != nil {
			return err
		}
		ev.count(func() { settlementOutcomes.WithLabelValues("tip_applied").Inc() })
		ev.add(bus.SessionStatusChanged(session.ID, string(session.Status), session.TableCode))
		out = *session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// FinalizePayment records the chosen method. Cash and card park the session
// in awaiting_payment_confirmation for a cashier; stripe and clip settle
// immediately.
func (e *Engine) FinalizePayment(ctx context.Context, sessionID uint, input FinalizePaymentInput) (*FinalizeResult, error) {
	method, err := models.ParsePaymentMethod(input.Method)
	if err != nil {
		return nil, fault.BadRequest("%v", err)
	}
	if input.Tip != nil {
		if err := input.Tip.validate(); err != nil {
			return nil, err
		}
	}
	var result FinalizeResult
	err = e.inTx(ctx, func(tx *gorm.DB, ev *eventBuffer) error {
		session, err := e.lockSession(tx, sessionID)
		if err != nil {
			return err
		}
		if session.Status == models.SessionPaid {
			return fault.Conflict("session %d is already paid", session.ID)
		}
		now := e.now()

		if input.ContactEmail != "" || input.ContactName != "" || input.ContactPhone != "" {
			if err := e.updateAnonymousContact(tx, session.CustomerID, input); err != nil {
				return err
			}
		}

		if input.Tip != nil {
			session.TipAmount = input.Tip.amount(session.Subtotal)
			session.TipConfirmedAt = &now
			if err := e.recomputeTotals(tx, session); err != nil {
				return err
			}
		}

		session.PaymentMethod = method
		session.PaymentReference = input.Reference
		session.TotalPaid = session.TotalAmount

		if method.RequiresConfirmation() {
			session.Status = models.SessionAwaitingConfirm
			session.UpdatedAt = now
			if err := tx.Omit("Orders").Save(session).Error; err != nil {
				return wrapDB(err, "session")
			}
			if _, _, err := e.ensurePendingCall(tx, session, models.PaymentRequestNote(method), now); err != nil {
				return err
			}
			ev.add(bus.Notification("cashier", "payment_pending_confirmation", "Payment to confirm",
				fmt.Sprintf("Session %d settles by %s", session.ID, method), map[string]any{
					"session_id": session.ID,
					"table_code": session.TableCode,
					"method":     string(method),
				}, "high"))
			result.RequiresConfirmation = true
			ev.count(func() { settlementOutcomes.WithLabelValues("awaiting_confirmation").Inc() })
		} else {
			if err := e.settleSession(tx, session, method, input.Reference, now); err != nil {
				return err
			}
			ev.count(func() { settlementOutcomes.WithLabelValues("settled").Inc() })
		}
		ev.add(bus.SessionStatusChanged(session.ID, string(session.Status), session.TableCode))
		result.Session = *session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ConfirmPayment is the cashier acknowledgement closing a cash or card
// settlement.
func (e *Engine) ConfirmPayment(ctx context.Context, sessionID uint) (*models.DiningSession, error) {
	var out models.DiningSession
	err := e.inTx(ctx, func(tx *gorm.DB, ev *eventBuffer) error {
		session, err := e.lockSession(tx, sessionID)
		if err != nil {
			return err
		}
		if session.Status != models.SessionAwaitingConfirm {
			return fault.Conflict("session %d is %s, nothing to confirm", session.ID, session.Status)
		}
		now := e.now()
		if err := e.settleSession(tx, session, session.PaymentMethod, session.PaymentReference, now); err != nil {
			return err
		}
		ev.count(func() { settlementOutcomes.WithLabelValues("settled").Inc() })
		ev.add(bus.SessionStatusChanged(session.ID, string(session.Status), session.TableCode))
		out = *session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ConfirmPartialPayment settles the listed orders only. The session reaches
// paid when its last unpaid order does; until then it stays in
// awaiting_payment_confirmation reflecting the mixed state.
func (e *Engine) ConfirmPartialPayment(ctx context.Context, sessionID uint, orderIDs []uint) (*models.DiningSession, error) {
	if len(orderIDs) == 0 {
		return nil, fault.BadRequest("order_ids must not be empty")
	}
	var out models.DiningSession
	err := e.inTx(ctx, func(tx *gorm.DB, ev *eventBuffer) error {
		session, err := e.lockSession(tx, sessionID)
		if err != nil {
			return err
		}
		if session.Status != models.SessionAwaitingConfirm {
			return fault.Conflict("session %d is %s, partial payment not allowed", session.ID, session.Status)
		}
		now := e.now()
		for _, orderID := range orderIDs {
			var order models.Order
			if err := tx.First(&order, "id = ?", orderID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fault.NotFound("order %d not found", orderID)
				}
				return wrapDB(err, "order")
			}
			if order.SessionID != session.ID {
				return fault.BadRequest("order %d does not belong to session %d", orderID, session.ID)
			}
			order.PaymentStatus = models.PaymentPaid
			order.PaymentMethod = session.PaymentMethod
			order.PaymentReference = session.PaymentReference
			order.PaidAt = &now
			order.UpdatedAt = now
			if err := tx.Omit("Items", "History").Save(&order).Error; err != nil {
				return wrapDB(err, "order")
			}
		}

		var unpaid int64
		if err := tx.Model(&models.Order{}).
			Where("session_id = ? AND workflow_status <> ? AND payment_status <> ?",
				session.ID, models.OrderCancelled, models.PaymentPaid).
			Count(&unpaid).Error; err != nil {
			return wrapDB(err, "orders")
		}
		if unpaid == 0 {
			session.Status = models.SessionPaid
			session.ClosedAt = &now
			session.TotalPaid = session.TotalAmount
			session.UpdatedAt = now
			if err := tx.Omit("Orders").Save(session).Error; err != nil {
				return wrapDB(err, "session")
			}
			ev.count(func() { settlementOutcomes.WithLabelValues("settled").Inc() })
			ev.add(bus.SessionStatusChanged(session.ID, string(session.Status), session.TableCode))
		}
		out = *session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// settleSession closes the session as paid and marks every non-cancelled
// order settled with the session's method and reference.
func (e *Engine) settleSession(tx *gorm.DB, session *models.DiningSession, method models.PaymentMethod, reference string, now time.Time) error {
	session.Status = models.SessionPaid
	session.ClosedAt = &now
	session.PaymentMethod = method
	session.PaymentReference = reference
	session.TotalPaid = session.TotalAmount
	session.UpdatedAt = now
	if err := tx.Omit("Orders").Save(session).Error; err != nil {
		return wrapDB(err, "session")
	}
	err := tx.Model(&models.Order{}).
		Where("session_id = ? AND workflow_status <> ?", session.ID, models.OrderCancelled).
		Updates(map[string]any{
			"payment_status":    models.PaymentPaid,
			"payment_method":    method,
			"payment_reference": reference,
			"paid_at":           now,
			"updated_at":        now,
		}).Error
	return wrapDB(err, "orders")
}

// updateAnonymousContact fills in contact details provided at payment time.
// The email is accepted only while the stored address is still the synthetic
// anonymous sentinel.
func (e *Engine) updateAnonymousContact(tx *gorm.DB, customerID uint, input FinalizePaymentInput) error {
	var customer models.Customer
	if err := tx.First(&customer, "id = ?", customerID).Error; err != nil {
		return wrapDB(err, "customer")
	}
	now := e.now()
	if input.ContactName != "" {
		nameEnc, err := e.codec.Encrypt(input.ContactName)
		if err != nil {
			return fault.Internal(err, "encrypt customer name")
		}
		customer.NameEnc = nameEnc
	}
	if input.ContactPhone != "" {
		customer.Phone = input.ContactPhone
	}
	if email := pii.NormalizeEmail(input.ContactEmail); email != "" && customer.IsAnonymous {
		emailEnc, err := e.codec.Encrypt(email)
		if err != nil {
			return fault.Internal(err, "encrypt customer email")
		}
		customer.EmailEnc = emailEnc
		customer.EmailHash = pii.EmailHash(email)
		customer.IsAnonymous = false
	}
	customer.UpdatedAt = now
	return wrapDB(tx.Save(&customer).Error, "customer")
}

// ensurePendingCall returns the session's pending call with the given note,
// creating one when none exists.
func (e *Engine) ensurePendingCall(tx *gorm.DB, session *models.DiningSession, note string, now time.Time) (*models.WaiterCall, bool, error) {
	var call models.WaiterCall
	err := tx.Where("session_id = ? AND note = ? AND status = ?", session.ID, note, models.CallPending).
		First(&call).Error
	if err == nil {
		return &call, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, wrapDB(err, "waiter call")
	}
	call = models.WaiterCall{
		SessionID: session.ID,
		TableCode: session.TableCode,
		Status:    models.CallPending,
		Note:      note,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.Create(&call).Error; err != nil {
		return nil, false, wrapDB(err, "waiter call")
	}
	return &call, true, nil
}

func (e *Engine) sessionOrderIDs(tx *gorm.DB, sessionID uint) ([]uint, error) {
	var ids []uint
	err := tx.Model(&models.Order{}).
		Where("session_id = ? AND workflow_status <> ?", sessionID, models.OrderCancelled).
		Order("id").Pluck("id", &ids).Error
	if err != nil {
		return nil, wrapDB(err, "orders")
	}
	return ids, nil
}
