package workflow

import (
	"context"
	"time"

	"gorm.io/gorm"

	"mesaops/bus"
	"mesaops/fault"
	"mesaops/models"
)

// TransitionPayload carries the optional inputs of a transition request.
// Fields that a given action does not use are ignored.
type TransitionPayload struct {
	Justification    string
	PaymentMethod    string
	PaymentReference string
	PaymentMeta      models.JSONMap
}

// Transition validates and applies one order state change under the fixed
// policy table. A request whose target equals the current status is a no-op
// success and writes no history.
func (e *Engine) Transition(ctx context.Context, orderID uint, to models.OrderStatus, scope models.Scope, actorID *uint, payload TransitionPayload) (*models.Order, error) {
	if !to.Valid() {
		return nil, fault.BadRequest("unknown order status %q", to)
	}
	var out models.Order
	err := e.inTx(ctx, func(tx *gorm.DB, ev *eventBuffer) error {
		order, err := e.lockOrder(tx, orderID)
		if err != nil {
			return err
		}
		if err := e.applyTransition(tx, ev, order, to, scope, actorID, payload); err != nil {
			return err
		}
		out = *order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// lockOrder reads the order row under FOR UPDATE with its items.
func (e *Engine) lockOrder(tx *gorm.DB, orderID uint) (*models.Order, error) {
	var order models.Order
	if err := lockForUpdate(tx).First(&order, "id = ?", orderID).Error; err != nil {
		return nil, wrapDB(err, "order")
	}
	if err := tx.Preload("Modifiers").Where("order_id = ?", order.ID).Find(&order.Items).Error; err != nil {
		return nil, wrapDB(err, "order items")
	}
	return &order, nil
}

// applyTransition runs one edge inside the caller's transaction. It is also
// the chaining entry point: accept on a kitchen-free order re-enters here
// for queued → ready under the system scope.
func (e *Engine) applyTransition(tx *gorm.DB, ev *eventBuffer, order *models.Order, to models.OrderStatus, scope models.Scope, actorID *uint, payload TransitionPayload) error {
	if order.WorkflowStatus == to {
		return nil
	}
	if order.WorkflowStatus.Terminal() {
		return fault.ConflictCode(fault.CodeTerminalStatus, "order %d is %s", order.ID, order.WorkflowStatus)
	}
	pol, ok := lookupPolicy(order.WorkflowStatus, to)
	if !ok {
		return fault.BadRequestCode(fault.CodeInvalidTransition, "transition %s -> %s is not permitted", order.WorkflowStatus, to)
	}
	if !pol.allows(scope) {
		return fault.ForbiddenCode(fault.CodeScopeNotAllowed, "scope %s may not perform %s", scope, pol.action)
	}
	if pol.requiresJustification && payload.Justification == "" {
		return fault.BadRequestCode(fault.CodeJustificationRequired, "%s from %s requires a justification", pol.action, order.WorkflowStatus)
	}

	now := e.now()
	from := order.WorkflowStatus

	switch pol.action {
	case ActionAcceptOrQueue:
		order.WaiterID = actorID
		order.AcceptedAt = &now
		order.WaiterAcceptedAt = &now
	case ActionKitchenStart:
		order.ChefID = actorID
		order.ChefAcceptedAt = &now
	case ActionKitchenComplete:
		order.ReadyAt = &now
	case ActionDeliver:
		order.DeliveryWaiterID = actorID
		order.DeliveredAt = &now
		order.PaymentStatus = models.PaymentAwaitingTip
	case ActionMarkAwaitingPayment:
		order.CheckRequestedAt = &now
	case ActionPay, ActionPayDirect:
		method, err := models.ParsePaymentMethod(payload.PaymentMethod)
		if err != nil {
			return fault.BadRequest("%v", err)
		}
		order.PaymentMethod = method
		order.PaymentReference = payload.PaymentReference
		if payload.PaymentMeta != nil {
			order.PaymentMeta = payload.PaymentMeta
		}
		order.PaidAt = &now
		order.PaymentStatus = models.PaymentPaid
	case ActionSkipKitchen:
		if requiresKitchen(order.Items) {
			return fault.ConflictCode(fault.CodeKitchenRequired, "order %d has items that require the kitchen", order.ID)
		}
	case ActionCancel:
		if pol.requiresJustification || (e.storeCancelReason && payload.Justification != "") {
			order.AppendNote(scope, payload.Justification)
		}
		if from == models.OrderNew || from == models.OrderQueued {
			order.WaiterID = nil
			order.AcceptedAt = nil
			order.WaiterAcceptedAt = nil
			order.ChefID = nil
			order.DeliveryWaiterID = nil
		}
		order.PaymentStatus = models.PaymentUnpaid
	}

	order.WorkflowStatus = to
	order.UpdatedAt = now
	if err := tx.Omit("Items", "History").Save(order).Error; err != nil {
		return wrapDB(err, "order")
	}
	history := models.OrderStatusHistory{
		OrderID:   order.ID,
		Status:    to,
		Scope:     scope,
		ActorID:   actorID,
		Note:      payload.Justification,
		CreatedAt: now,
	}
	if err := tx.Create(&history).Error; err != nil {
		return wrapDB(err, "order history")
	}
	action := pol.action
	ev.count(func() { transitionsApplied.WithLabelValues(string(action), string(to)).Inc() })

	session, err := e.lockSession(tx, order.SessionID)
	if err != nil {
		return err
	}
	ev.add(bus.OrderStatusChanged(order.ID, string(to), session.ID, session.TableCode))

	switch pol.action {
	case ActionCancel:
		if err := e.afterOrderCancelled(tx, ev, session); err != nil {
			return err
		}
	case ActionAcceptOrQueue:
		e.autoAssignOnAccept(tx, ev, order, session, actorID)
		if err := e.adoptSiblingNewOrders(tx, order, session, actorID, &now); err != nil {
			return err
		}
		if !requiresKitchen(order.Items) {
			return e.applyTransition(tx, ev, order, models.OrderReady, models.ScopeSystem, actorID, TransitionPayload{})
		}
	}
	return nil
}

// requiresKitchen reports whether any item needs kitchen processing.
func requiresKitchen(items []models.OrderItem) bool {
	for _, item := range items {
		if !item.QuickServe {
			return true
		}
	}
	return false
}

// adoptSiblingNewOrders re-points the remaining unaccepted orders of the
// session to the waiter who just accepted one of them.
func (e *Engine) adoptSiblingNewOrders(tx *gorm.DB, accepted *models.Order, session *models.DiningSession, waiterID *uint, now *time.Time) error {
	if waiterID == nil {
		return nil
	}
	err := tx.Model(&models.Order{}).
		Where("session_id = ? AND id <> ? AND workflow_status = ?", session.ID, accepted.ID, models.OrderNew).
		Updates(map[string]any{"waiter_id": *waiterID, "updated_at": *now}).Error
	return wrapDB(err, "sibling orders")
}

// DeliverItems records partial delivery for the listed items. The order
// status only advances once every item is fully delivered.
func (e *Engine) DeliverItems(ctx context.Context, orderID uint, itemIDs []uint, employeeID uint) (*models.Order, error) {
	if len(itemIDs) == 0 {
		return nil, fault.BadRequest("item_ids must not be empty")
	}
	var out models.Order
	err := e.inTx(ctx, func(tx *gorm.DB, ev *eventBuffer) error {
		order, err := e.lockOrder(tx, orderID)
		if err != nil {
			return err
		}
		if order.WorkflowStatus != models.OrderReady && order.WorkflowStatus != models.OrderDelivered {
			return fault.Conflict("order %d is %s, not deliverable", order.ID, order.WorkflowStatus)
		}
		now := e.now()
		byID := make(map[uint]*models.OrderItem, len(order.Items))
		for i := range order.Items {
			byID[order.Items[i].ID] = &order.Items[i]
		}
		for _, id := range itemIDs {
			item, ok := byID[id]
			if !ok {
				return fault.NotFound("order item %d not on order %d", id, order.ID)
			}
			item.DeliveredQuantity = item.Quantity
			item.IsFullyDelivered = true
			item.DeliveredAt = &now
			item.DeliveredByEmployeeID = &employeeID
			if err := tx.Omit("Modifiers").Save(item).Error; err != nil {
				return wrapDB(err, "order item")
			}
		}
		allDelivered := true
		for i := range order.Items {
			if !order.Items[i].IsFullyDelivered {
				allDelivered = false
				break
			}
		}
		if allDelivered && order.WorkflowStatus == models.OrderReady {
			if err := e.applyTransition(tx, ev, order, models.OrderDelivered, models.ScopeSystem, &employeeID, TransitionPayload{}); err != nil {
				return err
			}
		}
		out = *order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
