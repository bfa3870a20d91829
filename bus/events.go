package bus

import "time"

// Event type names of the realtime contract. Downstream dashboards and the
// SSE fan-out match on these strings.
const (
	TypeOrderCreated       = "order.created"
	TypeOrderStatusChanged = "order.status_changed"
	TypeOrderAutoAccepted  = "order.auto_accepted"

	TypeSessionStatusChanged = "session.status_changed"

	TypeWaiterCallCreated   = "waiter_call.created"
	TypeWaiterCallConfirmed = "waiter_call.confirmed"
	TypeWaiterCallCancelled = "waiter_call.cancelled"

	TypeSupervisorCalled = "supervisor.called"

	TypeTransferRequested = "table.transfer_requested"
	TypeTransferAccepted  = "table.transfer_accepted"
	TypeTransferRejected  = "table.transfer_rejected"

	TypeModificationRequested = "modification.requested"
	TypeModificationApproved  = "modification.approved"
	TypeModificationRejected  = "modification.rejected"

	notificationPrefix = "notification."
)

// NotificationType builds the role-scoped notification event type.
func NotificationType(audience string) string {
	return notificationPrefix + audience
}

// NotificationAudience extracts the audience of a notification event type,
// or "" when the event is not a notification.
func NotificationAudience(eventType string) string {
	if len(eventType) <= len(notificationPrefix) || eventType[:len(notificationPrefix)] != notificationPrefix {
		return ""
	}
	return eventType[len(notificationPrefix):]
}

func newEvent(eventType string, payload map[string]any) Event {
	return Event{Type: eventType, Payload: payload, At: time.Now().UTC()}
}

// OrderCreated announces a persisted order.
func OrderCreated(orderID, sessionID uint, tableCode string, requiresKitchen bool, itemCount int) Event {
	return newEvent(TypeOrderCreated, map[string]any{
		"order_id":         orderID,
		"session_id":       sessionID,
		"table_code":       tableCode,
		"requires_kitchen": requiresKitchen,
		"item_count":       itemCount,
	})
}

// OrderStatusChanged announces any order transition.
func OrderStatusChanged(orderID uint, status string, sessionID uint, tableCode string) Event {
	return newEvent(TypeOrderStatusChanged, map[string]any{
		"order_id":   orderID,
		"status":     status,
		"session_id": sessionID,
		"table_code": tableCode,
	})
}

// OrderAutoAccepted announces a pre-acceptance at creation time.
func OrderAutoAccepted(orderID, waiterID, tableID, sessionID uint) Event {
	return newEvent(TypeOrderAutoAccepted, map[string]any{
		"order_id":   orderID,
		"waiter_id":  waiterID,
		"table_id":   tableID,
		"session_id": sessionID,
	})
}

// SessionStatusChanged announces any session status change.
func SessionStatusChanged(sessionID uint, status, tableCode string) Event {
	return newEvent(TypeSessionStatusChanged, map[string]any{
		"session_id": sessionID,
		"status":     status,
		"table_code": tableCode,
	})
}

// WaiterCallPayload captures the call attributes shared by all waiter_call
// events.
type WaiterCallPayload struct {
	CallID       uint
	SessionID    uint
	TableCode    string
	Status       string
	CallType     string
	OrderNumbers []uint
	WaiterID     *uint
	WaiterName   string
}

func waiterCallEvent(eventType string, p WaiterCallPayload) Event {
	payload := map[string]any{
		"call_id":       p.CallID,
		"session_id":    p.SessionID,
		"table_code":    p.TableCode,
		"status":        p.Status,
		"call_type":     p.CallType,
		"order_numbers": p.OrderNumbers,
	}
	if p.WaiterID != nil {
		payload["waiter_id"] = *p.WaiterID
	}
	if p.WaiterName != "" {
		payload["waiter_name"] = p.WaiterName
	}
	return newEvent(eventType, payload)
}

// WaiterCallCreated announces a new call.
func WaiterCallCreated(p WaiterCallPayload) Event { return waiterCallEvent(TypeWaiterCallCreated, p) }

// WaiterCallConfirmed announces a confirmed call.
func WaiterCallConfirmed(p WaiterCallPayload) Event {
	return waiterCallEvent(TypeWaiterCallConfirmed, p)
}

// WaiterCallCancelled announces a cancelled call.
func WaiterCallCancelled(p WaiterCallPayload) Event {
	return waiterCallEvent(TypeWaiterCallCancelled, p)
}

// SupervisorCalled announces a staff escalation.
func SupervisorCalled(employeeID uint, employeeName, tableCode string, orderID *uint) Event {
	payload := map[string]any{
		"employee_id":   employeeID,
		"employee_name": employeeName,
	}
	if tableCode != "" {
		payload["table_code"] = tableCode
	}
	if orderID != nil {
		payload["order_id"] = *orderID
	}
	return newEvent(TypeSupervisorCalled, payload)
}

// TransferRequested announces a pending table transfer.
func TransferRequested(transferID, tableID, fromWaiterID, toWaiterID uint) Event {
	return newEvent(TypeTransferRequested, map[string]any{
		"transfer_id":    transferID,
		"table_id":       tableID,
		"from_waiter_id": fromWaiterID,
		"to_waiter_id":   toWaiterID,
	})
}

// TransferAccepted announces an accepted transfer, with the order handover
// summary when orders moved.
func TransferAccepted(transferID, tableID, fromWaiterID, toWaiterID uint, ordersTransferred bool, orderCount int) Event {
	return newEvent(TypeTransferAccepted, map[string]any{
		"transfer_id":        transferID,
		"table_id":           tableID,
		"from_waiter_id":     fromWaiterID,
		"to_waiter_id":       toWaiterID,
		"orders_transferred": ordersTransferred,
		"order_count":        orderCount,
	})
}

// TransferRejected announces a rejected transfer.
func TransferRejected(transferID, tableID, fromWaiterID, toWaiterID uint) Event {
	return newEvent(TypeTransferRejected, map[string]any{
		"transfer_id":    transferID,
		"table_id":       tableID,
		"from_waiter_id": fromWaiterID,
		"to_waiter_id":   toWaiterID,
	})
}

func modificationEvent(eventType string, modificationID, orderID, sessionID uint, changes string) Event {
	return newEvent(eventType, map[string]any{
		"modification_id": modificationID,
		"order_id":        orderID,
		"session_id":      sessionID,
		"changes":         changes,
	})
}

// ModificationRequested announces a proposed order modification.
func ModificationRequested(modificationID, orderID, sessionID uint, changes string) Event {
	return modificationEvent(TypeModificationRequested, modificationID, orderID, sessionID, changes)
}

// ModificationApproved announces an approved modification.
func ModificationApproved(modificationID, orderID, sessionID uint, changes string) Event {
	return modificationEvent(TypeModificationApproved, modificationID, orderID, sessionID, changes)
}

// ModificationRejected announces a rejected modification.
func ModificationRejected(modificationID, orderID, sessionID uint, changes string) Event {
	return modificationEvent(TypeModificationRejected, modificationID, orderID, sessionID, changes)
}

// Notification builds a role-scoped notification for SSE fan-out.
func Notification(audience, notificationType, title, message string, data map[string]any, priority string) Event {
	return newEvent(NotificationType(audience), map[string]any{
		"notification_type": notificationType,
		"title":             title,
		"message":           message,
		"data":              data,
		"priority":          priority,
	})
}
