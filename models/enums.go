package models

import (
	"database/sql/driver"
	"fmt"
)

// OrderStatus is the workflow state of an order.
type OrderStatus string

const (
	OrderNew             OrderStatus = "new"
	OrderQueued          OrderStatus = "queued"
	OrderPreparing       OrderStatus = "preparing"
	OrderReady           OrderStatus = "ready"
	OrderDelivered       OrderStatus = "delivered"
	OrderAwaitingPayment OrderStatus = "awaiting_payment"
	OrderPaid            OrderStatus = "paid"
	OrderCancelled       OrderStatus = "cancelled"
)

// Valid reports whether s is a member of the order-state enum.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderNew, OrderQueued, OrderPreparing, OrderReady, OrderDelivered,
		OrderAwaitingPayment, OrderPaid, OrderCancelled:
		return true
	}
	return false
}

// Terminal reports whether no outgoing transition exists from s.
func (s OrderStatus) Terminal() bool {
	return s == OrderPaid || s == OrderCancelled
}

func (s OrderStatus) String() string { return string(s) }

func (s *OrderStatus) Scan(value interface{}) error { return scanString((*string)(s), value) }

func (s OrderStatus) Value() (driver.Value, error) { return string(s), nil }

// PaymentStatus tracks settlement progress on a single order.
type PaymentStatus string

const (
	PaymentUnpaid      PaymentStatus = "unpaid"
	PaymentAwaitingTip PaymentStatus = "awaiting_tip"
	PaymentPaid        PaymentStatus = "paid"
)

func (s *PaymentStatus) Scan(value interface{}) error { return scanString((*string)(s), value) }

func (s PaymentStatus) Value() (driver.Value, error) { return string(s), nil }

// SessionStatus is the settlement state of a dining session.
type SessionStatus string

const (
	SessionOpen              SessionStatus = "open"
	SessionAwaitingTip       SessionStatus = "awaiting_tip"
	SessionAwaitingPayment   SessionStatus = "awaiting_payment"
	SessionAwaitingConfirm   SessionStatus = "awaiting_payment_confirmation"
	SessionClosed            SessionStatus = "closed"
	SessionPaid              SessionStatus = "paid"
)

func (s *SessionStatus) Scan(value interface{}) error { return scanString((*string)(s), value) }

func (s SessionStatus) Value() (driver.Value, error) { return string(s), nil }

// TableStatus is the floor state of a table.
type TableStatus string

const (
	TableAvailable   TableStatus = "available"
	TableOccupied    TableStatus = "occupied"
	TableReserved    TableStatus = "reserved"
	TableMaintenance TableStatus = "maintenance"
)

func (s *TableStatus) Scan(value interface{}) error { return scanString((*string)(s), value) }

func (s TableStatus) Value() (driver.Value, error) { return string(s), nil }

// PaymentMethod is the enumerated settlement instrument. SplitBill is the
// synthetic method stamped on orders closed through a completed split.
type PaymentMethod string

const (
	MethodCash      PaymentMethod = "cash"
	MethodCard      PaymentMethod = "card"
	MethodStripe    PaymentMethod = "stripe"
	MethodClip      PaymentMethod = "clip"
	MethodSplitBill PaymentMethod = "split_bill"
)

// ParsePaymentMethod validates a caller-provided method.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch PaymentMethod(s) {
	case MethodCash, MethodCard, MethodStripe, MethodClip:
		return PaymentMethod(s), nil
	}
	return "", fmt.Errorf("unknown payment method %q", s)
}

// RequiresConfirmation reports whether the method settles through the
// awaiting_payment_confirmation stage.
func (m PaymentMethod) RequiresConfirmation() bool {
	return m == MethodCash || m == MethodCard
}

func (m *PaymentMethod) Scan(value interface{}) error { return scanString((*string)(m), value) }

func (m PaymentMethod) Value() (driver.Value, error) { return string(m), nil }

// CallStatus tracks a waiter call.
type CallStatus string

const (
	CallPending   CallStatus = "pending"
	CallConfirmed CallStatus = "confirmed"
	CallCancelled CallStatus = "cancelled"
)

func (s *CallStatus) Scan(value interface{}) error { return scanString((*string)(s), value) }

func (s CallStatus) Value() (driver.Value, error) { return string(s), nil }

// TransferStatus tracks a table transfer request.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferAccepted  TransferStatus = "accepted"
	TransferRejected  TransferStatus = "rejected"
	TransferCancelled TransferStatus = "cancelled"
)

func (s *TransferStatus) Scan(value interface{}) error { return scanString((*string)(s), value) }

func (s TransferStatus) Value() (driver.Value, error) { return string(s), nil }

// SplitType selects the split arithmetic.
type SplitType string

const (
	SplitEqual   SplitType = "equal"
	SplitByItems SplitType = "by_items"
)

// ParseSplitType validates a caller-provided split type.
func ParseSplitType(s string) (SplitType, error) {
	switch SplitType(s) {
	case SplitEqual, SplitByItems:
		return SplitType(s), nil
	}
	return "", fmt.Errorf("unknown split type %q", s)
}

func (s *SplitType) Scan(value interface{}) error { return scanString((*string)(s), value) }

func (s SplitType) Value() (driver.Value, error) { return string(s), nil }

// SplitStatus tracks a split bill.
type SplitStatus string

const (
	SplitActive    SplitStatus = "active"
	SplitCompleted SplitStatus = "completed"
	SplitCancelled SplitStatus = "cancelled"
)

func (s *SplitStatus) Scan(value interface{}) error { return scanString((*string)(s), value) }

func (s SplitStatus) Value() (driver.Value, error) { return string(s), nil }

// ModificationStatus tracks a proposed order modification.
type ModificationStatus string

const (
	ModificationPending  ModificationStatus = "pending"
	ModificationApproved ModificationStatus = "approved"
	ModificationRejected ModificationStatus = "rejected"
	ModificationApplied  ModificationStatus = "applied"
)

func (s *ModificationStatus) Scan(value interface{}) error { return scanString((*string)(s), value) }

func (s ModificationStatus) Value() (driver.Value, error) { return string(s), nil }

// Scope is the authorization window an actor operates in. Roles describe what
// an employee is; the scope is the surface the current request came through.
type Scope string

const (
	ScopeClient  Scope = "client"
	ScopeWaiter  Scope = "waiter"
	ScopeChef    Scope = "chef"
	ScopeCashier Scope = "cashier"
	ScopeAdmin   Scope = "admin"
	ScopeSystem  Scope = "system"
)

// ParseScope validates a scope carried in a token claim.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeClient, ScopeWaiter, ScopeChef, ScopeCashier, ScopeAdmin, ScopeSystem:
		return Scope(s), nil
	}
	return "", fmt.Errorf("unknown scope %q", s)
}

func scanString(dst *string, value interface{}) error {
	switch v := value.(type) {
	case nil:
		*dst = ""
	case string:
		*dst = v
	case []byte:
		*dst = string(v)
	default:
		return fmt.Errorf("cannot scan %T into enum", value)
	}
	return nil
}
