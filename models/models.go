// Package models holds the persisted schema of the operations core. Gorm
// owns the migrations; engines mutate rows only through the workflows that
// guard them.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// JSONMap persists a free-form object as a JSON text column.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", value)
	}
	if len(raw) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(raw, m)
}

// Customer is a guest identity. Created on first order for an unknown
// contact, never deleted. Name and email are stored encrypted; EmailHash is
// the lookup key and is empty for anonymous guests.
type Customer struct {
	ID           uint   `gorm:"primaryKey"`
	NameEnc      string `gorm:"size:512"`
	EmailEnc     string `gorm:"size:512"`
	EmailHash    string `gorm:"size:64;index"`
	Phone        string `gorm:"size:32"`
	Description  string `gorm:"size:255"`
	AvatarRef    string `gorm:"size:255"`
	IsAnonymous  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Employee is a staff identity. AllowedScopes is the comma-joined set of
// windows the employee may act in.
type Employee struct {
	ID             uint   `gorm:"primaryKey"`
	NameEnc        string `gorm:"size:512"`
	EmailEnc       string `gorm:"size:512"`
	EmailHash      string `gorm:"size:64;uniqueIndex"`
	PasswordHash   string `gorm:"size:128"`
	PrimaryRole    string `gorm:"size:32;index"`
	ExtraRoles     string `gorm:"size:128"`
	AllowedScopes  string `gorm:"size:128"`
	Active         bool   `gorm:"default:true"`
	SignedInAt     *time.Time
	LastActivityAt *time.Time
	Preferences    JSONMap `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PrefAutoAssignOnAccept is the employee preference controlling whether
// accepting an order also assigns the table to the accepting waiter.
const PrefAutoAssignOnAccept = "auto_assign_table_on_order_accept"

// HasScope reports membership in the employee's allowed scope set.
func (e *Employee) HasScope(scope Scope) bool {
	for _, s := range strings.Split(e.AllowedScopes, ",") {
		if Scope(strings.TrimSpace(s)) == scope {
			return true
		}
	}
	return false
}

// IsSignedIn reports whether the employee signed in and was active within
// the window.
func (e *Employee) IsSignedIn(now time.Time, window time.Duration) bool {
	if e.SignedInAt == nil || e.LastActivityAt == nil {
		return false
	}
	return now.Sub(*e.LastActivityAt) <= window
}

// AutoAssignOnAccept reads the preference with the configured default.
func (e *Employee) AutoAssignOnAccept(def bool) bool {
	if e.Preferences == nil {
		return def
	}
	v, ok := e.Preferences[PrefAutoAssignOnAccept]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// Area groups tables and owns the code prefix.
type Area struct {
	ID         uint   `gorm:"primaryKey"`
	Name       string `gorm:"size:64;uniqueIndex"`
	Color      string `gorm:"size:16"`
	Prefix     string `gorm:"size:3;uniqueIndex"`
	Background string `gorm:"size:255"`
	Active     bool   `gorm:"default:true"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

var tableCodePattern = regexp.MustCompile(`^[A-Z]{1,3}-M(0*[1-9][0-9]*)$`)

// ValidateTableCode enforces the <AREA_PREFIX>-M<NN> format.
func ValidateTableCode(code string) error {
	if !tableCodePattern.MatchString(code) {
		return fmt.Errorf("table code %q does not match <AREA_PREFIX>-M<NN>", code)
	}
	return nil
}

// Table is a physical table. Soft-deleted through Active, never removed.
type Table struct {
	ID        uint        `gorm:"primaryKey"`
	Code      string      `gorm:"size:16;uniqueIndex"`
	QRToken   string      `gorm:"size:64;uniqueIndex"`
	AreaID    uint        `gorm:"index"`
	Capacity  int         `gorm:"default:2"`
	Status    TableStatus `gorm:"size:16;index;default:available"`
	PositionX *int
	PositionY *int
	Shape     string `gorm:"size:16"`
	Active    bool   `gorm:"default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DiningSession aggregates a guest's orders at a table until settled. The
// partial unique index keeps at most one open session per table; the
// coordinator recovers from the race it arbitrates.
type DiningSession struct {
	ID               uint          `gorm:"primaryKey"`
	CustomerID       uint          `gorm:"index"`
	TableID          *uint         `gorm:"index:idx_sessions_open_table,unique,where:status = 'open'"`
	TableCode        string        `gorm:"size:16;index"`
	Status           SessionStatus `gorm:"size:32;index;default:open"`
	Subtotal         decimal.Decimal `gorm:"type:numeric(12,2)"`
	TaxAmount        decimal.Decimal `gorm:"type:numeric(12,2)"`
	TipAmount        decimal.Decimal `gorm:"type:numeric(12,2)"`
	TotalAmount      decimal.Decimal `gorm:"type:numeric(12,2)"`
	TotalPaid        decimal.Decimal `gorm:"type:numeric(12,2)"`
	PaymentMethod    PaymentMethod   `gorm:"size:16"`
	PaymentReference string          `gorm:"size:128"`
	Notes            string          `gorm:"type:text"`
	OpenedAt         time.Time
	ClosedAt         *time.Time
	ExpiresAt        time.Time
	CheckRequestedAt *time.Time
	TipRequestedAt   *time.Time
	TipConfirmedAt   *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Orders           []Order `gorm:"foreignKey:SessionID"`
}

// Expired reports whether an open session passed its TTL.
func (s *DiningSession) Expired(now time.Time) bool {
	return s.Status == SessionOpen && now.After(s.ExpiresAt)
}

// Order is one kitchen ticket inside a session.
type Order struct {
	ID               uint          `gorm:"primaryKey"`
	SessionID        uint          `gorm:"index"`
	CustomerID       uint          `gorm:"index"`
	WorkflowStatus   OrderStatus   `gorm:"size:24;index;default:new"`
	PaymentStatus    PaymentStatus `gorm:"size:16;index;default:unpaid"`
	Subtotal         decimal.Decimal `gorm:"type:numeric(12,2)"`
	TaxAmount        decimal.Decimal `gorm:"type:numeric(12,2)"`
	TipAmount        decimal.Decimal `gorm:"type:numeric(12,2)"`
	TotalAmount      decimal.Decimal `gorm:"type:numeric(12,2)"`
	WaiterID         *uint `gorm:"index"`
	ChefID           *uint `gorm:"index"`
	DeliveryWaiterID *uint
	AcceptedAt       *time.Time
	WaiterAcceptedAt *time.Time
	ChefAcceptedAt   *time.Time
	ReadyAt          *time.Time
	DeliveredAt      *time.Time
	PaidAt           *time.Time
	CheckRequestedAt *time.Time
	PaymentMethod    PaymentMethod `gorm:"size:16"`
	PaymentReference string        `gorm:"size:128"`
	PaymentMeta      JSONMap       `gorm:"type:text"`
	Notes            string        `gorm:"type:text"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Items            []OrderItem          `gorm:"foreignKey:OrderID"`
	History          []OrderStatusHistory `gorm:"foreignKey:OrderID"`
}

// AppendNote adds a scope-tagged line to the order's append-only notes.
func (o *Order) AppendNote(scope Scope, note string) {
	line := fmt.Sprintf("[%s] %s", scope, strings.TrimSpace(note))
	if o.Notes == "" {
		o.Notes = line
		return
	}
	o.Notes = o.Notes + "\n" + line
}

// OrderStatusHistory is the append-only transition log. The newest row's
// status always equals the order's workflow status.
type OrderStatusHistory struct {
	ID        uint        `gorm:"primaryKey"`
	OrderID   uint        `gorm:"index"`
	Status    OrderStatus `gorm:"size:24"`
	Scope     Scope       `gorm:"size:16"`
	ActorID   *uint
	Note      string `gorm:"size:255"`
	CreatedAt time.Time
}

// MenuItem is the minimal catalog entry needed for price snapshotting. A
// quick-serve item bypasses the kitchen.
type MenuItem struct {
	ID         uint            `gorm:"primaryKey"`
	Name       string          `gorm:"size:128"`
	Price      decimal.Decimal `gorm:"type:numeric(12,2)"`
	QuickServe bool
	Active     bool `gorm:"default:true"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Modifier is a catalog price adjustment attachable to menu items.
type Modifier struct {
	ID         uint            `gorm:"primaryKey"`
	Name       string          `gorm:"size:128"`
	PriceDelta decimal.Decimal `gorm:"type:numeric(12,2)"`
	Active     bool            `gorm:"default:true"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OrderItem freezes unit price at order time; later catalog changes never
// alter committed totals.
type OrderItem struct {
	ID                    uint `gorm:"primaryKey"`
	OrderID               uint `gorm:"index"`
	MenuItemID            uint `gorm:"index"`
	Quantity              int  `gorm:"not null"`
	UnitPrice             decimal.Decimal `gorm:"type:numeric(12,2)"`
	QuickServe            bool
	SpecialInstructions   string `gorm:"size:255"`
	DeliveredQuantity     int
	IsFullyDelivered      bool
	DeliveredAt           *time.Time
	DeliveredByEmployeeID *uint
	CreatedAt             time.Time
	UpdatedAt             time.Time
	Modifiers             []OrderItemModifier `gorm:"foreignKey:OrderItemID"`
}

// LineTotal is unit price times quantity plus modifier adjustments.
func (i *OrderItem) LineTotal() decimal.Decimal {
	total := i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
	for _, m := range i.Modifiers {
		total = total.Add(m.PriceDelta.Mul(decimal.NewFromInt(int64(m.Quantity))))
	}
	return total
}

// OrderItemModifier freezes a modifier price adjustment at order time.
type OrderItemModifier struct {
	ID          uint `gorm:"primaryKey"`
	OrderItemID uint `gorm:"index"`
	ModifierID  uint
	Quantity    int             `gorm:"default:1"`
	PriceDelta  decimal.Decimal `gorm:"type:numeric(12,2)"`
	CreatedAt   time.Time
}

// ModificationInitiator identifies who proposed an order modification.
type ModificationInitiator string

const (
	InitiatorCustomer ModificationInitiator = "customer"
	InitiatorWaiter   ModificationInitiator = "waiter"
)

// OrderModification is a proposed package of item changes awaiting review.
type OrderModification struct {
	ID          uint                  `gorm:"primaryKey"`
	OrderID     uint                  `gorm:"index"`
	Initiator   ModificationInitiator `gorm:"size:16"`
	Status      ModificationStatus    `gorm:"size:16;index;default:pending"`
	Changes     string                `gorm:"type:text"`
	Reason      string                `gorm:"size:255"`
	ReviewerID  *uint
	ReviewedAt  *time.Time
	AppliedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ModificationChanges is the typed payload carried by OrderModification.
type ModificationChanges struct {
	ItemsToAdd []ModificationItem `json:"items_to_add,omitempty"`
	ItemsToRemove []uint          `json:"items_to_remove,omitempty"`
	ItemsToUpdate []ModificationUpdate `json:"items_to_update,omitempty"`
}

// ModificationItem describes one item addition.
type ModificationItem struct {
	MenuItemID  uint   `json:"menu_item_id"`
	Quantity    int    `json:"quantity"`
	Instructions string `json:"instructions,omitempty"`
}

// ModificationUpdate describes one quantity change.
type ModificationUpdate struct {
	OrderItemID uint `json:"order_item_id"`
	Quantity    int  `json:"quantity"`
}

// ParseChanges decodes the stored payload. Unknown fields are rejected; the
// payload is an API surface, not a scratch pad.
func (m *OrderModification) ParseChanges() (ModificationChanges, error) {
	var changes ModificationChanges
	dec := json.NewDecoder(strings.NewReader(m.Changes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&changes); err != nil {
		return ModificationChanges{}, fmt.Errorf("modification changes: %w", err)
	}
	return changes, nil
}

// EncodeChanges stores the typed payload.
func (m *OrderModification) EncodeChanges(changes ModificationChanges) error {
	data, err := json.Marshal(changes)
	if err != nil {
		return err
	}
	m.Changes = string(data)
	return nil
}

// WaiterCall is a request for attention on a session. Note carries sentinel
// tags such as checkout_request and payment_request:<method>.
type WaiterCall struct {
	ID          uint       `gorm:"primaryKey"`
	SessionID   uint       `gorm:"index"`
	TableCode   string     `gorm:"size:16"`
	Status      CallStatus `gorm:"size:16;index;default:pending"`
	Note        string     `gorm:"size:128"`
	ConfirmerID *uint
	ConfirmedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CallNoteCheckout marks a checkout request call.
const CallNoteCheckout = "checkout_request"

// PaymentRequestNote builds the payment_request sentinel for a method.
func PaymentRequestNote(method PaymentMethod) string {
	return "payment_request:" + string(method)
}

// WaiterTableAssignment is the shift-persistent waiter-table binding. The
// (waiter, table) pair is unique outright; reactivation is preferred over
// insert. The partial index keeps one active waiter per table.
type WaiterTableAssignment struct {
	ID           uint `gorm:"primaryKey"`
	WaiterID     uint `gorm:"uniqueIndex:idx_assignment_pair"`
	TableID      uint `gorm:"uniqueIndex:idx_assignment_pair;index:idx_assignment_active_table,unique,where:is_active"`
	IsActive     bool `gorm:"default:true"`
	AssignedAt   time.Time
	UnassignedAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableTransferRequest hands a table from one waiter to another.
type TableTransferRequest struct {
	ID             uint           `gorm:"primaryKey"`
	TableID        uint           `gorm:"index"`
	FromWaiterID   uint           `gorm:"index"`
	ToWaiterID     uint           `gorm:"index"`
	Status         TransferStatus `gorm:"size:16;index;default:pending"`
	TransferOrders bool
	Message        string `gorm:"size:255"`
	ResolvedByID   *uint
	ResolvedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SplitBill decomposes a session's liability into per-person shares. At most
// one active split exists per session.
type SplitBill struct {
	ID             uint        `gorm:"primaryKey"`
	SessionID      uint        `gorm:"index:idx_split_active_session,unique,where:status = 'active'"`
	Type           SplitType   `gorm:"size:16"`
	Status         SplitStatus `gorm:"size:16;index;default:active"`
	NumberOfPeople int
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Persons        []SplitBillPerson `gorm:"foreignKey:SplitBillID"`
}

// SplitBillPerson is one settling party of a split.
type SplitBillPerson struct {
	ID               uint   `gorm:"primaryKey"`
	SplitBillID      uint   `gorm:"index"`
	Label            string `gorm:"size:32"`
	Position         int
	Subtotal         decimal.Decimal `gorm:"type:numeric(12,2)"`
	TaxAmount        decimal.Decimal `gorm:"type:numeric(12,2)"`
	TipAmount        decimal.Decimal `gorm:"type:numeric(12,2)"`
	TotalAmount      decimal.Decimal `gorm:"type:numeric(12,2)"`
	PaymentStatus    PaymentStatus   `gorm:"size:16;default:unpaid"`
	PaymentMethod    PaymentMethod   `gorm:"size:16"`
	PaymentReference string          `gorm:"size:128"`
	PaidAt           *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SplitBillAssignment binds a fraction of one order item to one person.
type SplitBillAssignment struct {
	ID              uint `gorm:"primaryKey"`
	SplitBillID     uint `gorm:"index"`
	PersonID        uint `gorm:"index"`
	OrderItemID     uint `gorm:"index"`
	QuantityPortion decimal.Decimal `gorm:"type:numeric(8,4)"`
	Amount          decimal.Decimal `gorm:"type:numeric(12,2)"`
	CreatedAt       time.Time
}

// IdempotencyKey stores replayed responses for mutating requests.
type IdempotencyKey struct {
	Key       string `gorm:"primaryKey;size:128"`
	RequestID string `gorm:"size:64"`
	Method    string `gorm:"size:8"`
	Path      string `gorm:"size:255"`
	Status    int
	Response  string `gorm:"type:text"`
	CreatedAt time.Time
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Customer{},
		&Employee{},
		&Area{},
		&Table{},
		&DiningSession{},
		&Order{},
		&OrderStatusHistory{},
		&MenuItem{},
		&Modifier{},
		&OrderItem{},
		&OrderItemModifier{},
		&OrderModification{},
		&WaiterCall{},
		&WaiterTableAssignment{},
		&TableTransferRequest{},
		&SplitBill{},
		&SplitBillPerson{},
		&SplitBillAssignment{},
		&IdempotencyKey{},
	)
}
