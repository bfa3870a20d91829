package workflow

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"mesaops/bus"
	"mesaops/fault"
	"mesaops/models"
	"mesaops/money"
	"mesaops/pii"
)

// OrderItemInput is one requested line of a new order.
type OrderItemInput struct {
	MenuItemID   uint
	Quantity     int
	Instructions string
	ModifierIDs  []uint
}

// CreateOrderInput carries everything needed to place an order. Either
// CustomerID or the contact fields identify the guest; TableCode or QRToken
// resolve the table.
type CreateOrderInput struct {
	CustomerID    *uint
	CustomerName  string
	CustomerEmail string
	CustomerPhone string

	TableCode     string
	QRToken       string
	HintSessionID *uint

	Items []OrderItemInput
	Notes string
}

// CreateOrderResult is the committed order with its session.
type CreateOrderResult struct {
	Order   models.Order
	Session models.DiningSession
}

// CreateOrder places a new order: it finds or creates the guest, resolves
// the session under the table lock, freezes catalog prices into the order,
// and pre-accepts on behalf of the table's assigned waiter when one exists.
func (e *Engine) CreateOrder(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error) {
	if len(input.Items) == 0 {
		return nil, fault.BadRequest("order requires at least one item")
	}
	for _, item := range input.Items {
		if item.Quantity < 1 {
			return nil, fault.BadRequest("item quantity must be at least 1")
		}
	}
	if input.TableCode != "" {
		if err := models.ValidateTableCode(input.TableCode); err != nil {
			return nil, fault.BadRequest("%v", err)
		}
	}

	var result CreateOrderResult
	err := e.inTx(ctx, func(tx *gorm.DB, ev *eventBuffer) error {
		customer, err := e.resolveCustomer(tx, input)
		if err != nil {
			return err
		}

		table, err := e.resolveTable(tx, input.TableCode, input.QRToken)
		if err != nil {
			return err
		}

		session, err := e.resolveSession(tx, ev, customer.ID, table, input.HintSessionID)
		if err != nil {
			return err
		}

		now := e.now()
		order := models.Order{
			SessionID:     session.ID,
			CustomerID:    customer.ID,
			WorkflowStatus: models.OrderNew,
			PaymentStatus: models.PaymentUnpaid,
			TipAmount:     money.Zero(),
			Notes:         input.Notes,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		displayed := money.Zero()
		for _, in := range input.Items {
			var menuItem models.MenuItem
			if err := tx.First(&menuItem, "id = ? AND active = ?", in.MenuItemID, true).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fault.NotFound("menu item %d not found", in.MenuItemID)
				}
				return wrapDB(err, "menu item")
			}
			item := models.OrderItem{
				MenuItemID:          menuItem.ID,
				Quantity:            in.Quantity,
				UnitPrice:           menuItem.Price,
				QuickServe:          menuItem.QuickServe,
				SpecialInstructions: in.Instructions,
				CreatedAt:           now,
				UpdatedAt:           now,
			}
			for _, modifierID := range in.ModifierIDs {
				var modifier models.Modifier
				if err := tx.First(&modifier, "id = ? AND active = ?", modifierID, true).Error; err != nil {
					if errors.Is(err, gorm.ErrRecordNotFound) {
						return fault.NotFound("modifier %d not found", modifierID)
					}
					return wrapDB(err, "modifier")
				}
				item.Modifiers = append(item.Modifiers, models.OrderItemModifier{
					ModifierID: modifier.ID,
					Quantity:   1,
					PriceDelta: modifier.PriceDelta,
					CreatedAt:  now,
				})
			}
			displayed = displayed.Add(item.LineTotal())
			order.Items = append(order.Items, item)
		}

		order.Subtotal, order.TaxAmount = money.TaxBreakdown(displayed, e.taxRate, e.priceMode)
		order.TotalAmount = order.Subtotal.Add(order.TaxAmount).Add(order.TipAmount)

		preAccepted := false
		var assignedWaiter uint
		if table != nil {
			var assignment models.WaiterTableAssignment
			err := tx.Where("table_id = ? AND is_active = ?", table.ID, true).First(&assignment).Error
			switch {
			case err == nil:
				preAccepted = true
				assignedWaiter = assignment.WaiterID
				order.WaiterID = &assignment.WaiterID
				order.AcceptedAt = &now
				order.WaiterAcceptedAt = &now
				order.WorkflowStatus = models.OrderQueued
				if !requiresKitchenInput(order.Items) {
					order.WorkflowStatus = models.OrderReady
					order.ReadyAt = &now
				}
			case !errors.Is(err, gorm.ErrRecordNotFound):
				return wrapDB(err, "assignment")
			}
		}

		if err := tx.Create(&order).Error; err != nil {
			return wrapDB(err, "order")
		}
		history := models.OrderStatusHistory{
			OrderID:   order.ID,
			Status:    order.WorkflowStatus,
			Scope:     models.ScopeSystem,
			CreatedAt: now,
		}
		if err := tx.Create(&history).Error; err != nil {
			return wrapDB(err, "order history")
		}

		if err := e.recomputeTotals(tx, session); err != nil {
			return err
		}

		kitchen := requiresKitchenInput(order.Items)
		ev.add(bus.OrderCreated(order.ID, session.ID, session.TableCode, kitchen, len(order.Items)))
		if preAccepted {
			ev.add(bus.OrderAutoAccepted(order.ID, assignedWaiter, table.ID, session.ID))
			ev.add(bus.OrderStatusChanged(order.ID, string(order.WorkflowStatus), session.ID, session.TableCode))
		} else {
			ev.add(bus.Notification("waiter", "order_pending_acceptance", "New order",
				"An order is waiting for acceptance", map[string]any{
					"order_id":   order.ID,
					"table_code": session.TableCode,
				}, "high"))
		}
		if kitchen && order.WorkflowStatus == models.OrderQueued {
			ev.add(bus.Notification("chef", "order_queued", "Order queued",
				"A new order entered the kitchen queue", map[string]any{
					"order_id": order.ID,
				}, "normal"))
		}

		result.Order = order
		result.Session = *session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func requiresKitchenInput(items []models.OrderItem) bool {
	return requiresKitchen(items)
}

// resolveCustomer loads the referenced customer or finds/creates one from
// the contact fields. Guests without an email become anonymous customers
// carrying the synthetic sentinel address.
func (e *Engine) resolveCustomer(tx *gorm.DB, input CreateOrderInput) (*models.Customer, error) {
	if input.CustomerID != nil {
		var customer models.Customer
		if err := tx.First(&customer, "id = ?", *input.CustomerID).Error; err != nil {
			return nil, wrapDB(err, "customer")
		}
		return &customer, nil
	}

	email := pii.NormalizeEmail(input.CustomerEmail)
	if email != "" {
		hash := pii.EmailHash(email)
		var existing models.Customer
		err := tx.Where("email_hash = ?", hash).First(&existing).Error
		if err == nil {
			return &existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, wrapDB(err, "customer")
		}
	}

	name := input.CustomerName
	if name == "" {
		name = "GUEST"
	}
	nameEnc, err := e.codec.Encrypt(name)
	if err != nil {
		return nil, fault.Internal(err, "encrypt customer name")
	}
	customer := models.Customer{
		NameEnc:   nameEnc,
		Phone:     input.CustomerPhone,
		CreatedAt: e.now(),
		UpdatedAt: e.now(),
	}
	if email != "" {
		emailEnc, err := e.codec.Encrypt(email)
		if err != nil {
			return nil, fault.Internal(err, "encrypt customer email")
		}
		customer.EmailEnc = emailEnc
		customer.EmailHash = pii.EmailHash(email)
	} else {
		sentinel := pii.AnonymousEmail()
		emailEnc, err := e.codec.Encrypt(sentinel)
		if err != nil {
			return nil, fault.Internal(err, "encrypt customer email")
		}
		customer.EmailEnc = emailEnc
		customer.IsAnonymous = true
	}
	if err := tx.Create(&customer).Error; err != nil {
		return nil, wrapDB(err, "customer")
	}
	return &customer, nil
}

// resolveTable loads the table by code or QR token. Returns nil when the
// caller supplied neither: the session then binds to the customer alone.
func (e *Engine) resolveTable(tx *gorm.DB, code, qrToken string) (*models.Table, error) {
	var table models.Table
	switch {
	case code != "":
		if err := tx.First(&table, "code = ? AND active = ?", code, true).Error; err != nil {
			return nil, wrapDB(err, "table")
		}
	case qrToken != "":
		if err := tx.First(&table, "qr_token = ? AND active = ?", qrToken, true).Error; err != nil {
			return nil, wrapDB(err, "table")
		}
	default:
		return nil, nil
	}
	return &table, nil
}
