package workflow

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"mesaops/bus"
	"mesaops/fault"
	"mesaops/models"
	"mesaops/pii"
)

// Ticket is the rendered settlement receipt plus the resend decision.
type Ticket struct {
	SessionID uint
	Body      string
	// Email is empty when the guest never provided a real address; the
	// anonymous sentinel is treated as absent.
	Email string
}

// RenderTicket builds the plain-text ticket for a settled session. Rendering
// is deterministic: the same session snapshot always yields the same bytes.
func (e *Engine) RenderTicket(ctx context.Context, sessionID uint) (*Ticket, error) {
	var out Ticket
	err := e.inTx(ctx, func(tx *gorm.DB, ev *eventBuffer) error {
		ticket, err := e.buildTicket(tx, sessionID)
		if err != nil {
			return err
		}
		out = *ticket
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ResendTicket re-emails the ticket to the guest. Sessions settled without a
// real address cannot be resent.
func (e *Engine) ResendTicket(ctx context.Context, sessionID uint) (*Ticket, error) {
	var out Ticket
	err := e.inTx(ctx, func(tx *gorm.DB, ev *eventBuffer) error {
		ticket, err := e.buildTicket(tx, sessionID)
		if err != nil {
			return err
		}
		if ticket.Email == "" {
			return fault.Conflict("session %d has no email on file", sessionID)
		}
		ev.add(bus.Notification("cashier", "ticket_resent", "Ticket resent",
			"Settlement ticket was re-sent to the guest", map[string]any{
				"session_id": sessionID,
			}, "low"))
		out = *ticket
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (e *Engine) buildTicket(tx *gorm.DB, sessionID uint) (*Ticket, error) {
	var session models.DiningSession
	if err := tx.First(&session, "id = ?", sessionID).Error; err != nil {
		return nil, wrapDB(err, "session")
	}
	if session.Status != models.SessionPaid {
		return nil, fault.Conflict("session %d is %s, ticket requires a paid session", session.ID, session.Status)
	}
	var orders []models.Order
	if err := tx.Preload("Items.Modifiers").
		Where("session_id = ? AND workflow_status <> ?", session.ID, models.OrderCancelled).
		Order("id").Find(&orders).Error; err != nil {
		return nil, wrapDB(err, "orders")
	}

	menuNames, modifierNames, err := e.catalogNames(tx, orders)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "TICKET session %d\n", session.ID)
	if session.TableCode != "" {
		fmt.Fprintf(&b, "table %s\n", session.TableCode)
	}
	if session.ClosedAt != nil {
		fmt.Fprintf(&b, "settled %s\n", session.ClosedAt.UTC().Format("2006-01-02 15:04:05"))
	}
	b.WriteString(strings.Repeat("-", 40) + "\n")
	for _, order := range orders {
		fmt.Fprintf(&b, "order %d\n", order.ID)
		for _, item := range order.Items {
			fmt.Fprintf(&b, "  %dx %-24s %10s\n", item.Quantity, menuNames[item.MenuItemID], item.LineTotal().StringFixed(2))
			for _, m := range item.Modifiers {
				fmt.Fprintf(&b, "     + %-22s %10s\n", modifierNames[m.ModifierID], m.PriceDelta.StringFixed(2))
			}
		}
	}
	b.WriteString(strings.Repeat("-", 40) + "\n")
	fmt.Fprintf(&b, "subtotal %31s\n", session.Subtotal.StringFixed(2))
	fmt.Fprintf(&b, "tax %36s\n", session.TaxAmount.StringFixed(2))
	fmt.Fprintf(&b, "tip %36s\n", session.TipAmount.StringFixed(2))
	fmt.Fprintf(&b, "total %34s\n", session.TotalAmount.StringFixed(2))
	fmt.Fprintf(&b, "paid (%s) %s\n", session.PaymentMethod, session.TotalPaid.StringFixed(2))

	email, err := e.sessionEmail(tx, &session)
	if err != nil {
		return nil, err
	}
	return &Ticket{SessionID: session.ID, Body: b.String(), Email: email}, nil
}

// catalogNames resolves the display names referenced by the snapshot rows.
func (e *Engine) catalogNames(tx *gorm.DB, orders []models.Order) (map[uint]string, map[uint]string, error) {
	menuIDs := map[uint]struct{}{}
	modifierIDs := map[uint]struct{}{}
	for _, order := range orders {
		for _, item := range order.Items {
			menuIDs[item.MenuItemID] = struct{}{}
			for _, m := range item.Modifiers {
				modifierIDs[m.ModifierID] = struct{}{}
			}
		}
	}
	menuNames := make(map[uint]string, len(menuIDs))
	if len(menuIDs) > 0 {
		var items []models.MenuItem
		if err := tx.Where("id IN ?", keys(menuIDs)).Find(&items).Error; err != nil {
			return nil, nil, wrapDB(err, "menu items")
		}
		for _, item := range items {
			menuNames[item.ID] = item.Name
		}
	}
	modifierNames := make(map[uint]string, len(modifierIDs))
	if len(modifierIDs) > 0 {
		var modifiers []models.Modifier
		if err := tx.Where("id IN ?", keys(modifierIDs)).Find(&modifiers).Error; err != nil {
			return nil, nil, wrapDB(err, "modifiers")
		}
		for _, m := range modifiers {
			modifierNames[m.ID] = m.Name
		}
	}
	return menuNames, modifierNames, nil
}

// sessionEmail decrypts the guest address, mapping the anonymous sentinel to
// the empty string.
func (e *Engine) sessionEmail(tx *gorm.DB, session *models.DiningSession) (string, error) {
	var customer models.Customer
	if err := tx.First(&customer, "id = ?", session.CustomerID).Error; err != nil {
		return "", wrapDB(err, "customer")
	}
	email, err := e.codec.Decrypt(customer.EmailEnc)
	if err != nil {
		return "", fault.Internal(err, "decrypt customer email")
	}
	if pii.IsAnonymousEmail(email) {
		return "", nil
	}
	return email, nil
}

func keys(set map[uint]struct{}) []uint {
	out := make([]uint, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
