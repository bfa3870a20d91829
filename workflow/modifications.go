package workflow

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"mesaops/bus"
	"mesaops/fault"
	"mesaops/models"
	"mesaops/money"
)

// modifiableStatuses are the order statuses a change package may target.
// From ready onward the food exists; the package would describe fiction.
var modifiableStatuses = map[models.OrderStatus]bool{
	models.OrderNew:       true,
	models.OrderQueued:    true,
	models.OrderPreparing: true,
}

// ProposeModification records a pending package of item changes against an
// order. Nothing about the order itself changes until approval.
func (e *Engine) ProposeModification(ctx context.Context, orderID uint, initiator models.ModificationInitiator, changes models.ModificationChanges, reason string) (*models.OrderModification, error) {
	if len(changes.ItemsToAdd) == 0 && len(changes.ItemsToRemove) == 0 && len(changes.ItemsToUpdate) == 0 {
		return nil, fault.BadRequest("modification must change at least one item")
	}
	for _, add := range changes.ItemsToAdd {
		if add.Quantity < 1 {
			return nil, fault.BadRequest("added item quantity must be at least 1")
		}
	}
	for _, upd := range changes.ItemsToUpdate {
		if upd.Quantity < 1 {
			return nil, fault.BadRequest("updated item quantity must be at least 1")
		}
	}
	var out models.OrderModification
	err := e.inTx(ctx, func(tx *gorm.DB, ev *eventBuffer) error {
		order, err := e.lockOrder(tx, orderID)
		if err != nil {
			return err
		}
		if !modifiableStatuses[order.WorkflowStatus] {
			return fault.Conflict("order %d is %s, not modifiable", order.ID, order.WorkflowStatus)
		}

		var pending int64
		if err := tx.Model(&models.OrderModification{}).
			Where("order_id = ? AND status = ?", order.ID, models.ModificationPending).
			Count(&pending).Error; err != nil {
			return wrapDB(err, "modification")
		}
		if pending > 0 {
			return fault.Conflict("order %d already has a pending modification", order.ID)
		}

		now := e.now()
		modification := models.OrderModification{
			OrderID:   order.ID,
			Initiator: initiator,
			Status:    models.ModificationPending,
			Reason:    reason,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := modification.EncodeChanges(changes); err != nil {
			return fault.Internal(err, "encode modification changes")
		}
		if err := tx.Create(&modification).Error; err != nil {
			return wrapDB(err, "modification")
		}
		ev.add(bus.ModificationRequested(modification.ID, order.ID, order.SessionID, modification.Changes))
		ev.add(bus.Notification("waiter", "modification_requested", "Order change requested",
			"An order has a change package awaiting review", map[string]any{
				"modification_id": modification.ID,
				"order_id":        order.ID,
			}, "normal"))
		out = modification
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ApproveModification applies the pending package to the order and recomputes
// the session totals. Approval and application happen in one transaction; an
// approved-but-unapplied modification never survives a commit.
func (e *Engine) ApproveModification(ctx context.Context, modificationID, reviewerID uint) (*models.OrderModification, error) {
	var out models.OrderModification
	err := e.inTx(ctx, func(tx *gorm.DB, ev *eventBuffer) error {
		modification, err := e.lockModification(tx, modificationID)
		if err != nil {
			return err
		}
		if modification.Status != models.ModificationPending {
			return fault.Conflict("modification %d is %s", modification.ID, modification.Status)
		}
		order, err := e.lockOrder(tx, modification.OrderID)
		if err != nil {
			return err
		}
		if !modifiableStatuses[order.WorkflowStatus] {
			return fault.Conflict("order %d is %s, not modifiable", order.ID, order.WorkflowStatus)
		}
		changes, err := modification.ParseChanges()
		if err != nil {
			return fault.Internal(err, "parse modification changes")
		}

		now := e.now()
		if err := e.applyChanges(tx, order, changes); err != nil {
			return err
		}

		displayed := money.Zero()
		for i := range order.Items {
			displayed = displayed.Add(order.Items[i].LineTotal())
		}
		order.Subtotal, order.TaxAmount = money.TaxBreakdown(displayed, e.taxRate, e.priceMode)
		order.TotalAmount = order.Subtotal.Add(order.TaxAmount).Add(order.TipAmount)
		order.UpdatedAt = now
		if err := tx.Omit("Items", "History").Save(order).Error; err != nil {
			return wrapDB(err, "order")
		}

		modification.Status = models.ModificationApplied
		modification.ReviewerID = &reviewerID
		modification.ReviewedAt = &now
		modification.AppliedAt = &now
		modification.UpdatedAt = now
		if err := tx.Save(modification).Error; err != nil {
			return wrapDB(err, "modification")
		}

		session, err := e.lockSession(tx, order.SessionID)
		if err != nil {
			return err
		}
		if err := e.recomputeTotals(tx, session); err != nil {
			return err
		}
		ev.add(bus.ModificationApproved(modification.ID, order.ID, order.SessionID, modification.Changes))
		out = *modification
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RejectModification declines the pending package; the order is untouched.
func (e *Engine) RejectModification(ctx context.Context, modificationID, reviewerID uint) (*models.OrderModification, error) {
	var out models.OrderModification
	err := e.inTx(ctx, func(tx *gorm.DB, ev *eventBuffer) error {
		modification, err := e.lockModification(tx, modificationID)
		if err != nil {
			return err
		}
		if modification.Status != models.ModificationPending {
			return fault.Conflict("modification %d is %s", modification.ID, modification.Status)
		}
		var order models.Order
		if err := tx.First(&order, "id = ?", modification.OrderID).Error; err != nil {
			return wrapDB(err, "order")
		}
		now := e.now()
		modification.Status = models.ModificationRejected
		modification.ReviewerID = &reviewerID
		modification.ReviewedAt = &now
		modification.UpdatedAt = now
		if err := tx.Save(modification).Error; err != nil {
			return wrapDB(err, "modification")
		}
		ev.add(bus.ModificationRejected(modification.ID, order.ID, order.SessionID, modification.Changes))
		out = *modification
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// applyChanges mutates the order's item rows per the package. Prices for
// added items freeze at application time, matching order creation.
func (e *Engine) applyChanges(tx *gorm.DB, order *models.Order, changes models.ModificationChanges) error {
	now := e.now()

	byID := make(map[uint]*models.OrderItem, len(order.Items))
	for i := range order.Items {
		byID[order.Items[i].ID] = &order.Items[i]
	}

	for _, id := range changes.ItemsToRemove {
		item, ok := byID[id]
		if !ok {
			return fault.NotFound("order item %d not on order %d", id, order.ID)
		}
		if err := tx.Where("order_item_id = ?", item.ID).Delete(&models.OrderItemModifier{}).Error; err != nil {
			return wrapDB(err, "order item modifiers")
		}
		if err := tx.Delete(&models.OrderItem{}, "id = ?", item.ID).Error; err != nil {
			return wrapDB(err, "order item")
		}
		delete(byID, id)
	}

	for _, upd := range changes.ItemsToUpdate {
		item, ok := byID[upd.OrderItemID]
		if !ok {
			return fault.NotFound("order item %d not on order %d", upd.OrderItemID, order.ID)
		}
		item.Quantity = upd.Quantity
		item.UpdatedAt = now
		if err := tx.Omit("Modifiers").Save(item).Error; err != nil {
			return wrapDB(err, "order item")
		}
	}

	for _, add := range changes.ItemsToAdd {
		var menuItem models.MenuItem
		if err := tx.First(&menuItem, "id = ? AND active = ?", add.MenuItemID, true).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fault.NotFound("menu item %d not found", add.MenuItemID)
			}
			return wrapDB(err, "menu item")
		}
		item := models.OrderItem{
			OrderID:             order.ID,
			MenuItemID:          menuItem.ID,
			Quantity:            add.Quantity,
			UnitPrice:           menuItem.Price,
			QuickServe:          menuItem.QuickServe,
			SpecialInstructions: add.Instructions,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if err := tx.Create(&item).Error; err != nil {
			return wrapDB(err, "order item")
		}
	}

	// Reload so the caller recomputes from what the database now holds.
	if err := tx.Preload("Modifiers").Where("order_id = ?", order.ID).Find(&order.Items).Error; err != nil {
		return wrapDB(err, "order items")
	}
	return nil
}

func (e *Engine) lockModification(tx *gorm.DB, modificationID uint) (*models.OrderModification, error) {
	var modification models.OrderModification
	if err := lockForUpdate(tx).First(&modification, "id = ?", modificationID).Error; err != nil {
		return nil, wrapDB(err, "modification")
	}
	return &modification, nil
}
