package workflow

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"mesaops/bus"
	"mesaops/fault"
	"mesaops/models"
)

// AssignConflict reports a table currently held by another waiter.
type AssignConflict struct {
	TableID         uint `json:"table_id"`
	CurrentWaiterID uint `json:"current_waiter_id"`
}

// AssignResult partitions an assignment request into its three outcomes.
type AssignResult struct {
	Assigned        []uint          `json:"assigned"`
	AlreadyAssigned []uint          `json:"already_assigned"`
	Conflicts       []AssignConflict `json:"conflicts"`
}

// AssignTables binds the waiter to each table. Tables already held by the
// waiter are reported as such, inactive pairs reactivate, and tables held by
// someone else either conflict or, with force, change hands.
func (e *Engine) AssignTables(ctx context.Context, waiterID uint, tableIDs []uint, force bool) (*AssignResult, error) {
	if len(tableIDs) == 0 {
		return nil, fault.BadRequest("table_ids must not be empty")
	}
	var out AssignResult
	err := e.inTx(ctx, func(tx *gorm.DB, ev *eventBuffer) error {
		result, err := e.assignTablesTx(tx, waiterID, tableIDs, force)
		if err != nil {
			return err
		}
		out = *result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckConflicts reports the conflicts a non-forced assign would produce
// without writing anything.
func (e *Engine) CheckConflicts(ctx context.Context, waiterID uint, tableIDs []uint) ([]AssignConflict, error) {
	var conflicts []AssignConflict
	for _, tableID := range tableIDs {
		var active models.WaiterTableAssignment
		err := e.db.WithContext(ctx).
			Where("table_id = ? AND is_active = ?", tableID, true).
			First(&active).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, wrapDB(err, "assignment")
		}
		if active.WaiterID != waiterID {
			conflicts = append(conflicts, AssignConflict{TableID: tableID, CurrentWaiterID: active.WaiterID})
		}
	}
	return conflicts, nil
}

func (e *Engine) assignTablesTx(tx *gorm.DB, waiterID uint, tableIDs []uint, force bool) (*AssignResult, error) {
	now := e.now()
	result := &AssignResult{}
	for _, tableID := range tableIDs {
		var table models.Table
		if err := lockForUpdate(tx).First(&table, "id = ?", tableID).Error; err != nil {
			return nil, wrapDB(err, "table")
		}

		var active models.WaiterTableAssignment
		err := tx.Where("table_id = ? AND is_active = ?", tableID, true).First(&active).Error
		switch {
		case err == nil && active.WaiterID == waiterID:
			result.AlreadyAssigned = append(result.AlreadyAssigned, tableID)
			continue
		case err == nil && !force:
			result.Conflicts = append(result.Conflicts, AssignConflict{TableID: tableID, CurrentWaiterID: active.WaiterID})
			continue
		case err == nil:
			if err := e.deactivateAssignment(tx, &active, now); err != nil {
				return nil, err
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, wrapDB(err, "assignment")
		}

		if err := e.activateAssignment(tx, waiterID, tableID, now); err != nil {
			return nil, err
		}
		result.Assigned = append(result.Assigned, tableID)
	}
	return result, nil
}

// activateAssignment reactivates the existing (waiter, table) row when one
// exists; the composite uniqueness makes insert the exception, not the rule.
func (e *Engine) activateAssignment(tx *gorm.DB, waiterID, tableID uint, now time.Time) error {
	var pair models.WaiterTableAssignment
	err := tx.Where("waiter_id = ? AND table_id = ?", waiterID, tableID).First(&pair).Error
	if err == nil {
		pair.IsActive = true
		pair.AssignedAt = now
		pair.UnassignedAt = nil
		pair.UpdatedAt = now
		return wrapDB(tx.Save(&pair).Error, "assignment")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return wrapDB(err, "assignment")
	}
	pair = models.WaiterTableAssignment{
		WaiterID:   waiterID,
		TableID:    tableID,
		IsActive:   true,
		AssignedAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := tx.Create(&pair).Error; err != nil {
		if isUniqueViolation(err) {
			return fault.Conflict("table %d assignment changed concurrently", tableID)
		}
		return wrapDB(err, "assignment")
	}
	return nil
}

func (e *Engine) deactivateAssignment(tx *gorm.DB, assignment *models.WaiterTableAssignment, now time.Time) error {
	assignment.IsActive = false
	assignment.UnassignedAt = &now
	assignment.UpdatedAt = now
	return wrapDB(tx.Save(assignment).Error, "assignment")
}

// autoAssignOnAccept binds the accepting waiter to the order's table when the
// waiter's preference allows it. Best effort: a failure is logged and never
// blocks the acceptance that triggered it.
func (e *Engine) autoAssignOnAccept(tx *gorm.DB, ev *eventBuffer, order *models.Order, session *models.DiningSession, actorID *uint) {
	if actorID == nil || session.TableID == nil {
		return
	}
	var waiter models.Employee
	if err := tx.First(&waiter, "id = ?", *actorID).Error; err != nil {
		e.log.Warn("auto-assign skipped, waiter lookup failed",
			"order_id", order.ID, "waiter_id", *actorID, "error", err)
		return
	}
	if !waiter.AutoAssignOnAccept(e.autoAssignDefault) {
		return
	}
	result, err := e.assignTablesTx(tx, waiter.ID, []uint{*session.TableID}, false)
	if err != nil {
		e.log.Warn("auto-assign failed",
			"order_id", order.ID, "waiter_id", waiter.ID, "table_id", *session.TableID, "error", err)
		return
	}
	if len(result.Conflicts) > 0 {
		e.log.Info("auto-assign conflict, table kept by current waiter",
			"order_id", order.ID, "waiter_id", waiter.ID,
			"table_id", result.Conflicts[0].TableID, "current_waiter_id", result.Conflicts[0].CurrentWaiterID)
	}
}

// CreateTransfer opens a pending transfer request handing a table from one
// waiter to another.
func (e *Engine) CreateTransfer(ctx context.Context, fromWaiterID, toWaiterID, tableID uint, message string) (*models.TableTransferRequest, error) {
	if fromWaiterID == toWaiterID {
		return nil, fault.BadRequest("cannot transfer a table to the same waiter")
	}
	var out models.TableTransferRequest
	err := e.inTx(ctx, func(tx *gorm.DB, ev *eventBuffer) error {
		var active models.WaiterTableAssignment
		err := tx.Where("table_id = ? AND waiter_id = ? AND is_active = ?", tableID, fromWaiterID, true).
			First(&active).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fault.Conflict("table %d is not actively assigned to waiter %d", tableID, fromWaiterID)
			}
			return wrapDB(err, "assignment")
		}

		var pending models.TableTransferRequest
		err = tx.Where("table_id = ? AND status = ?", tableID, models.TransferPending).First(&pending).Error
		if err == nil {
			return fault.Conflict("table %d already has a pending transfer", tableID)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return wrapDB(err, "transfer")
		}

		now := e.now()
		transfer := models.TableTransferRequest{
			TableID:      tableID,
			FromWaiterID: fromWaiterID,
			ToWaiterID:   toWaiterID,
			Status:       models.TransferPending,
			Message:      message,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.Create(&transfer).Error; err != nil {
			return wrapDB(err, "transfer")
		}
		ev.add(bus.TransferRequested(transfer.ID, tableID, fromWaiterID, toWaiterID))
		ev.add(bus.Notification("waiter", "table_transfer_requested", "Table transfer",
			"A table transfer awaits your decision", map[string]any{
				"transfer_id": transfer.ID,
				"table_id":    tableID,
				"to_waiter":   toWaiterID,
			}, "normal"))
		out = transfer
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AcceptTransfer moves the assignment to the target waiter and, when asked,
// re-points the sender's active orders at that table.
func (e *Engine) AcceptTransfer(ctx context.Context, requestID, toWaiterID uint, transferOrders bool) (*models.TableTransferRequest, error) {
	var out models.TableTransferRequest
	err := e.inTx(ctx, func(tx *gorm.DB, ev *eventBuffer) error {
		transfer, err := e.lockTransfer(tx, requestID)
		if err != nil {
			return err
		}
		if transfer.ToWaiterID != toWaiterID {
			return fault.Forbidden("only the target waiter may resolve transfer %d", transfer.ID)
		}
		if transfer.Status != models.TransferPending {
			return fault.Conflict("transfer %d is %s", transfer.ID, transfer.Status)
		}

		if _, err := e.assignTablesTx(tx, transfer.ToWaiterID, []uint{transfer.TableID}, true); err != nil {
			return err
		}

		orderCount := 0
		if transferOrders {
			now := e.now()
			res := tx.Model(&models.Order{}).
				Where("waiter_id = ? AND workflow_status IN ?", transfer.FromWaiterID, activeWorkflowStatuses()).
				Where("session_id IN (?)", tx.Model(&models.DiningSession{}).
					Select("id").Where("table_id = ?", transfer.TableID)).
				Updates(map[string]any{"waiter_id": transfer.ToWaiterID, "updated_at": now})
			if res.Error != nil {
				return wrapDB(res.Error, "orders")
			}
			orderCount = int(res.RowsAffected)
		}

		now := e.now()
		transfer.Status = models.TransferAccepted
		transfer.TransferOrders = transferOrders
		transfer.ResolvedByID = &toWaiterID
		transfer.ResolvedAt = &now
		transfer.UpdatedAt = now
		if err := tx.Save(transfer).Error; err != nil {
			return wrapDB(err, "transfer")
		}
		ev.add(bus.TransferAccepted(transfer.ID, transfer.TableID, transfer.FromWaiterID, transfer.ToWaiterID, transferOrders, orderCount))
		out = *transfer
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RejectTransfer declines a pending transfer; the assignment stays with the
// sender.
func (e *Engine) RejectTransfer(ctx context.Context, requestID, toWaiterID uint) (*models.TableTransferRequest, error) {
	var out models.TableTransferRequest
	err := e.inTx(ctx, func(tx *gorm.DB, ev *eventBuffer) error {
		transfer, err := e.lockTransfer(tx, requestID)
		if err != nil {
			return err
		}
		if transfer.ToWaiterID != toWaiterID {
			return fault.Forbidden("only the target waiter may resolve transfer %d", transfer.ID)
		}
		if transfer.Status != models.TransferPending {
			return fault.Conflict("transfer %d is %s", transfer.ID, transfer.Status)
		}
		now := e.now()
		transfer.Status = models.TransferRejected
		transfer.ResolvedByID = &toWaiterID
		transfer.ResolvedAt = &now
		transfer.UpdatedAt = now
		if err := tx.Save(transfer).Error; err != nil {
			return wrapDB(err, "transfer")
		}
		ev.add(bus.TransferRejected(transfer.ID, transfer.TableID, transfer.FromWaiterID, transfer.ToWaiterID))
		out = *transfer
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAssignments returns the waiter's active tables.
func (e *Engine) ListAssignments(ctx context.Context, waiterID uint) ([]models.WaiterTableAssignment, error) {
	var assignments []models.WaiterTableAssignment
	err := e.db.WithContext(ctx).
		Where("waiter_id = ? AND is_active = ?", waiterID, true).
		Order("table_id").
		Find(&assignments).Error
	if err != nil {
		return nil, wrapDB(err, "assignments")
	}
	return assignments, nil
}

func (e *Engine) lockTransfer(tx *gorm.DB, requestID uint) (*models.TableTransferRequest, error) {
	var transfer models.TableTransferRequest
	if err := lockForUpdate(tx).First(&transfer, "id = ?", requestID).Error; err != nil {
		return nil, wrapDB(err, "transfer")
	}
	return &transfer, nil
}

// activeWorkflowStatuses lists the statuses a transfer may re-point.
func activeWorkflowStatuses() []models.OrderStatus {
	return []models.OrderStatus{models.OrderNew, models.OrderQueued, models.OrderPreparing, models.OrderReady}
}
