package workflow

import (
	"context"

	"gorm.io/gorm"

	"mesaops/bus"
	"mesaops/fault"
	"mesaops/models"
)

// CreateWaiterCall raises attention on a session. A pending call with the
// same note is reused instead of duplicated; either way the created event is
// re-emitted so dashboards refresh.
func (e *Engine) CreateWaiterCall(ctx context.Context, sessionID uint, note string) (*models.WaiterCall, error) {
	var out models.WaiterCall
	err := e.inTx(ctx, func(tx *gorm.DB, ev *eventBuffer) error {
		session, err := e.lockSession(tx, sessionID)
		if err != nil {
			return err
		}
		if session.Status == models.SessionPaid || session.Status == models.SessionClosed {
			return fault.Conflict("session %d is %s", session.ID, session.Status)
		}
		call, _, err := e.ensurePendingCall(tx, session, note, e.now())
		if err != nil {
			return err
		}
		orderIDs, err := e.sessionOrderIDs(tx, session.ID)
		if err != nil {
			return err
		}
		ev.add(bus.WaiterCallCreated(bus.WaiterCallPayload{
			CallID:       call.ID,
			SessionID:    session.ID,
			TableCode:    session.TableCode,
			Status:       string(call.Status),
			CallType:     call.Note,
			OrderNumbers: orderIDs,
		}))
		out = *call
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ConfirmWaiterCall marks a pending call as handled by the given waiter.
func (e *Engine) ConfirmWaiterCall(ctx context.Context, callID, waiterID uint) (*models.WaiterCall, error) {
	var out models.WaiterCall
	err := e.inTx(ctx, func(tx *gorm.DB, ev *eventBuffer) error {
		call, err := e.lockCall(tx, callID)
		if err != nil {
			return err
		}
		if call.Status != models.CallPending {
			return fault.Conflict("waiter call %d is %s", call.ID, call.Status)
		}
		var waiter models.Employee
		if err := tx.First(&waiter, "id = ?", waiterID).Error; err != nil {
			return wrapDB(err, "employee")
		}
		now := e.now()
		call.Status = models.CallConfirmed
		call.ConfirmerID = &waiter.ID
		call.ConfirmedAt = &now
		call.UpdatedAt = now
		if err := tx.Save(call).Error; err != nil {
			return wrapDB(err, "waiter call")
		}
		orderIDs, err := e.sessionOrderIDs(tx, call.SessionID)
		if err != nil {
			return err
		}
		name, err := e.codec.Decrypt(waiter.NameEnc)
		if err != nil {
			return fault.Internal(err, "decrypt employee name")
		}
		ev.add(bus.WaiterCallConfirmed(bus.WaiterCallPayload{
			CallID:       call.ID,
			SessionID:    call.SessionID,
			TableCode:    call.TableCode,
			Status:       string(call.Status),
			CallType:     call.Note,
			OrderNumbers: orderIDs,
			WaiterID:     &waiter.ID,
			WaiterName:   name,
		}))
		out = *call
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelWaiterCall withdraws a pending call.
func (e *Engine) CancelWaiterCall(ctx context.Context, callID uint) (*models.WaiterCall, error) {
	var out models.WaiterCall
	err := e.inTx(ctx, func(tx *gorm.DB, ev *eventBuffer) error {
		call, err := e.lockCall(tx, callID)
		if err != nil {
			return err
		}
		if call.Status != models.CallPending {
			return fault.Conflict("waiter call %d is %s", call.ID, call.Status)
		}
		now := e.now()
		call.Status = models.CallCancelled
		call.UpdatedAt = now
		if err := tx.Save(call).Error; err != nil {
			return wrapDB(err, "waiter call")
		}
		ev.add(bus.WaiterCallCancelled(bus.WaiterCallPayload{
			CallID:    call.ID,
			SessionID: call.SessionID,
			TableCode: call.TableCode,
			Status:    string(call.Status),
			CallType:  call.Note,
		}))
		out = *call
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListPendingCalls returns the open calls, oldest first.
func (e *Engine) ListPendingCalls(ctx context.Context) ([]models.WaiterCall, error) {
	var calls []models.WaiterCall
	err := e.db.WithContext(ctx).
		Where("status = ?", models.CallPending).
		Order("created_at").
		Find(&calls).Error
	if err != nil {
		return nil, wrapDB(err, "waiter calls")
	}
	return calls, nil
}

// CallSupervisor escalates to the floor supervisor on behalf of an employee.
func (e *Engine) CallSupervisor(ctx context.Context, employeeID uint, tableCode string, orderID *uint) error {
	return e.inTx(ctx, func(tx *gorm.DB, ev *eventBuffer) error {
		var employee models.Employee
		if err := tx.First(&employee, "id = ?", employeeID).Error; err != nil {
			return wrapDB(err, "employee")
		}
		name, err := e.codec.Decrypt(employee.NameEnc)
		if err != nil {
			return fault.Internal(err, "decrypt employee name")
		}
		ev.add(bus.SupervisorCalled(employee.ID, name, tableCode, orderID))
		ev.add(bus.Notification("admin", "supervisor_called", "Supervisor requested",
			name+" requested a supervisor", map[string]any{
				"employee_id": employee.ID,
				"table_code":  tableCode,
			}, "high"))
		return nil
	})
}

func (e *Engine) lockCall(tx *gorm.DB, callID uint) (*models.WaiterCall, error) {
	var call models.WaiterCall
	if err := lockForUpdate(tx).First(&call, "id = ?", callID).Error; err != nil {
		return nil, wrapDB(err, "waiter call")
	}
	return &call, nil
}
