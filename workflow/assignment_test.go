package workflow

import (
	"context"
	"testing"

	"mesaops/bus"
	"mesaops/fault"
	"mesaops/models"
)

func TestAssignTablesPartitionsOutcomes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	t1 := env.seedTable(t, "T-M01")
	t2 := env.seedTable(t, "T-M02")
	t3 := env.seedTable(t, "T-M03")
	w1 := env.seedEmployee(t, "w1", "waiter")
	w2 := env.seedEmployee(t, "w2", "waiter")

	if _, err := env.engine.AssignTables(ctx, w1.ID, []uint{t1.ID}, false); err != nil {
		t.Fatalf("seed assignment: %v", err)
	}

	result, err := env.engine.AssignTables(ctx, w2.ID, []uint{t1.ID, t2.ID, t3.ID}, false)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if len(result.Assigned) != 2 || len(result.Conflicts) != 1 {
		t.Fatalf("assigned=%v conflicts=%v", result.Assigned, result.Conflicts)
	}
	if result.Conflicts[0].TableID != t1.ID || result.Conflicts[0].CurrentWaiterID != w1.ID {
		t.Fatalf("conflict = %+v", result.Conflicts[0])
	}

	again, err := env.engine.AssignTables(ctx, w2.ID, []uint{t2.ID}, false)
	if err != nil {
		t.Fatalf("re-assign: %v", err)
	}
	if len(again.AlreadyAssigned) != 1 {
		t.Fatalf("already_assigned = %v", again.AlreadyAssigned)
	}
}

func TestAssignTablesForceTakesOver(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	table := env.seedTable(t, "T-M01")
	w1 := env.seedEmployee(t, "w1", "waiter")
	w2 := env.seedEmployee(t, "w2", "waiter")

	if _, err := env.engine.AssignTables(ctx, w1.ID, []uint{table.ID}, false); err != nil {
		t.Fatalf("seed: %v", err)
	}
	result, err := env.engine.AssignTables(ctx, w2.ID, []uint{table.ID}, true)
	if err != nil {
		t.Fatalf("force assign: %v", err)
	}
	if len(result.Assigned) != 1 {
		t.Fatalf("force assign result = %+v", result)
	}

	var old models.WaiterTableAssignment
	if err := env.db.Where("waiter_id = ? AND table_id = ?", w1.ID, table.ID).First(&old).Error; err != nil {
		t.Fatalf("old row: %v", err)
	}
	if old.IsActive || old.UnassignedAt == nil {
		t.Fatalf("old assignment not deactivated")
	}
	var active models.WaiterTableAssignment
	if err := env.db.Where("table_id = ? AND is_active = ?", table.ID, true).First(&active).Error; err != nil {
		t.Fatalf("active row: %v", err)
	}
	if active.WaiterID != w2.ID {
		t.Fatalf("active waiter = %d, want %d", active.WaiterID, w2.ID)
	}
}

func TestAssignReactivatesExistingPair(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	table := env.seedTable(t, "T-M01")
	w1 := env.seedEmployee(t, "w1", "waiter")
	w2 := env.seedEmployee(t, "w2", "waiter")

	if _, err := env.engine.AssignTables(ctx, w1.ID, []uint{table.ID}, false); err != nil {
		t.Fatalf("assign w1: %v", err)
	}
	if _, err := env.engine.AssignTables(ctx, w2.ID, []uint{table.ID}, true); err != nil {
		t.Fatalf("take over: %v", err)
	}
	if _, err := env.engine.AssignTables(ctx, w1.ID, []uint{table.ID}, true); err != nil {
		t.Fatalf("take back: %v", err)
	}

	var rows int64
	if err := env.db.Model(&models.WaiterTableAssignment{}).
		Where("waiter_id = ? AND table_id = ?", w1.ID, table.ID).
		Count(&rows).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != 1 {
		t.Fatalf("pair rows = %d, want 1 (reactivation, not insert)", rows)
	}
}

func TestCheckConflictsIsReadOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	table := env.seedTable(t, "T-M01")
	w1 := env.seedEmployee(t, "w1", "waiter")
	w2 := env.seedEmployee(t, "w2", "waiter")

	if _, err := env.engine.AssignTables(ctx, w1.ID, []uint{table.ID}, false); err != nil {
		t.Fatalf("seed: %v", err)
	}
	conflicts, err := env.engine.CheckConflicts(ctx, w2.ID, []uint{table.ID})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].CurrentWaiterID != w1.ID {
		t.Fatalf("conflicts = %+v", conflicts)
	}

	var active models.WaiterTableAssignment
	if err := env.db.Where("table_id = ? AND is_active = ?", table.ID, true).First(&active).Error; err != nil {
		t.Fatalf("active row: %v", err)
	}
	if active.WaiterID != w1.ID {
		t.Fatalf("probe mutated the assignment")
	}
}

func TestTransferWithOrders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	table := env.seedTable(t, "T-M03")
	dish := env.seedMenuItem(t, "Mole Negro", "50.00", false)
	w1 := env.seedEmployee(t, "w1", "waiter")
	w2 := env.seedEmployee(t, "w2", "waiter")
	chef := env.seedEmployee(t, "c1", "chef")

	if _, err := env.engine.AssignTables(ctx, w1.ID, []uint{table.ID}, false); err != nil {
		t.Fatalf("assign: %v", err)
	}

	// Both orders pre-accept onto w1 through the active assignment; the
	// second advances to preparing.
	first := env.placeOrder(t, "T-M03", OrderItemInput{MenuItemID: dish.ID, Quantity: 1})
	second := env.placeOrder(t, "T-M03", OrderItemInput{MenuItemID: dish.ID, Quantity: 1})
	chefID := chef.ID
	if _, err := env.engine.Transition(ctx, second.Order.ID, models.OrderPreparing, models.ScopeChef, &chefID, TransitionPayload{}); err != nil {
		t.Fatalf("kitchen start: %v", err)
	}

	transfer, err := env.engine.CreateTransfer(ctx, w1.ID, w2.ID, table.ID, "shift change")
	if err != nil {
		t.Fatalf("create transfer: %v", err)
	}

	if _, err := env.engine.AcceptTransfer(ctx, transfer.ID, w1.ID, true); fault.KindOf(err) != fault.KindForbidden {
		t.Fatalf("sender accepted own transfer: %v", err)
	}

	accepted, err := env.engine.AcceptTransfer(ctx, transfer.ID, w2.ID, true)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != models.TransferAccepted || !accepted.TransferOrders {
		t.Fatalf("transfer = %+v", accepted)
	}

	var active models.WaiterTableAssignment
	if err := env.db.Where("table_id = ? AND is_active = ?", table.ID, true).First(&active).Error; err != nil {
		t.Fatalf("active row: %v", err)
	}
	if active.WaiterID != w2.ID {
		t.Fatalf("table not re-assigned to target")
	}
	for _, orderID := range []uint{first.Order.ID, second.Order.ID} {
		order := env.reloadOrder(t, orderID)
		if order.WaiterID == nil || *order.WaiterID != w2.ID {
			t.Fatalf("order %d not re-pointed to target", orderID)
		}
	}

	events := env.drainEvents(t)
	found := false
	for _, e := range events {
		if e.Type == bus.TypeTransferAccepted {
			found = true
			if count, ok := e.Payload["order_count"].(int); ok && count != 2 {
				t.Fatalf("order_count = %d, want 2", count)
			}
		}
	}
	if !found {
		t.Fatalf("no table.transfer_accepted event, got %v", eventTypes(events))
	}
}

func TestTransferGuards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	table := env.seedTable(t, "T-M03")
	w1 := env.seedEmployee(t, "w1", "waiter")
	w2 := env.seedEmployee(t, "w2", "waiter")

	// Table not assigned to the sender.
	if _, err := env.engine.CreateTransfer(ctx, w1.ID, w2.ID, table.ID, ""); fault.KindOf(err) != fault.KindConflict {
		t.Fatalf("transfer of unassigned table accepted: %v", err)
	}

	if _, err := env.engine.AssignTables(ctx, w1.ID, []uint{table.ID}, false); err != nil {
		t.Fatalf("assign: %v", err)
	}
	transfer, err := env.engine.CreateTransfer(ctx, w1.ID, w2.ID, table.ID, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.engine.CreateTransfer(ctx, w1.ID, w2.ID, table.ID, ""); fault.KindOf(err) != fault.KindConflict {
		t.Fatalf("duplicate pending transfer accepted: %v", err)
	}

	rejected, err := env.engine.RejectTransfer(ctx, transfer.ID, w2.ID)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != models.TransferRejected {
		t.Fatalf("status = %s, want rejected", rejected.Status)
	}
	var active models.WaiterTableAssignment
	if err := env.db.Where("table_id = ? AND is_active = ?", table.ID, true).First(&active).Error; err != nil {
		t.Fatalf("active row: %v", err)
	}
	if active.WaiterID != w1.ID {
		t.Fatalf("rejection moved the assignment")
	}

	if _, err := env.engine.AcceptTransfer(ctx, transfer.ID, w2.ID, false); fault.KindOf(err) != fault.KindConflict {
		t.Fatalf("resolved transfer accepted again: %v", err)
	}
}

func TestAutoAssignOnAccept(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	table := env.seedTable(t, "T-M01")
	dish := env.seedMenuItem(t, "Mole Negro", "50.00", false)
	waiter := env.seedEmployee(t, "w1", "waiter")

	result := env.placeOrder(t, "T-M01", OrderItemInput{MenuItemID: dish.ID, Quantity: 1})
	if result.Order.WorkflowStatus != models.OrderNew {
		t.Fatalf("order pre-accepted without an assignment")
	}

	waiterID := waiter.ID
	if _, err := env.engine.Transition(ctx, result.Order.ID, models.OrderQueued, models.ScopeWaiter, &waiterID, TransitionPayload{}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	var active models.WaiterTableAssignment
	if err := env.db.Where("table_id = ? AND is_active = ?", table.ID, true).First(&active).Error; err != nil {
		t.Fatalf("auto-assign did not bind the table: %v", err)
	}
	if active.WaiterID != waiter.ID {
		t.Fatalf("table bound to %d, want %d", active.WaiterID, waiter.ID)
	}
}

func TestAutoAssignRespectsPreference(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	table := env.seedTable(t, "T-M01")
	dish := env.seedMenuItem(t, "Mole Negro", "50.00", false)
	waiter := env.seedEmployee(t, "w1", "waiter")
	waiter.Preferences = models.JSONMap{models.PrefAutoAssignOnAccept: false}
	if err := env.db.Save(&waiter).Error; err != nil {
		t.Fatalf("save preference: %v", err)
	}

	result := env.placeOrder(t, "T-M01", OrderItemInput{MenuItemID: dish.ID, Quantity: 1})
	waiterID := waiter.ID
	if _, err := env.engine.Transition(ctx, result.Order.ID, models.OrderQueued, models.ScopeWaiter, &waiterID, TransitionPayload{}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	var count int64
	if err := env.db.Model(&models.WaiterTableAssignment{}).
		Where("table_id = ?", table.ID).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("auto-assign ran despite opt-out")
	}
}

func TestAcceptAdoptsSiblingNewOrders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedTable(t, "T-M01")
	dish := env.seedMenuItem(t, "Mole Negro", "50.00", false)
	waiter := env.seedEmployee(t, "w1", "waiter")

	first := env.placeOrder(t, "T-M01", OrderItemInput{MenuItemID: dish.ID, Quantity: 1})
	second := env.placeOrder(t, "T-M01", OrderItemInput{MenuItemID: dish.ID, Quantity: 1})

	waiterID := waiter.ID
	if _, err := env.engine.Transition(ctx, first.Order.ID, models.OrderQueued, models.ScopeWaiter, &waiterID, TransitionPayload{}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	sibling := env.reloadOrder(t, second.Order.ID)
	if sibling.WaiterID == nil || *sibling.WaiterID != waiter.ID {
		t.Fatalf("sibling new order not adopted")
	}
	if sibling.WorkflowStatus != models.OrderNew {
		t.Fatalf("sibling status changed: %s", sibling.WorkflowStatus)
	}
}
