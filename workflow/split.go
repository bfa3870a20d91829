package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"mesaops/bus"
	"mesaops/fault"
	"mesaops/models"
	"mesaops/money"
)

const portionTolerance = "0.001"

// CreateSplit opens a split bill over the session. Equal splits are
// materialised immediately; by-item splits start empty and fill through
// AssignItem.
func (e *Engine) CreateSplit(ctx context.Context, sessionID uint, splitType string, numberOfPeople int) (*models.SplitBill, error) {
	parsedType, err := models.ParseSplitType(splitType)
	if err != nil {
		return nil, fault.BadRequest("%v", err)
	}
	if numberOfPeople < 2 {
		return nil, fault.BadRequest("a split requires at least 2 people")
	}
	var out models.SplitBill
	err = e.inTx(ctx, func(tx *gorm.DB, ev *eventBuffer) error {
		session, err := e.lockSession(tx, sessionID)
		if err != nil {
			return err
		}
		if session.Status == models.SessionPaid || session.Status == models.SessionClosed {
			return fault.Conflict("session %d is %s, cannot be split", session.ID, session.Status)
		}

		var existing models.SplitBill
		err = tx.Where("session_id = ? AND status = ?", session.ID, models.SplitActive).First(&existing).Error
		if err == nil {
			return fault.Conflict("session %d already has an active split", session.ID)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return wrapDB(err, "split")
		}

		now := e.now()
		split := models.SplitBill{
			SessionID:      session.ID,
			Type:           parsedType,
			Status:         models.SplitActive,
			NumberOfPeople: numberOfPeople,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		subtotals := money.SplitEven(session.Subtotal, numberOfPeople)
		taxes := money.SplitEven(session.TaxAmount, numberOfPeople)
		tips := money.SplitEven(session.TipAmount, numberOfPeople)
		totals := money.SplitEven(session.TotalAmount, numberOfPeople)

		for i := 0; i < numberOfPeople; i++ {
			person := models.SplitBillPerson{
				Label:         fmt.Sprintf("Persona %d", i+1),
				Position:      i + 1,
				PaymentStatus: models.PaymentUnpaid,
				Subtotal:      money.Zero(),
				TaxAmount:     money.Zero(),
				TipAmount:     money.Zero(),
				TotalAmount:   money.Zero(),
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if parsedType == models.SplitEqual {
				person.Subtotal = subtotals[i]
				person.TaxAmount = taxes[i]
				person.TipAmount = tips[i]
				person.TotalAmount = totals[i]
			}
			split.Persons = append(split.Persons, person)
		}
		if err := tx.Create(&split).Error; err != nil {
			if isUniqueViolation(err) {
				return fault.Conflict("session %d already has an active split", session.ID)
			}
			return wrapDB(err, "split")
		}
		out = split
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AssignItem binds a portion of one order item to one person of a by-item
// split. Existing assignments for the item are re-read inside the
// transaction before the cumulative portion check.
func (e *Engine) AssignItem(ctx context.Context, splitID, personID, orderItemID uint, portion decimal.Decimal) (*models.SplitBillAssignment, error) {
	if !portion.IsPositive() || portion.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fault.BadRequest("portion must be within (0, 1]")
	}
	var out models.SplitBillAssignment
	err := e.inTx(ctx, func(tx *gorm.DB, ev *eventBuffer) error {
		split, err := e.lockSplit(tx, splitID)
		if err != nil {
			return err
		}
		if split.Status != models.SplitActive {
			return fault.Conflict("split %d is %s", split.ID, split.Status)
		}
		if split.Type != models.SplitByItems {
			return fault.BadRequest("split %d is not a by-items split", split.ID)
		}
		var person models.SplitBillPerson
		if err := tx.First(&person, "id = ? AND split_bill_id = ?", personID, split.ID).Error; err != nil {
			return wrapDB(err, "split person")
		}
		var item models.OrderItem
		if err := tx.Preload("Modifiers").First(&item, "id = ?", orderItemID).Error; err != nil {
			return wrapDB(err, "order item")
		}
		var order models.Order
		if err := tx.First(&order, "id = ?", item.OrderID).Error; err != nil {
			return wrapDB(err, "order")
		}
		if order.SessionID != split.SessionID {
			return fault.BadRequest("order item %d does not belong to session %d", orderItemID, split.SessionID)
		}

		var assigned []models.SplitBillAssignment
		if err := tx.Where("split_bill_id = ? AND order_item_id = ?", split.ID, orderItemID).
			Find(&assigned).Error; err != nil {
			return wrapDB(err, "split assignments")
		}
		cumulative := portion
		for _, a := range assigned {
			cumulative = cumulative.Add(a.QuantityPortion)
		}
		limit := decimal.NewFromInt(1).Add(decimal.RequireFromString(portionTolerance))
		if cumulative.GreaterThan(limit) {
			return fault.Conflict("item %d portions would sum to %s", orderItemID, cumulative)
		}

		assignment := models.SplitBillAssignment{
			SplitBillID:     split.ID,
			PersonID:        person.ID,
			OrderItemID:     item.ID,
			QuantityPortion: portion,
			Amount:          money.Quantize(item.LineTotal().Mul(portion)),
			CreatedAt:       e.now(),
		}
		if err := tx.Create(&assignment).Error; err != nil {
			return wrapDB(err, "split assignment")
		}
		out = assignment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Recalculate rebuilds each person's share of a by-item split from the
// current assignments. Tax and tip spread proportionally to each person's
// share of the session subtotal; the last person absorbs rounding residue.
func (e *Engine) Recalculate(ctx context.Context, splitID uint) (*models.SplitBill, error) {
	var out models.SplitBill
	err := e.inTx(ctx, func(tx *gorm.DB, ev *eventBuffer) error {
		split, err := e.lockSplit(tx, splitID)
		if err != nil {
			return err
		}
		if split.Status != models.SplitActive {
			return fault.Conflict("split %d is %s", split.ID, split.Status)
		}
		// Equal splits are materialised at creation; rebuilding them from the
		// (empty) assignment table would wipe the shares.
		if split.Type != models.SplitByItems {
			return fault.BadRequest("split %d is not a by-items split", split.ID)
		}
		var session models.DiningSession
		if err := tx.First(&session, "id = ?", split.SessionID).Error; err != nil {
			return wrapDB(err, "session")
		}
		var persons []models.SplitBillPerson
		if err := tx.Where("split_bill_id = ?", split.ID).Order("position").Find(&persons).Error; err != nil {
			return wrapDB(err, "split persons")
		}

		now := e.now()
		taxLeft := session.TaxAmount
		tipLeft := session.TipAmount
		for i := range persons {
			person := &persons[i]
			var amounts []decimal.Decimal
			if err := tx.Model(&models.SplitBillAssignment{}).
				Where("split_bill_id = ? AND person_id = ?", split.ID, person.ID).
				Pluck("amount", &amounts).Error; err != nil {
				return wrapDB(err, "split assignments")
			}
			person.Subtotal = money.Quantize(money.Sum(amounts...))

			if i == len(persons)-1 {
				person.TaxAmount = taxLeft
				person.TipAmount = tipLeft
			} else if session.Subtotal.IsPositive() {
				share := person.Subtotal.Div(session.Subtotal)
				person.TaxAmount = money.Quantize(session.TaxAmount.Mul(share))
				person.TipAmount = money.Quantize(session.TipAmount.Mul(share))
			} else {
				person.TaxAmount = money.Zero()
				person.TipAmount = money.Zero()
			}
			taxLeft = taxLeft.Sub(person.TaxAmount)
			tipLeft = tipLeft.Sub(person.TipAmount)
			person.TotalAmount = person.Subtotal.Add(person.TaxAmount).Add(person.TipAmount)
			person.UpdatedAt = now
			if err := tx.Save(person).Error; err != nil {
				return wrapDB(err, "split person")
			}
		}
		split.Persons = persons
		split.UpdatedAt = now
		if err := tx.Omit("Persons").Save(split).Error; err != nil {
			return wrapDB(err, "split")
		}
		out = *split
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// PaySplitPerson settles one person's share. When the last person pays, the
// split completes and the session closes with every order stamped
// split_bill.
func (e *Engine) PaySplitPerson(ctx context.Context, splitID, personID uint, method string, reference string) (*models.SplitBill, error) {
	parsedMethod, err := models.ParsePaymentMethod(method)
	if err != nil {
		return nil, fault.BadRequest("%v", err)
	}
	var out models.SplitBill
	err = e.inTx(ctx, func(tx *gorm.DB, ev *eventBuffer) error {
		split, err := e.lockSplit(tx, splitID)
		if err != nil {
			return err
		}
		if split.Status != models.SplitActive {
			return fault.Conflict("split %d is %s", split.ID, split.Status)
		}
		var person models.SplitBillPerson
		if err := tx.First(&person, "id = ? AND split_bill_id = ?", personID, split.ID).Error; err != nil {
			return wrapDB(err, "split person")
		}
		if person.PaymentStatus == models.PaymentPaid {
			return fault.Conflict("person %d already paid", person.ID)
		}
		now := e.now()
		person.PaymentStatus = models.PaymentPaid
		person.PaymentMethod = parsedMethod
		person.PaymentReference = reference
		person.PaidAt = &now
		person.UpdatedAt = now
		if err := tx.Save(&person).Error; err != nil {
			return wrapDB(err, "split person")
		}

		var unpaid int64
		if err := tx.Model(&models.SplitBillPerson{}).
			Where("split_bill_id = ? AND payment_status <> ?", split.ID, models.PaymentPaid).
			Count(&unpaid).Error; err != nil {
			return wrapDB(err, "split persons")
		}
		if unpaid == 0 {
			split.Status = models.SplitCompleted
			split.UpdatedAt = now
			if err := tx.Omit("Persons").Save(split).Error; err != nil {
				return wrapDB(err, "split")
			}
			session, err := e.lockSession(tx, split.SessionID)
			if err != nil {
				return err
			}
			session.Status = models.SessionClosed
			session.ClosedAt = &now
			session.PaymentMethod = models.MethodSplitBill
			session.PaymentReference = fmt.Sprintf("split-%d", split.ID)
			session.TotalPaid = session.TotalAmount
			session.UpdatedAt = now
			if err := tx.Omit("Orders").Save(session).Error; err != nil {
				return wrapDB(err, "session")
			}
			if err := tx.Model(&models.Order{}).
				Where("session_id = ? AND workflow_status <> ?", session.ID, models.OrderCancelled).
				Updates(map[string]any{
					"payment_status":    models.PaymentPaid,
					"payment_method":    models.MethodSplitBill,
					"payment_reference": fmt.Sprintf("split-%d", split.ID),
					"paid_at":           now,
					"updated_at":        now,
				}).Error; err != nil {
				return wrapDB(err, "orders")
			}
			ev.count(func() { settlementOutcomes.WithLabelValues("split_settled").Inc() })
			ev.add(bus.SessionStatusChanged(session.ID, string(session.Status), session.TableCode))
		}
		if err := tx.Where("split_bill_id = ?", split.ID).Order("position").Find(&split.Persons).Error; err != nil {
			return wrapDB(err, "split persons")
		}
		out = *split
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (e *Engine) lockSplit(tx *gorm.DB, splitID uint) (*models.SplitBill, error) {
	var split models.SplitBill
	if err := lockForUpdate(tx).First(&split, "id = ?", splitID).Error; err != nil {
		return nil, wrapDB(err, "split")
	}
	return &split, nil
}
