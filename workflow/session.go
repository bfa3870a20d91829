package workflow

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"mesaops/bus"
	"mesaops/fault"
	"mesaops/models"
	"mesaops/money"
)

// lockSession reads the session row under FOR UPDATE.
func (e *Engine) lockSession(tx *gorm.DB, sessionID uint) (*models.DiningSession, error) {
	var session models.DiningSession
	if err := lockForUpdate(tx).First(&session, "id = ?", sessionID).Error; err != nil {
		return nil, wrapDB(err, "session")
	}
	return &session, nil
}

// resolveSession locates or creates exactly one open session for the
// (customer, table) pair. Resolution order is deterministic: hint, then
// table, then customer, then create. The table row is locked before the
// table search so concurrent creations against the same table serialize; the
// partial unique index is the last-resort safety net and a losing insert is
// recovered by re-reading the winner.
func (e *Engine) resolveSession(tx *gorm.DB, ev *eventBuffer, customerID uint, table *models.Table, hintSessionID *uint) (*models.DiningSession, error) {
	now := e.now()

	if hintSessionID != nil {
		var hinted models.DiningSession
		err := tx.First(&hinted, "id = ?", *hintSessionID).Error
		if err == nil && hinted.Status == models.SessionOpen && !hinted.Expired(now) {
			return &hinted, nil
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, wrapDB(err, "session")
		}
	}

	if table != nil {
		if err := lockForUpdate(tx).First(table, "id = ?", table.ID).Error; err != nil {
			return nil, wrapDB(err, "table")
		}
		found, err := e.openSessionForTable(tx, ev, table.ID, now)
		if err != nil {
			return nil, err
		}
		if found != nil {
			return found, nil
		}
		return e.createSession(tx, customerID, table, now)
	}

	var candidates []models.DiningSession
	if err := tx.Where("customer_id = ? AND status = ?", customerID, models.SessionOpen).
		Order("id").Find(&candidates).Error; err != nil {
		return nil, wrapDB(err, "sessions")
	}
	for i := range candidates {
		if candidates[i].Expired(now) {
			if err := e.closeExpiredSession(tx, ev, &candidates[i], now); err != nil {
				return nil, err
			}
			continue
		}
		return &candidates[i], nil
	}
	return e.createSession(tx, customerID, nil, now)
}

// openSessionForTable returns the open session for a table, closing any
// expired one in place so the search continues as if it had not been found.
func (e *Engine) openSessionForTable(tx *gorm.DB, ev *eventBuffer, tableID uint, now time.Time) (*models.DiningSession, error) {
	var session models.DiningSession
	err := tx.Where("table_id = ? AND status = ?", tableID, models.SessionOpen).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, wrapDB(err, "session")
	}
	if session.Expired(now) {
		if err := e.closeExpiredSession(tx, ev, &session, now); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &session, nil
}

// createSession inserts a new open session, recovering from the unique-key
// race on the partial open-per-table index by re-reading the winner.
func (e *Engine) createSession(tx *gorm.DB, customerID uint, table *models.Table, now time.Time) (*models.DiningSession, error) {
	session := models.DiningSession{
		CustomerID: customerID,
		Status:     models.SessionOpen,
		OpenedAt:   now,
		ExpiresAt:  now.Add(e.sessionTTL),
		Subtotal:   money.Zero(),
		TaxAmount:  money.Zero(),
		TipAmount:  money.Zero(),
		TotalAmount: money.Zero(),
		TotalPaid:  money.Zero(),
	}
	if table != nil {
		session.TableID = &table.ID
		session.TableCode = table.Code
	}

	const savepoint = "sp_create_session"
	tx.SavePoint(savepoint)
	err := tx.Create(&session).Error
	if err == nil {
		return &session, nil
	}
	if !isUniqueViolation(err) || table == nil {
		return nil, wrapDB(err, "session")
	}
	// Another transaction won the insert race: roll back to the savepoint
	// and use the winner.
	tx.RollbackTo(savepoint)
	var winner models.DiningSession
	if readErr := tx.Where("table_id = ? AND status = ?", table.ID, models.SessionOpen).
		First(&winner).Error; readErr != nil {
		return nil, &fault.Error{Kind: fault.KindInternal, Code: fault.CodeSessionRace, Msg: "session race unresolved", Err: readErr}
	}
	return &winner, nil
}

// closeExpiredSession closes an expired session in place.
func (e *Engine) closeExpiredSession(tx *gorm.DB, ev *eventBuffer, session *models.DiningSession, now time.Time) error {
	session.Status = models.SessionClosed
	session.ClosedAt = &now
	session.UpdatedAt = now
	if err := tx.Omit("Orders").Save(session).Error; err != nil {
		return wrapDB(err, "session")
	}
	ev.add(bus.SessionStatusChanged(session.ID, string(models.SessionClosed), session.TableCode))
	return nil
}

// recomputeTotals reloads the session's non-cancelled orders and derives the
// session monetary fields. Tip is preserved; only RecomputeTotals may write
// the derived fields.
func (e *Engine) recomputeTotals(tx *gorm.DB, session *models.DiningSession) error {
	var orders []models.Order
	if err := tx.Where("session_id = ? AND workflow_status <> ?", session.ID, models.OrderCancelled).
		Find(&orders).Error; err != nil {
		return wrapDB(err, "orders")
	}
	subtotal := money.Zero()
	tax := money.Zero()
	for i := range orders {
		subtotal = subtotal.Add(orders[i].Subtotal)
		tax = tax.Add(orders[i].TaxAmount)
	}
	session.Subtotal = money.Quantize(subtotal)
	session.TaxAmount = money.Quantize(tax)
	session.TotalAmount = session.Subtotal.Add(session.TaxAmount).Add(session.TipAmount)
	session.UpdatedAt = e.now()
	return wrapDB(tx.Omit("Orders").Save(session).Error, "session")
}

// afterOrderCancelled recomputes totals and closes the session when no
// non-cancelled orders remain. A session closing empty zeroes all monetary
// fields including an already-entered tip.
func (e *Engine) afterOrderCancelled(tx *gorm.DB, ev *eventBuffer, session *models.DiningSession) error {
	var remaining int64
	if err := tx.Model(&models.Order{}).
		Where("session_id = ? AND workflow_status <> ?", session.ID, models.OrderCancelled).
		Count(&remaining).Error; err != nil {
		return wrapDB(err, "orders")
	}
	if remaining == 0 {
		now := e.now()
		session.Status = models.SessionClosed
		session.ClosedAt = &now
		session.Subtotal = money.Zero()
		session.TaxAmount = money.Zero()
		session.TipAmount = money.Zero()
		session.TotalAmount = money.Zero()
		session.UpdatedAt = now
		if err := tx.Omit("Orders").Save(session).Error; err != nil {
			return wrapDB(err, "session")
		}
		ev.add(bus.SessionStatusChanged(session.ID, string(models.SessionClosed), session.TableCode))
		return nil
	}
	return e.recomputeTotals(tx, session)
}

// GetSession loads a session with its orders, closing it first when the TTL
// has lapsed; a read that observes expiration must not return an open
// session.
func (e *Engine) GetSession(ctx context.Context, sessionID uint) (*models.DiningSession, error) {
	var out models.DiningSession
	err := e.inTx(ctx, func(tx *gorm.DB, ev *eventBuffer) error {
		session, err := e.lockSession(tx, sessionID)
		if err != nil {
			return err
		}
		if session.Expired(e.now()) {
			if err := e.closeExpiredSession(tx, ev, session, e.now()); err != nil {
				return err
			}
		}
		if err := tx.Preload("Items.Modifiers").Where("session_id = ?", session.ID).Find(&session.Orders).Error; err != nil {
			return wrapDB(err, "orders")
		}
		out = *session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListClosedSessions returns sessions settled within the configured
// look-back window, newest first.
func (e *Engine) ListClosedSessions(ctx context.Context) ([]models.DiningSession, error) {
	cutoff := e.now().Add(-e.closedWindow)
	var sessions []models.DiningSession
	err := e.db.WithContext(ctx).
		Where("status IN ? AND closed_at >= ?", []models.SessionStatus{models.SessionClosed, models.SessionPaid}, cutoff).
		Order("closed_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, wrapDB(err, "sessions")
	}
	return sessions, nil
}
