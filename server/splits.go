package server

import (
	"net/http"

	"github.com/shopspring/decimal"

	"mesaops/models"
)

type createSplitRequest struct {
	Type           string `json:"type"`
	NumberOfPeople int    `json:"number_of_people"`
}

// CreateSplit opens a split bill over the session.
func (s *Server) CreateSplit(w http.ResponseWriter, r *http.Request) {
	sessionID, err := paramUint(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req createSplitRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	split, err := s.Engine.CreateSplit(r.Context(), sessionID, req.Type, req.NumberOfPeople)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"split": splitView(split)})
}

type assignItemRequest struct {
	PersonID    uint            `json:"person_id"`
	OrderItemID uint            `json:"order_item_id"`
	Portion     decimal.Decimal `json:"portion"`
}

// AssignSplitItem binds a fraction of an order item to one person of a
// by-items split.
func (s *Server) AssignSplitItem(w http.ResponseWriter, r *http.Request) {
	splitID, err := paramUint(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req assignItemRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	assignment, err := s.Engine.AssignItem(r.Context(), splitID, req.PersonID, req.OrderItemID, req.Portion)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"assignment": map[string]any{
			"id":            assignment.ID,
			"person_id":     assignment.PersonID,
			"order_item_id": assignment.OrderItemID,
			"portion":       assignment.QuantityPortion.String(),
			"amount":        assignment.Amount.StringFixed(2),
		},
	})
}

// RecalculateSplit redistributes per-person tax and tip from the current
// item assignments.
func (s *Server) RecalculateSplit(w http.ResponseWriter, r *http.Request) {
	splitID, err := paramUint(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	split, err := s.Engine.Recalculate(r.Context(), splitID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"split": splitView(split)})
}

type paySplitPersonRequest struct {
	Method    string `json:"method"`
	Reference string `json:"reference,omitempty"`
}

// PaySplitPerson settles one person's share. Paying the last share completes
// the split and closes the session.
func (s *Server) PaySplitPerson(w http.ResponseWriter, r *http.Request) {
	splitID, err := paramUint(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	personID, err := paramUint(r, "personID")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req paySplitPersonRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	split, err := s.Engine.PaySplitPerson(r.Context(), splitID, personID, req.Method, req.Reference)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"split": splitView(split)})
}

func splitView(split *models.SplitBill) map[string]any {
	persons := make([]map[string]any, 0, len(split.Persons))
	for i := range split.Persons {
		p := &split.Persons[i]
		person := map[string]any{
			"id":             p.ID,
			"label":          p.Label,
			"position":       p.Position,
			"subtotal":       p.Subtotal.StringFixed(2),
			"tax_amount":     p.TaxAmount.StringFixed(2),
			"tip_amount":     p.TipAmount.StringFixed(2),
			"total_amount":   p.TotalAmount.StringFixed(2),
			"payment_status": p.PaymentStatus,
		}
		if p.PaidAt != nil {
			person["paid_at"] = *p.PaidAt
		}
		persons = append(persons, person)
	}
	return map[string]any{
		"id":               split.ID,
		"session_id":       split.SessionID,
		"type":             split.Type,
		"status":           split.Status,
		"number_of_people": split.NumberOfPeople,
		"persons":          persons,
	}
}
