package server

import (
	"net/http"

	"github.com/shopspring/decimal"

	"mesaops/models"
	"mesaops/workflow"
)

// GetSession returns the session snapshot, closing it first when expired.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := paramUint(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	session, err := s.Engine.GetSession(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"session": sessionView(session)})
}

// ListClosedSessions returns sessions settled within the history window.
func (s *Server) ListClosedSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.Engine.ListClosedSessions(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(sessions))
	for i := range sessions {
		views = append(views, sessionView(&sessions[i]))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

// RequestCheck marks the session awaiting tip and raises the checkout call.
func (s *Server) RequestCheck(w http.ResponseWriter, r *http.Request) {
	sessionID, err := paramUint(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	session, err := s.Engine.RequestCheck(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"session": sessionView(session)})
}

type tipRequest struct {
	Fixed   *decimal.Decimal `json:"fixed,omitempty"`
	Percent *decimal.Decimal `json:"percent,omitempty"`
}

func (t tipRequest) input() workflow.TipInput {
	return workflow.TipInput{Fixed: t.Fixed, Percent: t.Percent}
}

// ApplyTip records the guest's tip choice.
func (s *Server) ApplyTip(w http.ResponseWriter, r *http.Request) {
	sessionID, err := paramUint(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req tipRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	session, err := s.Engine.ApplyTip(r.Context(), sessionID, req.input())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"session": sessionView(session)})
}

type finalizePaymentRequest struct {
	Method    string      `json:"method"`
	Tip       *tipRequest `json:"tip,omitempty"`
	Reference string      `json:"reference,omitempty"`

	ContactName  string `json:"contact_name,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`
	ContactPhone string `json:"contact_phone,omitempty"`
}

// FinalizePayment settles the session, or parks it awaiting a cashier
// confirmation for methods that need one.
func (s *Server) FinalizePayment(w http.ResponseWriter, r *http.Request) {
	sessionID, err := paramUint(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req finalizePaymentRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	input := workflow.FinalizePaymentInput{
		Method:       req.Method,
		Reference:    req.Reference,
		ContactName:  req.ContactName,
		ContactEmail: req.ContactEmail,
		ContactPhone: req.ContactPhone,
	}
	if req.Tip != nil {
		tip := req.Tip.input()
		input.Tip = &tip
	}
	result, err := s.Engine.FinalizePayment(r.Context(), sessionID, input)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session":               sessionView(&result.Session),
		"requires_confirmation": result.RequiresConfirmation,
	})
}

// ConfirmPayment settles an awaiting-confirmation session in full.
func (s *Server) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	sessionID, err := paramUint(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	session, err := s.Engine.ConfirmPayment(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"session": sessionView(session)})
}

type partialPaymentRequest struct {
	OrderIDs []uint `json:"order_ids"`
}

// ConfirmPartialPayment settles only the listed orders; the session closes
// once every order is paid.
func (s *Server) ConfirmPartialPayment(w http.ResponseWriter, r *http.Request) {
	sessionID, err := paramUint(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req partialPaymentRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	session, err := s.Engine.ConfirmPartialPayment(r.Context(), sessionID, req.OrderIDs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"session": sessionView(session)})
}

// RenderTicket returns the plain-text ticket of a settled session.
func (s *Server) RenderTicket(w http.ResponseWriter, r *http.Request) {
	sessionID, err := paramUint(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	ticket, err := s.Engine.RenderTicket(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(ticket.Body))
}

// ResendTicket re-issues the ticket to the guest's address. Anonymous guests
// have nowhere to send it and get a conflict.
func (s *Server) ResendTicket(w http.ResponseWriter, r *http.Request) {
	sessionID, err := paramUint(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	ticket, err := s.Engine.ResendTicket(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"session_id": ticket.SessionID, "sent": true})
}

func sessionView(session *models.DiningSession) map[string]any {
	view := map[string]any{
		"id":           session.ID,
		"table_code":   session.TableCode,
		"status":       session.Status,
		"subtotal":     session.Subtotal.StringFixed(2),
		"tax_amount":   session.TaxAmount.StringFixed(2),
		"tip_amount":   session.TipAmount.StringFixed(2),
		"total_amount": session.TotalAmount.StringFixed(2),
		"total_paid":   session.TotalPaid.StringFixed(2),
		"opened_at":    session.OpenedAt,
		"expires_at":   session.ExpiresAt,
	}
	if session.PaymentMethod != "" {
		view["payment_method"] = session.PaymentMethod
	}
	if session.ClosedAt != nil {
		view["closed_at"] = *session.ClosedAt
	}
	return view
}
