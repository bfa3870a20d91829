package server

import (
	"net/http"

	"mesaops/auth"
	"mesaops/models"
)

type proposeModificationRequest struct {
	Changes models.ModificationChanges `json:"changes"`
	Reason  string                     `json:"reason,omitempty"`
}

// ProposeModification files a change package against an in-flight order.
// Guests propose as customers; staff tokens propose as the waiter side.
func (s *Server) ProposeModification(w http.ResponseWriter, r *http.Request) {
	orderID, err := paramUint(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req proposeModificationRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	initiator := models.InitiatorCustomer
	if auth.FromContext(r.Context()) != nil {
		initiator = models.InitiatorWaiter
	}
	modification, err := s.Engine.ProposeModification(r.Context(), orderID, initiator, req.Changes, req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"modification": modificationView(modification)})
}

// ApproveModification applies a pending change package to its order.
func (s *Server) ApproveModification(w http.ResponseWriter, r *http.Request) {
	modificationID, err := paramUint(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	actor, err := actorOrFail(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	modification, err := s.Engine.ApproveModification(r.Context(), modificationID, actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"modification": modificationView(modification)})
}

// RejectModification declines a pending change package; the order stands.
func (s *Server) RejectModification(w http.ResponseWriter, r *http.Request) {
	modificationID, err := paramUint(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	actor, err := actorOrFail(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	modification, err := s.Engine.RejectModification(r.Context(), modificationID, actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"modification": modificationView(modification)})
}

func modificationView(m *models.OrderModification) map[string]any {
	view := map[string]any{
		"id":        m.ID,
		"order_id":  m.OrderID,
		"initiator": m.Initiator,
		"status":    m.Status,
		"reason":    m.Reason,
	}
	if m.ReviewerID != nil {
		view["reviewer_id"] = *m.ReviewerID
	}
	if m.AppliedAt != nil {
		view["applied_at"] = *m.AppliedAt
	}
	return view
}
