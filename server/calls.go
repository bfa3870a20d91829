package server

import (
	"net/http"

	"mesaops/models"
)

type createCallRequest struct {
	Note string `json:"note,omitempty"`
}

// CreateWaiterCall raises, or re-raises, the pending attention call of a
// session.
func (s *Server) CreateWaiterCall(w http.ResponseWriter, r *http.Request) {
	sessionID, err := paramUint(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req createCallRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	call, err := s.Engine.CreateWaiterCall(r.Context(), sessionID, req.Note)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"call": callView(call)})
}

// ConfirmWaiterCall marks the call answered by the calling waiter.
func (s *Server) ConfirmWaiterCall(w http.ResponseWriter, r *http.Request) {
	callID, err := paramUint(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	actor, err := actorOrFail(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	call, err := s.Engine.ConfirmWaiterCall(r.Context(), callID, actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"call": callView(call)})
}

// CancelWaiterCall withdraws a pending call.
func (s *Server) CancelWaiterCall(w http.ResponseWriter, r *http.Request) {
	callID, err := paramUint(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	call, err := s.Engine.CancelWaiterCall(r.Context(), callID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"call": callView(call)})
}

// ListPendingCalls returns every unanswered call.
func (s *Server) ListPendingCalls(w http.ResponseWriter, r *http.Request) {
	calls, err := s.Engine.ListPendingCalls(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(calls))
	for i := range calls {
		views = append(views, callView(&calls[i]))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"calls": views})
}

type supervisorCallRequest struct {
	TableCode string `json:"table_code,omitempty"`
	OrderID   *uint  `json:"order_id,omitempty"`
}

// CallSupervisor escalates to the floor supervisor on the calling employee's
// behalf.
func (s *Server) CallSupervisor(w http.ResponseWriter, r *http.Request) {
	actor, err := actorOrFail(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req supervisorCallRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.Engine.CallSupervisor(r.Context(), actor, req.TableCode, req.OrderID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"called": true})
}

func callView(call *models.WaiterCall) map[string]any {
	view := map[string]any{
		"id":         call.ID,
		"session_id": call.SessionID,
		"table_code": call.TableCode,
		"status":     call.Status,
		"note":       call.Note,
		"created_at": call.CreatedAt,
	}
	if call.ConfirmerID != nil {
		view["confirmer_id"] = *call.ConfirmerID
	}
	return view
}
