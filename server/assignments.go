package server

import (
	"net/http"

	"mesaops/models"
)

type assignTablesRequest struct {
	TableIDs []uint `json:"table_ids"`
	Force    bool   `json:"force,omitempty"`
}

// AssignTables binds the calling waiter to the listed tables. Conflicting
// tables are reported, not stolen, unless force is set.
func (s *Server) AssignTables(w http.ResponseWriter, r *http.Request) {
	actor, err := actorOrFail(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req assignTablesRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	result, err := s.Engine.AssignTables(r.Context(), actor, req.TableIDs, req.Force)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// CheckConflicts previews which of the listed tables are held by another
// waiter, without changing anything.
func (s *Server) CheckConflicts(w http.ResponseWriter, r *http.Request) {
	actor, err := actorOrFail(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req assignTablesRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	conflicts, err := s.Engine.CheckConflicts(r.Context(), actor, req.TableIDs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"conflicts": conflicts})
}

// ListAssignments returns the calling waiter's active table assignments.
func (s *Server) ListAssignments(w http.ResponseWriter, r *http.Request) {
	actor, err := actorOrFail(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	assignments, err := s.Engine.ListAssignments(r.Context(), actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(assignments))
	for i := range assignments {
		a := &assignments[i]
		views = append(views, map[string]any{
			"id":          a.ID,
			"table_id":    a.TableID,
			"assigned_at": a.AssignedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"assignments": views})
}

type createTransferRequest struct {
	ToWaiterID uint   `json:"to_waiter_id"`
	TableID    uint   `json:"table_id"`
	Message    string `json:"message,omitempty"`
}

// CreateTransfer opens a pending handover of a table to another waiter.
func (s *Server) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	actor, err := actorOrFail(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req createTransferRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	transfer, err := s.Engine.CreateTransfer(r.Context(), actor, req.ToWaiterID, req.TableID, req.Message)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"transfer": transferView(transfer)})
}

type acceptTransferRequest struct {
	TransferOrders bool `json:"transfer_orders,omitempty"`
}

// AcceptTransfer resolves a pending handover in the target waiter's favor,
// optionally re-pointing the table's in-flight orders.
func (s *Server) AcceptTransfer(w http.ResponseWriter, r *http.Request) {
	requestID, err := paramUint(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	actor, err := actorOrFail(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req acceptTransferRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	transfer, err := s.Engine.AcceptTransfer(r.Context(), requestID, actor, req.TransferOrders)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"transfer": transferView(transfer)})
}

// RejectTransfer declines a pending handover; the current assignment stands.
func (s *Server) RejectTransfer(w http.ResponseWriter, r *http.Request) {
	requestID, err := paramUint(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	actor, err := actorOrFail(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	transfer, err := s.Engine.RejectTransfer(r.Context(), requestID, actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"transfer": transferView(transfer)})
}

func transferView(transfer *models.TableTransferRequest) map[string]any {
	view := map[string]any{
		"id":             transfer.ID,
		"table_id":       transfer.TableID,
		"from_waiter_id": transfer.FromWaiterID,
		"to_waiter_id":   transfer.ToWaiterID,
		"status":         transfer.Status,
		"message":        transfer.Message,
	}
	if transfer.ResolvedAt != nil {
		view["resolved_at"] = *transfer.ResolvedAt
	}
	return view
}
