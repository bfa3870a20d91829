package server

import (
	"net/http"

	"mesaops/auth"
	"mesaops/models"
	"mesaops/workflow"
)

type createOrderRequest struct {
	CustomerID    *uint  `json:"customer_id,omitempty"`
	CustomerName  string `json:"customer_name,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
	CustomerPhone string `json:"customer_phone,omitempty"`

	TableCode     string `json:"table_code,omitempty"`
	QRToken       string `json:"qr_token,omitempty"`
	HintSessionID *uint  `json:"session_id,omitempty"`

	Items []createOrderItem `json:"items"`
	Notes string            `json:"notes,omitempty"`
}

type createOrderItem struct {
	MenuItemID   uint   `json:"menu_item_id"`
	Quantity     int    `json:"quantity"`
	Instructions string `json:"instructions,omitempty"`
	ModifierIDs  []uint `json:"modifier_ids,omitempty"`
}

// CreateOrder places a new order for the table resolved from the request.
func (s *Server) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	input := workflow.CreateOrderInput{
		CustomerID:    req.CustomerID,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
		TableCode:     req.TableCode,
		QRToken:       req.QRToken,
		HintSessionID: req.HintSessionID,
		Notes:         req.Notes,
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, workflow.OrderItemInput{
			MenuItemID:   item.MenuItemID,
			Quantity:     item.Quantity,
			Instructions: item.Instructions,
			ModifierIDs:  item.ModifierIDs,
		})
	}
	result, err := s.Engine.CreateOrder(r.Context(), input)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"order":   orderView(&result.Order),
		"session": sessionView(&result.Session),
	})
}

type transitionRequest struct {
	To               string         `json:"to"`
	Justification    string         `json:"justification,omitempty"`
	PaymentMethod    string         `json:"payment_method,omitempty"`
	PaymentReference string         `json:"payment_reference,omitempty"`
	PaymentMeta      models.JSONMap `json:"payment_meta,omitempty"`
}

// TransitionOrder applies one workflow edge. The scope comes from the
// request's token (client for guests); the engine's policy table decides
// whether that scope may drive the edge.
func (s *Server) TransitionOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := paramUint(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req transitionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	order, err := s.Engine.Transition(r.Context(), orderID, models.OrderStatus(req.To),
		auth.RequestScope(r.Context()), auth.ActorID(r.Context()), workflow.TransitionPayload{
			Justification:    req.Justification,
			PaymentMethod:    req.PaymentMethod,
			PaymentReference: req.PaymentReference,
			PaymentMeta:      req.PaymentMeta,
		})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"order": orderView(order)})
}

type deliverItemsRequest struct {
	ItemIDs []uint `json:"item_ids"`
}

// DeliverItems records delivery of the listed items.
func (s *Server) DeliverItems(w http.ResponseWriter, r *http.Request) {
	orderID, err := paramUint(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	actor, err := actorOrFail(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req deliverItemsRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	order, err := s.Engine.DeliverItems(r.Context(), orderID, req.ItemIDs, actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"order": orderView(order)})
}

// orderView shapes an order for the wire. Monetary fields are fixed-point
// strings; internal columns such as payment metadata stay server-side.
func orderView(order *models.Order) map[string]any {
	view := map[string]any{
		"id":              order.ID,
		"session_id":      order.SessionID,
		"workflow_status": order.WorkflowStatus,
		"payment_status":  order.PaymentStatus,
		"subtotal":        order.Subtotal.StringFixed(2),
		"tax_amount":      order.TaxAmount.StringFixed(2),
		"tip_amount":      order.TipAmount.StringFixed(2),
		"total_amount":    order.TotalAmount.StringFixed(2),
		"created_at":      order.CreatedAt,
	}
	if order.WaiterID != nil {
		view["waiter_id"] = *order.WaiterID
	}
	if len(order.Items) > 0 {
		items := make([]map[string]any, 0, len(order.Items))
		for i := range order.Items {
			item := &order.Items[i]
			items = append(items, map[string]any{
				"id":                 item.ID,
				"menu_item_id":       item.MenuItemID,
				"quantity":           item.Quantity,
				"unit_price":         item.UnitPrice.StringFixed(2),
				"quick_serve":        item.QuickServe,
				"delivered_quantity": item.DeliveredQuantity,
				"fully_delivered":    item.IsFullyDelivered,
			})
		}
		view["items"] = items
	}
	return view
}
