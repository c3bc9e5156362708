package web

import (
	"net/http"

	"wholesale-fulfillment/internal/app"
)

// ── Request DTOs ──────────────────────────────────────────────────────────────

type orderLineBody struct {
	ProductID int  `json:"product_id" validate:"required,gt=0"`
	VariantID *int `json:"variant_id" validate:"omitempty,gt=0"`
	Quantity  int  `json:"quantity" validate:"required,gt=0,max=1000000"`
}

type createOrderBody struct {
	UserID int             `json:"user_id" validate:"gte=0"`
	Lines  []orderLineBody `json:"lines" validate:"required,min=1,dive"`
}

type agentBody struct {
	AgentID *int `json:"agent_id" validate:"omitempty,gt=0"`
}

type assignBody struct {
	AgentID int `json:"agent_id" validate:"required,gt=0"`
}

type deliverBody struct {
	Code          string `json:"code" validate:"required"`
	RecipientName string `json:"recipient_name" validate:"required,max=200"`
	ProofNote     string `json:"proof_note" validate:"max=2000"`
}

type cancelBody struct {
	Reason string `json:"reason" validate:"max=500"`
}

type quantityBody struct {
	Quantity int `json:"quantity" validate:"gt=0,max=1000000"`
}

// ── Handlers ──────────────────────────────────────────────────────────────────

// apiCreateOrder handles POST /api/orders.
func (h *Handler) apiCreateOrder(w http.ResponseWriter, r *http.Request) {
	var body createOrderBody
	if !decodeAndValidate(w, r, &body) {
		return
	}
	req := app.CreateOrderRequest{UserID: body.UserID, Lines: make([]app.OrderLineInput, len(body.Lines))}
	for i, l := range body.Lines {
		req.Lines[i] = app.OrderLineInput{ProductID: l.ProductID, VariantID: l.VariantID, Quantity: l.Quantity}
	}
	order, err := h.svc.CreateOrder(r.Context(), mustActor(r), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, order)
}

// apiListOrders handles GET /api/orders?status=&user_id=&agent_id=&limit=.
func (h *Handler) apiListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := optionalIntQuery(w, r, "user_id")
	if !ok {
		return
	}
	agentID, ok := optionalIntQuery(w, r, "agent_id")
	if !ok {
		return
	}
	limit, ok := optionalIntQuery(w, r, "limit")
	if !ok {
		return
	}
	req := app.ListOrdersRequest{
		Status:          r.URL.Query().Get("status"),
		UserID:          userID,
		DeliveryAgentID: agentID,
	}
	if limit != nil {
		req.Limit = *limit
	}
	result, err := h.svc.ListOrders(r.Context(), mustActor(r), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiGetOrder handles GET /api/orders/{id}.
func (h *Handler) apiGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(w, r, "id")
	if !ok {
		return
	}
	order, err := h.svc.GetOrder(r.Context(), mustActor(r), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, order)
}

// apiGetOrderInvoice handles GET /api/orders/{id}/invoice.
func (h *Handler) apiGetOrderInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(w, r, "id")
	if !ok {
		return
	}
	inv, err := h.svc.GetInvoiceByOrder(r.Context(), mustActor(r), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, inv)
}

// apiApproveOrder handles POST /api/orders/{id}/approve.
func (h *Handler) apiApproveOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(w, r, "id")
	if !ok {
		return
	}
	order, err := h.svc.ApproveOrder(r.Context(), mustActor(r), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, order)
}

// apiPrepareOrder handles POST /api/orders/{id}/prepare.
func (h *Handler) apiPrepareOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(w, r, "id")
	if !ok {
		return
	}
	order, err := h.svc.PrepareOrder(r.Context(), mustActor(r), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, order)
}

// apiShipOrder handles POST /api/orders/{id}/ship. The body is optional.
func (h *Handler) apiShipOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(w, r, "id")
	if !ok {
		return
	}
	var body agentBody
	if !decodeOptional(w, r, &body) {
		return
	}
	order, err := h.svc.ShipOrder(r.Context(), mustActor(r), id, body.AgentID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, order)
}

// apiAssignAgent handles POST /api/orders/{id}/assign.
func (h *Handler) apiAssignAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(w, r, "id")
	if !ok {
		return
	}
	var body assignBody
	if !decodeAndValidate(w, r, &body) {
		return
	}
	order, err := h.svc.AssignDeliveryAgent(r.Context(), mustActor(r), id, body.AgentID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, order)
}

// apiConfirmDelivery handles POST /api/orders/{id}/deliver.
// Code format is checked by the core so the caller gets the domain error code.
func (h *Handler) apiConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(w, r, "id")
	if !ok {
		return
	}
	var body deliverBody
	if !decodeAndValidate(w, r, &body) {
		return
	}
	result, err := h.svc.ConfirmDelivery(r.Context(), mustActor(r), id, app.ConfirmDeliveryRequest{
		Code:          body.Code,
		RecipientName: body.RecipientName,
		ProofNote:     body.ProofNote,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiCancelOrder handles POST /api/orders/{id}/cancel.
func (h *Handler) apiCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(w, r, "id")
	if !ok {
		return
	}
	var body cancelBody
	if !decodeOptional(w, r, &body) {
		return
	}
	order, err := h.svc.CancelOrder(r.Context(), mustActor(r), id, body.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, order)
}

// apiUpdateItemQuantity handles PATCH /api/orders/{id}/items/{itemID}.
func (h *Handler) apiUpdateItemQuantity(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(w, r, "id")
	if !ok {
		return
	}
	itemID, ok := intParam(w, r, "itemID")
	if !ok {
		return
	}
	var body quantityBody
	if !decodeAndValidate(w, r, &body) {
		return
	}
	order, err := h.svc.UpdateOrderItemQuantity(r.Context(), mustActor(r), id, itemID, body.Quantity)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, order)
}

// apiCheckCredit handles GET /api/credit?total=&user_id=.
func (h *Handler) apiCheckCredit(w http.ResponseWriter, r *http.Request) {
	userID, ok := optionalIntQuery(w, r, "user_id")
	if !ok {
		return
	}
	uid := 0
	if userID != nil {
		uid = *userID
	}
	check, err := h.svc.CheckCredit(r.Context(), mustActor(r), uid, r.URL.Query().Get("total"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, check)
}

// ── Users & settings ──────────────────────────────────────────────────────────

// apiGetUser handles GET /api/users/{id}.
func (h *Handler) apiGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(w, r, "id")
	if !ok {
		return
	}
	user, err := h.svc.GetUser(r.Context(), mustActor(r), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, user)
}

// apiListAgents handles GET /api/agents.
func (h *Handler) apiListAgents(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListDeliveryAgents(r.Context(), mustActor(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiGetSettings handles GET /api/settings.
func (h *Handler) apiGetSettings(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.GetSettings(r.Context(), mustActor(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, st)
}
