package web

import (
	"net/http"

	"wholesale-fulfillment/internal/app"
	"wholesale-fulfillment/internal/core"
)

type stockBody struct {
	VariantID *int   `json:"variant_id" validate:"omitempty,gt=0"`
	Operation string `json:"operation" validate:"required,oneof=ADD REMOVE SET add remove set"`
	Quantity  int    `json:"quantity" validate:"gte=0,max=1000000"`
	Reason    string `json:"reason" validate:"required,max=500"`
}

// stockTarget builds the target from {id} and an optional ?variant_id=.
func stockTarget(w http.ResponseWriter, r *http.Request) (core.StockTarget, bool) {
	productID, ok := intParam(w, r, "id")
	if !ok {
		return core.StockTarget{}, false
	}
	variantID, ok := optionalIntQuery(w, r, "variant_id")
	if !ok {
		return core.StockTarget{}, false
	}
	return core.StockTarget{ProductID: productID, VariantID: variantID}, true
}

// apiApplyStock handles POST /api/products/{id}/stock.
func (h *Handler) apiApplyStock(w http.ResponseWriter, r *http.Request) {
	productID, ok := intParam(w, r, "id")
	if !ok {
		return
	}
	var body stockBody
	if !decodeAndValidate(w, r, &body) {
		return
	}
	change, err := h.svc.ApplyStock(r.Context(), mustActor(r), app.ApplyStockRequest{
		Target:    core.StockTarget{ProductID: productID, VariantID: body.VariantID},
		Operation: core.StockOperation(body.Operation),
		Quantity:  body.Quantity,
		Reason:    body.Reason,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, change)
}

// apiGetStock handles GET /api/products/{id}/stock.
func (h *Handler) apiGetStock(w http.ResponseWriter, r *http.Request) {
	target, ok := stockTarget(w, r)
	if !ok {
		return
	}
	level, err := h.svc.GetStock(r.Context(), mustActor(r), target)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, level)
}

// apiListMovements handles GET /api/products/{id}/movements?variant_id=&limit=.
func (h *Handler) apiListMovements(w http.ResponseWriter, r *http.Request) {
	target, ok := stockTarget(w, r)
	if !ok {
		return
	}
	limit, ok := optionalIntQuery(w, r, "limit")
	if !ok {
		return
	}
	n := 0
	if limit != nil {
		n = *limit
	}
	result, err := h.svc.ListMovements(r.Context(), mustActor(r), target, n)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiLowStock handles GET /api/products/low-stock.
func (h *Handler) apiLowStock(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.LowStockProducts(r.Context(), mustActor(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}
