package web

import (
	"net/http"

	"wholesale-fulfillment/internal/app"
)

type paymentBody struct {
	// Amount is a decimal string so no precision is lost in transit.
	Amount    string  `json:"amount" validate:"required,numeric"`
	Method    string  `json:"method" validate:"required,max=50"`
	Reference *string `json:"reference" validate:"omitempty,max=100"`
}

// apiGetInvoice handles GET /api/invoices/{id}. Payments are included.
func (h *Handler) apiGetInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(w, r, "id")
	if !ok {
		return
	}
	inv, err := h.svc.GetInvoice(r.Context(), mustActor(r), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, inv)
}

// apiRecordPayment handles POST /api/invoices/{id}/payments.
func (h *Handler) apiRecordPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(w, r, "id")
	if !ok {
		return
	}
	var body paymentBody
	if !decodeAndValidate(w, r, &body) {
		return
	}
	inv, err := h.svc.RecordPayment(r.Context(), mustActor(r), id, app.RecordPaymentRequest{
		Amount:    body.Amount,
		Method:    body.Method,
		Reference: body.Reference,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, inv)
}

// apiVoidInvoice handles POST /api/invoices/{id}/void.
func (h *Handler) apiVoidInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(w, r, "id")
	if !ok {
		return
	}
	inv, err := h.svc.VoidInvoice(r.Context(), mustActor(r), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, inv)
}
