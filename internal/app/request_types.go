package app

import "wholesale-fulfillment/internal/core"

// CreateOrderRequest is the input for placing an order.
// UserID is ignored for CLIENT actors, who always order for themselves.
type CreateOrderRequest struct {
	UserID int
	Lines  []OrderLineInput
}

// OrderLineInput is a single line within a CreateOrderRequest.
type OrderLineInput struct {
	ProductID int
	VariantID *int
	Quantity  int
}

// ListOrdersRequest narrows ListOrders. Empty fields mean "any".
type ListOrdersRequest struct {
	Status          string
	UserID          *int
	DeliveryAgentID *int
	Limit           int
}

// ConfirmDeliveryRequest is what the agent enters at hand-over.
type ConfirmDeliveryRequest struct {
	Code          string
	RecipientName string
	ProofNote     string
}

// RecordPaymentRequest is a payment against an invoice. Amount is a decimal string.
type RecordPaymentRequest struct {
	Amount    string
	Method    string
	Reference *string
}

// ApplyStockRequest is a manual stock change.
type ApplyStockRequest struct {
	Target    core.StockTarget
	Operation core.StockOperation
	Quantity  int
	Reason    string
}
