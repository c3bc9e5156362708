package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus progresses through the fulfillment state machine:
//
//	CONFIRMED → PREPARED → SHIPPED → DELIVERED
//	any non-terminal status → CANCELLED
type OrderStatus string

const (
	OrderConfirmed OrderStatus = "CONFIRMED"
	OrderPrepared  OrderStatus = "PREPARED"
	OrderShipped   OrderStatus = "SHIPPED"
	OrderDelivered OrderStatus = "DELIVERED"
	OrderCancelled OrderStatus = "CANCELLED"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderConfirmed, OrderPrepared, OrderShipped, OrderDelivered, OrderCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderDelivered || s == OrderCancelled
}

// Order is a client order header with its lines.
type Order struct {
	ID                       int             `json:"id"`
	OrderNumber              *string         `json:"order_number,omitempty"`
	Status                   OrderStatus     `json:"status"`
	Total                    decimal.Decimal `json:"total"`
	UserID                   int             `json:"user_id"`
	DeliveryAgentID          *int            `json:"delivery_agent_id,omitempty"`
	DeliveryAgentName        *string         `json:"delivery_agent_name,omitempty"`
	DeliveryConfirmationCode *string         `json:"delivery_confirmation_code,omitempty"`
	DeliveryNoteNumber       *string         `json:"delivery_note_number,omitempty"`
	RequiresAdminApproval    bool            `json:"requires_admin_approval"`
	ApprovalMessage          string          `json:"approval_message,omitempty"`
	ApprovedBy               *int            `json:"approved_by,omitempty"`
	RecipientName            *string         `json:"recipient_name,omitempty"`
	DeliveryProofNote        *string         `json:"delivery_proof_note,omitempty"`
	CancelReason             *string         `json:"cancel_reason,omitempty"`
	CreatedAt                time.Time       `json:"created_at"`
	PreparedAt               *time.Time      `json:"prepared_at,omitempty"`
	ShippedAt                *time.Time      `json:"shipped_at,omitempty"`
	DeliveredAt              *time.Time      `json:"delivered_at,omitempty"`
	CancelledAt              *time.Time      `json:"cancelled_at,omitempty"`
	Items                    []OrderItem     `json:"items"`
}

// stockDecremented reports whether preparation has taken stock for this order.
func (o *Order) stockDecremented() bool {
	return o.Status == OrderPrepared || o.Status == OrderShipped || o.Status == OrderDelivered
}

// OrderItem is one order line. UnitPrice and UnitCost are captured at checkout.
type OrderItem struct {
	ID        int             `json:"id"`
	OrderID   int             `json:"order_id"`
	ProductID int             `json:"product_id"`
	VariantID *int            `json:"variant_id,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

func (i OrderItem) Target() StockTarget {
	return StockTarget{ProductID: i.ProductID, VariantID: i.VariantID}
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// LineMargin is (price - cost) × quantity.
func (i OrderItem) LineMargin() decimal.Decimal {
	return i.UnitPrice.Sub(i.UnitCost).Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// OrderLineInput is one requested line at checkout.
type OrderLineInput struct {
	ProductID int  `json:"product_id"`
	VariantID *int `json:"variant_id,omitempty"`
	Quantity  int  `json:"quantity"`
}

// CreateOrderRequest is the checkout payload. UserID is the ordering client;
// a CLIENT actor may only order for itself.
type CreateOrderRequest struct {
	UserID int              `json:"user_id"`
	Lines  []OrderLineInput `json:"lines"`
}

// OrderFilter narrows ListOrders. Zero values mean "any".
type OrderFilter struct {
	Status          *OrderStatus
	UserID          *int
	DeliveryAgentID *int
	Limit           int
}

// DeliveryConfirmation is presented by the agent on hand-over.
type DeliveryConfirmation struct {
	Code          string
	RecipientName string
	ProofNote     string
}

// CreditCheck is the advisory outcome of the credit gate for a client.
type CreditCheck struct {
	UserID      int             `json:"user_id"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
	Balance     decimal.Decimal `json:"balance"`
	Available   decimal.Decimal `json:"available"`
	Blocked     bool            `json:"blocked"`
}

// DeliveryResult is returned by ConfirmDelivery.
type DeliveryResult struct {
	Order          *Order   `json:"order"`
	Invoice        *Invoice `json:"invoice"`
	InvoiceCreated bool     `json:"invoice_created"`
}
