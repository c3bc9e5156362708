package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceUnpaid    InvoiceStatus = "UNPAID"
	InvoicePartial   InvoiceStatus = "PARTIAL"
	InvoicePaid      InvoiceStatus = "PAID"
	InvoiceCancelled InvoiceStatus = "CANCELLED"
)

// Invoice is created once per order at delivery. Amount is HT and frozen at creation.
type Invoice struct {
	ID            int             `json:"id"`
	OrderID       int             `json:"order_id"`
	InvoiceNumber string          `json:"invoice_number"`
	Amount        decimal.Decimal `json:"amount"`
	Balance       decimal.Decimal `json:"balance"`
	Status        InvoiceStatus   `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	Payments      []Payment       `json:"payments,omitempty"`
}

// IsLocked reports whether amount and the order's lines are frozen.
func (inv *Invoice) IsLocked() bool {
	return inv != nil && !inv.CreatedAt.IsZero()
}

// Payment is an append-only settlement row.
type Payment struct {
	ID        int             `json:"id"`
	InvoiceID int             `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Reference *string         `json:"reference,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// PaymentInput is a payment to record against an invoice.
type PaymentInput struct {
	Amount    decimal.Decimal
	Method    string
	Reference *string
}
