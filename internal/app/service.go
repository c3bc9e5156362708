package app

import (
	"context"

	"wholesale-fulfillment/internal/core"
)

// ApplicationService is the single interface the HTTP adapter calls.
// Every call carries the authenticated actor; settings are snapshotted per call.
type ApplicationService interface {
	// Health pings the database.
	Health(ctx context.Context) error

	// ── Orders ──

	// CreateOrder places an order in CONFIRMED after the credit and margin gates.
	CreateOrder(ctx context.Context, actor core.Actor, req CreateOrderRequest) (*core.Order, error)

	// CheckCredit is advisory. userID 0 means the actor itself.
	CheckCredit(ctx context.Context, actor core.Actor, userID int, total string) (*core.CreditCheck, error)

	ListOrders(ctx context.Context, actor core.Actor, req ListOrdersRequest) (*OrderListResult, error)
	GetOrder(ctx context.Context, actor core.Actor, orderID int) (*core.Order, error)
	ApproveOrder(ctx context.Context, actor core.Actor, orderID int) (*core.Order, error)
	PrepareOrder(ctx context.Context, actor core.Actor, orderID int) (*core.Order, error)
	ShipOrder(ctx context.Context, actor core.Actor, orderID int, agentID *int) (*core.Order, error)
	AssignDeliveryAgent(ctx context.Context, actor core.Actor, orderID, agentID int) (*core.Order, error)

	// ConfirmDelivery retries transient failures a bounded number of times.
	ConfirmDelivery(ctx context.Context, actor core.Actor, orderID int, req ConfirmDeliveryRequest) (*core.DeliveryResult, error)

	CancelOrder(ctx context.Context, actor core.Actor, orderID int, reason string) (*core.Order, error)
	UpdateOrderItemQuantity(ctx context.Context, actor core.Actor, orderID, itemID, quantity int) (*core.Order, error)

	// ── Invoices ──

	GetInvoice(ctx context.Context, actor core.Actor, invoiceID int) (*core.Invoice, error)
	GetInvoiceByOrder(ctx context.Context, actor core.Actor, orderID int) (*core.Invoice, error)
	RecordPayment(ctx context.Context, actor core.Actor, invoiceID int, req RecordPaymentRequest) (*core.Invoice, error)
	VoidInvoice(ctx context.Context, actor core.Actor, invoiceID int) (*core.Invoice, error)

	// ── Stock ──

	ApplyStock(ctx context.Context, actor core.Actor, req ApplyStockRequest) (*core.StockChange, error)
	GetStock(ctx context.Context, actor core.Actor, target core.StockTarget) (*core.StockLevel, error)
	ListMovements(ctx context.Context, actor core.Actor, target core.StockTarget, limit int) (*MovementListResult, error)
	LowStockProducts(ctx context.Context, actor core.Actor) (*StockListResult, error)

	// ── Users & settings ──

	GetUser(ctx context.Context, actor core.Actor, userID int) (*core.User, error)
	ListDeliveryAgents(ctx context.Context, actor core.Actor) (*UserListResult, error)
	GetSettings(ctx context.Context, actor core.Actor) (*core.Settings, error)
}
