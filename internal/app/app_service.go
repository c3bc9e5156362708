package app

import (
	"context"
	"fmt"
	"strings"

	"wholesale-fulfillment/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// deliveryAttempts bounds ConfirmDelivery retries on lock or statement timeouts.
const deliveryAttempts = 3

type appService struct {
	pool     *pgxpool.Pool
	settings core.SettingsProvider
	orders   core.OrderService
	invoices core.InvoiceService
	stock    core.StockLedger
	users    core.UserService
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(
	pool *pgxpool.Pool,
	settings core.SettingsProvider,
	orders core.OrderService,
	invoices core.InvoiceService,
	stock core.StockLedger,
	users core.UserService,
) ApplicationService {
	return &appService{
		pool:     pool,
		settings: settings,
		orders:   orders,
		invoices: invoices,
		stock:    stock,
		users:    users,
	}
}

func invalidInput(format string, args ...any) error {
	return &core.Error{Kind: core.KindValidation, Code: core.CodeInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func parseAmount(field, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, invalidInput("%s must be a decimal number, got %q", field, raw)
	}
	return d, nil
}

// snapshot reads the settings once for the current request.
func (s *appService) snapshot(ctx context.Context) (core.Settings, error) {
	st, err := s.settings.Current(ctx)
	if err != nil {
		return core.Settings{}, fmt.Errorf("failed to load settings: %w", err)
	}
	return st, nil
}

func (s *appService) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ── Orders ───────────────────────────────────────────────────────────────────

func (s *appService) CreateOrder(ctx context.Context, actor core.Actor, req CreateOrderRequest) (*core.Order, error) {
	st, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	lines := make([]core.OrderLineInput, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = core.OrderLineInput{ProductID: l.ProductID, VariantID: l.VariantID, Quantity: l.Quantity}
	}
	userID := req.UserID
	if actor.Role == core.RoleClient {
		userID = actor.ID
	}
	return s.orders.CreateOrder(ctx, actor, st, core.CreateOrderRequest{UserID: userID, Lines: lines})
}

func (s *appService) CheckCredit(ctx context.Context, actor core.Actor, userID int, total string) (*core.CreditCheck, error) {
	if userID == 0 {
		userID = actor.ID
	}
	amount := decimal.Zero
	if strings.TrimSpace(total) != "" {
		var err error
		if amount, err = parseAmount("total", total); err != nil {
			return nil, err
		}
	}
	return s.orders.CheckCredit(ctx, actor, userID, amount)
}

func (s *appService) ListOrders(ctx context.Context, actor core.Actor, req ListOrdersRequest) (*OrderListResult, error) {
	filter := core.OrderFilter{UserID: req.UserID, DeliveryAgentID: req.DeliveryAgentID, Limit: req.Limit}
	if req.Status != "" {
		status := core.OrderStatus(strings.ToUpper(req.Status))
		filter.Status = &status
	}
	orders, err := s.orders.ListOrders(ctx, actor, filter)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []core.Order{}
	}
	return &OrderListResult{Orders: orders}, nil
}

func (s *appService) GetOrder(ctx context.Context, actor core.Actor, orderID int) (*core.Order, error) {
	return s.orders.GetOrder(ctx, actor, orderID)
}

func (s *appService) ApproveOrder(ctx context.Context, actor core.Actor, orderID int) (*core.Order, error) {
	return s.orders.ApproveOrder(ctx, actor, orderID)
}

func (s *appService) PrepareOrder(ctx context.Context, actor core.Actor, orderID int) (*core.Order, error) {
	st, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.orders.PrepareOrder(ctx, actor, st, orderID)
}

func (s *appService) ShipOrder(ctx context.Context, actor core.Actor, orderID int, agentID *int) (*core.Order, error) {
	st, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.orders.ShipOrder(ctx, actor, st, orderID, agentID)
}

func (s *appService) AssignDeliveryAgent(ctx context.Context, actor core.Actor, orderID, agentID int) (*core.Order, error) {
	return s.orders.AssignDeliveryAgent(ctx, actor, orderID, agentID)
}

func (s *appService) ConfirmDelivery(ctx context.Context, actor core.Actor, orderID int, req ConfirmDeliveryRequest) (*core.DeliveryResult, error) {
	st, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	conf := core.DeliveryConfirmation{
		Code:          strings.TrimSpace(req.Code),
		RecipientName: req.RecipientName,
		ProofNote:     req.ProofNote,
	}

	var result *core.DeliveryResult
	err = core.RetryTransient(ctx, deliveryAttempts, func(ctx context.Context) error {
		r, err := s.orders.ConfirmDelivery(ctx, actor, st, orderID, conf)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *appService) CancelOrder(ctx context.Context, actor core.Actor, orderID int, reason string) (*core.Order, error) {
	return s.orders.CancelOrder(ctx, actor, orderID, reason)
}

func (s *appService) UpdateOrderItemQuantity(ctx context.Context, actor core.Actor, orderID, itemID, quantity int) (*core.Order, error) {
	st, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.orders.UpdateOrderItemQuantity(ctx, actor, st, orderID, itemID, quantity)
}

// ── Invoices ─────────────────────────────────────────────────────────────────

func (s *appService) GetInvoice(ctx context.Context, actor core.Actor, invoiceID int) (*core.Invoice, error) {
	return s.invoices.GetInvoice(ctx, actor, invoiceID)
}

func (s *appService) GetInvoiceByOrder(ctx context.Context, actor core.Actor, orderID int) (*core.Invoice, error) {
	return s.invoices.GetInvoiceByOrder(ctx, actor, orderID)
}

func (s *appService) RecordPayment(ctx context.Context, actor core.Actor, invoiceID int, req RecordPaymentRequest) (*core.Invoice, error) {
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	st, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.invoices.RecordPayment(ctx, actor, st, invoiceID, core.PaymentInput{
		Amount:    amount,
		Method:    req.Method,
		Reference: req.Reference,
	})
}

func (s *appService) VoidInvoice(ctx context.Context, actor core.Actor, invoiceID int) (*core.Invoice, error) {
	return s.invoices.VoidInvoice(ctx, actor, invoiceID)
}

// ── Stock ────────────────────────────────────────────────────────────────────

func (s *appService) ApplyStock(ctx context.Context, actor core.Actor, req ApplyStockRequest) (*core.StockChange, error) {
	return s.stock.Apply(ctx, actor, core.StockChangeRequest{
		Target:    req.Target,
		Operation: core.StockOperation(strings.ToUpper(string(req.Operation))),
		Quantity:  req.Quantity,
		Reason:    req.Reason,
	})
}

func (s *appService) GetStock(ctx context.Context, actor core.Actor, target core.StockTarget) (*core.StockLevel, error) {
	if err := core.Authorize(actor, core.PermViewStock); err != nil {
		return nil, err
	}
	return s.stock.GetStock(ctx, target)
}

func (s *appService) ListMovements(ctx context.Context, actor core.Actor, target core.StockTarget, limit int) (*MovementListResult, error) {
	if err := core.Authorize(actor, core.PermViewStock); err != nil {
		return nil, err
	}
	movements, err := s.stock.ListMovements(ctx, target, limit)
	if err != nil {
		return nil, err
	}
	if movements == nil {
		movements = []core.StockMovement{}
	}
	return &MovementListResult{Target: target, Movements: movements}, nil
}

func (s *appService) LowStockProducts(ctx context.Context, actor core.Actor) (*StockListResult, error) {
	if err := core.Authorize(actor, core.PermViewStock); err != nil {
		return nil, err
	}
	levels, err := s.stock.LowStockProducts(ctx)
	if err != nil {
		return nil, err
	}
	if levels == nil {
		levels = []core.StockLevel{}
	}
	return &StockListResult{Levels: levels}, nil
}

// ── Users & settings ─────────────────────────────────────────────────────────

func (s *appService) GetUser(ctx context.Context, actor core.Actor, userID int) (*core.User, error) {
	if userID == 0 {
		userID = actor.ID
	}
	return s.users.GetByID(ctx, actor, userID)
}

func (s *appService) ListDeliveryAgents(ctx context.Context, actor core.Actor) (*UserListResult, error) {
	agents, err := s.users.ListDeliveryAgents(ctx, actor)
	if err != nil {
		return nil, err
	}
	if agents == nil {
		agents = []core.User{}
	}
	return &UserListResult{Users: agents}, nil
}

func (s *appService) GetSettings(ctx context.Context, actor core.Actor) (*core.Settings, error) {
	if err := core.Authorize(actor, core.PermViewAnyOrder); err != nil {
		return nil, err
	}
	st, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return &st, nil
}
