package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wholesale-fulfillment/internal/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// DeliveryTimeout caps the delivery confirmation transaction.
const DeliveryTimeout = 10 * time.Second

// OrderService drives orders through the fulfillment state machine. Each
// transition is one transaction: stock, sequences, invoice and the order row
// commit together or not at all. Audit events go out after commit.
type OrderService interface {
	// Checkout
	CreateOrder(ctx context.Context, actor Actor, settings Settings, req CreateOrderRequest) (*Order, error)
	// CheckCredit is the advisory pre-submission check. CreateOrder re-asserts it.
	CheckCredit(ctx context.Context, actor Actor, userID int, prospectiveTotal decimal.Decimal) (*CreditCheck, error)

	// Lifecycle
	ApproveOrder(ctx context.Context, actor Actor, orderID int) (*Order, error)
	PrepareOrder(ctx context.Context, actor Actor, settings Settings, orderID int) (*Order, error)
	// ShipOrder allocates the confirmation code and delivery note. agentID is optional.
	ShipOrder(ctx context.Context, actor Actor, settings Settings, orderID int, agentID *int) (*Order, error)
	AssignDeliveryAgent(ctx context.Context, actor Actor, orderID, agentID int) (*Order, error)
	// ConfirmDelivery is safe to retry: the invoice is created at most once.
	ConfirmDelivery(ctx context.Context, actor Actor, settings Settings, orderID int, conf DeliveryConfirmation) (*DeliveryResult, error)
	CancelOrder(ctx context.Context, actor Actor, orderID int, reason string) (*Order, error)

	// Line edits
	UpdateOrderItemQuantity(ctx context.Context, actor Actor, settings Settings, orderID, itemID, quantity int) (*Order, error)

	// Queries
	GetOrder(ctx context.Context, actor Actor, orderID int) (*Order, error)
	ListOrders(ctx context.Context, actor Actor, filter OrderFilter) ([]Order, error)
}

type orderService struct {
	pool            *pgxpool.Pool
	stock           StockLedger
	seq             SequenceGenerator
	invoices        InvoiceService
	audit           AuditSink
	deliveryTimeout time.Duration
}

func NewOrderService(pool *pgxpool.Pool, stock StockLedger, seq SequenceGenerator, invoices InvoiceService, audit AuditSink) OrderService {
	return &orderService{
		pool:            pool,
		stock:           stock,
		seq:             seq,
		invoices:        invoices,
		audit:           auditSinkOrDiscard(audit),
		deliveryTimeout: DeliveryTimeout,
	}
}

const orderColumns = `
	id, order_number, status, total, user_id,
	delivery_agent_id, delivery_agent_name, delivery_confirmation_code, delivery_note_number,
	requires_admin_approval, approval_message, approved_by,
	recipient_name, delivery_proof_note, cancel_reason,
	created_at, prepared_at, shipped_at, delivered_at, cancelled_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var status string
	err := row.Scan(
		&o.ID, &o.OrderNumber, &status, &o.Total, &o.UserID,
		&o.DeliveryAgentID, &o.DeliveryAgentName, &o.DeliveryConfirmationCode, &o.DeliveryNoteNumber,
		&o.RequiresAdminApproval, &o.ApprovalMessage, &o.ApprovedBy,
		&o.RecipientName, &o.DeliveryProofNote, &o.CancelReason,
		&o.CreatedAt, &o.PreparedAt, &o.ShippedAt, &o.DeliveredAt, &o.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	o.Status = OrderStatus(status)
	return &o, nil
}

// lockOrder reads the order row holding its lock until tx ends.
func lockOrder(ctx context.Context, tx pgx.Tx, orderID int) (*Order, error) {
	o, err := scanOrder(tx.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", orderID))
	if err != nil {
		return nil, storeError("lock order", "order", orderID, err)
	}
	return o, nil
}

func loadOrderItems(ctx context.Context, q db.Querier, orderID int) ([]OrderItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, variant_id, quantity, unit_price, unit_cost
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, storeError("query order items", "order", orderID, err)
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.VariantID, &it.Quantity, &it.UnitPrice, &it.UnitCost); err != nil {
			return nil, storeError("scan order item", "order", orderID, err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate order items", "order", orderID, err)
	}
	return items, nil
}

func (s *orderService) fetchOrder(ctx context.Context, q db.Querier, orderID int) (*Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", orderID))
	if err != nil {
		return nil, storeError("fetch order", "order", orderID, err)
	}
	o.Items, err = loadOrderItems(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// view fetches the committed order as actor is allowed to see it.
func (s *orderService) view(ctx context.Context, actor Actor, orderID int) (*Order, error) {
	o, err := s.fetchOrder(ctx, s.pool, orderID)
	if err != nil {
		return nil, err
	}
	redactFor(actor, o)
	return o, nil
}

// ── Checkout ─────────────────────────────────────────────────────────────────

func (s *orderService) CreateOrder(ctx context.Context, actor Actor, settings Settings, req CreateOrderRequest) (result *Order, err error) {
	ctx, span := startSpan(ctx, "order.create", attribute.Int("user_id", req.UserID))
	defer func() { endSpan(span, "order.create", err) }()

	if err := Authorize(actor, PermCreateOrder); err != nil {
		return nil, err
	}
	if actor.Role == RoleClient {
		if req.UserID == 0 {
			req.UserID = actor.ID
		}
		if req.UserID != actor.ID {
			return nil, forbiddenError("a client may only order for itself")
		}
	}
	if req.UserID <= 0 {
		return nil, validationError(CodeInvalidInput, "user id is required")
	}
	if len(req.Lines) == 0 {
		return nil, validationError(CodeInvalidInput, "an order needs at least one line")
	}
	for i, l := range req.Lines {
		if l.Quantity <= 0 || l.Quantity > MaxQuantity {
			return nil, validationError(CodeInvalidQuantity, "line %d: quantity must be between 1 and %d, got %d", i+1, MaxQuantity, l.Quantity)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storeError("begin checkout transaction", "user", req.UserID, err)
	}
	defer tx.Rollback(ctx)

	// The user row lock serializes concurrent checkouts against the same credit line.
	var creditLimit decimal.Decimal
	var isActive bool
	err = tx.QueryRow(ctx,
		"SELECT credit_limit, is_active FROM users WHERE id = $1 FOR UPDATE",
		req.UserID,
	).Scan(&creditLimit, &isActive)
	if err != nil {
		return nil, storeError("lock client", "user", req.UserID, err)
	}
	if !isActive {
		return nil, preconditionError(CodeInvalidInput, "user %d is inactive", req.UserID)
	}

	items, err := priceLines(ctx, tx, req.Lines)
	if err != nil {
		return nil, err
	}
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}

	balance, err := clientBalance(ctx, tx, req.UserID)
	if err != nil {
		return nil, err
	}
	credit := EvaluateCredit(balance, creditLimit, total)
	if credit.Blocked {
		return nil, preconditionError(CodeCreditExceeded,
			"credit limit exceeded: order total %s, available credit %s",
			total.StringFixed(2), credit.Available.StringFixed(2))
	}

	margin := EvaluateMargin(settings.Margin, items)

	now := time.Now()
	number, err := s.seq.NextTx(ctx, tx, DocOrder, now)
	if err != nil {
		return nil, err
	}

	var orderID int
	err = tx.QueryRow(ctx, `
		INSERT INTO orders (order_number, status, total, user_id, requires_admin_approval, approval_message, created_at)
		VALUES ($1, 'CONFIRMED', $2, $3, $4, $5, $6)
		RETURNING id
	`, number, total, req.UserID, margin.RequiresApproval, margin.Message, now).Scan(&orderID)
	if err != nil {
		return nil, storeError("insert order", "order", number, err)
	}

	for _, it := range items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items (order_id, product_id, variant_id, quantity, unit_price, unit_cost)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, orderID, it.ProductID, it.VariantID, it.Quantity, it.UnitPrice, it.UnitCost); err != nil {
			return nil, storeError("insert order item", "order", orderID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeError("commit checkout", "order", orderID, err)
	}

	countTransition(ctx, OrderConfirmed)
	s.audit.Record(newAuditEvent("order.create", "order", orderID, actor, map[string]any{
		"order_number":      number,
		"total":             total.String(),
		"requires_approval": margin.RequiresApproval,
	}))
	return s.view(ctx, actor, orderID)
}

// priceLines captures the current price and cost of every requested line.
// Variant price and cost fall back to the parent product's.
func priceLines(ctx context.Context, q db.Querier, lines []OrderLineInput) ([]OrderItem, error) {
	items := make([]OrderItem, 0, len(lines))
	for _, l := range lines {
		it := OrderItem{ProductID: l.ProductID, VariantID: l.VariantID, Quantity: l.Quantity}
		if l.VariantID != nil {
			var productID int
			err := q.QueryRow(ctx, `
				SELECT v.product_id, COALESCE(v.price, p.price), COALESCE(v.cost, p.cost)
				FROM product_variants v
				JOIN products p ON p.id = v.product_id
				WHERE v.id = $1
			`, *l.VariantID).Scan(&productID, &it.UnitPrice, &it.UnitCost)
			if err != nil {
				return nil, storeError("price variant", "variant", *l.VariantID, err)
			}
			if productID != l.ProductID {
				return nil, validationError(CodeInvalidInput, "variant %d does not belong to product %d", *l.VariantID, l.ProductID)
			}
		} else {
			err := q.QueryRow(ctx,
				"SELECT price, cost FROM products WHERE id = $1", l.ProductID,
			).Scan(&it.UnitPrice, &it.UnitCost)
			if err != nil {
				return nil, storeError("price product", "product", l.ProductID, err)
			}
		}
		items = append(items, it)
	}
	return items, nil
}

func (s *orderService) CheckCredit(ctx context.Context, actor Actor, userID int, prospectiveTotal decimal.Decimal) (*CreditCheck, error) {
	if actor.Role == RoleClient && userID != actor.ID {
		return nil, forbiddenError("a client may only check its own credit")
	}
	if actor.Role == RoleLivreur {
		return nil, forbiddenError("role %s may not check credit", actor.Role)
	}
	if prospectiveTotal.IsNegative() {
		return nil, validationError(CodeInvalidInput, "prospective total cannot be negative")
	}

	var limit decimal.Decimal
	if err := s.pool.QueryRow(ctx, "SELECT credit_limit FROM users WHERE id = $1", userID).Scan(&limit); err != nil {
		return nil, storeError("fetch credit limit", "user", userID, err)
	}
	balance, err := clientBalance(ctx, s.pool, userID)
	if err != nil {
		return nil, err
	}
	d := EvaluateCredit(balance, limit, prospectiveTotal)
	return &CreditCheck{
		UserID:      userID,
		CreditLimit: limit,
		Balance:     balance,
		Available:   d.Available,
		Blocked:     d.Blocked,
	}, nil
}

// ── Lifecycle ────────────────────────────────────────────────────────────────

func (s *orderService) ApproveOrder(ctx context.Context, actor Actor, orderID int) (*Order, error) {
	if err := Authorize(actor, PermApproveOrder); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storeError("begin approval transaction", "order", orderID, err)
	}
	defer tx.Rollback(ctx)

	o, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.RequiresAdminApproval {
		return s.view(ctx, actor, orderID)
	}
	if o.Status.IsTerminal() {
		return nil, preconditionError(CodeInvalidTransition, "order %d is %s", orderID, o.Status)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE orders SET requires_admin_approval = false, approved_by = $2, updated_at = NOW()
		WHERE id = $1
	`, orderID, actor.ID); err != nil {
		return nil, storeError("approve order", "order", orderID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storeError("commit approval", "order", orderID, err)
	}

	s.audit.Record(newAuditEvent("order.approve", "order", orderID, actor, map[string]any{
		"approval_message": o.ApprovalMessage,
	}))
	return s.view(ctx, actor, orderID)
}

func (s *orderService) PrepareOrder(ctx context.Context, actor Actor, settings Settings, orderID int) (result *Order, err error) {
	ctx, span := startSpan(ctx, "order.prepare", attribute.Int("order_id", orderID))
	defer func() { endSpan(span, "order.prepare", err) }()

	if err := Authorize(actor, PermPrepareOrder); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storeError("begin preparation transaction", "order", orderID, err)
	}
	defer tx.Rollback(ctx)

	o, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(o, OrderPrepared); err != nil {
		return nil, err
	}
	if err := checkNotBlocked(settings.Margin, o); err != nil {
		return nil, err
	}

	items, err := loadOrderItems(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, preconditionError(CodeInvalidTransition, "order %d has no lines to prepare", orderID)
	}
	changes, err := s.stock.TakeForOrderTx(ctx, tx, orderID, items, orderReason("Prepared", o))
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE orders SET status = 'PREPARED', prepared_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, orderID); err != nil {
		return nil, storeError("mark order prepared", "order", orderID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storeError("commit preparation", "order", orderID, err)
	}

	countTransition(ctx, OrderPrepared)
	low := make([]string, 0)
	for _, ch := range changes {
		if ch.LowStock {
			low = append(low, ch.Target.String())
		}
	}
	s.audit.Record(newAuditEvent("order.prepare", "order", orderID, actor, map[string]any{
		"lines":     len(items),
		"low_stock": low,
	}))
	return s.view(ctx, actor, orderID)
}

// resolveAgent checks that agentID is an active delivery agent and returns its name.
func resolveAgent(ctx context.Context, q db.Querier, agentID int) (string, error) {
	var name string
	var role string
	var active bool
	err := q.QueryRow(ctx, "SELECT name, role, is_active FROM users WHERE id = $1", agentID).Scan(&name, &role, &active)
	if err != nil {
		return "", storeError("fetch delivery agent", "user", agentID, err)
	}
	if Role(role) != RoleLivreur || !active {
		return "", preconditionError(CodeNotAgent, "user %d is not an active delivery agent", agentID)
	}
	return name, nil
}

func (s *orderService) ShipOrder(ctx context.Context, actor Actor, settings Settings, orderID int, agentID *int) (result *Order, err error) {
	ctx, span := startSpan(ctx, "order.ship", attribute.Int("order_id", orderID))
	defer func() { endSpan(span, "order.ship", err) }()

	if err := Authorize(actor, PermShipOrder); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storeError("begin shipping transaction", "order", orderID, err)
	}
	defer tx.Rollback(ctx)

	o, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(o, OrderShipped); err != nil {
		return nil, err
	}
	if err := checkNotBlocked(settings.Margin, o); err != nil {
		return nil, err
	}

	if agentID != nil {
		changed, err := decideAssignment(o.DeliveryAgentID, actor, *agentID)
		if err != nil {
			return nil, err
		}
		if changed {
			name, err := resolveAgent(ctx, tx, *agentID)
			if err != nil {
				return nil, err
			}
			o.DeliveryAgentID = agentID
			o.DeliveryAgentName = &name
		}
	}

	code, err := generateConfirmationCode()
	if err != nil {
		return nil, &Error{Kind: KindInternal, Code: CodeInternal, Message: "failed to ship order", Err: err}
	}

	// Stored delivery notes always come from their own counter so they never
	// collide under the unique constraint; derived numbers are display-only.
	noteNumber := o.DeliveryNoteNumber
	if noteNumber == nil {
		n, err := s.seq.NextTx(ctx, tx, DocDeliveryNote, time.Now())
		if err != nil {
			return nil, err
		}
		noteNumber = &n
	}

	if _, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = 'SHIPPED',
		    shipped_at = NOW(),
		    delivery_confirmation_code = $2,
		    delivery_note_number = $3,
		    delivery_agent_id = $4,
		    delivery_agent_name = $5,
		    updated_at = NOW()
		WHERE id = $1
	`, orderID, code, *noteNumber, o.DeliveryAgentID, o.DeliveryAgentName); err != nil {
		return nil, storeError("mark order shipped", "order", orderID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storeError("commit shipping", "order", orderID, err)
	}

	countTransition(ctx, OrderShipped)
	s.audit.Record(newAuditEvent("order.ship", "order", orderID, actor, map[string]any{
		"delivery_note_number": *noteNumber,
		"delivery_agent_id":    o.DeliveryAgentID,
	}))
	return s.view(ctx, actor, orderID)
}

func (s *orderService) AssignDeliveryAgent(ctx context.Context, actor Actor, orderID, agentID int) (*Order, error) {
	if err := Authorize(actor, PermAssignAgent); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storeError("begin assignment transaction", "order", orderID, err)
	}
	defer tx.Rollback(ctx)

	o, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status.IsTerminal() {
		return nil, preconditionError(CodeInvalidTransition, "order %d is %s", orderID, o.Status)
	}
	if actor.Role == RoleLivreur && o.Status != OrderPrepared && o.Status != OrderShipped {
		return nil, preconditionError(CodeInvalidTransition, "order %d is not ready for delivery", orderID)
	}

	changed, err := decideAssignment(o.DeliveryAgentID, actor, agentID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return s.view(ctx, actor, orderID)
	}
	name, err := resolveAgent(ctx, tx, agentID)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE orders SET delivery_agent_id = $2, delivery_agent_name = $3, updated_at = NOW()
		WHERE id = $1
	`, orderID, agentID, name); err != nil {
		return nil, storeError("assign delivery agent", "order", orderID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storeError("commit assignment", "order", orderID, err)
	}

	s.audit.Record(newAuditEvent("order.assign_agent", "order", orderID, actor, map[string]any{
		"previous_agent_id": o.DeliveryAgentID,
		"agent_id":          agentID,
	}))
	return s.view(ctx, actor, orderID)
}

func (s *orderService) ConfirmDelivery(ctx context.Context, actor Actor, settings Settings, orderID int, conf DeliveryConfirmation) (result *DeliveryResult, err error) {
	ctx, span := startSpan(ctx, "order.confirm_delivery", attribute.Int("order_id", orderID))
	defer func() { endSpan(span, "order.confirm_delivery", err) }()

	if err := Authorize(actor, PermConfirmDelivery); err != nil {
		return nil, err
	}
	if !ValidConfirmationCode(conf.Code) {
		return nil, validationError(CodeInvalidCodeFormat, "confirmation code must be exactly 6 digits")
	}
	recipient := strings.TrimSpace(conf.RecipientName)
	if recipient == "" {
		return nil, validationError(CodeRecipientRequired, "recipient name is required")
	}
	var proof *string
	if note := strings.TrimSpace(conf.ProofNote); note != "" {
		proof = &note
	}

	txCtx, tx, cancel, err := db.BoundTx(ctx, s.pool, s.deliveryTimeout)
	if err != nil {
		return nil, storeError("begin delivery transaction", "order", orderID, err)
	}
	defer cancel()
	defer tx.Rollback(ctx)

	o, err := lockOrder(txCtx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if actor.Role == RoleLivreur && (o.DeliveryAgentID == nil || *o.DeliveryAgentID != actor.ID) {
		return nil, forbiddenError("order %d is not assigned to you", orderID)
	}

	now := time.Now()
	alreadyDelivered := o.Status == OrderDelivered
	if !alreadyDelivered {
		if err := checkTransition(o, OrderDelivered); err != nil {
			return nil, err
		}
		if err := checkNotBlocked(settings.Margin, o); err != nil {
			return nil, err
		}
	}
	if !confirmationMatches(o.DeliveryConfirmationCode, conf.Code) {
		return nil, preconditionError(CodeWrongConfirmation, "confirmation code does not match order %d", orderID)
	}

	inv, created, err := s.invoices.EnsureForOrderTx(txCtx, tx, o, settings.VATRate, now)
	if err != nil {
		return nil, err
	}

	if !alreadyDelivered {
		if _, err := tx.Exec(txCtx, `
			UPDATE orders
			SET status = 'DELIVERED',
			    delivered_at = $2,
			    recipient_name = $3,
			    delivery_proof_note = $4,
			    updated_at = NOW()
			WHERE id = $1
		`, orderID, now, recipient, proof); err != nil {
			return nil, storeError("mark order delivered", "order", orderID, err)
		}
	}
	if err := tx.Commit(txCtx); err != nil {
		return nil, storeError("commit delivery", "order", orderID, err)
	}

	if !alreadyDelivered {
		countTransition(ctx, OrderDelivered)
		s.audit.Record(newAuditEvent("order.deliver", "order", orderID, actor, map[string]any{
			"recipient_name": recipient,
		}))
	}
	if created {
		s.audit.Record(newAuditEvent("invoice.create", "invoice", inv.ID, actor, map[string]any{
			"invoice_number": inv.InvoiceNumber,
			"order_id":       orderID,
			"amount":         inv.Amount.String(),
		}))
	}

	order, err := s.view(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	return &DeliveryResult{Order: order, Invoice: inv, InvoiceCreated: created}, nil
}

func (s *orderService) CancelOrder(ctx context.Context, actor Actor, orderID int, reason string) (result *Order, err error) {
	ctx, span := startSpan(ctx, "order.cancel", attribute.Int("order_id", orderID))
	defer func() { endSpan(span, "order.cancel", err) }()

	if err := Authorize(actor, PermCancelOrder); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storeError("begin cancel transaction", "order", orderID, err)
	}
	defer tx.Rollback(ctx)

	o, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if !canViewOrder(actor, o) {
		return nil, notFoundError("order", orderID)
	}
	if err := checkTransition(o, OrderCancelled); err != nil {
		return nil, err
	}
	if actor.Role == RoleClient && o.Status != OrderConfirmed {
		return nil, preconditionError(CodeInvalidTransition, "order %d is already %s; contact the warehouse to cancel", orderID, o.Status)
	}

	inv, err := s.invoices.ForOrderTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if inv.IsLocked() {
		return nil, preconditionError(CodeInvoiceLocked, "order %d is invoiced (%s) and cannot be cancelled", orderID, inv.InvoiceNumber)
	}

	var restored []StockChange
	if o.stockDecremented() {
		restored, err = s.stock.RestoreForOrderTx(ctx, tx, orderID, orderReason("Cancelled", o))
		if err != nil {
			return nil, err
		}
	}

	var cancelReason *string
	if r := strings.TrimSpace(reason); r != "" {
		cancelReason = &r
	}
	if _, err := tx.Exec(ctx, `
		UPDATE orders SET status = 'CANCELLED', cancelled_at = NOW(), cancel_reason = $2, updated_at = NOW()
		WHERE id = $1
	`, orderID, cancelReason); err != nil {
		return nil, storeError("mark order cancelled", "order", orderID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storeError("commit cancellation", "order", orderID, err)
	}

	countTransition(ctx, OrderCancelled)
	s.audit.Record(newAuditEvent("order.cancel", "order", orderID, actor, map[string]any{
		"from_status":    o.Status,
		"reason":         reason,
		"restored_lines": len(restored),
	}))
	return s.view(ctx, actor, orderID)
}

// ── Line edits ───────────────────────────────────────────────────────────────

func (s *orderService) UpdateOrderItemQuantity(ctx context.Context, actor Actor, settings Settings, orderID, itemID, quantity int) (*Order, error) {
	if err := Authorize(actor, PermEditOrderLines); err != nil {
		return nil, err
	}
	if quantity <= 0 || quantity > MaxQuantity {
		return nil, validationError(CodeInvalidQuantity, "quantity must be between 1 and %d, got %d", MaxQuantity, quantity)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storeError("begin line edit transaction", "order", orderID, err)
	}
	defer tx.Rollback(ctx)

	o, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if !canViewOrder(actor, o) {
		return nil, notFoundError("order", orderID)
	}
	inv, err := s.invoices.ForOrderTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if err := CanModifyOrder(o, inv); err != nil {
		return nil, err
	}
	if actor.Role == RoleClient && o.Status != OrderConfirmed {
		return nil, preconditionError(CodeOrderLocked, "order %d is already %s", orderID, o.Status)
	}

	var item OrderItem
	err = tx.QueryRow(ctx, `
		SELECT id, order_id, product_id, variant_id, quantity, unit_price, unit_cost
		FROM order_items
		WHERE id = $1 AND order_id = $2
		FOR UPDATE
	`, itemID, orderID).Scan(&item.ID, &item.OrderID, &item.ProductID, &item.VariantID, &item.Quantity, &item.UnitPrice, &item.UnitCost)
	if err != nil {
		return nil, storeError("lock order item", "order item", itemID, err)
	}

	delta := quantity - item.Quantity
	if delta == 0 {
		return s.view(ctx, actor, orderID)
	}
	// The client's balance already counts this uninvoiced order, so only the
	// increase is prospective.
	if delta > 0 {
		increase := item.UnitPrice.Mul(decimal.NewFromInt(int64(delta)))
		if err := assertCreditTx(ctx, tx, o.UserID, increase); err != nil {
			return nil, err
		}
	}

	// Stock already left the shelf: move the difference through the ledger,
	// tagged with the order so a later cancellation restores the exact net.
	if o.stockDecremented() {
		op, qty := StockRemove, delta
		if delta < 0 {
			op, qty = StockAdd, -delta
		}
		oid := orderID
		if _, err := s.stock.ApplyTx(ctx, tx, StockChangeRequest{
			Target:    item.Target(),
			Operation: op,
			Quantity:  qty,
			Reason:    orderReason("Line edit on", o),
			OrderID:   &oid,
		}); err != nil {
			return nil, err
		}
	}

	if _, err := tx.Exec(ctx, "UPDATE order_items SET quantity = $1 WHERE id = $2", quantity, itemID); err != nil {
		return nil, storeError("update order item", "order item", itemID, err)
	}

	items, err := loadOrderItems(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}
	margin := EvaluateMargin(settings.Margin, items)
	requires := o.RequiresAdminApproval || margin.RequiresApproval
	message := o.ApprovalMessage
	if margin.RequiresApproval {
		message = margin.Message
	}

	if _, err := tx.Exec(ctx, `
		UPDATE orders SET total = $2, requires_admin_approval = $3, approval_message = $4, updated_at = NOW()
		WHERE id = $1
	`, orderID, total, requires, message); err != nil {
		return nil, storeError("update order total", "order", orderID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storeError("commit line edit", "order", orderID, err)
	}

	s.audit.Record(newAuditEvent("order.edit_line", "order", orderID, actor, map[string]any{
		"item_id":      itemID,
		"old_quantity": item.Quantity,
		"new_quantity": quantity,
		"total":        total.String(),
	}))
	return s.view(ctx, actor, orderID)
}

// ── Queries ──────────────────────────────────────────────────────────────────

func (s *orderService) GetOrder(ctx context.Context, actor Actor, orderID int) (*Order, error) {
	o, err := s.fetchOrder(ctx, s.pool, orderID)
	if err != nil {
		return nil, err
	}
	if !canViewOrder(actor, o) {
		return nil, notFoundError("order", orderID)
	}
	redactFor(actor, o)
	return o, nil
}

func (s *orderService) ListOrders(ctx context.Context, actor Actor, filter OrderFilter) ([]Order, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}

	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	switch actor.Role {
	case RoleAdmin, RoleMagasinier:
	case RoleClient:
		filter.UserID = &actor.ID
	case RoleLivreur:
		add("(delivery_agent_id = $%d OR (delivery_agent_id IS NULL AND status IN ('PREPARED', 'SHIPPED')))", actor.ID)
	default:
		return nil, forbiddenError("role %s may not list orders", actor.Role)
	}
	if filter.Status != nil {
		if !filter.Status.Valid() {
			return nil, validationError(CodeInvalidInput, "unknown order status %q", *filter.Status)
		}
		add("status = $%d", string(*filter.Status))
	}
	if filter.UserID != nil {
		add("user_id = $%d", *filter.UserID)
	}
	if filter.DeliveryAgentID != nil {
		add("delivery_agent_id = $%d", *filter.DeliveryAgentID)
	}

	query := "SELECT " + orderColumns + " FROM orders"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storeError("query orders", "orders", "list", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, storeError("scan order", "orders", "list", err)
		}
		redactFor(actor, o)
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate orders", "orders", "list", err)
	}
	return orders, nil
}
