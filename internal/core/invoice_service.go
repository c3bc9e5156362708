package core

import (
	"context"
	"strings"
	"time"

	"wholesale-fulfillment/internal/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// InvoiceService creates one invoice per order and accumulates payments against it.
type InvoiceService interface {
	RecordPayment(ctx context.Context, actor Actor, settings Settings, invoiceID int, in PaymentInput) (*Invoice, error)
	// AdjustInvoiceAmount always refuses: a persisted invoice is locked. ADMIN only.
	AdjustInvoiceAmount(ctx context.Context, actor Actor, invoiceID int, amount decimal.Decimal) error
	// VoidInvoice cancels an invoice that has received no payment.
	VoidInvoice(ctx context.Context, actor Actor, invoiceID int) (*Invoice, error)

	// TX-scoped operations used by OrderService.

	// EnsureForOrderTx returns the order's invoice, creating it when absent.
	// created is false when an invoice already existed. A new invoice opens with
	// its TTC total as balance, the same base payments settle against.
	EnsureForOrderTx(ctx context.Context, tx pgx.Tx, o *Order, vatRate decimal.Decimal, date time.Time) (inv *Invoice, created bool, err error)
	// ForOrderTx returns the order's invoice or nil.
	ForOrderTx(ctx context.Context, q db.Querier, orderID int) (*Invoice, error)

	// Queries
	GetInvoice(ctx context.Context, actor Actor, invoiceID int) (*Invoice, error)
	GetInvoiceByOrder(ctx context.Context, actor Actor, orderID int) (*Invoice, error)
	ListPayments(ctx context.Context, actor Actor, invoiceID int) ([]Payment, error)
}

type invoiceService struct {
	pool  *pgxpool.Pool
	seq   SequenceGenerator
	audit AuditSink
}

func NewInvoiceService(pool *pgxpool.Pool, seq SequenceGenerator, audit AuditSink) InvoiceService {
	return &invoiceService{pool: pool, seq: seq, audit: auditSinkOrDiscard(audit)}
}

const invoiceColumns = `id, order_id, invoice_number, amount, balance, status, created_at, paid_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	var status string
	if err := row.Scan(&inv.ID, &inv.OrderID, &inv.InvoiceNumber, &inv.Amount, &inv.Balance,
		&status, &inv.CreatedAt, &inv.PaidAt); err != nil {
		return nil, err
	}
	inv.Status = InvoiceStatus(status)
	return &inv, nil
}

func (s *invoiceService) EnsureForOrderTx(ctx context.Context, tx pgx.Tx, o *Order, vatRate decimal.Decimal, date time.Time) (*Invoice, bool, error) {
	existing, err := s.ForOrderTx(ctx, tx, o.ID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	number, err := s.seq.NextTx(ctx, tx, DocInvoice, date)
	if err != nil {
		return nil, false, err
	}

	inv, err := scanInvoice(tx.QueryRow(ctx, `
		INSERT INTO invoices (order_id, invoice_number, amount, balance, status)
		VALUES ($1, $2, $3, $4, 'UNPAID')
		ON CONFLICT (order_id) DO NOTHING
		RETURNING `+invoiceColumns,
		o.ID, number, o.Total, GrossUp(o.Total, vatRate)))
	if err == nil {
		invoiceCounter.Add(ctx, 1)
		return inv, true, nil
	}
	if db.Classify(err) != db.ClassNotFound {
		return nil, false, storeError("create invoice", "order", o.ID, err)
	}
	// Another transaction won the insert; the order row lock normally prevents this.
	existing, err = s.ForOrderTx(ctx, tx, o.ID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, notFoundError("invoice for order", o.ID)
	}
	return existing, false, nil
}

func (s *invoiceService) ForOrderTx(ctx context.Context, q db.Querier, orderID int) (*Invoice, error) {
	inv, err := scanInvoice(q.QueryRow(ctx,
		"SELECT "+invoiceColumns+" FROM invoices WHERE order_id = $1", orderID))
	if err != nil {
		if db.Classify(err) == db.ClassNotFound {
			return nil, nil
		}
		return nil, storeError("fetch invoice", "invoice for order", orderID, err)
	}
	return inv, nil
}

func (s *invoiceService) RecordPayment(ctx context.Context, actor Actor, settings Settings, invoiceID int, in PaymentInput) (result *Invoice, err error) {
	ctx, span := startSpan(ctx, "invoice.record_payment", attribute.Int("invoice_id", invoiceID))
	defer func() { endSpan(span, "invoice.record_payment", err) }()

	if err := Authorize(actor, PermRecordPayment); err != nil {
		return nil, err
	}
	if !in.Amount.IsPositive() {
		return nil, validationError(CodeInvalidInput, "payment amount must be positive, got %s", in.Amount)
	}
	method := strings.TrimSpace(in.Method)
	if method == "" {
		return nil, validationError(CodeInvalidInput, "payment method is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storeError("begin payment transaction", "invoice", invoiceID, err)
	}
	defer tx.Rollback(ctx)

	inv, err := scanInvoice(tx.QueryRow(ctx,
		"SELECT "+invoiceColumns+" FROM invoices WHERE id = $1 FOR UPDATE", invoiceID))
	if err != nil {
		return nil, storeError("lock invoice", "invoice", invoiceID, err)
	}
	if inv.Status == InvoiceCancelled {
		return nil, preconditionError(CodeInvoiceNotPayable, "invoice %s is cancelled", inv.InvoiceNumber)
	}

	paid, err := sumPayments(ctx, tx, invoiceID)
	if err != nil {
		return nil, err
	}
	ttc := GrossUp(inv.Amount, settings.VATRate)
	if exceedsTTC(ttc, paid, in.Amount) {
		return nil, overpaymentError(in.Amount, paid, ttc)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO payments (invoice_id, amount, method, reference)
		VALUES ($1, $2, $3, $4)
	`, invoiceID, in.Amount, method, in.Reference); err != nil {
		return nil, storeError("insert payment", "invoice", invoiceID, err)
	}

	st := settle(ttc, paid.Add(in.Amount))
	inv, err = scanInvoice(tx.QueryRow(ctx, `
		UPDATE invoices
		SET balance = $1,
		    status  = $2,
		    paid_at = CASE WHEN $2 = 'PAID' THEN COALESCE(paid_at, NOW()) ELSE NULL END
		WHERE id = $3
		RETURNING `+invoiceColumns,
		st.Balance, string(st.Status), invoiceID))
	if err != nil {
		return nil, storeError("update invoice balance", "invoice", invoiceID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeError("commit payment", "invoice", invoiceID, err)
	}

	s.audit.Record(newAuditEvent("invoice.payment", "invoice", invoiceID, actor, map[string]any{
		"amount":  in.Amount.String(),
		"method":  method,
		"balance": inv.Balance.String(),
		"status":  inv.Status,
	}))

	inv.Payments, err = s.listPayments(ctx, s.pool, invoiceID)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func sumPayments(ctx context.Context, q db.Querier, invoiceID int) (decimal.Decimal, error) {
	var paid decimal.Decimal
	err := q.QueryRow(ctx,
		"SELECT COALESCE(SUM(amount), 0) FROM payments WHERE invoice_id = $1", invoiceID,
	).Scan(&paid)
	if err != nil {
		return decimal.Zero, storeError("sum payments", "invoice", invoiceID, err)
	}
	return paid, nil
}

func (s *invoiceService) AdjustInvoiceAmount(ctx context.Context, actor Actor, invoiceID int, amount decimal.Decimal) error {
	if err := Authorize(actor, PermVoidInvoice); err != nil {
		return err
	}
	inv, err := scanInvoice(s.pool.QueryRow(ctx,
		"SELECT "+invoiceColumns+" FROM invoices WHERE id = $1", invoiceID))
	if err != nil {
		return storeError("fetch invoice", "invoice", invoiceID, err)
	}
	return preconditionError(CodeInvoiceLocked,
		"invoice %s was issued on %s; its amount %s cannot change",
		inv.InvoiceNumber, inv.CreatedAt.Format("2006-01-02"), inv.Amount.StringFixed(2))
}

func (s *invoiceService) VoidInvoice(ctx context.Context, actor Actor, invoiceID int) (*Invoice, error) {
	if err := Authorize(actor, PermVoidInvoice); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storeError("begin void transaction", "invoice", invoiceID, err)
	}
	defer tx.Rollback(ctx)

	inv, err := scanInvoice(tx.QueryRow(ctx,
		"SELECT "+invoiceColumns+" FROM invoices WHERE id = $1 FOR UPDATE", invoiceID))
	if err != nil {
		return nil, storeError("lock invoice", "invoice", invoiceID, err)
	}
	if inv.Status == InvoiceCancelled {
		return inv, nil
	}
	paid, err := sumPayments(ctx, tx, invoiceID)
	if err != nil {
		return nil, err
	}
	if paid.IsPositive() {
		return nil, preconditionError(CodeInvoiceHasPayments,
			"invoice %s has %s in payments and cannot be voided", inv.InvoiceNumber, paid.StringFixed(2))
	}

	inv, err = scanInvoice(tx.QueryRow(ctx, `
		UPDATE invoices SET status = 'CANCELLED', balance = 0, paid_at = NULL
		WHERE id = $1
		RETURNING `+invoiceColumns, invoiceID))
	if err != nil {
		return nil, storeError("void invoice", "invoice", invoiceID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storeError("commit void", "invoice", invoiceID, err)
	}

	s.audit.Record(newAuditEvent("invoice.void", "invoice", invoiceID, actor, map[string]any{
		"invoice_number": inv.InvoiceNumber,
	}))
	return inv, nil
}

// ── Queries ──────────────────────────────────────────────────────────────────

// canViewInvoice applies order visibility to the invoice's order.
func (s *invoiceService) canViewInvoice(ctx context.Context, actor Actor, orderID int) error {
	if actor.Role == RoleAdmin || actor.Role == RoleMagasinier {
		return nil
	}
	var userID int
	err := s.pool.QueryRow(ctx, "SELECT user_id FROM orders WHERE id = $1", orderID).Scan(&userID)
	if err != nil {
		return storeError("fetch order", "order", orderID, err)
	}
	if actor.Role == RoleClient && userID == actor.ID {
		return nil
	}
	return notFoundError("invoice for order", orderID)
}

func (s *invoiceService) GetInvoice(ctx context.Context, actor Actor, invoiceID int) (*Invoice, error) {
	inv, err := scanInvoice(s.pool.QueryRow(ctx,
		"SELECT "+invoiceColumns+" FROM invoices WHERE id = $1", invoiceID))
	if err != nil {
		return nil, storeError("fetch invoice", "invoice", invoiceID, err)
	}
	if err := s.canViewInvoice(ctx, actor, inv.OrderID); err != nil {
		return nil, notFoundError("invoice", invoiceID)
	}
	inv.Payments, err = s.listPayments(ctx, s.pool, invoiceID)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *invoiceService) GetInvoiceByOrder(ctx context.Context, actor Actor, orderID int) (*Invoice, error) {
	if err := s.canViewInvoice(ctx, actor, orderID); err != nil {
		return nil, err
	}
	inv, err := s.ForOrderTx(ctx, s.pool, orderID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, notFoundError("invoice for order", orderID)
	}
	inv.Payments, err = s.listPayments(ctx, s.pool, inv.ID)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *invoiceService) ListPayments(ctx context.Context, actor Actor, invoiceID int) ([]Payment, error) {
	inv, err := s.GetInvoice(ctx, actor, invoiceID)
	if err != nil {
		return nil, err
	}
	return inv.Payments, nil
}

func (s *invoiceService) listPayments(ctx context.Context, q db.Querier, invoiceID int) ([]Payment, error) {
	rows, err := q.Query(ctx, `
		SELECT id, invoice_id, amount, method, reference, created_at
		FROM payments
		WHERE invoice_id = $1
		ORDER BY created_at, id
	`, invoiceID)
	if err != nil {
		return nil, storeError("query payments", "invoice", invoiceID, err)
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.Method, &p.Reference, &p.CreatedAt); err != nil {
			return nil, storeError("scan payment", "invoice", invoiceID, err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate payments", "invoice", invoiceID, err)
	}
	return payments, nil
}
