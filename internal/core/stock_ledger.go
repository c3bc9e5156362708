package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
)

// StockLedger owns on-hand quantities. Every non-zero change writes exactly one
// movement row in the same transaction as the stock update.
type StockLedger interface {
	// Apply runs one stock change in its own transaction (manual adjustments, inventory counts).
	Apply(ctx context.Context, actor Actor, req StockChangeRequest) (*StockChange, error)

	// TX-scoped operations used by OrderService.

	// ApplyTx locks the stock row and applies req inside tx.
	ApplyTx(ctx context.Context, tx pgx.Tx, req StockChangeRequest) (*StockChange, error)
	// TakeForOrderTx removes every line's quantity. Any failing line fails the whole call;
	// the caller rolls back.
	TakeForOrderTx(ctx context.Context, tx pgx.Tx, orderID int, items []OrderItem, reason string) ([]StockChange, error)
	// RestoreForOrderTx puts back the net quantity the order's movements took out.
	RestoreForOrderTx(ctx context.Context, tx pgx.Tx, orderID int, reason string) ([]StockChange, error)

	// Queries
	GetStock(ctx context.Context, target StockTarget) (*StockLevel, error)
	ListMovements(ctx context.Context, target StockTarget, limit int) ([]StockMovement, error)
	LowStockProducts(ctx context.Context) ([]StockLevel, error)
}

type stockLedger struct {
	pool  *pgxpool.Pool
	audit AuditSink
}

func NewStockLedger(pool *pgxpool.Pool, audit AuditSink) StockLedger {
	return &stockLedger{pool: pool, audit: auditSinkOrDiscard(audit)}
}

// stockDelta computes the signed change an operation makes on current stock.
func stockDelta(op StockOperation, quantity, current int) int {
	switch op {
	case StockAdd:
		return quantity
	case StockRemove:
		return -quantity
	default:
		return quantity - current
	}
}

// movementTypeFor maps an operation to the recorded movement direction.
func movementTypeFor(op StockOperation, change int) MovementType {
	switch {
	case op == StockSet:
		return MovementAdjustment
	case op == StockRemove || change < 0:
		return MovementOut
	default:
		return MovementIn
	}
}

func validateStockRequest(req StockChangeRequest) error {
	if !req.Operation.Valid() {
		return validationError(CodeInvalidInput, "unknown stock operation %q", req.Operation)
	}
	if req.Quantity < 0 {
		return validationError(CodeInvalidQuantity, "stock quantity cannot be negative, got %d", req.Quantity)
	}
	if req.Quantity > MaxQuantity {
		return validationError(CodeInvalidQuantity, "stock quantity cannot exceed %d, got %d", MaxQuantity, req.Quantity)
	}
	if req.Target.ProductID <= 0 {
		return validationError(CodeInvalidInput, "product id is required")
	}
	return nil
}

func (l *stockLedger) Apply(ctx context.Context, actor Actor, req StockChangeRequest) (*StockChange, error) {
	if err := Authorize(actor, PermAdjustStock); err != nil {
		return nil, err
	}
	if err := validateStockRequest(req); err != nil {
		return nil, err
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, storeError("begin stock transaction", "product", req.Target.ProductID, err)
	}
	defer tx.Rollback(ctx)

	change, err := l.ApplyTx(ctx, tx, req)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storeError("commit stock change", "product", req.Target.ProductID, err)
	}

	if change.Movement != nil {
		l.audit.Record(newAuditEvent("stock.apply", "product", req.Target.ProductID, actor, map[string]any{
			"variant_id": req.Target.VariantID,
			"operation":  req.Operation,
			"old_stock":  change.OldStock,
			"new_stock":  change.NewStock,
			"reason":     req.Reason,
		}))
	}
	return change, nil
}

func (l *stockLedger) ApplyTx(ctx context.Context, tx pgx.Tx, req StockChangeRequest) (result *StockChange, err error) {
	ctx, span := startSpan(ctx, "stock.apply",
		attribute.Int("product_id", req.Target.ProductID),
		attribute.String("operation", string(req.Operation)))
	defer func() { endSpan(span, "stock.apply", err) }()

	if err := validateStockRequest(req); err != nil {
		return nil, err
	}

	current, minStock, err := lockStockRow(ctx, tx, req.Target)
	if err != nil {
		return nil, err
	}

	change := stockDelta(req.Operation, req.Quantity, current)
	newStock := current + change
	result = &StockChange{
		Target:   req.Target,
		OldStock: current,
		NewStock: newStock,
		Change:   change,
		LowStock: newStock < minStock,
	}
	if change == 0 {
		return result, nil
	}
	if newStock < 0 {
		return nil, negativeStockError(req.Target, current, change)
	}

	if req.Target.VariantID != nil {
		_, err = tx.Exec(ctx,
			"UPDATE product_variants SET stock = $1, updated_at = NOW() WHERE id = $2",
			newStock, *req.Target.VariantID)
	} else {
		_, err = tx.Exec(ctx,
			"UPDATE products SET stock = $1, updated_at = NOW() WHERE id = $2",
			newStock, req.Target.ProductID)
	}
	if err != nil {
		return nil, storeError("update stock", "product", req.Target.ProductID, err)
	}

	mv := &StockMovement{
		ProductID: req.Target.ProductID,
		VariantID: req.Target.VariantID,
		OrderID:   req.OrderID,
		Type:      movementTypeFor(req.Operation, change),
		Quantity:  abs(change),
		Reference: req.Reason,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO stock_movements (product_id, variant_id, order_id, type, quantity, reference)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, mv.ProductID, mv.VariantID, mv.OrderID, string(mv.Type), mv.Quantity, mv.Reference).Scan(&mv.ID, &mv.CreatedAt)
	if err != nil {
		return nil, storeError("record stock movement", "product", req.Target.ProductID, err)
	}
	result.Movement = mv
	return result, nil
}

// lockStockRow returns the current stock and threshold of target, holding its row lock.
func lockStockRow(ctx context.Context, tx pgx.Tx, t StockTarget) (stock, minStock int, err error) {
	if t.VariantID != nil {
		err = tx.QueryRow(ctx, `
			SELECT stock, min_stock FROM product_variants
			WHERE id = $1 AND product_id = $2
			FOR UPDATE
		`, *t.VariantID, t.ProductID).Scan(&stock, &minStock)
		if err != nil {
			return 0, 0, storeError("lock variant stock", "variant", *t.VariantID, err)
		}
		return stock, minStock, nil
	}
	err = tx.QueryRow(ctx,
		"SELECT stock, min_stock FROM products WHERE id = $1 FOR UPDATE",
		t.ProductID,
	).Scan(&stock, &minStock)
	if err != nil {
		return 0, 0, storeError("lock product stock", "product", t.ProductID, err)
	}
	return stock, minStock, nil
}

type targetQty struct {
	target StockTarget
	qty    int
}

// sortedTargets merges quantities per target and orders them for lock acquisition,
// so two orders touching the same products always lock in the same sequence.
func sortedTargets(m map[string]targetQty) []targetQty {
	out := make([]targetQty, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].target.less(out[j].target) })
	return out
}

func (l *stockLedger) TakeForOrderTx(ctx context.Context, tx pgx.Tx, orderID int, items []OrderItem, reason string) ([]StockChange, error) {
	merged := make(map[string]targetQty, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, validationError(CodeInvalidQuantity, "order %d line %d has quantity %d", orderID, it.ID, it.Quantity)
		}
		key := it.Target().String()
		tq := merged[key]
		tq.target = it.Target()
		tq.qty += it.Quantity
		merged[key] = tq
	}

	changes := make([]StockChange, 0, len(merged))
	for _, tq := range sortedTargets(merged) {
		oid := orderID
		ch, err := l.ApplyTx(ctx, tx, StockChangeRequest{
			Target:    tq.target,
			Operation: StockRemove,
			Quantity:  tq.qty,
			Reason:    reason,
			OrderID:   &oid,
		})
		if err != nil {
			return nil, err
		}
		changes = append(changes, *ch)
	}
	return changes, nil
}

func (l *stockLedger) RestoreForOrderTx(ctx context.Context, tx pgx.Tx, orderID int, reason string) ([]StockChange, error) {
	rows, err := tx.Query(ctx, `
		SELECT product_id, variant_id,
		       SUM(CASE type WHEN 'OUT' THEN quantity WHEN 'IN' THEN -quantity ELSE 0 END) AS net_out
		FROM stock_movements
		WHERE order_id = $1
		GROUP BY product_id, variant_id
	`, orderID)
	if err != nil {
		return nil, storeError("read order movements", "order", orderID, err)
	}
	merged := make(map[string]targetQty)
	for rows.Next() {
		var t StockTarget
		var net int
		if err := rows.Scan(&t.ProductID, &t.VariantID, &net); err != nil {
			rows.Close()
			return nil, storeError("scan order movement", "order", orderID, err)
		}
		if net > 0 {
			merged[t.String()] = targetQty{target: t, qty: net}
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate order movements", "order", orderID, err)
	}

	changes := make([]StockChange, 0, len(merged))
	for _, tq := range sortedTargets(merged) {
		oid := orderID
		ch, err := l.ApplyTx(ctx, tx, StockChangeRequest{
			Target:    tq.target,
			Operation: StockAdd,
			Quantity:  tq.qty,
			Reason:    reason,
			OrderID:   &oid,
		})
		if err != nil {
			return nil, err
		}
		changes = append(changes, *ch)
	}
	return changes, nil
}

// ── Queries ──────────────────────────────────────────────────────────────────

func (l *stockLedger) GetStock(ctx context.Context, target StockTarget) (*StockLevel, error) {
	var sl StockLevel
	var err error
	if target.VariantID != nil {
		err = l.pool.QueryRow(ctx, `
			SELECT product_id, id, name, sku, stock, min_stock
			FROM product_variants
			WHERE id = $1 AND product_id = $2
		`, *target.VariantID, target.ProductID).Scan(&sl.ProductID, &sl.VariantID, &sl.Name, &sl.SKU, &sl.Stock, &sl.MinStock)
	} else {
		err = l.pool.QueryRow(ctx, `
			SELECT id, name, sku, stock, min_stock
			FROM products
			WHERE id = $1
		`, target.ProductID).Scan(&sl.ProductID, &sl.Name, &sl.SKU, &sl.Stock, &sl.MinStock)
	}
	if err != nil {
		return nil, storeError("fetch stock", "stock", target, err)
	}
	sl.BelowMinimum = sl.Stock < sl.MinStock
	return &sl, nil
}

func (l *stockLedger) ListMovements(ctx context.Context, target StockTarget, limit int) ([]StockMovement, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := l.pool.Query(ctx, `
		SELECT id, product_id, variant_id, order_id, type, quantity, reference, created_at
		FROM stock_movements
		WHERE product_id = $1
		  AND ($2::int IS NULL OR variant_id = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, target.ProductID, target.VariantID, limit)
	if err != nil {
		return nil, storeError("query stock movements", "product", target.ProductID, err)
	}
	defer rows.Close()

	var movements []StockMovement
	for rows.Next() {
		var m StockMovement
		var mt string
		if err := rows.Scan(&m.ID, &m.ProductID, &m.VariantID, &m.OrderID, &mt, &m.Quantity, &m.Reference, &m.CreatedAt); err != nil {
			return nil, storeError("scan stock movement", "product", target.ProductID, err)
		}
		m.Type = MovementType(mt)
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate stock movements", "product", target.ProductID, err)
	}
	return movements, nil
}

// LowStockProducts lists products and variants under their minimum. Signaling only.
func (l *stockLedger) LowStockProducts(ctx context.Context) ([]StockLevel, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, NULL::int, name, sku, stock, min_stock
		FROM products
		WHERE stock < min_stock
		UNION ALL
		SELECT product_id, id, name, sku, stock, min_stock
		FROM product_variants
		WHERE stock < min_stock
		ORDER BY 1, 2 NULLS FIRST
	`)
	if err != nil {
		return nil, storeError("query low stock", "stock", "low", err)
	}
	defer rows.Close()

	var levels []StockLevel
	for rows.Next() {
		var sl StockLevel
		if err := rows.Scan(&sl.ProductID, &sl.VariantID, &sl.Name, &sl.SKU, &sl.Stock, &sl.MinStock); err != nil {
			return nil, storeError("scan low stock", "stock", "low", err)
		}
		sl.BelowMinimum = true
		levels = append(levels, sl)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate low stock", "stock", "low", err)
	}
	return levels, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// orderReason builds the movement reference for an order-driven change.
func orderReason(verb string, o *Order) string {
	if o.OrderNumber != nil {
		return fmt.Sprintf("%s %s", verb, *o.OrderNumber)
	}
	return fmt.Sprintf("%s order %d", verb, o.ID)
}
