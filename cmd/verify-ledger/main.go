package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"wholesale-fulfillment/internal/config"
	"wholesale-fulfillment/internal/db"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
)

// check is one read-only invariant. query returns one text row per violation.
type check struct {
	name  string
	query string
}

const sampleLimit = 20

var checks = []check{
	{
		name: "stock is never negative",
		query: `
			SELECT 'product ' || id || ' stock ' || stock FROM products WHERE stock < 0
			UNION ALL
			SELECT 'variant ' || id || ' stock ' || stock FROM product_variants WHERE stock < 0`,
	},
	{
		// Without ADJUSTMENT rows the ledger is a pure IN/OUT log, so the opening
		// stock it implies must be non-negative.
		name: "stock agrees with movement ledger",
		query: `
			WITH net AS (
				SELECT product_id, variant_id,
				       SUM(CASE type WHEN 'IN' THEN quantity WHEN 'OUT' THEN -quantity ELSE 0 END) AS delta,
				       BOOL_OR(type = 'ADJUSTMENT') AS adjusted
				FROM stock_movements
				GROUP BY product_id, variant_id
			)
			SELECT 'product ' || n.product_id || ' stock ' || p.stock || ' net movements ' || n.delta
			FROM net n JOIN products p ON p.id = n.product_id
			WHERE n.variant_id IS NULL AND NOT n.adjusted AND p.stock - n.delta < 0
			UNION ALL
			SELECT 'variant ' || n.variant_id || ' stock ' || v.stock || ' net movements ' || n.delta
			FROM net n JOIN product_variants v ON v.id = n.variant_id
			WHERE n.variant_id IS NOT NULL AND NOT n.adjusted AND v.stock - n.delta < 0`,
	},
	{
		name: "cancelled orders restored their stock exactly",
		query: `
			SELECT 'order ' || m.order_id || ' product ' || m.product_id ||
			       COALESCE(' variant ' || m.variant_id, '') || ' net ' ||
			       SUM(CASE m.type WHEN 'IN' THEN m.quantity ELSE -m.quantity END)
			FROM stock_movements m JOIN orders o ON o.id = m.order_id
			WHERE o.status = 'CANCELLED'
			GROUP BY m.order_id, m.product_id, m.variant_id
			HAVING SUM(CASE m.type WHEN 'IN' THEN m.quantity ELSE -m.quantity END) <> 0`,
	},
	{
		name: "invoices exist only for delivered orders",
		query: `
			SELECT 'invoice ' || i.invoice_number || ' on order ' || o.id || ' in ' || o.status
			FROM invoices i JOIN orders o ON o.id = i.order_id
			WHERE o.status <> 'DELIVERED'`,
	},
	{
		name: "delivered orders have an invoice",
		query: `
			SELECT 'order ' || o.id || ' delivered without invoice'
			FROM orders o LEFT JOIN invoices i ON i.order_id = o.id
			WHERE o.status = 'DELIVERED' AND i.id IS NULL`,
	},
	{
		name: "payments never exceed the TTC amount",
		query: `
			SELECT 'invoice ' || i.invoice_number || ' paid ' || SUM(p.amount) ||
			       ' TTC ' || ROUND(i.amount * (1 + s.vat_rate / 100), 2)
			FROM invoices i
			JOIN payments p ON p.invoice_id = i.id
			CROSS JOIN app_settings s
			GROUP BY i.id, i.invoice_number, i.amount, s.vat_rate
			HAVING SUM(p.amount) > ROUND(i.amount * (1 + s.vat_rate / 100), 2) + 0.01`,
	},
	{
		name: "sequence counters are ahead of issued numbers",
		query: `
			WITH issued AS (
				SELECT 'ORDER-' || substr(order_number, 5, 4) AS key,
				       split_part(order_number, '-', 3)::bigint AS n
				FROM orders WHERE order_number ~ '^CMD-\d{8}-\d{4,}$'
				UNION ALL
				SELECT 'INVOICE-' || substr(invoice_number, 5, 4),
				       split_part(invoice_number, '-', 3)::bigint
				FROM invoices WHERE invoice_number ~ '^FAC-\d{8}-\d{4,}$'
				UNION ALL
				SELECT 'DELIVERY_NOTE-' || substr(delivery_note_number, 4, 4),
				       split_part(delivery_note_number, '-', 3)::bigint
				FROM orders WHERE delivery_note_number ~ '^BL-\d{8}-\d{4,}$'
			)
			SELECT 'key ' || i.key || ' issued ' || MAX(i.n) || ' counter ' || COALESCE(MAX(g.seq), 0)
			FROM issued i LEFT JOIN global_sequences g ON g.key = i.key
			GROUP BY i.key
			HAVING MAX(i.n) > COALESCE(MAX(g.seq), 0)`,
	},
}

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	failed, err := run(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.WithError(err).Fatal("verify-ledger")
	}
	if failed > 0 {
		logger.WithField("failed_checks", failed).Error("ledger invariants violated")
		os.Exit(1)
	}
	logger.Info("all ledger invariants hold")
}

func run(ctx context.Context, url string, logger *logrus.Logger) (int, error) {
	pool, err := db.NewPool(ctx, url)
	if err != nil {
		return 0, err
	}
	defer pool.Close()

	// One repeatable-read snapshot so checks see a consistent state.
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return 0, fmt.Errorf("failed to begin read-only transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	failed := 0
	for _, c := range checks {
		violations, err := runCheck(ctx, tx, c)
		if err != nil {
			return failed, fmt.Errorf("check %q: %w", c.name, err)
		}
		entry := logger.WithField("check", c.name)
		if len(violations) == 0 {
			entry.Info("ok")
			continue
		}
		failed++
		entry.WithFields(logrus.Fields{
			"violations": len(violations),
			"sample":     violations,
		}).Error("violated")
	}
	return failed, nil
}

func runCheck(ctx context.Context, tx pgx.Tx, c check) ([]string, error) {
	rows, err := tx.Query(ctx, fmt.Sprintf("SELECT * FROM (%s) v LIMIT %d", c.query, sampleLimit))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
