package core_test

import (
	"context"
	"os"
	"testing"

	"wholesale-fulfillment/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

// Seeded ids.
const (
	adminID    = 1
	magID      = 2
	agentID    = 5
	otherAgent = 6
	clientID   = 10
	brokeID    = 11

	widgetID  = 100 // price 100, cost 60, stock 10
	gadgetID  = 200 // price 50, cost 30, stock 3
	variantID = 101 // widget variant, inherits price, stock 5
)

var (
	admin    = core.Actor{ID: adminID, Role: core.RoleAdmin}
	mag      = core.Actor{ID: magID, Role: core.RoleMagasinier}
	agent    = core.Actor{ID: agentID, Role: core.RoleLivreur}
	agent2   = core.Actor{ID: otherAgent, Role: core.RoleLivreur}
	client   = core.Actor{ID: clientID, Role: core.RoleClient}
	settings = core.DefaultSettings()
)

type services struct {
	pool     *pgxpool.Pool
	seq      core.SequenceGenerator
	stock    core.StockLedger
	invoices core.InvoiceService
	orders   core.OrderService
}

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database; the tables below are truncated.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)

	schema, err := os.ReadFile("../../migrations/001_fulfillment.sql")
	if err != nil {
		t.Fatalf("Failed to read migration: %v", err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		t.Fatalf("Failed to apply migration: %v", err)
	}

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE payments, invoices, stock_movements, order_items, orders,
		               product_variants, products, users, global_sequences, audit_logs
		RESTART IDENTITY CASCADE;

		UPDATE app_settings
		SET vat_rate = 20,
		    require_approval_negative_line = false,
		    require_approval_below_percent = false,
		    margin_percent_threshold = 0,
		    require_approval_negative_total = false,
		    block_workflow_until_approved = false
		WHERE id = 1;

		INSERT INTO users (id, name, email, role, credit_limit) VALUES
		(1,  'Admin',      'admin@example.test', 'ADMIN',      0),
		(2,  'Warehouse',  'mag@example.test',   'MAGASINIER', 0),
		(5,  'Driver One', 'd1@example.test',    'LIVREUR',    0),
		(6,  'Driver Two', 'd2@example.test',    'LIVREUR',    0),
		(10, 'Epicerie',   'shop@example.test',  'CLIENT',     10000),
		(11, 'No Credit',  'broke@example.test', 'CLIENT',     0);

		INSERT INTO products (id, name, sku, price, cost, stock, min_stock) VALUES
		(100, 'Widget', 'W-1', 100.00, 60.00, 10, 2),
		(200, 'Gadget', 'G-1',  50.00, 30.00,  3, 1);

		INSERT INTO product_variants (id, product_id, name, sku, stock) VALUES
		(101, 100, 'Widget Blue', 'W-1-B', 5);
	`)
	if err != nil {
		t.Fatalf("Failed to seed test database: %v", err)
	}
	return pool
}

func setupServices(t *testing.T) services {
	t.Helper()
	pool := setupTestDB(t)
	seq := core.NewSequenceGenerator(pool)
	stock := core.NewStockLedger(pool, nil)
	invoices := core.NewInvoiceService(pool, seq, nil)
	return services{
		pool:     pool,
		seq:      seq,
		stock:    stock,
		invoices: invoices,
		orders:   core.NewOrderService(pool, stock, seq, invoices, nil),
	}
}

func productStock(t *testing.T, pool *pgxpool.Pool, productID int) int {
	t.Helper()
	var stock int
	if err := pool.QueryRow(context.Background(), "SELECT stock FROM products WHERE id = $1", productID).Scan(&stock); err != nil {
		t.Fatalf("Failed to read stock of product %d: %v", productID, err)
	}
	return stock
}

func countRows(t *testing.T, pool *pgxpool.Pool, query string, args ...any) int {
	t.Helper()
	var n int
	if err := pool.QueryRow(context.Background(), query, args...).Scan(&n); err != nil {
		t.Fatalf("Count query failed: %v", err)
	}
	return n
}
