// seed loads a demo catalog and one user per role into a development database.
// It is idempotent: existing rows keep their stock, which only the ledger may change.
//
// Usage: go run ./cmd/seed
package main

import (
	"context"
	"fmt"

	"wholesale-fulfillment/internal/config"
	"wholesale-fulfillment/internal/db"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
)

type seedStep struct {
	name string
	sql  string
}

var steps = []seedStep{
	{
		name: "users",
		sql: `
		INSERT INTO users (name, email, role, credit_limit)
		VALUES
		  ('Admin',         'admin@example.test',   'ADMIN',      0),
		  ('Warehouse',     'stock@example.test',   'MAGASINIER', 0),
		  ('Delivery One',  'driver1@example.test', 'LIVREUR',    0),
		  ('Delivery Two',  'driver2@example.test', 'LIVREUR',    0),
		  ('Corner Shop',   'shop@example.test',    'CLIENT',     5000),
		  ('Cash Customer', 'cash@example.test',    'CLIENT',     0)
		ON CONFLICT (email) DO UPDATE
		  SET name = EXCLUDED.name,
		      role = EXCLUDED.role;`,
	},
	{
		name: "products",
		sql: `
		INSERT INTO products (name, sku, price, cost, stock, min_stock)
		VALUES
		  ('Mineral water 1.5L (pack of 6)', 'WAT-150-6',  4.20,  2.90, 400, 50),
		  ('Olive oil 1L',                   'OIL-OLV-1',  9.80,  7.10, 120, 20),
		  ('Couscous 5kg',                   'CSC-5KG',   11.50,  8.40,  60, 10),
		  ('Tea glasses (box of 12)',        'TEA-GLS-12', 6.00,  6.40,  30,  5)
		ON CONFLICT (sku) DO UPDATE
		  SET name = EXCLUDED.name,
		      price = EXCLUDED.price,
		      cost = EXCLUDED.cost,
		      min_stock = EXCLUDED.min_stock,
		      updated_at = NOW();`,
	},
	{
		name: "variants",
		sql: `
		INSERT INTO product_variants (product_id, name, sku, price, cost, stock, min_stock)
		SELECT p.id, v.name, v.sku, v.price, v.cost, v.stock, v.min_stock
		FROM products p
		JOIN (VALUES
		  ('OIL-OLV-1', 'Olive oil 1L extra virgin', 'OIL-OLV-1-EV', 12.40::numeric, 9.00::numeric, 40, 10),
		  ('CSC-5KG',   'Couscous 5kg whole wheat',  'CSC-5KG-WW',  NULL,           NULL,          25,  5)
		) AS v(parent_sku, name, sku, price, cost, stock, min_stock) ON v.parent_sku = p.sku
		ON CONFLICT (sku) DO UPDATE
		  SET name = EXCLUDED.name,
		      price = EXCLUDED.price,
		      cost = EXCLUDED.cost,
		      min_stock = EXCLUDED.min_stock,
		      updated_at = NOW();`,
	},
	{
		name: "settings",
		sql: `
		INSERT INTO app_settings (id, vat_rate) VALUES (1, 20)
		ON CONFLICT (id) DO NOTHING;`,
	},
}

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel)

	if err := run(context.Background(), cfg.DatabaseURL, logger); err != nil {
		logger.WithError(err).Fatal("seed failed")
	}
	logger.Info("seed data loaded")
}

func run(ctx context.Context, url string, logger *logrus.Logger) error {
	pool, err := db.NewPool(ctx, url)
	if err != nil {
		return err
	}
	defer pool.Close()

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, step := range steps {
			tag, err := tx.Exec(ctx, step.sql)
			if err != nil {
				return fmt.Errorf("seed %s: %w", step.name, err)
			}
			logger.WithFields(logrus.Fields{"step": step.name, "rows": tag.RowsAffected()}).Info("seeded")
		}
		return nil
	})
}
