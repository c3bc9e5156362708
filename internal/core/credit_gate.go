package core

import (
	"context"

	"wholesale-fulfillment/internal/db"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// CreditDecision is the outcome of the credit gate.
type CreditDecision struct {
	Blocked   bool            `json:"blocked"`
	Available decimal.Decimal `json:"available"`
}

// EvaluateCredit decides whether a client may take on prospectiveTotal more.
// A non-positive limit means no credit is authorized at all.
func EvaluateCredit(balance, creditLimit, prospectiveTotal decimal.Decimal) CreditDecision {
	available := creditLimit.Sub(balance)
	if available.IsNegative() {
		available = decimal.Zero
	}
	blocked := !creditLimit.IsPositive() || balance.Add(prospectiveTotal).GreaterThan(creditLimit)
	return CreditDecision{Blocked: blocked, Available: available}
}

// clientBalance is what the client owes or has committed to: open invoice
// balances plus totals of live orders not yet invoiced.
func clientBalance(ctx context.Context, q db.Querier, userID int) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := q.QueryRow(ctx, `
		SELECT COALESCE((
		           SELECT SUM(i.balance)
		           FROM invoices i
		           JOIN orders o ON o.id = i.order_id
		           WHERE o.user_id = $1 AND i.status IN ('UNPAID', 'PARTIAL')
		       ), 0)
		     + COALESCE((
		           SELECT SUM(o.total)
		           FROM orders o
		           WHERE o.user_id = $1
		             AND o.status <> 'CANCELLED'
		             AND NOT EXISTS (SELECT 1 FROM invoices i WHERE i.order_id = o.id)
		       ), 0)
	`, userID).Scan(&balance)
	if err != nil {
		return decimal.Zero, storeError("compute client balance", "user", userID, err)
	}
	return balance, nil
}

// assertCreditTx locks the client's row and refuses an increase of its
// committed balance that the credit line cannot cover.
func assertCreditTx(ctx context.Context, tx pgx.Tx, userID int, increase decimal.Decimal) error {
	var creditLimit decimal.Decimal
	if err := tx.QueryRow(ctx,
		"SELECT credit_limit FROM users WHERE id = $1 FOR UPDATE", userID,
	).Scan(&creditLimit); err != nil {
		return storeError("lock client", "user", userID, err)
	}
	balance, err := clientBalance(ctx, tx, userID)
	if err != nil {
		return err
	}
	if d := EvaluateCredit(balance, creditLimit, increase); d.Blocked {
		return preconditionError(CodeCreditExceeded,
			"credit limit exceeded: increase %s, available credit %s",
			increase.StringFixed(2), d.Available.StringFixed(2))
	}
	return nil
}
