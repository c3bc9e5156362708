package core

import "github.com/shopspring/decimal"

// currencyEpsilon is the smallest amount treated as a real balance.
var currencyEpsilon = decimal.New(1, -2)

// GrossUp returns the TTC amount for an HT amount at vatRate percent, rounded to cents.
func GrossUp(amountHT, vatRate decimal.Decimal) decimal.Decimal {
	return amountHT.Mul(hundred.Add(vatRate)).Div(hundred).Round(2)
}

// settlement is the recomputed payment state of an invoice.
type settlement struct {
	Balance decimal.Decimal
	Status  InvoiceStatus
}

// settle derives balance and status from the TTC total and the sum of payments.
func settle(ttc, paid decimal.Decimal) settlement {
	balance := ttc.Sub(paid)
	if balance.IsNegative() {
		balance = decimal.Zero
	}
	switch {
	case balance.LessThan(currencyEpsilon):
		return settlement{Balance: decimal.Zero, Status: InvoicePaid}
	case paid.IsPositive() && paid.LessThan(ttc):
		return settlement{Balance: balance, Status: InvoicePartial}
	default:
		return settlement{Balance: balance, Status: InvoiceUnpaid}
	}
}

// exceedsTTC reports whether adding amount to paid would pass the TTC total.
func exceedsTTC(ttc, paid, amount decimal.Decimal) bool {
	return paid.Add(amount).GreaterThan(ttc)
}

// CanModifyOrder is the single predicate every line-editing path checks first.
// inv is the order's invoice, or nil when none exists.
func CanModifyOrder(o *Order, inv *Invoice) error {
	if o.Status == OrderDelivered || o.Status == OrderCancelled {
		return preconditionError(CodeOrderLocked, "order %d is %s and can no longer be modified", o.ID, o.Status)
	}
	if inv.IsLocked() {
		return preconditionError(CodeInvoiceLocked, "order %d is invoiced (%s); its lines are frozen", o.ID, inv.InvoiceNumber)
	}
	return nil
}
