package core_test

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"wholesale-fulfillment/internal/core"

	"github.com/shopspring/decimal"
)

func intPtr(n int) *int { return &n }

// placeAndShip takes a 2 × Widget order from checkout to SHIPPED with agent 5
// and returns it together with its confirmation code.
func placeAndShip(t *testing.T, svc services, ctx context.Context) (*core.Order, string) {
	t.Helper()
	order, err := svc.orders.CreateOrder(ctx, client, settings, core.CreateOrderRequest{
		Lines: []core.OrderLineInput{{ProductID: widgetID, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if _, err := svc.orders.PrepareOrder(ctx, mag, settings, order.ID); err != nil {
		t.Fatalf("PrepareOrder failed: %v", err)
	}
	if _, err := svc.orders.ShipOrder(ctx, mag, settings, order.ID, intPtr(agentID)); err != nil {
		t.Fatalf("ShipOrder failed: %v", err)
	}
	shipped, err := svc.orders.GetOrder(ctx, admin, order.ID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if shipped.DeliveryConfirmationCode == nil {
		t.Fatal("shipped order has no confirmation code")
	}
	return shipped, *shipped.DeliveryConfirmationCode
}

func TestSequence_ConcurrentAllocationIsUnique(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	date := time.Date(2026, 1, 18, 0, 0, 0, 0, time.UTC)

	const n = 20
	var wg sync.WaitGroup
	numbers := make(chan string, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			num, err := svc.seq.Next(ctx, core.DocOrder, date)
			if err != nil {
				errs <- err
				return
			}
			numbers <- num
		}()
	}
	wg.Wait()
	close(numbers)
	close(errs)

	for err := range errs {
		t.Fatalf("Next failed: %v", err)
	}
	seen := map[string]bool{}
	for num := range numbers {
		if seen[num] {
			t.Errorf("duplicate document number %s", num)
		}
		seen[num] = true
	}
	if len(seen) != n {
		t.Errorf("expected %d numbers, got %d", n, len(seen))
	}
	if !seen["CMD-20260118-0020"] {
		t.Error("expected the counter to reach 0020")
	}
}

func TestStockLedger_ApplyAndReject(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	widget := core.StockTarget{ProductID: widgetID}

	ch, err := svc.stock.Apply(ctx, mag, core.StockChangeRequest{Target: widget, Operation: core.StockRemove, Quantity: 9, Reason: "damaged"})
	if err != nil {
		t.Fatalf("Apply REMOVE failed: %v", err)
	}
	if ch.NewStock != 1 || !ch.LowStock {
		t.Errorf("expected stock 1 and low stock, got %d low=%v", ch.NewStock, ch.LowStock)
	}

	_, err = svc.stock.Apply(ctx, mag, core.StockChangeRequest{Target: widget, Operation: core.StockRemove, Quantity: 2, Reason: "too many"})
	if core.KindOf(err) != core.KindNegativeStock {
		t.Fatalf("expected NEGATIVE_STOCK, got %v", err)
	}
	if got := productStock(t, svc.pool, widgetID); got != 1 {
		t.Errorf("rejected change must not touch stock, got %d", got)
	}

	// SET to the current value is a no-op without a movement row.
	ch, err = svc.stock.Apply(ctx, mag, core.StockChangeRequest{Target: widget, Operation: core.StockSet, Quantity: 1, Reason: "count"})
	if err != nil {
		t.Fatalf("Apply SET failed: %v", err)
	}
	if ch.Movement != nil {
		t.Error("no-op SET must not record a movement")
	}

	movements, err := svc.stock.ListMovements(ctx, widget, 0)
	if err != nil {
		t.Fatalf("ListMovements failed: %v", err)
	}
	if len(movements) != 1 || movements[0].Type != core.MovementOut || movements[0].Quantity != 9 {
		t.Errorf("expected a single OUT 9 movement, got %+v", movements)
	}

	if _, err := svc.stock.Apply(ctx, client, core.StockChangeRequest{Target: widget, Operation: core.StockAdd, Quantity: 1}); core.KindOf(err) != core.KindForbidden {
		t.Errorf("client stock change: expected FORBIDDEN, got %v", err)
	}
}

func TestStockLedger_MovementsAreAppendOnly(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()

	if _, err := svc.stock.Apply(ctx, admin, core.StockChangeRequest{
		Target: core.StockTarget{ProductID: widgetID}, Operation: core.StockAdd, Quantity: 5, Reason: "delivery",
	}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if _, err := svc.pool.Exec(ctx, "UPDATE stock_movements SET quantity = 1"); err == nil {
		t.Error("expected the ledger trigger to reject updates to stock_movements")
	}
	if _, err := svc.pool.Exec(ctx, "DELETE FROM stock_movements"); err == nil {
		t.Error("expected the ledger trigger to reject deletes from stock_movements")
	}
}

func TestOrder_FullLifecycle(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()

	order, code := placeAndShip(t, svc, ctx)
	if order.Status != core.OrderShipped {
		t.Fatalf("expected SHIPPED, got %s", order.Status)
	}
	if order.OrderNumber == nil || order.DeliveryNoteNumber == nil {
		t.Fatal("shipped order must carry order and delivery note numbers")
	}
	if !regexp.MustCompile(`^BL-\d{8}-0001$`).MatchString(*order.DeliveryNoteNumber) {
		t.Errorf("expected the first delivery note of the year, got %s", *order.DeliveryNoteNumber)
	}
	noteKey := fmt.Sprintf("%s-%d", core.DocDeliveryNote, time.Now().Year())
	if n := countRows(t, svc.pool, "SELECT seq FROM global_sequences WHERE key = $1", noteKey); n != 1 {
		t.Errorf("expected the delivery note counter at 1, got %d", n)
	}
	if got := productStock(t, svc.pool, widgetID); got != 8 {
		t.Errorf("expected widget stock 8 after preparation, got %d", got)
	}

	// The agent never sees the code.
	asAgent, err := svc.orders.GetOrder(ctx, agent, order.ID)
	if err != nil {
		t.Fatalf("agent GetOrder failed: %v", err)
	}
	if asAgent.DeliveryConfirmationCode != nil {
		t.Error("confirmation code leaked to the delivery agent")
	}

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	_, err = svc.orders.ConfirmDelivery(ctx, agent, settings, order.ID, core.DeliveryConfirmation{Code: wrong, RecipientName: "Mme Dupont"})
	if core.CodeOf(err) != core.CodeWrongConfirmation {
		t.Fatalf("expected WRONG_CONFIRMATION_CODE, got %v", err)
	}

	res, err := svc.orders.ConfirmDelivery(ctx, agent, settings, order.ID, core.DeliveryConfirmation{Code: code, RecipientName: "Mme Dupont", ProofNote: "left at counter"})
	if err != nil {
		t.Fatalf("ConfirmDelivery failed: %v", err)
	}
	if res.Order.Status != core.OrderDelivered || !res.InvoiceCreated {
		t.Fatalf("expected DELIVERED with a new invoice, got %s created=%v", res.Order.Status, res.InvoiceCreated)
	}
	if !res.Invoice.Amount.Equal(decimal.NewFromInt(200)) || res.Invoice.Status != core.InvoiceUnpaid {
		t.Errorf("expected UNPAID invoice of 200, got %s %s", res.Invoice.Amount, res.Invoice.Status)
	}
	// Balance is kept on the TTC base payments settle against: 200 HT at 20% VAT.
	if !res.Invoice.Balance.Equal(decimal.NewFromInt(240)) {
		t.Errorf("expected an opening balance of 240, got %s", res.Invoice.Balance)
	}

	// A retried confirmation succeeds without a second invoice.
	again, err := svc.orders.ConfirmDelivery(ctx, agent, settings, order.ID, core.DeliveryConfirmation{Code: code, RecipientName: "Mme Dupont"})
	if err != nil {
		t.Fatalf("repeated ConfirmDelivery failed: %v", err)
	}
	if again.InvoiceCreated || again.Invoice.ID != res.Invoice.ID {
		t.Errorf("repeated delivery created a new invoice")
	}
	if n := countRows(t, svc.pool, "SELECT COUNT(*) FROM invoices WHERE order_id = $1", order.ID); n != 1 {
		t.Errorf("expected exactly one invoice, got %d", n)
	}

	// Delivered orders are final.
	if _, err := svc.orders.CancelOrder(ctx, admin, order.ID, "too late"); core.CodeOf(err) != core.CodeInvalidTransition {
		t.Errorf("cancel after delivery: expected INVALID_TRANSITION, got %v", err)
	}
	if _, err := svc.orders.UpdateOrderItemQuantity(ctx, admin, settings, order.ID, res.Order.Items[0].ID, 1); core.CodeOf(err) != core.CodeOrderLocked {
		t.Errorf("line edit after delivery: expected ORDER_LOCKED, got %v", err)
	}
}

func TestOrder_ConcurrentDeliveryCreatesOneInvoice(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	order, code := placeAndShip(t, svc, ctx)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	created := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.orders.ConfirmDelivery(ctx, agent, settings, order.ID, core.DeliveryConfirmation{Code: code, RecipientName: "Front desk"})
			if err != nil {
				errs <- err
				return
			}
			created <- res.InvoiceCreated
		}()
	}
	wg.Wait()
	close(errs)
	close(created)

	for err := range errs {
		t.Fatalf("ConfirmDelivery failed: %v", err)
	}
	newInvoices := 0
	for c := range created {
		if c {
			newInvoices++
		}
	}
	if newInvoices != 1 {
		t.Errorf("expected exactly one call to create the invoice, got %d", newInvoices)
	}
	if n := countRows(t, svc.pool, "SELECT COUNT(*) FROM invoices WHERE order_id = $1", order.ID); n != 1 {
		t.Errorf("expected one invoice row, got %d", n)
	}
}

func TestOrder_PrepareIsAllOrNothing(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()

	order, err := svc.orders.CreateOrder(ctx, client, settings, core.CreateOrderRequest{
		Lines: []core.OrderLineInput{
			{ProductID: widgetID, Quantity: 2},
			{ProductID: gadgetID, Quantity: 5}, // only 3 on hand
		},
	})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	_, err = svc.orders.PrepareOrder(ctx, mag, settings, order.ID)
	if core.KindOf(err) != core.KindNegativeStock {
		t.Fatalf("expected NEGATIVE_STOCK, got %v", err)
	}
	if got := productStock(t, svc.pool, widgetID); got != 10 {
		t.Errorf("widget stock must be untouched, got %d", got)
	}
	if n := countRows(t, svc.pool, "SELECT COUNT(*) FROM stock_movements WHERE order_id = $1", order.ID); n != 0 {
		t.Errorf("expected no movements, got %d", n)
	}
	got, err := svc.orders.GetOrder(ctx, mag, order.ID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got.Status != core.OrderConfirmed {
		t.Errorf("order must stay CONFIRMED, got %s", got.Status)
	}
}

func TestOrder_CancelRestoresExactStock(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()

	order, err := svc.orders.CreateOrder(ctx, client, settings, core.CreateOrderRequest{
		Lines: []core.OrderLineInput{
			{ProductID: widgetID, Quantity: 2},
			{ProductID: widgetID, VariantID: intPtr(variantID), Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if !order.Total.Equal(decimal.NewFromInt(300)) {
		t.Errorf("variant should inherit the product price: expected total 300, got %s", order.Total)
	}
	prepared, err := svc.orders.PrepareOrder(ctx, mag, settings, order.ID)
	if err != nil {
		t.Fatalf("PrepareOrder failed: %v", err)
	}

	// Raise the widget line after preparation: the extra unit leaves stock too.
	var widgetLine int
	for _, it := range prepared.Items {
		if it.VariantID == nil {
			widgetLine = it.ID
		}
	}
	edited, err := svc.orders.UpdateOrderItemQuantity(ctx, mag, settings, order.ID, widgetLine, 3)
	if err != nil {
		t.Fatalf("UpdateOrderItemQuantity failed: %v", err)
	}
	if !edited.Total.Equal(decimal.NewFromInt(400)) {
		t.Errorf("expected total 400 after edit, got %s", edited.Total)
	}
	if got := productStock(t, svc.pool, widgetID); got != 7 {
		t.Errorf("expected widget stock 7, got %d", got)
	}

	if _, err := svc.orders.CancelOrder(ctx, client, order.ID, "changed my mind"); core.CodeOf(err) != core.CodeInvalidTransition {
		t.Errorf("client cancel after preparation: expected INVALID_TRANSITION, got %v", err)
	}
	cancelled, err := svc.orders.CancelOrder(ctx, mag, order.ID, "client called")
	if err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}
	if cancelled.Status != core.OrderCancelled || cancelled.CancelledAt == nil {
		t.Errorf("expected CANCELLED with timestamp, got %s", cancelled.Status)
	}
	if got := productStock(t, svc.pool, widgetID); got != 10 {
		t.Errorf("expected widget stock restored to 10, got %d", got)
	}
	var variantStock int
	if err := svc.pool.QueryRow(ctx, "SELECT stock FROM product_variants WHERE id = $1", variantID).Scan(&variantStock); err != nil {
		t.Fatalf("read variant stock: %v", err)
	}
	if variantStock != 5 {
		t.Errorf("expected variant stock restored to 5, got %d", variantStock)
	}
}

func TestOrder_CreditGate(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()

	_, err := svc.orders.CreateOrder(ctx, admin, settings, core.CreateOrderRequest{
		UserID: brokeID,
		Lines:  []core.OrderLineInput{{ProductID: gadgetID, Quantity: 1}},
	})
	if core.CodeOf(err) != core.CodeCreditExceeded {
		t.Fatalf("expected CREDIT_EXCEEDED for a zero limit, got %v", err)
	}
	if n := countRows(t, svc.pool, "SELECT COUNT(*) FROM orders"); n != 0 {
		t.Errorf("a rejected checkout must not create an order, got %d", n)
	}

	// 100 units × 100 = 10000 is exactly the limit, one more widget is not.
	if _, err := svc.pool.Exec(ctx, "UPDATE products SET stock = 1000 WHERE id = $1", widgetID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.orders.CreateOrder(ctx, client, settings, core.CreateOrderRequest{
		Lines: []core.OrderLineInput{{ProductID: widgetID, Quantity: 100}},
	}); err != nil {
		t.Fatalf("order at the limit should pass: %v", err)
	}
	check, err := svc.orders.CheckCredit(ctx, client, clientID, decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("CheckCredit failed: %v", err)
	}
	if !check.Blocked || !check.Available.IsZero() {
		t.Errorf("expected blocked with nothing available, got %+v", check)
	}
	if _, err := svc.orders.CreateOrder(ctx, client, settings, core.CreateOrderRequest{
		Lines: []core.OrderLineInput{{ProductID: widgetID, Quantity: 1}},
	}); core.CodeOf(err) != core.CodeCreditExceeded {
		t.Errorf("expected CREDIT_EXCEEDED beyond the limit, got %v", err)
	}
}

func TestOrder_LineEditRespectsCredit(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()

	if _, err := svc.pool.Exec(ctx, "UPDATE products SET stock = 1000 WHERE id = $1", widgetID); err != nil {
		t.Fatal(err)
	}
	// 100 × 100 uses the whole 10000 limit.
	order, err := svc.orders.CreateOrder(ctx, client, settings, core.CreateOrderRequest{
		Lines: []core.OrderLineInput{{ProductID: widgetID, Quantity: 100}},
	})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	itemID := order.Items[0].ID

	if _, err := svc.orders.UpdateOrderItemQuantity(ctx, client, settings, order.ID, itemID, 101); core.CodeOf(err) != core.CodeCreditExceeded {
		t.Fatalf("client raising a line past the limit: expected CREDIT_EXCEEDED, got %v", err)
	}

	if _, err := svc.orders.PrepareOrder(ctx, mag, settings, order.ID); err != nil {
		t.Fatalf("PrepareOrder failed: %v", err)
	}
	if _, err := svc.orders.UpdateOrderItemQuantity(ctx, admin, settings, order.ID, itemID, 150); core.CodeOf(err) != core.CodeCreditExceeded {
		t.Fatalf("admin raising a prepared line past the limit: expected CREDIT_EXCEEDED, got %v", err)
	}
	unchanged, err := svc.orders.GetOrder(ctx, admin, order.ID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if !unchanged.Total.Equal(decimal.NewFromInt(10000)) || unchanged.Items[0].Quantity != 100 {
		t.Errorf("rejected edit changed the order: total %s quantity %d", unchanged.Total, unchanged.Items[0].Quantity)
	}
	if got := productStock(t, svc.pool, widgetID); got != 900 {
		t.Errorf("rejected edit moved stock: expected 900, got %d", got)
	}

	// Lowering a line frees credit and never hits the gate.
	lowered, err := svc.orders.UpdateOrderItemQuantity(ctx, admin, settings, order.ID, itemID, 90)
	if err != nil {
		t.Fatalf("lowering the line failed: %v", err)
	}
	if !lowered.Total.Equal(decimal.NewFromInt(9000)) {
		t.Errorf("expected total 9000, got %s", lowered.Total)
	}
	if got := productStock(t, svc.pool, widgetID); got != 910 {
		t.Errorf("expected 10 widgets back on the shelf, got stock %d", got)
	}
}

func TestOrder_MarginApprovalBlocksWorkflow(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	strict := core.DefaultSettings()
	strict.Margin = core.MarginPolicy{
		RequireApprovalIfMarginBelowPercent: true,
		MarginPercentThreshold:              decimal.NewFromInt(50),
		BlockWorkflowUntilApproved:          true,
	}

	// Widget margin is 40%.
	order, err := svc.orders.CreateOrder(ctx, client, strict, core.CreateOrderRequest{
		Lines: []core.OrderLineInput{{ProductID: widgetID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if !order.RequiresAdminApproval || order.ApprovalMessage == "" {
		t.Fatalf("expected the order to require approval, got %+v", order)
	}

	if _, err := svc.orders.PrepareOrder(ctx, mag, strict, order.ID); core.CodeOf(err) != core.CodeApprovalPending {
		t.Fatalf("expected APPROVAL_PENDING, got %v", err)
	}
	if _, err := svc.orders.ApproveOrder(ctx, mag, order.ID); core.KindOf(err) != core.KindForbidden {
		t.Errorf("warehouse approval: expected FORBIDDEN, got %v", err)
	}
	approved, err := svc.orders.ApproveOrder(ctx, admin, order.ID)
	if err != nil {
		t.Fatalf("ApproveOrder failed: %v", err)
	}
	if approved.RequiresAdminApproval || approved.ApprovedBy == nil || *approved.ApprovedBy != adminID {
		t.Errorf("expected approval by admin, got %+v", approved)
	}
	if _, err := svc.orders.PrepareOrder(ctx, mag, strict, order.ID); err != nil {
		t.Errorf("PrepareOrder after approval failed: %v", err)
	}
}

func TestOrder_AgentClaimRace(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()

	order, err := svc.orders.CreateOrder(ctx, client, settings, core.CreateOrderRequest{
		Lines: []core.OrderLineInput{{ProductID: gadgetID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if _, err := svc.orders.PrepareOrder(ctx, mag, settings, order.ID); err != nil {
		t.Fatalf("PrepareOrder failed: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, a := range []core.Actor{agent, agent2} {
		wg.Add(1)
		go func(a core.Actor) {
			defer wg.Done()
			_, err := svc.orders.AssignDeliveryAgent(ctx, a, order.ID, a.ID)
			results <- err
		}(a)
	}
	wg.Wait()
	close(results)

	wins, losses := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case core.CodeOf(err) == core.CodeAlreadyAssigned:
			losses++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 || losses != 1 {
		t.Errorf("expected one winner and one ALREADY_ASSIGNED, got %d/%d", wins, losses)
	}

	if _, err := svc.orders.AssignDeliveryAgent(ctx, mag, order.ID, clientID); core.CodeOf(err) != core.CodeAlreadyAssigned && core.CodeOf(err) != core.CodeNotAgent {
		t.Errorf("expected the assignment to be refused, got %v", err)
	}
}

func TestOrder_ListScopedByRole(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()

	if _, err := svc.orders.CreateOrder(ctx, client, settings, core.CreateOrderRequest{
		Lines: []core.OrderLineInput{{ProductID: gadgetID, Quantity: 1}},
	}); err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	mine, err := svc.orders.ListOrders(ctx, client, core.OrderFilter{UserID: intPtr(brokeID)})
	if err != nil {
		t.Fatalf("ListOrders failed: %v", err)
	}
	if len(mine) != 1 {
		t.Errorf("a client filter on another user must still return its own orders, got %d", len(mine))
	}

	forAgent, err := svc.orders.ListOrders(ctx, agent, core.OrderFilter{})
	if err != nil {
		t.Fatalf("ListOrders failed: %v", err)
	}
	if len(forAgent) != 0 {
		t.Errorf("a CONFIRMED order is not visible to agents, got %d", len(forAgent))
	}
}

func TestInvoice_PaymentsAndLocks(t *testing.T) {
	svc := setupServices(t)
	ctx := context.Background()
	order, code := placeAndShip(t, svc, ctx)

	res, err := svc.orders.ConfirmDelivery(ctx, mag, settings, order.ID, core.DeliveryConfirmation{Code: code, RecipientName: "Reception"})
	if err != nil {
		t.Fatalf("ConfirmDelivery failed: %v", err)
	}
	invID := res.Invoice.ID

	// 200 HT at 20% VAT is 240 TTC.
	inv, err := svc.invoices.RecordPayment(ctx, admin, settings, invID, core.PaymentInput{Amount: decimal.NewFromInt(100), Method: "CASH"})
	if err != nil {
		t.Fatalf("RecordPayment failed: %v", err)
	}
	if inv.Status != core.InvoicePartial || !inv.Balance.Equal(decimal.NewFromInt(140)) {
		t.Errorf("expected PARTIAL 140, got %s %s", inv.Status, inv.Balance)
	}

	_, err = svc.invoices.RecordPayment(ctx, admin, settings, invID, core.PaymentInput{Amount: decimal.RequireFromString("140.01"), Method: "CASH"})
	if core.KindOf(err) != core.KindOverpayment {
		t.Fatalf("expected OVERPAYMENT, got %v", err)
	}
	unchanged, err := svc.invoices.GetInvoice(ctx, admin, invID)
	if err != nil {
		t.Fatalf("GetInvoice failed: %v", err)
	}
	if !unchanged.Balance.Equal(decimal.NewFromInt(140)) || len(unchanged.Payments) != 1 {
		t.Errorf("overpayment must leave the invoice untouched, got balance %s with %d payments", unchanged.Balance, len(unchanged.Payments))
	}

	if _, err := svc.invoices.VoidInvoice(ctx, admin, invID); core.CodeOf(err) != core.CodeInvoiceHasPayments {
		t.Errorf("expected INVOICE_HAS_PAYMENTS, got %v", err)
	}

	inv, err = svc.invoices.RecordPayment(ctx, admin, settings, invID, core.PaymentInput{Amount: decimal.NewFromInt(140), Method: "TRANSFER"})
	if err != nil {
		t.Fatalf("final RecordPayment failed: %v", err)
	}
	if inv.Status != core.InvoicePaid || !inv.Balance.IsZero() || inv.PaidAt == nil {
		t.Errorf("expected PAID with zero balance, got %s %s", inv.Status, inv.Balance)
	}

	if err := svc.invoices.AdjustInvoiceAmount(ctx, mag, invID, decimal.NewFromInt(1)); core.KindOf(err) != core.KindForbidden {
		t.Errorf("amount edit by a warehouse clerk: expected FORBIDDEN, got %v", err)
	}
	if err := svc.invoices.AdjustInvoiceAmount(ctx, admin, invID, decimal.NewFromInt(1)); core.CodeOf(err) != core.CodeInvoiceLocked {
		t.Errorf("expected INVOICE_LOCKED, got %v", err)
	}
	if _, err := svc.pool.Exec(ctx, "UPDATE invoices SET amount = 1 WHERE id = $1", invID); err == nil {
		t.Error("expected the invoice trigger to reject an amount change")
	}
	if _, err := svc.pool.Exec(ctx, "DELETE FROM payments WHERE invoice_id = $1", invID); err == nil {
		t.Error("expected the ledger trigger to reject payment deletion")
	}
}
