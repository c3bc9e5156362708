package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"wholesale-fulfillment/internal/app"
	"wholesale-fulfillment/internal/core"
)

// ErrUsage is returned for unknown subcommands or malformed arguments.
var ErrUsage = errors.New("usage: fulfillctl <low-stock|stock|movements|orders|order|approve|agents|settings> [args]")

// Run executes a one-shot operator command as actor and writes the result to out.
// args[0] is the subcommand name.
func Run(ctx context.Context, svc app.ApplicationService, actor core.Actor, args []string, out io.Writer) error {
	if len(args) == 0 {
		return ErrUsage
	}

	switch args[0] {
	case "low-stock", "low":
		result, err := svc.LowStockProducts(ctx, actor)
		if err != nil {
			return err
		}
		printStockLevels(out, result.Levels)

	case "stock":
		// stock <productID> <ADD|REMOVE|SET> <qty> <reason> [variantID]
		if len(args) < 5 {
			return fmt.Errorf("%w\n  stock <productID> <ADD|REMOVE|SET> <qty> <reason> [variantID]", ErrUsage)
		}
		target, err := parseTarget(args[1], args[5:])
		if err != nil {
			return err
		}
		qty, err := strconv.Atoi(args[3])
		if err != nil {
			return fmt.Errorf("quantity must be an integer: %w", err)
		}
		change, err := svc.ApplyStock(ctx, actor, app.ApplyStockRequest{
			Target:    target,
			Operation: core.StockOperation(strings.ToUpper(args[2])),
			Quantity:  qty,
			Reason:    args[4],
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %d -> %d (change %+d)\n", change.Target, change.OldStock, change.NewStock, change.Change)
		if change.LowStock {
			fmt.Fprintln(out, "warning: below minimum stock")
		}

	case "movements", "mv":
		if len(args) < 2 {
			return fmt.Errorf("%w\n  movements <productID> [variantID]", ErrUsage)
		}
		target, err := parseTarget(args[1], args[2:])
		if err != nil {
			return err
		}
		result, err := svc.ListMovements(ctx, actor, target, 50)
		if err != nil {
			return err
		}
		printMovements(out, result)

	case "orders":
		req := app.ListOrdersRequest{Limit: 50}
		if len(args) > 1 {
			req.Status = args[1]
		}
		result, err := svc.ListOrders(ctx, actor, req)
		if err != nil {
			return err
		}
		printOrders(out, result.Orders)

	case "order":
		id, err := parseID(args, "order <orderID>")
		if err != nil {
			return err
		}
		order, err := svc.GetOrder(ctx, actor, id)
		if err != nil {
			return err
		}
		return writeJSON(out, order)

	case "approve":
		id, err := parseID(args, "approve <orderID>")
		if err != nil {
			return err
		}
		order, err := svc.ApproveOrder(ctx, actor, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "order %d approved (status %s)\n", order.ID, order.Status)

	case "agents":
		result, err := svc.ListDeliveryAgents(ctx, actor)
		if err != nil {
			return err
		}
		for _, u := range result.Users {
			fmt.Fprintf(out, "  %-6d %s\n", u.ID, u.Name)
		}

	case "settings":
		st, err := svc.GetSettings(ctx, actor)
		if err != nil {
			return err
		}
		return writeJSON(out, st)

	default:
		return fmt.Errorf("unknown command %q: %w", args[0], ErrUsage)
	}
	return nil
}

func parseID(args []string, usage string) (int, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("%w\n  %s", ErrUsage, usage)
	}
	id, err := strconv.Atoi(args[1])
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", args[1])
	}
	return id, nil
}

func parseTarget(product string, rest []string) (core.StockTarget, error) {
	pid, err := strconv.Atoi(product)
	if err != nil || pid <= 0 {
		return core.StockTarget{}, fmt.Errorf("invalid product id %q", product)
	}
	target := core.StockTarget{ProductID: pid}
	if len(rest) > 0 {
		vid, err := strconv.Atoi(rest[0])
		if err != nil || vid <= 0 {
			return core.StockTarget{}, fmt.Errorf("invalid variant id %q", rest[0])
		}
		target.VariantID = &vid
	}
	return target, nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStockLevels(out io.Writer, levels []core.StockLevel) {
	fmt.Fprintln(out, strings.Repeat("=", 62))
	fmt.Fprintf(out, "  %-8s %-8s %-26s %7s %7s\n", "PRODUCT", "VARIANT", "NAME", "STOCK", "MIN")
	fmt.Fprintln(out, strings.Repeat("-", 62))
	for _, l := range levels {
		variant := "-"
		if l.VariantID != nil {
			variant = strconv.Itoa(*l.VariantID)
		}
		fmt.Fprintf(out, "  %-8d %-8s %-26s %7d %7d\n", l.ProductID, variant, truncate(l.Name, 26), l.Stock, l.MinStock)
	}
	fmt.Fprintln(out, strings.Repeat("=", 62))
}

func printMovements(out io.Writer, result *app.MovementListResult) {
	fmt.Fprintf(out, "  Movements for %s\n", result.Target)
	fmt.Fprintln(out, strings.Repeat("-", 62))
	for _, m := range result.Movements {
		fmt.Fprintf(out, "  %s %-10s %6d  %s\n", m.CreatedAt.Format("2006-01-02 15:04"), m.Type, m.Quantity, m.Reference)
	}
}

func printOrders(out io.Writer, orders []core.Order) {
	fmt.Fprintf(out, "  %-6s %-20s %-10s %12s %s\n", "ID", "NUMBER", "STATUS", "TOTAL", "APPROVAL")
	fmt.Fprintln(out, strings.Repeat("-", 62))
	for _, o := range orders {
		number := ""
		if o.OrderNumber != nil {
			number = *o.OrderNumber
		}
		approval := ""
		if o.RequiresAdminApproval {
			approval = "pending"
		}
		fmt.Fprintf(out, "  %-6d %-20s %-10s %12s %s\n", o.ID, number, o.Status, o.Total.StringFixed(2), approval)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
