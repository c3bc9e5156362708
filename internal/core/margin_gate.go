package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// MarginDecision is the outcome of evaluating a MarginPolicy over an order's lines.
type MarginDecision struct {
	RequiresApproval bool            `json:"requires_approval"`
	Message          string          `json:"message,omitempty"`
	Reasons          []string        `json:"reasons,omitempty"`
	TotalMargin      decimal.Decimal `json:"total_margin"`
	MarginPercent    decimal.Decimal `json:"margin_percent"`
}

// EvaluateMargin applies every enabled rule of policy. Margin percent is
// total margin over revenue; an order with zero revenue counts as 0%.
func EvaluateMargin(policy MarginPolicy, items []OrderItem) MarginDecision {
	revenue := decimal.Zero
	totalMargin := decimal.Zero
	var negativeLines []string
	for i, it := range items {
		revenue = revenue.Add(it.LineTotal())
		totalMargin = totalMargin.Add(it.LineMargin())
		if it.UnitPrice.LessThan(it.UnitCost) {
			negativeLines = append(negativeLines, fmt.Sprintf("line %d (product %d)", i+1, it.ProductID))
		}
	}

	percent := decimal.Zero
	if !revenue.IsZero() {
		percent = totalMargin.Div(revenue).Mul(hundred).Round(2)
	}

	d := MarginDecision{TotalMargin: totalMargin, MarginPercent: percent}

	if policy.RequireApprovalIfAnyNegativeLineMargin && len(negativeLines) > 0 {
		d.Reasons = append(d.Reasons, "negative margin on "+strings.Join(negativeLines, ", "))
	}
	if policy.RequireApprovalIfMarginBelowPercent && percent.LessThan(policy.MarginPercentThreshold) {
		d.Reasons = append(d.Reasons, fmt.Sprintf("order margin %s%% is below the %s%% threshold",
			percent.StringFixed(2), policy.MarginPercentThreshold.String()))
	}
	if policy.RequireApprovalIfOrderTotalMarginNegative && totalMargin.IsNegative() {
		d.Reasons = append(d.Reasons, fmt.Sprintf("order total margin is negative (%s)", totalMargin.StringFixed(2)))
	}

	if len(d.Reasons) > 0 {
		d.RequiresApproval = true
		d.Message = "Admin approval required: " + strings.Join(d.Reasons, "; ")
	}
	return d
}

// workflowBlocked reports whether forward transitions must wait for approval.
func workflowBlocked(policy MarginPolicy, o *Order) bool {
	return policy.BlockWorkflowUntilApproved && o.RequiresAdminApproval
}
