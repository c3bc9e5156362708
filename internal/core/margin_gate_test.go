package core_test

import (
	"testing"

	"wholesale-fulfillment/internal/core"

	"github.com/stretchr/testify/assert"
)

func line(productID int, price, cost string, qty int) core.OrderItem {
	return core.OrderItem{ProductID: productID, UnitPrice: d(price), UnitCost: d(cost), Quantity: qty}
}

func TestEvaluateMargin_NoRulesEnabled(t *testing.T) {
	got := core.EvaluateMargin(core.MarginPolicy{}, []core.OrderItem{line(1, "5", "10", 3)})
	assert.False(t, got.RequiresApproval)
	assert.Empty(t, got.Message)
	assert.True(t, d("-15").Equal(got.TotalMargin))
}

func TestEvaluateMargin_NegativeLine(t *testing.T) {
	policy := core.MarginPolicy{RequireApprovalIfAnyNegativeLineMargin: true}
	items := []core.OrderItem{line(1, "20", "10", 1), line(42, "8", "10", 1)}

	got := core.EvaluateMargin(policy, items)

	assert.True(t, got.RequiresApproval)
	assert.Len(t, got.Reasons, 1)
	assert.Contains(t, got.Message, "Admin approval required: ")
	assert.Contains(t, got.Message, "line 2 (product 42)")
	assert.True(t, d("8").Equal(got.TotalMargin))
}

func TestEvaluateMargin_BelowPercent(t *testing.T) {
	policy := core.MarginPolicy{
		RequireApprovalIfMarginBelowPercent: true,
		MarginPercentThreshold:              d("15"),
	}

	// 10% margin
	got := core.EvaluateMargin(policy, []core.OrderItem{line(1, "100", "90", 2)})
	assert.True(t, got.RequiresApproval)
	assert.True(t, d("10").Equal(got.MarginPercent), "percent = %s", got.MarginPercent)
	assert.Contains(t, got.Message, "10.00%")

	// 20% margin clears the threshold
	got = core.EvaluateMargin(policy, []core.OrderItem{line(1, "100", "80", 2)})
	assert.False(t, got.RequiresApproval)

	// zero revenue counts as 0%
	got = core.EvaluateMargin(policy, []core.OrderItem{line(1, "0", "0", 1)})
	assert.True(t, got.RequiresApproval)
	assert.True(t, got.MarginPercent.IsZero())
}

func TestEvaluateMargin_AllRulesJoined(t *testing.T) {
	policy := core.MarginPolicy{
		RequireApprovalIfAnyNegativeLineMargin:    true,
		RequireApprovalIfMarginBelowPercent:       true,
		MarginPercentThreshold:                    d("5"),
		RequireApprovalIfOrderTotalMarginNegative: true,
	}
	got := core.EvaluateMargin(policy, []core.OrderItem{line(1, "10", "12", 1)})

	assert.True(t, got.RequiresApproval)
	assert.Len(t, got.Reasons, 3)
	assert.Equal(t, 2, countSeparators(got.Message))
}

func countSeparators(s string) int {
	n := 0
	for i := 0; i+1 < len(s); i++ {
		if s[i] == ';' && s[i+1] == ' ' {
			n++
		}
	}
	return n
}
