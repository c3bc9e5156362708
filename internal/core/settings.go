package core

import (
	"context"

	"wholesale-fulfillment/internal/db"

	"github.com/shopspring/decimal"
)

// MarginPolicy is the admin-configured approval decision table.
// Every rule toggles independently.
type MarginPolicy struct {
	RequireApprovalIfAnyNegativeLineMargin    bool            `json:"require_approval_if_any_negative_line_margin"`
	RequireApprovalIfMarginBelowPercent       bool            `json:"require_approval_if_margin_below_percent"`
	MarginPercentThreshold                    decimal.Decimal `json:"margin_percent_threshold"`
	RequireApprovalIfOrderTotalMarginNegative bool            `json:"require_approval_if_order_total_margin_negative"`
	BlockWorkflowUntilApproved                bool            `json:"block_workflow_until_approved"`
}

// Settings is an immutable snapshot taken once per request and passed into
// the operations that need it.
type Settings struct {
	VATRate decimal.Decimal `json:"vat_rate"`
	Margin  MarginPolicy    `json:"margin"`
}

// DefaultSettings mirrors the seeded app_settings row.
func DefaultSettings() Settings {
	return Settings{VATRate: decimal.NewFromInt(20)}
}

// SettingsProvider supplies the current settings snapshot.
type SettingsProvider interface {
	Current(ctx context.Context) (Settings, error)
}

type settingsStore struct {
	q db.Querier
}

// NewSettingsStore reads the single app_settings row.
func NewSettingsStore(q db.Querier) SettingsProvider {
	return &settingsStore{q: q}
}

func (s *settingsStore) Current(ctx context.Context) (Settings, error) {
	var st Settings
	err := s.q.QueryRow(ctx, `
		SELECT vat_rate,
		       require_approval_negative_line,
		       require_approval_below_percent,
		       margin_percent_threshold,
		       require_approval_negative_total,
		       block_workflow_until_approved
		FROM app_settings
		WHERE id = 1
	`).Scan(
		&st.VATRate,
		&st.Margin.RequireApprovalIfAnyNegativeLineMargin,
		&st.Margin.RequireApprovalIfMarginBelowPercent,
		&st.Margin.MarginPercentThreshold,
		&st.Margin.RequireApprovalIfOrderTotalMarginNegative,
		&st.Margin.BlockWorkflowUntilApproved,
	)
	if err != nil {
		if db.Classify(err) == db.ClassNotFound {
			return DefaultSettings(), nil
		}
		return Settings{}, storeError("load settings", "settings", 1, err)
	}
	return st, nil
}
