package app

import "wholesale-fulfillment/internal/core"

// OrderListResult holds orders visible to the caller.
type OrderListResult struct {
	Orders []core.Order `json:"orders"`
}

// MovementListResult holds ledger rows for one stock target, newest first.
type MovementListResult struct {
	Target    core.StockTarget     `json:"target"`
	Movements []core.StockMovement `json:"movements"`
}

// StockListResult holds stock levels, for example the low-stock report.
type StockListResult struct {
	Levels []core.StockLevel `json:"levels"`
}

// UserListResult holds users, for example the delivery agent picker.
type UserListResult struct {
	Users []core.User `json:"users"`
}
