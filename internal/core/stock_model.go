package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog item with a single on-hand stock pool.
// Stock is mutated exclusively through StockLedger.
type Product struct {
	ID        int             `json:"id"`
	Name      string          `json:"name"`
	SKU       string          `json:"sku"`
	Price     decimal.Decimal `json:"price"`
	Cost      decimal.Decimal `json:"cost"`
	Stock     int             `json:"stock"`
	MinStock  int             `json:"min_stock"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ProductVariant carries its own stock. Price and cost fall back to the parent product when null.
type ProductVariant struct {
	ID        int                 `json:"id"`
	ProductID int                 `json:"product_id"`
	Name      string              `json:"name"`
	SKU       string              `json:"sku"`
	Price     decimal.NullDecimal `json:"price"`
	Cost      decimal.NullDecimal `json:"cost"`
	Stock     int                 `json:"stock"`
	MinStock  int                 `json:"min_stock"`
}

// MaxQuantity bounds a single stock change or order line.
const MaxQuantity = 1_000_000

// StockOperation is the kind of change requested from the ledger.
type StockOperation string

const (
	StockAdd    StockOperation = "ADD"
	StockRemove StockOperation = "REMOVE"
	StockSet    StockOperation = "SET"
)

func (op StockOperation) Valid() bool {
	return op == StockAdd || op == StockRemove || op == StockSet
}

// MovementType is the direction recorded on a movement row.
type MovementType string

const (
	MovementIn         MovementType = "IN"
	MovementOut        MovementType = "OUT"
	MovementAdjustment MovementType = "ADJUSTMENT"
)

// StockMovement is an immutable ledger row. Quantity is always positive.
type StockMovement struct {
	ID        int64        `json:"id"`
	ProductID int          `json:"product_id"`
	VariantID *int         `json:"variant_id,omitempty"`
	OrderID   *int         `json:"order_id,omitempty"`
	Type      MovementType `json:"type"`
	Quantity  int          `json:"quantity"`
	Reference string       `json:"reference"`
	CreatedAt time.Time    `json:"created_at"`
}

// StockTarget identifies one stock pool: a product, or one of its variants.
type StockTarget struct {
	ProductID int  `json:"product_id"`
	VariantID *int `json:"variant_id,omitempty"`
}

func (t StockTarget) String() string {
	if t.VariantID != nil {
		return fmt.Sprintf("product %d variant %d", t.ProductID, *t.VariantID)
	}
	return fmt.Sprintf("product %d", t.ProductID)
}

// less orders targets for lock acquisition.
func (t StockTarget) less(o StockTarget) bool {
	if t.ProductID != o.ProductID {
		return t.ProductID < o.ProductID
	}
	return variantKey(t.VariantID) < variantKey(o.VariantID)
}

func variantKey(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

// StockChangeRequest is one ledger application.
type StockChangeRequest struct {
	Target    StockTarget
	Operation StockOperation
	Quantity  int
	Reason    string
	OrderID   *int
}

// StockChange is the result of one ledger application. Movement is nil for a no-op.
type StockChange struct {
	Target   StockTarget    `json:"target"`
	OldStock int            `json:"old_stock"`
	NewStock int            `json:"new_stock"`
	Change   int            `json:"change"`
	LowStock bool           `json:"low_stock"`
	Movement *StockMovement `json:"movement,omitempty"`
}

// StockLevel is a read model for stock screens and low-stock signaling.
type StockLevel struct {
	ProductID    int    `json:"product_id"`
	VariantID    *int   `json:"variant_id,omitempty"`
	Name         string `json:"name"`
	SKU          string `json:"sku"`
	Stock        int    `json:"stock"`
	MinStock     int    `json:"min_stock"`
	BelowMinimum bool   `json:"below_minimum"`
}
