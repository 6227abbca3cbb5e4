package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MovementType classifies a stock movement. Every stock change maps to exactly one.
type MovementType string

const (
	MovementReceipt    MovementType = "RECEIPT"
	MovementSaleIssue  MovementType = "SALE_ISSUE"
	MovementDiscard    MovementType = "DISCARD"
	MovementAdjustment MovementType = "ADJUSTMENT"
)

func (t MovementType) Valid() bool {
	switch t {
	case MovementReceipt, MovementSaleIssue, MovementDiscard, MovementAdjustment:
		return true
	default:
		return false
	}
}

// ReferenceType names the kind of document a movement originates from.
type ReferenceType string

const (
	ReferenceNone      ReferenceType = ""
	ReferencePurchase  ReferenceType = "purchase"
	ReferenceSale      ReferenceType = "sale"
	ReferenceDiscard   ReferenceType = "discard"
	ReferenceInventory ReferenceType = "inventory"
	ReferenceProduct   ReferenceType = "product"
)

type StockMovement struct {
	ID            string          `json:"id" db:"id"`
	ProductID     string          `json:"product_id" db:"product_id"`
	Type          MovementType    `json:"type" db:"type"`
	Quantity      decimal.Decimal `json:"quantity" db:"quantity"`
	PreviousStock decimal.Decimal `json:"previous_stock" db:"previous_stock"`
	NewStock      decimal.Decimal `json:"new_stock" db:"new_stock"`
	ReferenceID   *string         `json:"reference_id,omitempty" db:"reference_id"`
	ReferenceType ReferenceType   `json:"reference_type,omitempty" db:"reference_type"`
	Description   string          `json:"description" db:"description"`
	CreatedBy     string          `json:"created_by" db:"created_by"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

type StockMovementListResponse struct {
	ProductID string          `json:"product_id"`
	Stock     decimal.Decimal `json:"stock"`
	Movements []StockMovement `json:"movements"`
}
