package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type DiscardReason string

const (
	DiscardExpired      DiscardReason = "EXPIRED"
	DiscardDamaged      DiscardReason = "DAMAGED"
	DiscardQualityIssue DiscardReason = "QUALITY_ISSUE"
	DiscardOther        DiscardReason = "OTHER"
)

type ProductDiscard struct {
	ID          string          `json:"id" db:"id"`
	ProductID   string          `json:"product_id" db:"product_id"`
	ProductName string          `json:"product_name,omitempty" db:"product_name"`
	BatchID     *string         `json:"batch_id,omitempty" db:"batch_id"`
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`
	Reason      DiscardReason   `json:"reason" db:"reason"`
	Notes       *string         `json:"notes,omitempty" db:"notes"`
	DiscardedBy string          `json:"discarded_by" db:"discarded_by"`
	DiscardedAt time.Time       `json:"discarded_at" db:"discarded_at"`
}

type DiscardRequest struct {
	ProductID string          `json:"product_id" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity" validate:"gt=0"`
	Reason    DiscardReason   `json:"reason" validate:"required,oneof=EXPIRED DAMAGED QUALITY_ISSUE OTHER"`
	BatchID   string          `json:"batch_id,omitempty"`
	Notes     string          `json:"notes,omitempty"`
}

type DiscardResponse struct {
	Discard  ProductDiscard `json:"discard"`
	Movement StockMovement  `json:"movement"`
}

type DiscardFilter struct {
	From        *time.Time
	To          *time.Time
	Reason      DiscardReason
	ProductName string
}

type InventorySession struct {
	ID        string     `json:"id" db:"id"`
	Name      string     `json:"name" db:"name"`
	Notes     *string    `json:"notes,omitempty" db:"notes"`
	StartedBy string     `json:"started_by" db:"started_by"`
	StartedAt time.Time  `json:"started_at" db:"started_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty" db:"closed_at"`
}

func (s InventorySession) Closed() bool {
	return s.ClosedAt != nil
}

type InventoryCount struct {
	ID            string          `json:"id" db:"id"`
	SessionID     string          `json:"session_id" db:"session_id"`
	ProductID     string          `json:"product_id" db:"product_id"`
	CountedQty    decimal.Decimal `json:"counted_qty" db:"counted_qty"`
	PreviousStock decimal.Decimal `json:"previous_stock" db:"previous_stock"`
	Difference    decimal.Decimal `json:"difference" db:"difference"`
	CountedBy     string          `json:"counted_by" db:"counted_by"`
	CountedAt     time.Time       `json:"counted_at" db:"counted_at"`
}

type InventoryAdjustment struct {
	ID            string          `json:"id" db:"id"`
	SessionID     string          `json:"session_id" db:"session_id"`
	ProductID     string          `json:"product_id" db:"product_id"`
	MovementID    string          `json:"movement_id" db:"movement_id"`
	PreviousStock decimal.Decimal `json:"previous_stock" db:"previous_stock"`
	CountedQty    decimal.Decimal `json:"counted_qty" db:"counted_qty"`
	Difference    decimal.Decimal `json:"difference" db:"difference"`
	CreatedBy     string          `json:"created_by" db:"created_by"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

type InventoryStartRequest struct {
	Name  string `json:"name" validate:"required"`
	Notes string `json:"notes,omitempty"`
}

type InventoryCountRequest struct {
	ProductID  string          `json:"product_id" validate:"required"`
	CountedQty decimal.Decimal `json:"counted_qty" validate:"gte=0"`
}

// CountSheetRow is one line of an imported count spreadsheet. Either ProductID
// or Barcode identifies the product.
type CountSheetRow struct {
	Line       int
	ProductID  string
	Barcode    string
	CountedQty decimal.Decimal
}

type InventorySessionResponse struct {
	Session     InventorySession      `json:"session"`
	Counts      []InventoryCount      `json:"counts"`
	Adjustments []InventoryAdjustment `json:"adjustments"`
}

type InventoryFinalizeResponse struct {
	Session     InventorySession      `json:"session"`
	Adjustments []InventoryAdjustment `json:"adjustments"`
	Movements   []StockMovement       `json:"movements"`
	Skipped     int                   `json:"skipped"`
}
