package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Purchase struct {
	ID            string          `json:"id" db:"id"`
	SupplierID    string          `json:"supplier_id" db:"supplier_id"`
	InvoiceNumber *string         `json:"invoice_number,omitempty" db:"invoice_number"`
	DocumentKey   *string         `json:"document_key,omitempty" db:"document_key"`
	TotalAmount   decimal.Decimal `json:"total_amount" db:"total_amount"`
	PurchaseDate  time.Time       `json:"purchase_date" db:"purchase_date"`
	IsDraft       bool            `json:"is_draft" db:"is_draft"`
	Notes         *string         `json:"notes,omitempty" db:"notes"`
	ReceivedAt    *time.Time      `json:"received_at,omitempty" db:"received_at"`
	CreatedBy     string          `json:"created_by" db:"created_by"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	Items         []PurchaseItem  `json:"items" db:"-"`
}

type PurchaseItem struct {
	ID                string          `json:"id" db:"id"`
	PurchaseID        string          `json:"purchase_id" db:"purchase_id"`
	ProductID         string          `json:"product_id" db:"product_id"`
	Quantity          decimal.Decimal `json:"quantity" db:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price" db:"unit_price"`
	TotalPrice        decimal.Decimal `json:"total_price" db:"total_price"`
	Batch             *string         `json:"batch,omitempty" db:"batch"`
	ManufacturingDate *time.Time      `json:"manufacturing_date,omitempty" db:"manufacturing_date"`
	ExpirationDate    *time.Time      `json:"expiration_date,omitempty" db:"expiration_date"`
}

type PurchaseItemInput struct {
	ProductID         string          `json:"product_id" validate:"required"`
	Quantity          decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitPrice         decimal.Decimal `json:"unit_price" validate:"gt=0"`
	Batch             string          `json:"batch,omitempty"`
	ManufacturingDate *time.Time      `json:"manufacturing_date,omitempty"`
	ExpirationDate    *time.Time      `json:"expiration_date,omitempty"`
}

type PurchaseCreateRequest struct {
	SupplierID    string              `json:"supplier_id" validate:"required"`
	InvoiceNumber string              `json:"invoice_number,omitempty"`
	PurchaseDate  *time.Time          `json:"purchase_date,omitempty"`
	Notes         string              `json:"notes,omitempty"`
	Items         []PurchaseItemInput `json:"items" validate:"required,min=1,dive"`
}

// ExternalDocument is the header of a supplier electronic invoice (NF-e) whose
// lines were already mapped to internal products by the caller.
type ExternalDocument struct {
	Number    string     `json:"number" validate:"required"`
	Series    string     `json:"series,omitempty"`
	AccessKey string     `json:"access_key" validate:"required"`
	IssuedAt  *time.Time `json:"issued_at,omitempty"`
}

type PurchaseDocumentRequest struct {
	SupplierID string              `json:"supplier_id" validate:"required"`
	Document   ExternalDocument    `json:"document"`
	Notes      string              `json:"notes,omitempty"`
	Items      []PurchaseItemInput `json:"items" validate:"required,min=1,dive"`
}

type PurchaseResponse struct {
	Purchase  Purchase        `json:"purchase"`
	Movements []StockMovement `json:"movements,omitempty"`
}

type PurchaseSuggestion struct {
	ProductID    string          `json:"product_id"`
	Name         string          `json:"name"`
	Barcode      *string         `json:"barcode,omitempty"`
	CategoryID   string          `json:"category_id"`
	SupplierID   *string         `json:"supplier_id,omitempty"`
	Stock        decimal.Decimal `json:"stock"`
	MinStock     decimal.Decimal `json:"min_stock"`
	MaxStock     decimal.Decimal `json:"max_stock"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	SuggestedQty decimal.Decimal `json:"suggested_qty"`
}

type SuggestionFilter struct {
	CategoryID string `json:"category_id,omitempty"`
	SupplierID string `json:"supplier_id,omitempty"`
}

type PurchaseSuggestionResponse struct {
	Suggestions []PurchaseSuggestion `json:"suggestions"`
	GeneratedAt time.Time            `json:"generated_at"`
}

// ExpiringLot is a received purchase line with an expiration date, joined with
// its product's live stock.
type ExpiringLot struct {
	PurchaseItemID    string          `db:"purchase_item_id"`
	ProductID         string          `db:"product_id"`
	ProductName       string          `db:"product_name"`
	CategoryName      *string         `db:"category_name"`
	Batch             *string         `db:"batch"`
	Quantity          decimal.Decimal `db:"quantity"`
	ProductStock      decimal.Decimal `db:"product_stock"`
	ManufacturingDate *time.Time      `db:"manufacturing_date"`
	ExpirationDate    time.Time       `db:"expiration_date"`
}

const (
	ExpiryExpired  = "EXPIRED"
	ExpiryCritical = "CRITICAL"
	ExpiryWarning  = "WARNING"
)

type ExpiringProduct struct {
	PurchaseItemID    string          `json:"purchase_item_id"`
	ProductID         string          `json:"product_id"`
	ProductName       string          `json:"product_name"`
	CategoryName      string          `json:"category_name"`
	Batch             string          `json:"batch"`
	Quantity          decimal.Decimal `json:"quantity"`
	CurrentStock      decimal.Decimal `json:"current_stock"`
	ManufacturingDate *time.Time      `json:"manufacturing_date,omitempty"`
	ExpirationDate    time.Time       `json:"expiration_date"`
	DaysUntilExpiry   int             `json:"days_until_expiry"`
	Status            string          `json:"status"`
}

type ExpiringProductResponse struct {
	Days        int               `json:"days"`
	Items       []ExpiringProduct `json:"items"`
	GeneratedAt time.Time         `json:"generated_at"`
}

type PurchaseStatus string

const (
	PurchaseAny      PurchaseStatus = ""
	PurchaseDraft    PurchaseStatus = "draft"
	PurchaseReceived PurchaseStatus = "received"
)

type PurchaseFilter struct {
	From       *time.Time
	To         *time.Time
	SupplierID string
	Status     PurchaseStatus
	Page       int
	PageSize   int
}

type PurchaseListResponse struct {
	Purchases []Purchase `json:"purchases"`
	Total     int        `json:"total"`
	Page      int        `json:"page"`
	PageSize  int        `json:"page_size"`
}
