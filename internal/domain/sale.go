package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Sale struct {
	ID             string          `json:"id" db:"id"`
	SaleNumber     string          `json:"sale_number" db:"sale_number"`
	CustomerID     *string         `json:"customer_id,omitempty" db:"customer_id"`
	TotalAmount    decimal.Decimal `json:"total_amount" db:"total_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount" db:"discount_amount"`
	FinalAmount    decimal.Decimal `json:"final_amount" db:"final_amount"`
	PaidAmount     decimal.Decimal `json:"paid_amount" db:"paid_amount"`
	ChangeAmount   decimal.Decimal `json:"change_amount" db:"change_amount"`
	CashSessionID  *string         `json:"cash_session_id,omitempty" db:"cash_session_id"`
	CreatedBy      string          `json:"created_by" db:"created_by"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	Items          []SaleItem      `json:"items" db:"-"`
	Payments       []SalePayment   `json:"payments" db:"-"`
}

type SaleItem struct {
	ID         string          `json:"id" db:"id"`
	SaleID     string          `json:"sale_id" db:"sale_id"`
	ProductID  string          `json:"product_id" db:"product_id"`
	Quantity   decimal.Decimal `json:"quantity" db:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price" db:"unit_price"`
	Discount   decimal.Decimal `json:"discount" db:"discount"`
	TotalPrice decimal.Decimal `json:"total_price" db:"total_price"`
}

type SalePayment struct {
	ID              string          `json:"id" db:"id"`
	SaleID          string          `json:"sale_id" db:"sale_id"`
	PaymentMethodID string          `json:"payment_method_id" db:"payment_method_id"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
}

type SaleItemInput struct {
	ProductID  string          `json:"product_id" validate:"required"`
	Quantity   decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitPrice  decimal.Decimal `json:"unit_price" validate:"gt=0"`
	Discount   decimal.Decimal `json:"discount" validate:"gte=0"`
	TotalPrice decimal.Decimal `json:"total_price" validate:"gt=0"`
}

type SalePaymentInput struct {
	PaymentMethodID string          `json:"payment_method_id" validate:"required"`
	Amount          decimal.Decimal `json:"amount" validate:"gt=0"`
}

type SaleCreateRequest struct {
	CustomerID     string             `json:"customer_id,omitempty"`
	Items          []SaleItemInput    `json:"items" validate:"required,min=1,dive"`
	Payments       []SalePaymentInput `json:"payments" validate:"required,min=1,dive"`
	DiscountAmount decimal.Decimal    `json:"discount_amount" validate:"gte=0"`
}

type SaleResponse struct {
	Sale          Sale           `json:"sale"`
	CashMovements []CashMovement `json:"cash_movements,omitempty"`
}

// SaleFilter narrows a sale listing. Page is 1-based; CreatedBy restricts the
// listing to one operator's sales.
type SaleFilter struct {
	From            *time.Time
	To              *time.Time
	CustomerID      string
	PaymentMethodID string
	CreatedBy       string
	Page            int
	PageSize        int
}

type SaleListResponse struct {
	Sales    []Sale `json:"sales"`
	Total    int    `json:"total"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}
