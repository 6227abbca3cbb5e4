package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CashMovementType string

const (
	CashIn          CashMovementType = "IN"
	CashOut         CashMovementType = "OUT"
	CashSale        CashMovementType = "SALE"
	CashSaleNonCash CashMovementType = "SALE_NONCASH"
	CashRefund      CashMovementType = "REFUND"
)

// Manual reports whether operators may post this type directly.
func (t CashMovementType) Manual() bool {
	return t == CashIn || t == CashOut || t == CashRefund
}

type CashSession struct {
	ID             string           `json:"id" db:"id"`
	UserID         string           `json:"user_id" db:"user_id"`
	OpeningAmount  decimal.Decimal  `json:"opening_amount" db:"opening_amount"`
	ClosingAmount  *decimal.Decimal `json:"closing_amount,omitempty" db:"closing_amount"`
	ExpectedAmount *decimal.Decimal `json:"expected_amount,omitempty" db:"expected_amount"`
	Difference     *decimal.Decimal `json:"difference,omitempty" db:"difference"`
	Justification  *string          `json:"justification,omitempty" db:"justification"`
	OpenedAt       time.Time        `json:"opened_at" db:"opened_at"`
	ClosedAt       *time.Time       `json:"closed_at,omitempty" db:"closed_at"`
}

func (s CashSession) Open() bool {
	return s.ClosedAt == nil
}

type CashMovement struct {
	ID              string           `json:"id" db:"id"`
	SessionID       string           `json:"session_id" db:"session_id"`
	Type            CashMovementType `json:"type" db:"type"`
	Amount          decimal.Decimal  `json:"amount" db:"amount"`
	PaymentMethodID *string          `json:"payment_method_id,omitempty" db:"payment_method_id"`
	SaleID          *string          `json:"sale_id,omitempty" db:"sale_id"`
	Reason          string           `json:"reason,omitempty" db:"reason"`
	CreatedBy       string           `json:"created_by" db:"created_by"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
}

// CashCount is the amount an operator counted for one payment method at close.
type CashCount struct {
	SessionID       string          `json:"session_id" db:"session_id"`
	PaymentMethodID string          `json:"payment_method_id" db:"payment_method_id"`
	Counted         decimal.Decimal `json:"counted" db:"counted"`
	Expected        decimal.Decimal `json:"expected" db:"expected"`
	Difference      decimal.Decimal `json:"difference" db:"difference"`
}

type CashOpenRequest struct {
	OpeningAmount decimal.Decimal `json:"opening_amount" validate:"gte=0"`
}

type CashMovementRequest struct {
	SessionID string           `json:"session_id,omitempty"`
	Type      CashMovementType `json:"type" validate:"required,oneof=IN OUT REFUND"`
	Amount    decimal.Decimal  `json:"amount" validate:"gt=0"`
	Reason    string           `json:"reason,omitempty"`
}

type CashCountInput struct {
	PaymentMethodID string          `json:"payment_method_id" validate:"required"`
	Amount          decimal.Decimal `json:"amount" validate:"gte=0"`
}

type CashCloseRequest struct {
	Counts        []CashCountInput `json:"counts" validate:"dive"`
	Justification string           `json:"justification,omitempty"`
}

type CashTotals struct {
	In          decimal.Decimal `json:"in"`
	Out         decimal.Decimal `json:"out"`
	Sale        decimal.Decimal `json:"sale"`
	SaleNonCash decimal.Decimal `json:"sale_noncash"`
	Refund      decimal.Decimal `json:"refund"`
}

type CashSessionResponse struct {
	Session      CashSession     `json:"session"`
	Totals       CashTotals      `json:"totals"`
	ExpectedCash decimal.Decimal `json:"expected_cash"`
}

type CashCloseResponse struct {
	Session      CashSession     `json:"session"`
	ExpectedCash decimal.Decimal `json:"expected_cash"`
	CountedCash  decimal.Decimal `json:"counted_cash"`
	Difference   decimal.Decimal `json:"difference"`
	Counts       []CashCount     `json:"counts"`
}

type CashMethodTotal struct {
	PaymentMethodID string          `json:"payment_method_id"`
	Name            string          `json:"name"`
	IsCash          bool            `json:"is_cash"`
	Total           decimal.Decimal `json:"total"`
	Movements       int             `json:"movements"`
}

type CashReport struct {
	Session      CashSession       `json:"session"`
	Totals       CashTotals        `json:"totals"`
	ExpectedCash decimal.Decimal   `json:"expected_cash"`
	ByMethod     []CashMethodTotal `json:"by_method"`
	Counts       []CashCount       `json:"counts"`
	Movements    []CashMovement    `json:"movements"`
}
