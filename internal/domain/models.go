package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	MoneyPlaces    int32 = 2
	QuantityPlaces int32 = 3
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

type Product struct {
	ID            string           `json:"id" db:"id"`
	Name          string           `json:"name" db:"name"`
	Barcode       *string          `json:"barcode,omitempty" db:"barcode"`
	CategoryID    string           `json:"category_id" db:"category_id"`
	SupplierID    *string          `json:"supplier_id,omitempty" db:"supplier_id"`
	Unit          string           `json:"unit" db:"unit"`
	PurchasePrice decimal.Decimal  `json:"purchase_price" db:"purchase_price"`
	SalePrice     decimal.Decimal  `json:"sale_price" db:"sale_price"`
	Stock         decimal.Decimal  `json:"stock" db:"stock"`
	MinStock      decimal.Decimal  `json:"min_stock" db:"min_stock"`
	MaxStock      *decimal.Decimal `json:"max_stock,omitempty" db:"max_stock"`
	Active        bool             `json:"active" db:"active"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at" db:"updated_at"`
}

type ProductCreateRequest struct {
	Name          string           `json:"name" validate:"required"`
	Barcode       string           `json:"barcode,omitempty"`
	CategoryID    string           `json:"category_id" validate:"required"`
	SupplierID    string           `json:"supplier_id,omitempty"`
	Unit          string           `json:"unit" validate:"required"`
	PurchasePrice decimal.Decimal  `json:"purchase_price" validate:"gt=0"`
	SalePrice     decimal.Decimal  `json:"sale_price" validate:"gt=0"`
	InitialStock  decimal.Decimal  `json:"initial_stock" validate:"gte=0"`
	MinStock      decimal.Decimal  `json:"min_stock" validate:"gte=0"`
	MaxStock      *decimal.Decimal `json:"max_stock,omitempty"`
}

type ProductActiveRequest struct {
	Active bool `json:"active"`
}

type Category struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Supplier struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Phone     string    `json:"phone,omitempty" db:"phone"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Customer struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Document  string    `json:"document,omitempty" db:"document"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type NamedCreateRequest struct {
	Name     string `json:"name" validate:"required"`
	Phone    string `json:"phone,omitempty"`
	Document string `json:"document,omitempty"`
}

type PaymentMethod struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	IsCash    bool      `json:"is_cash" db:"is_cash"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// Actor is the authenticated operator behind a request.
type Actor struct {
	ID       string
	Username string
	Role     string
}

type UserAccount struct {
	ID        string    `db:"id"`
	Username  string    `db:"username"`
	Password  string    `db:"password_hash"`
	Role      string    `db:"role"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// UserUpdateRequest changes an account's role or active flag. Nil fields are
// left as they are.
type UserUpdateRequest struct {
	Role   *string `json:"role,omitempty"`
	Active *bool   `json:"active,omitempty"`
}

type CashierUser struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
