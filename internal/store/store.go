package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"mercado/backend/internal/domain"
)

// Repository is the persistent store. Every ledger-affecting operation runs
// through WithTx; the remaining methods are read-side queries and reference
// data that carry no ledger invariants.
type Repository interface {
	// WithTx runs fn inside one transaction. A non-nil error from fn rolls
	// back every write fn made; the error is returned unchanged.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
	ListStockMovements(ctx context.Context, productID string) ([]domain.StockMovement, error)

	CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	ListPaymentMethods(ctx context.Context) ([]domain.PaymentMethod, error)
	EnsurePaymentMethod(ctx context.Context, method domain.PaymentMethod) (*domain.PaymentMethod, bool, error)

	GetOpenCashSession(ctx context.Context, userID string) (*domain.CashSession, error)
	GetCashSession(ctx context.Context, id string) (*domain.CashSession, error)
	ListCashMovements(ctx context.Context, sessionID string) ([]domain.CashMovement, error)
	ListCashCounts(ctx context.Context, sessionID string) ([]domain.CashCount, error)

	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	// ListSales returns one page of sale headers, newest first, and the
	// number of sales matching the filter.
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error)
	GetPurchase(ctx context.Context, id string) (*domain.Purchase, error)
	ListPurchases(ctx context.Context, filter domain.PurchaseFilter) ([]domain.Purchase, int, error)
	ListDiscards(ctx context.Context, filter domain.DiscardFilter) ([]domain.ProductDiscard, error)
	ListExpiringLots(ctx context.Context, until time.Time) ([]domain.ExpiringLot, error)

	GetInventorySession(ctx context.Context, id string) (*domain.InventorySession, error)
	ListInventoryCounts(ctx context.Context, sessionID string) ([]domain.InventoryCount, error)
	ListInventoryAdjustments(ctx context.Context, sessionID string) ([]domain.InventoryAdjustment, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
	// UpdateUser stores the role and active flag of the account with user.ID.
	UpdateUser(ctx context.Context, user domain.UserAccount) error
}

// Tx is the set of row-level operations available inside WithTx. Methods
// suffixed ForUpdate hold a row lock until the transaction ends.
type Tx interface {
	CreateProduct(ctx context.Context, product domain.Product) error
	GetProductForUpdate(ctx context.Context, id string) (*domain.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
	SetProductStock(ctx context.Context, id string, stock decimal.Decimal, at time.Time) error
	SetProductPurchasePrice(ctx context.Context, id string, price decimal.Decimal, at time.Time) error
	SetProductActive(ctx context.Context, id string, active bool, at time.Time) (*domain.Product, error)
	InsertStockMovement(ctx context.Context, movement domain.StockMovement) error

	CategoryExists(ctx context.Context, id string) (bool, error)
	SupplierExists(ctx context.Context, id string) (bool, error)
	CustomerExists(ctx context.Context, id string) (bool, error)
	GetPaymentMethod(ctx context.Context, id string) (*domain.PaymentMethod, error)

	// CreateCashSession fails with ErrSessionAlreadyOpen when the user already
	// has a session without closed_at.
	CreateCashSession(ctx context.Context, session domain.CashSession) error
	GetOpenCashSessionForUpdate(ctx context.Context, userID string) (*domain.CashSession, error)
	InsertCashMovement(ctx context.Context, movement domain.CashMovement) error
	ListCashMovements(ctx context.Context, sessionID string) ([]domain.CashMovement, error)
	CloseCashSession(ctx context.Context, session domain.CashSession, counts []domain.CashCount) error

	InsertSale(ctx context.Context, sale domain.Sale) error
	InsertSaleItem(ctx context.Context, item domain.SaleItem) error
	InsertSalePayment(ctx context.Context, payment domain.SalePayment) error

	InsertPurchase(ctx context.Context, purchase domain.Purchase) error
	InsertPurchaseItem(ctx context.Context, item domain.PurchaseItem) error
	GetPurchaseForUpdate(ctx context.Context, id string) (*domain.Purchase, error)
	MarkPurchaseReceived(ctx context.Context, id string, at time.Time) error

	InsertDiscard(ctx context.Context, discard domain.ProductDiscard) error

	CreateInventorySession(ctx context.Context, session domain.InventorySession) error
	GetInventorySessionForUpdate(ctx context.Context, id string) (*domain.InventorySession, error)
	// UpsertInventoryCount replaces any existing row for (session, product).
	UpsertInventoryCount(ctx context.Context, count domain.InventoryCount) (*domain.InventoryCount, error)
	ListInventoryCounts(ctx context.Context, sessionID string) ([]domain.InventoryCount, error)
	InsertInventoryAdjustment(ctx context.Context, adjustment domain.InventoryAdjustment) error
	CloseInventorySession(ctx context.Context, id string, at time.Time) error
}
