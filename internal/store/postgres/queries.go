package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"mercado/backend/internal/domain"
	"mercado/backend/internal/store"
)

const productColumns = `id, name, barcode, category_id, supplier_id, unit, purchase_price, sale_price,
	stock, min_stock, max_stock, active, created_at, updated_at`

const movementColumns = `id, product_id, type, quantity, previous_stock, new_stock, reference_id,
	reference_type, description, created_by, created_at`

const cashSessionColumns = `id, user_id, opening_amount, closing_amount, expected_amount, difference,
	justification, opened_at, closed_at`

const cashMovementColumns = `id, session_id, type, amount, payment_method_id, sale_id, reason, created_by, created_at`

const purchaseColumns = `id, supplier_id, invoice_number, document_key, total_amount, purchase_date, is_draft,
	notes, received_at, created_by, created_at`

const purchaseItemColumns = `id, purchase_id, product_id, quantity, unit_price, total_price, batch,
	manufacturing_date, expiration_date`

const inventoryCountColumns = `id, session_id, product_id, counted_qty, previous_stock, difference, counted_by, counted_at`

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products := make([]domain.Product, 0, 128)
	err := s.db.SelectContext(ctx, &products, `
		SELECT `+productColumns+`
		FROM products
		ORDER BY category_id, name
	`)
	if err != nil {
		return nil, classify(err)
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.GetContext(ctx, &product, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("product", id)
		}
		return nil, classify(err)
	}
	return &product, nil
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.GetContext(ctx, &product, `SELECT `+productColumns+` FROM products WHERE barcode = $1`, barcode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("product with barcode", barcode)
		}
		return nil, classify(err)
	}
	return &product, nil
}

func (s *Store) ListStockMovements(ctx context.Context, productID string) ([]domain.StockMovement, error) {
	if _, err := s.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	movements := make([]domain.StockMovement, 0, 32)
	err := s.db.SelectContext(ctx, &movements, `
		SELECT `+movementColumns+`
		FROM stock_movements
		WHERE product_id = $1
		ORDER BY created_at, id
	`, productID)
	if err != nil {
		return nil, classify(err)
	}
	return movements, nil
}

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO categories (id, name, created_at)
		VALUES (:id, :name, :created_at)
	`, category)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.Invalid("name", "category already exists")
		}
		return nil, classify(err)
	}
	return &category, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	categories := make([]domain.Category, 0, 16)
	if err := s.db.SelectContext(ctx, &categories, `SELECT id, name, created_at FROM categories ORDER BY name`); err != nil {
		return nil, classify(err)
	}
	return categories, nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO suppliers (id, name, phone, created_at)
		VALUES (:id, :name, :phone, :created_at)
	`, supplier)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.Invalid("name", "supplier already exists")
		}
		return nil, classify(err)
	}
	return &supplier, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	suppliers := make([]domain.Supplier, 0, 16)
	if err := s.db.SelectContext(ctx, &suppliers, `SELECT id, name, phone, created_at FROM suppliers ORDER BY name`); err != nil {
		return nil, classify(err)
	}
	return suppliers, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO customers (id, name, document, created_at)
		VALUES (:id, :name, :document, :created_at)
	`, customer)
	if err != nil {
		return nil, classify(err)
	}
	return &customer, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	customers := make([]domain.Customer, 0, 32)
	if err := s.db.SelectContext(ctx, &customers, `SELECT id, name, document, created_at FROM customers ORDER BY name`); err != nil {
		return nil, classify(err)
	}
	return customers, nil
}

func (s *Store) ListPaymentMethods(ctx context.Context) ([]domain.PaymentMethod, error) {
	methods := make([]domain.PaymentMethod, 0, 8)
	err := s.db.SelectContext(ctx, &methods, `
		SELECT id, name, is_cash, active, created_at
		FROM payment_methods
		ORDER BY name
	`)
	if err != nil {
		return nil, classify(err)
	}
	return methods, nil
}

// EnsurePaymentMethod inserts method unless one with the same name (case
// insensitive) exists, in which case the existing row is returned.
func (s *Store) EnsurePaymentMethod(ctx context.Context, method domain.PaymentMethod) (*domain.PaymentMethod, bool, error) {
	existing, err := s.paymentMethodByName(ctx, method.Name)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO payment_methods (id, name, is_cash, active, created_at)
		VALUES (:id, :name, :is_cash, :active, :created_at)
	`, method)
	if err != nil {
		if isUniqueViolation(err) {
			existing, lookupErr := s.paymentMethodByName(ctx, method.Name)
			return existing, false, lookupErr
		}
		return nil, false, classify(err)
	}
	return &method, true, nil
}

func (s *Store) paymentMethodByName(ctx context.Context, name string) (*domain.PaymentMethod, error) {
	var method domain.PaymentMethod
	err := s.db.GetContext(ctx, &method, `
		SELECT id, name, is_cash, active, created_at
		FROM payment_methods
		WHERE lower(name) = lower($1)
	`, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("payment method", name)
		}
		return nil, classify(err)
	}
	return &method, nil
}

func (s *Store) GetOpenCashSession(ctx context.Context, userID string) (*domain.CashSession, error) {
	var session domain.CashSession
	err := s.db.GetContext(ctx, &session, `
		SELECT `+cashSessionColumns+`
		FROM cash_sessions
		WHERE user_id = $1 AND closed_at IS NULL
	`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("open cash session for user", userID)
		}
		return nil, classify(err)
	}
	return &session, nil
}

func (s *Store) GetCashSession(ctx context.Context, id string) (*domain.CashSession, error) {
	var session domain.CashSession
	err := s.db.GetContext(ctx, &session, `SELECT `+cashSessionColumns+` FROM cash_sessions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("cash session", id)
		}
		return nil, classify(err)
	}
	return &session, nil
}

func (s *Store) ListCashMovements(ctx context.Context, sessionID string) ([]domain.CashMovement, error) {
	return listCashMovements(ctx, s.db, sessionID)
}

func listCashMovements(ctx context.Context, q sqlxQueryer, sessionID string) ([]domain.CashMovement, error) {
	movements := make([]domain.CashMovement, 0, 32)
	err := q.SelectContext(ctx, &movements, `
		SELECT `+cashMovementColumns+`
		FROM cash_movements
		WHERE session_id = $1
		ORDER BY created_at, id
	`, sessionID)
	if err != nil {
		return nil, classify(err)
	}
	return movements, nil
}

func (s *Store) ListCashCounts(ctx context.Context, sessionID string) ([]domain.CashCount, error) {
	counts := make([]domain.CashCount, 0, 4)
	err := s.db.SelectContext(ctx, &counts, `
		SELECT session_id, payment_method_id, counted, expected, difference
		FROM cash_session_counts
		WHERE session_id = $1
		ORDER BY payment_method_id
	`, sessionID)
	if err != nil {
		return nil, classify(err)
	}
	return counts, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	err := s.db.GetContext(ctx, &sale, `
		SELECT id, sale_number, customer_id, total_amount, discount_amount, final_amount,
			paid_amount, change_amount, cash_session_id, created_by, created_at
		FROM sales
		WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("sale", id)
		}
		return nil, classify(err)
	}

	sale.Items = make([]domain.SaleItem, 0, 4)
	err = s.db.SelectContext(ctx, &sale.Items, `
		SELECT id, sale_id, product_id, quantity, unit_price, discount, total_price
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, classify(err)
	}

	sale.Payments = make([]domain.SalePayment, 0, 2)
	err = s.db.SelectContext(ctx, &sale.Payments, `
		SELECT id, sale_id, payment_method_id, amount
		FROM sale_payments
		WHERE sale_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, classify(err)
	}
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error) {
	where := newConditions()
	if filter.From != nil {
		where.add("s.created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		where.add("s.created_at <= $%d", *filter.To)
	}
	if filter.CustomerID != "" {
		where.add("s.customer_id = $%d", filter.CustomerID)
	}
	if filter.PaymentMethodID != "" {
		where.add("EXISTS (SELECT 1 FROM sale_payments sp WHERE sp.sale_id = s.id AND sp.payment_method_id = $%d)", filter.PaymentMethodID)
	}
	if filter.CreatedBy != "" {
		where.add("s.created_by = $%d", filter.CreatedBy)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT count(*) FROM sales s`+where.sql(), where.args...); err != nil {
		return nil, 0, classify(err)
	}

	sales := make([]domain.Sale, 0, max(filter.PageSize, 16))
	err := s.db.SelectContext(ctx, &sales, `
		SELECT s.id, s.sale_number, s.customer_id, s.total_amount, s.discount_amount, s.final_amount,
			s.paid_amount, s.change_amount, s.cash_session_id, s.created_by, s.created_at
		FROM sales s`+where.sql()+`
		ORDER BY s.created_at DESC, s.id DESC`+where.page(filter.Page, filter.PageSize), where.args...)
	if err != nil {
		return nil, 0, classify(err)
	}
	return sales, total, nil
}

func (s *Store) GetPurchase(ctx context.Context, id string) (*domain.Purchase, error) {
	return getPurchase(ctx, s.db, id, "")
}

func getPurchase(ctx context.Context, q sqlxQueryer, id string, lock string) (*domain.Purchase, error) {
	var purchase domain.Purchase
	err := q.GetContext(ctx, &purchase, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1 `+lock, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("purchase", id)
		}
		return nil, classify(err)
	}

	purchase.Items = make([]domain.PurchaseItem, 0, 8)
	err = q.SelectContext(ctx, &purchase.Items, `
		SELECT `+purchaseItemColumns+`
		FROM purchase_items
		WHERE purchase_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, classify(err)
	}
	return &purchase, nil
}

func (s *Store) ListPurchases(ctx context.Context, filter domain.PurchaseFilter) ([]domain.Purchase, int, error) {
	where := newConditions()
	if filter.From != nil {
		where.add("purchase_date >= $%d", *filter.From)
	}
	if filter.To != nil {
		where.add("purchase_date <= $%d", *filter.To)
	}
	if filter.SupplierID != "" {
		where.add("supplier_id = $%d", filter.SupplierID)
	}
	switch filter.Status {
	case domain.PurchaseDraft:
		where.add("is_draft = $%d", true)
	case domain.PurchaseReceived:
		where.add("is_draft = $%d", false)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT count(*) FROM purchases`+where.sql(), where.args...); err != nil {
		return nil, 0, classify(err)
	}

	purchases := make([]domain.Purchase, 0, max(filter.PageSize, 16))
	err := s.db.SelectContext(ctx, &purchases, `
		SELECT `+purchaseColumns+`
		FROM purchases`+where.sql()+`
		ORDER BY purchase_date DESC, id DESC`+where.page(filter.Page, filter.PageSize), where.args...)
	if err != nil {
		return nil, 0, classify(err)
	}
	return purchases, total, nil
}

func (s *Store) ListDiscards(ctx context.Context, filter domain.DiscardFilter) ([]domain.ProductDiscard, error) {
	where := newConditions()
	if filter.From != nil {
		where.add("d.discarded_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		where.add("d.discarded_at <= $%d", *filter.To)
	}
	if filter.Reason != "" {
		where.add("d.reason = $%d", string(filter.Reason))
	}
	if name := strings.TrimSpace(filter.ProductName); name != "" {
		where.add("p.name ILIKE $%d", "%"+name+"%")
	}

	discards := make([]domain.ProductDiscard, 0, 32)
	err := s.db.SelectContext(ctx, &discards, `
		SELECT d.id, d.product_id, p.name AS product_name, d.batch_id, d.quantity, d.reason,
			d.notes, d.discarded_by, d.discarded_at
		FROM product_discards d
		JOIN products p ON p.id = d.product_id`+where.sql()+`
		ORDER BY d.discarded_at DESC, d.id`, where.args...)
	if err != nil {
		return nil, classify(err)
	}
	return discards, nil
}

func (s *Store) ListExpiringLots(ctx context.Context, until time.Time) ([]domain.ExpiringLot, error) {
	lots := make([]domain.ExpiringLot, 0, 32)
	err := s.db.SelectContext(ctx, &lots, `
		SELECT pi.id AS purchase_item_id, pi.product_id, p.name AS product_name, c.name AS category_name,
			pi.batch, pi.quantity, p.stock AS product_stock, pi.manufacturing_date, pi.expiration_date
		FROM purchase_items pi
		JOIN purchases pu ON pu.id = pi.purchase_id
		JOIN products p ON p.id = pi.product_id
		LEFT JOIN categories c ON c.id = p.category_id
		WHERE pi.expiration_date IS NOT NULL
			AND pi.expiration_date <= $1
			AND pu.is_draft = false
		ORDER BY pi.expiration_date, p.name
	`, until)
	if err != nil {
		return nil, classify(err)
	}
	return lots, nil
}

func (s *Store) GetInventorySession(ctx context.Context, id string) (*domain.InventorySession, error) {
	return getInventorySession(ctx, s.db, id, "")
}

func getInventorySession(ctx context.Context, q sqlxQueryer, id string, lock string) (*domain.InventorySession, error) {
	var session domain.InventorySession
	err := q.GetContext(ctx, &session, `
		SELECT id, name, notes, started_by, started_at, closed_at
		FROM inventory_sessions
		WHERE id = $1 `+lock, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("inventory session", id)
		}
		return nil, classify(err)
	}
	return &session, nil
}

func (s *Store) ListInventoryCounts(ctx context.Context, sessionID string) ([]domain.InventoryCount, error) {
	return listInventoryCounts(ctx, s.db, sessionID)
}

func listInventoryCounts(ctx context.Context, q sqlxQueryer, sessionID string) ([]domain.InventoryCount, error) {
	counts := make([]domain.InventoryCount, 0, 64)
	err := q.SelectContext(ctx, &counts, `
		SELECT `+inventoryCountColumns+`
		FROM inventory_counts
		WHERE session_id = $1
		ORDER BY product_id
	`, sessionID)
	if err != nil {
		return nil, classify(err)
	}
	return counts, nil
}

func (s *Store) ListInventoryAdjustments(ctx context.Context, sessionID string) ([]domain.InventoryAdjustment, error) {
	adjustments := make([]domain.InventoryAdjustment, 0, 32)
	err := s.db.SelectContext(ctx, &adjustments, `
		SELECT id, session_id, product_id, movement_id, previous_stock, counted_qty, difference, created_by, created_at
		FROM inventory_adjustments
		WHERE session_id = $1
		ORDER BY product_id
	`, sessionID)
	if err != nil {
		return nil, classify(err)
	}
	return adjustments, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" {
		return store.Invalid("username", "is required")
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role, active, created_at)
		VALUES (:id, :username, :password_hash, :role, :active, :created_at)
	`, user)
	if err != nil {
		if isUniqueViolation(err) {
			return store.Invalid("username", "already exists")
		}
		return classify(err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	users := make([]domain.UserAccount, 0, 16)
	err := s.db.SelectContext(ctx, &users, `
		SELECT id, username, password_hash, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, classify(err)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = $2 WHERE username = $1`, username, password)
	if err != nil {
		return classify(err)
	}
	return affectedOne(res, store.NotFound("user", username))
}

func (s *Store) UpdateUser(ctx context.Context, user domain.UserAccount) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET role = $2, active = $3 WHERE id = $1`, user.ID, user.Role, user.Active)
	if err != nil {
		return classify(err)
	}
	return affectedOne(res, store.NotFound("user", user.ID))
}

// conditions accumulates numbered WHERE clauses for the listing queries.
type conditions struct {
	clauses []string
	args    []any
}

func newConditions() *conditions {
	return &conditions{clauses: make([]string, 0, 4), args: make([]any, 0, 6)}
}

func (c *conditions) add(clause string, arg any) {
	c.args = append(c.args, arg)
	c.clauses = append(c.clauses, fmt.Sprintf(clause, len(c.args)))
}

func (c *conditions) sql() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return "\n\t\tWHERE " + strings.Join(c.clauses, " AND ")
}

// page renders LIMIT/OFFSET for a 1-based page. A non-positive size means no
// limit.
func (c *conditions) page(page int, size int) string {
	if size <= 0 {
		return ""
	}
	return fmt.Sprintf("\n\t\tLIMIT %d OFFSET %d", size, (max(page, 1)-1)*size)
}

// sqlxQueryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type sqlxQueryer interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}
