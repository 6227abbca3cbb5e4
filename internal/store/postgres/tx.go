package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"mercado/backend/internal/domain"
	"mercado/backend/internal/store"
)

type pgTx struct {
	tx *sqlx.Tx
}

var _ store.Tx = (*pgTx)(nil)

func (t *pgTx) CreateProduct(ctx context.Context, product domain.Product) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO products (
			id, name, barcode, category_id, supplier_id, unit, purchase_price, sale_price,
			stock, min_stock, max_stock, active, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, product.ID, product.Name, nullString(product.Barcode), product.CategoryID, nullString(product.SupplierID),
		product.Unit, product.PurchasePrice, product.SalePrice, product.Stock, product.MinStock, product.MaxStock,
		product.Active, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		switch {
		case isUniqueViolation(err) && constraintName(err) == "products_barcode_key":
			return store.Invalid("barcode", "already registered")
		case isUniqueViolation(err):
			return store.Invalid("id", "product already exists")
		case isForeignKeyViolation(err):
			return store.Invalid("category_id", "references an unknown category or supplier")
		}
		return err
	}
	return nil
}

func (t *pgTx) GetProductForUpdate(ctx context.Context, id string) (*domain.Product, error) {
	var product domain.Product
	err := t.tx.GetContext(ctx, &product, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("product", id)
		}
		return nil, err
	}
	return &product, nil
}

func (t *pgTx) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	var product domain.Product
	err := t.tx.GetContext(ctx, &product, `SELECT `+productColumns+` FROM products WHERE barcode = $1`, barcode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("product with barcode", barcode)
		}
		return nil, err
	}
	return &product, nil
}

func (t *pgTx) SetProductStock(ctx context.Context, id string, stock decimal.Decimal, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE products SET stock = $2, updated_at = $3 WHERE id = $1`, id, stock, at)
	if err != nil {
		if isCheckViolation(err) {
			return &store.InsufficientStockError{ProductID: id, Requested: stock.Neg()}
		}
		return err
	}
	return affectedOne(res, store.NotFound("product", id))
}

func (t *pgTx) SetProductPurchasePrice(ctx context.Context, id string, price decimal.Decimal, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE products SET purchase_price = $2, updated_at = $3 WHERE id = $1`, id, price, at)
	if err != nil {
		return err
	}
	return affectedOne(res, store.NotFound("product", id))
}

func (t *pgTx) SetProductActive(ctx context.Context, id string, active bool, at time.Time) (*domain.Product, error) {
	var product domain.Product
	err := t.tx.GetContext(ctx, &product, `
		UPDATE products SET active = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+productColumns, id, active, at)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("product", id)
		}
		return nil, err
	}
	return &product, nil
}

func (t *pgTx) InsertStockMovement(ctx context.Context, m domain.StockMovement) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock_movements (`+movementColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, m.ID, m.ProductID, string(m.Type), m.Quantity, m.PreviousStock, m.NewStock, nullString(m.ReferenceID),
		string(m.ReferenceType), m.Description, m.CreatedBy, m.CreatedAt)
	return err
}

func (t *pgTx) exists(ctx context.Context, query string, id string) (bool, error) {
	var found bool
	if err := t.tx.GetContext(ctx, &found, query, id); err != nil {
		return false, err
	}
	return found, nil
}

func (t *pgTx) CategoryExists(ctx context.Context, id string) (bool, error) {
	return t.exists(ctx, `SELECT EXISTS (SELECT 1 FROM categories WHERE id = $1)`, id)
}

func (t *pgTx) SupplierExists(ctx context.Context, id string) (bool, error) {
	return t.exists(ctx, `SELECT EXISTS (SELECT 1 FROM suppliers WHERE id = $1)`, id)
}

func (t *pgTx) CustomerExists(ctx context.Context, id string) (bool, error) {
	return t.exists(ctx, `SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1)`, id)
}

func (t *pgTx) GetPaymentMethod(ctx context.Context, id string) (*domain.PaymentMethod, error) {
	var method domain.PaymentMethod
	err := t.tx.GetContext(ctx, &method, `
		SELECT id, name, is_cash, active, created_at
		FROM payment_methods
		WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("payment method", id)
		}
		return nil, err
	}
	return &method, nil
}

func (t *pgTx) CreateCashSession(ctx context.Context, session domain.CashSession) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO cash_sessions (id, user_id, opening_amount, opened_at)
		VALUES ($1,$2,$3,$4)
	`, session.ID, session.UserID, session.OpeningAmount, session.OpenedAt)
	if err != nil {
		if isUniqueViolation(err) && constraintName(err) == "cash_sessions_one_open_per_user" {
			return store.ErrSessionAlreadyOpen
		}
		return err
	}
	return nil
}

func (t *pgTx) GetOpenCashSessionForUpdate(ctx context.Context, userID string) (*domain.CashSession, error) {
	var session domain.CashSession
	err := t.tx.GetContext(ctx, &session, `
		SELECT `+cashSessionColumns+`
		FROM cash_sessions
		WHERE user_id = $1 AND closed_at IS NULL
		FOR UPDATE
	`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("open cash session for user", userID)
		}
		return nil, err
	}
	return &session, nil
}

func (t *pgTx) InsertCashMovement(ctx context.Context, m domain.CashMovement) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO cash_movements (`+cashMovementColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, m.ID, m.SessionID, string(m.Type), m.Amount, nullString(m.PaymentMethodID), nullString(m.SaleID),
		m.Reason, m.CreatedBy, m.CreatedAt)
	return err
}

func (t *pgTx) ListCashMovements(ctx context.Context, sessionID string) ([]domain.CashMovement, error) {
	return listCashMovements(ctx, t.tx, sessionID)
}

func (t *pgTx) CloseCashSession(ctx context.Context, session domain.CashSession, counts []domain.CashCount) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE cash_sessions
		SET closing_amount = $2, expected_amount = $3, difference = $4, justification = $5, closed_at = $6
		WHERE id = $1 AND closed_at IS NULL
	`, session.ID, session.ClosingAmount, session.ExpectedAmount, session.Difference,
		nullString(session.Justification), nullTime(session.ClosedAt))
	if err != nil {
		return err
	}
	if err := affectedOne(res, store.ErrSessionClosed); err != nil {
		return err
	}

	for _, count := range counts {
		_, err := t.tx.NamedExecContext(ctx, `
			INSERT INTO cash_session_counts (session_id, payment_method_id, counted, expected, difference)
			VALUES (:session_id, :payment_method_id, :counted, :expected, :difference)
		`, count)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, sale_number, customer_id, total_amount, discount_amount, final_amount,
			paid_amount, change_amount, cash_session_id, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, sale.ID, sale.SaleNumber, nullString(sale.CustomerID), sale.TotalAmount, sale.DiscountAmount, sale.FinalAmount,
		sale.PaidAmount, sale.ChangeAmount, nullString(sale.CashSessionID), sale.CreatedBy, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrSaleNumberTaken
		}
		return err
	}
	return nil
}

func (t *pgTx) InsertSaleItem(ctx context.Context, item domain.SaleItem) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO sale_items (id, sale_id, product_id, quantity, unit_price, discount, total_price)
		VALUES (:id, :sale_id, :product_id, :quantity, :unit_price, :discount, :total_price)
	`, item)
	return err
}

func (t *pgTx) InsertSalePayment(ctx context.Context, payment domain.SalePayment) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO sale_payments (id, sale_id, payment_method_id, amount)
		VALUES (:id, :sale_id, :payment_method_id, :amount)
	`, payment)
	return err
}

func (t *pgTx) InsertPurchase(ctx context.Context, p domain.Purchase) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO purchases (`+purchaseColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, p.ID, p.SupplierID, nullString(p.InvoiceNumber), nullString(p.DocumentKey), p.TotalAmount, p.PurchaseDate,
		p.IsDraft, nullString(p.Notes), nullTime(p.ReceivedAt), p.CreatedBy, p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) && constraintName(err) == "purchases_document_key_key" {
			return store.Invalid("document.access_key", "document already imported")
		}
		if isForeignKeyViolation(err) {
			return store.NotFound("supplier", p.SupplierID)
		}
		return err
	}
	return nil
}

func (t *pgTx) InsertPurchaseItem(ctx context.Context, item domain.PurchaseItem) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO purchase_items (`+purchaseItemColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, item.ID, item.PurchaseID, item.ProductID, item.Quantity, item.UnitPrice, item.TotalPrice,
		nullString(item.Batch), nullTime(item.ManufacturingDate), nullTime(item.ExpirationDate))
	return err
}

func (t *pgTx) GetPurchaseForUpdate(ctx context.Context, id string) (*domain.Purchase, error) {
	return getPurchase(ctx, t.tx, id, "FOR UPDATE")
}

func (t *pgTx) MarkPurchaseReceived(ctx context.Context, id string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE purchases SET is_draft = false, received_at = $2
		WHERE id = $1
	`, id, at)
	if err != nil {
		return err
	}
	return affectedOne(res, store.NotFound("purchase", id))
}

func (t *pgTx) InsertDiscard(ctx context.Context, d domain.ProductDiscard) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO product_discards (id, product_id, batch_id, quantity, reason, notes, discarded_by, discarded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, d.ID, d.ProductID, nullString(d.BatchID), d.Quantity, string(d.Reason), nullString(d.Notes), d.DiscardedBy, d.DiscardedAt)
	return err
}

func (t *pgTx) CreateInventorySession(ctx context.Context, session domain.InventorySession) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO inventory_sessions (id, name, notes, started_by, started_at)
		VALUES ($1,$2,$3,$4,$5)
	`, session.ID, session.Name, nullString(session.Notes), session.StartedBy, session.StartedAt)
	return err
}

func (t *pgTx) GetInventorySessionForUpdate(ctx context.Context, id string) (*domain.InventorySession, error) {
	return getInventorySession(ctx, t.tx, id, "FOR UPDATE")
}

func (t *pgTx) UpsertInventoryCount(ctx context.Context, c domain.InventoryCount) (*domain.InventoryCount, error) {
	var stored domain.InventoryCount
	err := t.tx.GetContext(ctx, &stored, `
		INSERT INTO inventory_counts (`+inventoryCountColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (session_id, product_id) DO UPDATE
		SET counted_qty = EXCLUDED.counted_qty,
			previous_stock = EXCLUDED.previous_stock,
			difference = EXCLUDED.difference,
			counted_by = EXCLUDED.counted_by,
			counted_at = EXCLUDED.counted_at
		RETURNING `+inventoryCountColumns,
		c.ID, c.SessionID, c.ProductID, c.CountedQty, c.PreviousStock, c.Difference, c.CountedBy, c.CountedAt)
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (t *pgTx) ListInventoryCounts(ctx context.Context, sessionID string) ([]domain.InventoryCount, error) {
	return listInventoryCounts(ctx, t.tx, sessionID)
}

func (t *pgTx) InsertInventoryAdjustment(ctx context.Context, a domain.InventoryAdjustment) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO inventory_adjustments (
			id, session_id, product_id, movement_id, previous_stock, counted_qty, difference, created_by, created_at
		)
		VALUES (:id, :session_id, :product_id, :movement_id, :previous_stock, :counted_qty, :difference, :created_by, :created_at)
	`, a)
	return err
}

func (t *pgTx) CloseInventorySession(ctx context.Context, id string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE inventory_sessions SET closed_at = $2
		WHERE id = $1 AND closed_at IS NULL
	`, id, at)
	if err != nil {
		return err
	}
	return affectedOne(res, store.ErrSessionClosed)
}
