package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"mercado/backend/internal/domain"
	"mercado/backend/internal/store"
)

// memTx runs with Store.mu held for writing. Every mutation pushes its inverse
// onto undo so a failed transaction leaves no trace.
type memTx struct {
	s    *Store
	undo []func()
}

var _ store.Tx = (*memTx)(nil)

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func put[K comparable, V any](t *memTx, m map[K]V, key K, value V) {
	previous, existed := m[key]
	m[key] = value
	t.undo = append(t.undo, func() {
		if existed {
			m[key] = previous
		} else {
			delete(m, key)
		}
	})
}

func remove[K comparable, V any](t *memTx, m map[K]V, key K) {
	previous, existed := m[key]
	if !existed {
		return
	}
	delete(m, key)
	t.undo = append(t.undo, func() { m[key] = previous })
}

func push[T any](t *memTx, rows *[]T, row T) {
	n := len(*rows)
	*rows = append(*rows, row)
	t.undo = append(t.undo, func() { *rows = (*rows)[:n] })
}

func (t *memTx) CreateProduct(_ context.Context, product domain.Product) error {
	if _, exists := t.s.products[product.ID]; exists {
		return store.Invalid("id", "product already exists")
	}
	if product.Barcode != nil {
		if _, taken := t.s.barcodes[*product.Barcode]; taken {
			return store.Invalid("barcode", "already registered")
		}
		put(t, t.s.barcodes, *product.Barcode, product.ID)
	}
	put(t, t.s.products, product.ID, product)
	return nil
}

func (t *memTx) GetProductForUpdate(_ context.Context, id string) (*domain.Product, error) {
	p, ok := t.s.products[id]
	if !ok {
		return nil, store.NotFound("product", id)
	}
	return &p, nil
}

func (t *memTx) GetProductByBarcode(_ context.Context, barcode string) (*domain.Product, error) {
	return t.s.productByBarcode(barcode)
}

func (t *memTx) updateProduct(id string, at time.Time, mutate func(*domain.Product)) (*domain.Product, error) {
	p, ok := t.s.products[id]
	if !ok {
		return nil, store.NotFound("product", id)
	}
	mutate(&p)
	p.UpdatedAt = at
	put(t, t.s.products, id, p)
	return &p, nil
}

func (t *memTx) SetProductStock(_ context.Context, id string, stock decimal.Decimal, at time.Time) error {
	if stock.IsNegative() {
		return &store.InsufficientStockError{ProductID: id, Available: t.s.products[id].Stock, Requested: stock.Neg()}
	}
	_, err := t.updateProduct(id, at, func(p *domain.Product) { p.Stock = stock })
	return err
}

func (t *memTx) SetProductPurchasePrice(_ context.Context, id string, price decimal.Decimal, at time.Time) error {
	_, err := t.updateProduct(id, at, func(p *domain.Product) { p.PurchasePrice = price })
	return err
}

func (t *memTx) SetProductActive(_ context.Context, id string, active bool, at time.Time) (*domain.Product, error) {
	return t.updateProduct(id, at, func(p *domain.Product) { p.Active = active })
}

func (t *memTx) InsertStockMovement(_ context.Context, movement domain.StockMovement) error {
	push(t, &t.s.movements, movement)
	return nil
}

func (t *memTx) CategoryExists(_ context.Context, id string) (bool, error) {
	_, ok := t.s.categories[id]
	return ok, nil
}

func (t *memTx) SupplierExists(_ context.Context, id string) (bool, error) {
	_, ok := t.s.suppliers[id]
	return ok, nil
}

func (t *memTx) CustomerExists(_ context.Context, id string) (bool, error) {
	_, ok := t.s.customers[id]
	return ok, nil
}

func (t *memTx) GetPaymentMethod(_ context.Context, id string) (*domain.PaymentMethod, error) {
	pm, ok := t.s.paymentMethods[id]
	if !ok {
		return nil, store.NotFound("payment method", id)
	}
	return &pm, nil
}

func (t *memTx) CreateCashSession(_ context.Context, session domain.CashSession) error {
	if _, open := t.s.openSessionByUser[session.UserID]; open {
		return store.ErrSessionAlreadyOpen
	}
	put(t, t.s.cashSessions, session.ID, session)
	put(t, t.s.openSessionByUser, session.UserID, session.ID)
	return nil
}

func (t *memTx) GetOpenCashSessionForUpdate(_ context.Context, userID string) (*domain.CashSession, error) {
	return t.s.openCashSession(userID)
}

func (t *memTx) InsertCashMovement(_ context.Context, movement domain.CashMovement) error {
	session, ok := t.s.cashSessions[movement.SessionID]
	if !ok {
		return store.NotFound("cash session", movement.SessionID)
	}
	if !session.Open() {
		return store.ErrSessionClosed
	}
	push(t, &t.s.cashMovements, movement)
	return nil
}

func (t *memTx) ListCashMovements(_ context.Context, sessionID string) ([]domain.CashMovement, error) {
	return t.s.cashMovementsFor(sessionID), nil
}

func (t *memTx) CloseCashSession(_ context.Context, session domain.CashSession, counts []domain.CashCount) error {
	current, ok := t.s.cashSessions[session.ID]
	if !ok {
		return store.NotFound("cash session", session.ID)
	}
	if !current.Open() {
		return store.ErrSessionClosed
	}
	put(t, t.s.cashSessions, session.ID, session)
	remove(t, t.s.openSessionByUser, session.UserID)
	put(t, t.s.cashCounts, session.ID, slices.Clone(counts))
	return nil
}

func (t *memTx) InsertSale(_ context.Context, sale domain.Sale) error {
	if _, taken := t.s.saleNumbers[sale.SaleNumber]; taken {
		return store.ErrSaleNumberTaken
	}
	sale.Items = nil
	sale.Payments = nil
	put(t, t.s.sales, sale.ID, sale)
	put(t, t.s.saleNumbers, sale.SaleNumber, sale.ID)
	return nil
}

func (t *memTx) InsertSaleItem(_ context.Context, item domain.SaleItem) error {
	push(t, &t.s.saleItems, item)
	return nil
}

func (t *memTx) InsertSalePayment(_ context.Context, payment domain.SalePayment) error {
	push(t, &t.s.salePayments, payment)
	return nil
}

func (t *memTx) InsertPurchase(_ context.Context, purchase domain.Purchase) error {
	if purchase.DocumentKey != nil {
		key := strings.TrimSpace(*purchase.DocumentKey)
		if _, taken := t.s.documentKeys[key]; taken {
			return store.Invalid("document.access_key", "document already imported")
		}
		put(t, t.s.documentKeys, key, purchase.ID)
	}
	purchase.Items = nil
	put(t, t.s.purchases, purchase.ID, purchase)
	return nil
}

func (t *memTx) InsertPurchaseItem(_ context.Context, item domain.PurchaseItem) error {
	push(t, &t.s.purchaseItems, item)
	return nil
}

func (t *memTx) GetPurchaseForUpdate(_ context.Context, id string) (*domain.Purchase, error) {
	return t.s.purchaseWithItems(id)
}

func (t *memTx) MarkPurchaseReceived(_ context.Context, id string, at time.Time) error {
	purchase, ok := t.s.purchases[id]
	if !ok {
		return store.NotFound("purchase", id)
	}
	purchase.IsDraft = false
	purchase.ReceivedAt = &at
	put(t, t.s.purchases, id, purchase)
	return nil
}

func (t *memTx) InsertDiscard(_ context.Context, discard domain.ProductDiscard) error {
	push(t, &t.s.discards, discard)
	return nil
}

func (t *memTx) CreateInventorySession(_ context.Context, session domain.InventorySession) error {
	put(t, t.s.inventorySessions, session.ID, session)
	return nil
}

func (t *memTx) GetInventorySessionForUpdate(_ context.Context, id string) (*domain.InventorySession, error) {
	session, ok := t.s.inventorySessions[id]
	if !ok {
		return nil, store.NotFound("inventory session", id)
	}
	return &session, nil
}

func (t *memTx) UpsertInventoryCount(_ context.Context, count domain.InventoryCount) (*domain.InventoryCount, error) {
	key := count.SessionID + "|" + count.ProductID
	if existing, ok := t.s.inventoryCounts[key]; ok {
		count.ID = existing.ID
	}
	put(t, t.s.inventoryCounts, key, count)
	return &count, nil
}

func (t *memTx) ListInventoryCounts(_ context.Context, sessionID string) ([]domain.InventoryCount, error) {
	return t.s.countsFor(sessionID), nil
}

func (t *memTx) InsertInventoryAdjustment(_ context.Context, adjustment domain.InventoryAdjustment) error {
	push(t, &t.s.adjustments, adjustment)
	return nil
}

func (t *memTx) CloseInventorySession(_ context.Context, id string, at time.Time) error {
	session, ok := t.s.inventorySessions[id]
	if !ok {
		return store.NotFound("inventory session", id)
	}
	if session.Closed() {
		return store.ErrSessionClosed
	}
	session.ClosedAt = &at
	put(t, t.s.inventorySessions, id, session)
	return nil
}
