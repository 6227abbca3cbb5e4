// Package ledger owns product stock. All stock changes go through ApplyDelta,
// which enforces the non-negative floor and appends the movement record that
// makes stock reconstructible from history.
package ledger

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"mercado/backend/internal/domain"
	"mercado/backend/internal/store"
	"mercado/backend/internal/xid"
)

// Entry describes one stock change.
type Entry struct {
	ProductID     string
	Delta         decimal.Decimal
	Type          domain.MovementType
	ReferenceID   string
	ReferenceType domain.ReferenceType
	Description   string
	ActorID       string
}

type Ledger struct {
	now func() time.Time
}

func New() *Ledger {
	return &Ledger{now: func() time.Time { return time.Now().UTC() }}
}

// ApplyDelta locks the product row, applies e.Delta and records the movement.
// It must run inside the caller's transaction; a decrement that would leave
// stock below zero fails with *store.InsufficientStockError and writes nothing.
func (l *Ledger) ApplyDelta(ctx context.Context, tx store.Tx, e Entry) (domain.StockMovement, error) {
	e.ProductID = strings.TrimSpace(e.ProductID)
	if e.ProductID == "" {
		return domain.StockMovement{}, store.Invalid("product_id", "is required")
	}
	if !e.Type.Valid() {
		return domain.StockMovement{}, store.Invalid("movement_type", "unknown movement type "+string(e.Type))
	}
	delta := e.Delta.Round(domain.QuantityPlaces)
	if delta.IsZero() {
		return domain.StockMovement{}, store.Invalid("quantity", "must not be zero")
	}

	product, err := tx.GetProductForUpdate(ctx, e.ProductID)
	if err != nil {
		return domain.StockMovement{}, err
	}

	previous := product.Stock.Round(domain.QuantityPlaces)
	next := previous.Add(delta)
	if next.IsNegative() {
		return domain.StockMovement{}, &store.InsufficientStockError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Available:   previous,
			Requested:   delta.Neg(),
		}
	}

	at := l.now()
	if err := tx.SetProductStock(ctx, product.ID, next, at); err != nil {
		return domain.StockMovement{}, err
	}

	movement := domain.StockMovement{
		ID:            xid.New("mov"),
		ProductID:     product.ID,
		Type:          e.Type,
		Quantity:      delta,
		PreviousStock: previous,
		NewStock:      next,
		ReferenceType: e.ReferenceType,
		Description:   strings.TrimSpace(e.Description),
		CreatedBy:     e.ActorID,
		CreatedAt:     at,
	}
	if e.ReferenceID != "" {
		ref := e.ReferenceID
		movement.ReferenceID = &ref
	}
	if err := tx.InsertStockMovement(ctx, movement); err != nil {
		return domain.StockMovement{}, err
	}
	return movement, nil
}

// LockProducts takes the row locks for every product an operation will touch,
// in ascending id order, so two multi-item operations cannot wait on each other.
func (l *Ledger) LockProducts(ctx context.Context, tx store.Tx, ids []string) (map[string]domain.Product, error) {
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" && !slices.Contains(unique, id) {
			unique = append(unique, id)
		}
	}
	slices.Sort(unique)

	locked := make(map[string]domain.Product, len(unique))
	for _, id := range unique {
		product, err := tx.GetProductForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		locked[id] = *product
	}
	return locked, nil
}

// Replay rebuilds stock by summing movement deltas from zero.
func Replay(movements []domain.StockMovement) decimal.Decimal {
	ordered := slices.Clone(movements)
	slices.SortStableFunc(ordered, func(a, b domain.StockMovement) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	stock := decimal.Zero
	for _, m := range ordered {
		stock = stock.Add(m.Quantity)
	}
	return stock
}
