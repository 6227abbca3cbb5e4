// Package restock derives replenishment reports from live stock: purchase
// suggestions for products under their minimum and lots nearing expiry.
package restock

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"mercado/backend/internal/cache"
	"mercado/backend/internal/domain"
)

const (
	keyPrefix           = "mercado:restock:"
	defaultExpiryWindow = 30
	maxExpiryWindow     = 365
	criticalWithinDays  = 7
	buildTimeout        = 15 * time.Second
)

// Source is the read side the engine needs from the store.
type Source interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	ListExpiringLots(ctx context.Context, until time.Time) ([]domain.ExpiringLot, error)
}

type Engine struct {
	source   Source
	cache    cache.ReportCache
	cacheTTL time.Duration
	group    singleflight.Group
	// generation advances on every Invalidate; a build only caches its
	// result when no invalidation happened while it ran.
	generation atomic.Uint64
	now        func() time.Time
}

func NewEngine(source Source, cacheStore cache.ReportCache, cacheTTL time.Duration) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopReportCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}

	return &Engine{
		source:   source,
		cache:    cacheStore,
		cacheTTL: cacheTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Suggestions lists active products whose stock is below their minimum with
// the quantity needed to bring them back to their maximum (or twice the
// minimum when no maximum is set).
func (e *Engine) Suggestions(ctx context.Context, filter domain.SuggestionFilter) (domain.PurchaseSuggestionResponse, error) {
	key := buildKey("suggestions", filter.CategoryID, filter.SupplierID)
	return load(ctx, e, key, func(ctx context.Context) (domain.PurchaseSuggestionResponse, error) {
		products, err := e.source.ListProducts(ctx)
		if err != nil {
			return domain.PurchaseSuggestionResponse{}, err
		}
		return domain.PurchaseSuggestionResponse{
			Suggestions: suggest(products, filter),
			GeneratedAt: e.now(),
		}, nil
	})
}

// Expiring lists received lots expiring within days (1..365, default 30) for
// products that still have stock.
func (e *Engine) Expiring(ctx context.Context, days int) (domain.ExpiringProductResponse, error) {
	if days <= 0 {
		days = defaultExpiryWindow
	}
	if days > maxExpiryWindow {
		days = maxExpiryWindow
	}

	today := e.now().Truncate(24 * time.Hour)
	key := buildKey("expiring", fmt.Sprint(days), today.Format(time.DateOnly))
	return load(ctx, e, key, func(ctx context.Context) (domain.ExpiringProductResponse, error) {
		lots, err := e.source.ListExpiringLots(ctx, today.AddDate(0, 0, days))
		if err != nil {
			return domain.ExpiringProductResponse{}, err
		}
		return domain.ExpiringProductResponse{
			Days:        days,
			Items:       classifyLots(lots, today),
			GeneratedAt: e.now(),
		}, nil
	})
}

// Invalidate drops cached reports after stock changes.
func (e *Engine) Invalidate(ctx context.Context) error {
	e.generation.Add(1)
	return e.cache.DeletePrefix(ctx, keyPrefix)
}

// load serves key from the cache or builds it once for all concurrent
// callers. The shared build does not inherit any single caller's
// cancellation, and builds overlapping an Invalidate are not cached.
func load[T any](ctx context.Context, e *Engine, key string, build func(ctx context.Context) (T, error)) (T, error) {
	var cached T
	if ok, err := e.cache.Get(ctx, key, &cached); err == nil && ok {
		return cached, nil
	}

	gen := e.generation.Load()
	ch := e.group.DoChan(fmt.Sprintf("%s@%d", key, gen), func() (any, error) {
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), buildTimeout)
		defer cancel()

		value, err := build(buildCtx)
		if err != nil {
			return nil, err
		}
		if e.generation.Load() == gen {
			_ = e.cache.Set(buildCtx, key, value, e.cacheTTL)
		}
		return value, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

func suggest(products []domain.Product, filter domain.SuggestionFilter) []domain.PurchaseSuggestion {
	result := make([]domain.PurchaseSuggestion, 0, 16)
	for _, p := range products {
		if !p.Active || !p.MinStock.IsPositive() || !p.Stock.LessThan(p.MinStock) {
			continue
		}
		if filter.CategoryID != "" && p.CategoryID != filter.CategoryID {
			continue
		}
		if filter.SupplierID != "" && (p.SupplierID == nil || *p.SupplierID != filter.SupplierID) {
			continue
		}

		target := p.MinStock.Mul(decimal.NewFromInt(2))
		if p.MaxStock != nil && p.MaxStock.IsPositive() {
			target = *p.MaxStock
		}
		qty := target.Sub(p.Stock).Ceil()
		if !qty.IsPositive() {
			qty = p.MinStock.Ceil()
		}

		result = append(result, domain.PurchaseSuggestion{
			ProductID:    p.ID,
			Name:         p.Name,
			Barcode:      p.Barcode,
			CategoryID:   p.CategoryID,
			SupplierID:   p.SupplierID,
			Stock:        p.Stock,
			MinStock:     p.MinStock,
			MaxStock:     target,
			CostPrice:    p.PurchasePrice,
			SuggestedQty: qty,
		})
	}

	// Most depleted first, relative to the minimum.
	slices.SortFunc(result, func(a, b domain.PurchaseSuggestion) int {
		ra := a.Stock.Div(a.MinStock)
		rb := b.Stock.Div(b.MinStock)
		if c := ra.Cmp(rb); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return result
}

func classifyLots(lots []domain.ExpiringLot, today time.Time) []domain.ExpiringProduct {
	items := make([]domain.ExpiringProduct, 0, len(lots))
	for _, lot := range lots {
		if !lot.ProductStock.IsPositive() {
			continue
		}
		expires := lot.ExpirationDate.UTC().Truncate(24 * time.Hour)
		days := int(expires.Sub(today).Hours() / 24)

		qty := lot.Quantity
		if lot.ProductStock.LessThan(qty) {
			qty = lot.ProductStock
		}

		item := domain.ExpiringProduct{
			PurchaseItemID:    lot.PurchaseItemID,
			ProductID:         lot.ProductID,
			ProductName:       lot.ProductName,
			Quantity:          qty,
			CurrentStock:      lot.ProductStock,
			ManufacturingDate: lot.ManufacturingDate,
			ExpirationDate:    lot.ExpirationDate,
			DaysUntilExpiry:   days,
			Status:            expiryStatus(days),
		}
		if lot.CategoryName != nil {
			item.CategoryName = *lot.CategoryName
		}
		if lot.Batch != nil {
			item.Batch = *lot.Batch
		}
		items = append(items, item)
	}

	slices.SortStableFunc(items, func(a, b domain.ExpiringProduct) int {
		if a.DaysUntilExpiry != b.DaysUntilExpiry {
			return a.DaysUntilExpiry - b.DaysUntilExpiry
		}
		return strings.Compare(a.ProductName, b.ProductName)
	})
	return items
}

func expiryStatus(days int) string {
	switch {
	case days < 0:
		return domain.ExpiryExpired
	case days <= criticalWithinDays:
		return domain.ExpiryCritical
	default:
		return domain.ExpiryWarning
	}
}

func buildKey(kind string, parts ...string) string {
	hash := sha1.Sum([]byte(strings.Join(parts, "|")))
	return keyPrefix + kind + ":" + hex.EncodeToString(hash[:8])
}
