package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mercado/backend/internal/domain"
	"mercado/backend/internal/ledger"
	"mercado/backend/internal/store"
)

func openIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("MERCADO_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set MERCADO_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if _, err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestLedgerDeltaRollsBackOnInsufficientStock(t *testing.T) {
	s := openIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	categoryID := fmt.Sprintf("cat-it-%d", stamp)
	productID := fmt.Sprintf("prd-it-%d", stamp)
	now := time.Now().UTC()

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_movements WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, categoryID)
	})

	if _, err := s.CreateCategory(ctx, domain.Category{ID: categoryID, Name: "Integração " + categoryID, CreatedAt: now}); err != nil {
		t.Fatalf("create category: %v", err)
	}

	l := ledger.New()
	err := s.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateProduct(ctx, domain.Product{
			ID:            productID,
			Name:          "Produto IT",
			CategoryID:    categoryID,
			Unit:          "UN",
			PurchasePrice: decimal.RequireFromString("2.50"),
			SalePrice:     decimal.RequireFromString("4.00"),
			Active:        true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}); err != nil {
			return err
		}
		_, err := l.ApplyDelta(ctx, tx, ledger.Entry{
			ProductID:     productID,
			Delta:         decimal.NewFromInt(5),
			Type:          domain.MovementAdjustment,
			ReferenceID:   productID,
			ReferenceType: domain.ReferenceProduct,
			ActorID:       "usr-it",
		})
		return err
	})
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}

	err = s.WithTx(ctx, func(tx store.Tx) error {
		if _, err := l.ApplyDelta(ctx, tx, ledger.Entry{ProductID: productID, Delta: decimal.NewFromInt(-2), Type: domain.MovementSaleIssue}); err != nil {
			return err
		}
		_, err := l.ApplyDelta(ctx, tx, ledger.Entry{ProductID: productID, Delta: decimal.NewFromInt(-4), Type: domain.MovementSaleIssue})
		return err
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if !product.Stock.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected stock 5 after rollback, got %s", product.Stock)
	}

	movements, err := s.ListStockMovements(ctx, productID)
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(movements) != 1 {
		t.Fatalf("expected 1 movement after rollback, got %d", len(movements))
	}
	if !ledger.Replay(movements).Equal(product.Stock) {
		t.Fatalf("replay %s does not match stock %s", ledger.Replay(movements), product.Stock)
	}
}

func TestSecondOpenCashSessionIsRejected(t *testing.T) {
	s := openIntegrationStore(t)
	ctx := context.Background()

	userID := fmt.Sprintf("usr-it-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cash_sessions WHERE user_id = $1`, userID)
	})

	open := func(id string) error {
		return s.WithTx(ctx, func(tx store.Tx) error {
			return tx.CreateCashSession(ctx, domain.CashSession{
				ID:            id,
				UserID:        userID,
				OpeningAmount: decimal.RequireFromString("100.00"),
				OpenedAt:      time.Now().UTC(),
			})
		})
	}

	if err := open(userID + "-a"); err != nil {
		t.Fatalf("open first session: %v", err)
	}
	if err := open(userID + "-b"); !errors.Is(err, store.ErrSessionAlreadyOpen) {
		t.Fatalf("expected session already open, got %v", err)
	}
}

func TestListSalesFiltersByPaymentMethodAndPages(t *testing.T) {
	s := openIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	cashierID := fmt.Sprintf("usr-it-%d", stamp)
	methodID := fmt.Sprintf("pm-it-%d", stamp)
	base := time.Now().UTC().Truncate(time.Second)
	saleIDs := make([]string, 0, 3)
	t.Cleanup(func() {
		for _, id := range saleIDs {
			_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_payments WHERE sale_id = $1`, id)
			_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id)
		}
		_, _ = s.db.ExecContext(ctx, `DELETE FROM payment_methods WHERE id = $1`, methodID)
	})

	if _, _, err := s.EnsurePaymentMethod(ctx, domain.PaymentMethod{ID: methodID, Name: "Vale " + methodID, Active: true, CreatedAt: base}); err != nil {
		t.Fatalf("ensure payment method: %v", err)
	}
	amount := decimal.RequireFromString("10.00")
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("sale-it-%d-%d", stamp, i)
		saleIDs = append(saleIDs, id)
		err := s.WithTx(ctx, func(tx store.Tx) error {
			if err := tx.InsertSale(ctx, domain.Sale{
				ID: id, SaleNumber: "IT" + id, TotalAmount: amount, FinalAmount: amount, PaidAmount: amount,
				CreatedBy: cashierID, CreatedAt: base.Add(time.Duration(i) * time.Minute),
			}); err != nil {
				return err
			}
			return tx.InsertSalePayment(ctx, domain.SalePayment{ID: id + "-p", SaleID: id, PaymentMethodID: methodID, Amount: amount})
		})
		if err != nil {
			t.Fatalf("insert sale %d: %v", i, err)
		}
	}

	page, total, err := s.ListSales(ctx, domain.SaleFilter{PaymentMethodID: methodID, CreatedBy: cashierID, Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3 matching sales, got %d", total)
	}
	if len(page) != 1 || page[0].ID != saleIDs[0] {
		t.Fatalf("expected oldest sale alone on page 2, got %+v", page)
	}
}
