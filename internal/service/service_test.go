package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"

	"mercado/backend/internal/domain"
	"mercado/backend/internal/ledger"
	"mercado/backend/internal/store"
	"mercado/backend/internal/store/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo, err := memory.NewSeeded(memory.DevCredentials)
	require.NoError(t, err)
	return New(repo, nil, nil), repo
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{ID: "usr-admin", Username: "admin", Role: domain.RoleAdmin})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{ID: "usr-cashier", Username: "cashier", Role: domain.RoleCashier})
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Equal(t, dec(want).String(), got.String(), msgAndArgs...)
}

func stockOf(t *testing.T, repo *memory.Store, productID string) decimal.Decimal {
	t.Helper()
	product, err := repo.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	return product.Stock
}

func assertReplayMatches(t *testing.T, repo *memory.Store, productID string) {
	t.Helper()
	movements, err := repo.ListStockMovements(context.Background(), productID)
	require.NoError(t, err)
	assertDecimal(t, stockOf(t, repo, productID).String(), ledger.Replay(movements), "replay of %s", productID)
}

func saleLine(productID string, qty string, unit string) domain.SaleItemInput {
	q, u := dec(qty), dec(unit)
	return domain.SaleItemInput{ProductID: productID, Quantity: q, UnitPrice: u, TotalPrice: q.Mul(u).Round(2)}
}

func pay(methodID string, amount string) domain.SalePaymentInput {
	return domain.SalePaymentInput{PaymentMethodID: methodID, Amount: dec(amount)}
}

func TestCreateSaleIssuesStockAndBooksCashNetOfChange(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	_, err := svc.OpenCash(ctx, domain.CashOpenRequest{OpeningAmount: dec("100")})
	require.NoError(t, err)

	resp, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items:    []domain.SaleItemInput{saleLine("prd-arroz", "2", "27.90")},
		Payments: []domain.SalePaymentInput{pay("pm-dinheiro", "60")},
	})
	require.NoError(t, err)

	assertDecimal(t, "55.80", resp.Sale.FinalAmount)
	assertDecimal(t, "4.20", resp.Sale.ChangeAmount)
	require.NotNil(t, resp.Sale.CashSessionID)
	assert.Regexp(t, `^V\d+-[0-9a-f]{4}$`, resp.Sale.SaleNumber)

	require.Len(t, resp.CashMovements, 1)
	assert.Equal(t, domain.CashSale, resp.CashMovements[0].Type)
	assertDecimal(t, "55.80", resp.CashMovements[0].Amount)

	assertDecimal(t, "8", stockOf(t, repo, "prd-arroz"))
	movements, err := repo.ListStockMovements(context.Background(), "prd-arroz")
	require.NoError(t, err)
	last := movements[len(movements)-1]
	assert.Equal(t, domain.MovementSaleIssue, last.Type)
	assertDecimal(t, "-2", last.Quantity)
	require.NotNil(t, last.ReferenceID)
	assert.Equal(t, resp.Sale.ID, *last.ReferenceID)
	assertReplayMatches(t, repo, "prd-arroz")

	stored, err := svc.GetSale(ctx, resp.Sale.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 1)
	assert.Len(t, stored.Payments, 1)
}

func TestCreateSaleIsAllOrNothing(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	_, err := svc.OpenCash(ctx, domain.CashOpenRequest{OpeningAmount: dec("50")})
	require.NoError(t, err)

	_, err = svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items: []domain.SaleItemInput{
			saleLine("prd-arroz", "2", "27.90"),
			saleLine("prd-cafe", "9", "16.90"),
		},
		Payments: []domain.SalePaymentInput{pay("pm-pix", "207.90")},
	})
	var stockErr *store.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "prd-cafe", stockErr.ProductID)
	assertDecimal(t, "8", stockErr.Available)

	assertDecimal(t, "10", stockOf(t, repo, "prd-arroz"))
	assertDecimal(t, "8", stockOf(t, repo, "prd-cafe"))
	movements, err := repo.ListStockMovements(context.Background(), "prd-arroz")
	require.NoError(t, err)
	assert.Len(t, movements, 1, "only the seed movement should remain")

	status, err := svc.CashStatus(ctx)
	require.NoError(t, err)
	assertDecimal(t, "0", status.Totals.SaleNonCash)
}

func TestCreateSaleValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	cases := map[string]domain.SaleCreateRequest{
		"no items": {
			Payments: []domain.SalePaymentInput{pay("pm-pix", "1")},
		},
		"underpaid": {
			Items:    []domain.SaleItemInput{saleLine("prd-arroz", "1", "27.90")},
			Payments: []domain.SalePaymentInput{pay("pm-pix", "20")},
		},
		"line total mismatch": {
			Items: []domain.SaleItemInput{{
				ProductID: "prd-arroz", Quantity: dec("1"), UnitPrice: dec("27.90"), TotalPrice: dec("20"),
			}},
			Payments: []domain.SalePaymentInput{pay("pm-pix", "27.90")},
		},
		"change from card": {
			Items:    []domain.SaleItemInput{saleLine("prd-arroz", "1", "27.90")},
			Payments: []domain.SalePaymentInput{pay("pm-credito", "30")},
		},
		"sale discount above total": {
			Items:          []domain.SaleItemInput{saleLine("prd-refri", "1", "8.49")},
			Payments:       []domain.SalePaymentInput{pay("pm-pix", "1")},
			DiscountAmount: dec("9"),
		},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateSale(ctx, req)
			assert.ErrorIs(t, err, store.ErrValidation)
		})
	}
}

func TestCreateSaleWithoutOpenSessionSkipsCash(t *testing.T) {
	svc, repo := newTestService(t)

	resp, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		Items:    []domain.SaleItemInput{saleLine("prd-banana", "1.255", "5.99")},
		Payments: []domain.SalePaymentInput{pay("pm-debito", "7.52")},
	})
	require.NoError(t, err)
	assert.Nil(t, resp.Sale.CashSessionID)
	assert.Empty(t, resp.CashMovements)
	assertDecimal(t, "14.245", stockOf(t, repo, "prd-banana"))
}

func TestConcurrentSalesOfLastUnitSellOnce(t *testing.T) {
	svc, repo := newTestService(t)

	product, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Name:          "Azeite 500ml",
		CategoryID:    "cat-mercearia",
		Unit:          "UN",
		PurchasePrice: dec("22"),
		SalePrice:     dec("34.90"),
		InitialStock:  dec("1"),
	})
	require.NoError(t, err)

	var sold, rejected atomic.Int32
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
				Items:    []domain.SaleItemInput{saleLine(product.ID, "1", "34.90")},
				Payments: []domain.SalePaymentInput{pay("pm-pix", "34.90")},
			})
			switch {
			case err == nil:
				sold.Add(1)
			case errors.Is(err, store.ErrInsufficientStock):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 1, sold.Load())
	assert.EqualValues(t, 7, rejected.Load())
	assertDecimal(t, "0", stockOf(t, repo, product.ID))
	assertReplayMatches(t, repo, product.ID)
}

func TestOpenCashTwiceFails(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	_, err := svc.OpenCash(ctx, domain.CashOpenRequest{OpeningAmount: dec("100")})
	require.NoError(t, err)
	_, err = svc.OpenCash(ctx, domain.CashOpenRequest{OpeningAmount: dec("20")})
	assert.ErrorIs(t, err, store.ErrSessionAlreadyOpen)

	_, err = svc.OpenCash(adminCtx(), domain.CashOpenRequest{OpeningAmount: dec("0")})
	assert.NoError(t, err, "sessions are per operator")
}

func TestCashMovementsNeedOpenSession(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	_, err := svc.RecordCashMovement(ctx, domain.CashMovementRequest{Type: domain.CashIn, Amount: dec("10")})
	assert.ErrorIs(t, err, store.ErrNoOpenSession)

	_, err = svc.CloseCash(ctx, domain.CashCloseRequest{})
	assert.ErrorIs(t, err, store.ErrNoOpenSession)

	_, err = svc.CashStatus(ctx)
	assert.ErrorIs(t, err, store.ErrNoOpenSession)

	_, err = svc.OpenCash(ctx, domain.CashOpenRequest{OpeningAmount: dec("10")})
	require.NoError(t, err)
	_, err = svc.RecordCashMovement(ctx, domain.CashMovementRequest{Type: domain.CashSale, Amount: dec("10")})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestCloseCashRequiresJustificationForDifference(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	opened, err := svc.OpenCash(ctx, domain.CashOpenRequest{OpeningAmount: dec("100")})
	require.NoError(t, err)
	_, err = svc.RecordCashMovement(ctx, domain.CashMovementRequest{Type: domain.CashIn, Amount: dec("20"), Reason: "troco"})
	require.NoError(t, err)
	_, err = svc.RecordCashMovement(ctx, domain.CashMovementRequest{Type: domain.CashOut, Amount: dec("10"), Reason: "sangria"})
	require.NoError(t, err)
	_, err = svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items:    []domain.SaleItemInput{saleLine("prd-arroz", "1", "27.90")},
		Payments: []domain.SalePaymentInput{pay("pm-dinheiro", "27.90")},
	})
	require.NoError(t, err)
	_, err = svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items:    []domain.SaleItemInput{saleLine("prd-feijao", "1", "8.99")},
		Payments: []domain.SalePaymentInput{pay("pm-pix", "8.99")},
	})
	require.NoError(t, err)

	status, err := svc.CashStatus(ctx)
	require.NoError(t, err)
	assertDecimal(t, "137.90", status.ExpectedCash)

	counts := []domain.CashCountInput{
		{PaymentMethodID: "pm-dinheiro", Amount: dec("137.00")},
		{PaymentMethodID: "pm-pix", Amount: dec("8.99")},
	}
	_, err = svc.CloseCash(ctx, domain.CashCloseRequest{Counts: counts})
	var discrepancy *store.DiscrepancyError
	require.ErrorAs(t, err, &discrepancy)
	assertDecimal(t, "-0.90", discrepancy.Difference)

	_, err = svc.CashStatus(ctx)
	require.NoError(t, err, "a rejected close leaves the session open")

	closed, err := svc.CloseCash(ctx, domain.CashCloseRequest{Counts: counts, Justification: "moeda perdida"})
	require.NoError(t, err)
	assert.Equal(t, opened.Session.ID, closed.Session.ID)
	require.NotNil(t, closed.Session.ClosingAmount)
	assertDecimal(t, "137.00", *closed.Session.ClosingAmount)
	assertDecimal(t, "-0.90", closed.Difference)
	require.Len(t, closed.Counts, 2)
	assertDecimal(t, "8.99", closed.Counts[1].Expected)
	assertDecimal(t, "0", closed.Counts[1].Difference)

	_, err = svc.CashStatus(ctx)
	assert.ErrorIs(t, err, store.ErrNoOpenSession)

	report, err := svc.CashReport(ctx, closed.Session.ID)
	require.NoError(t, err)
	assert.Len(t, report.Counts, 2)
	assert.Len(t, report.ByMethod, 2)
}

func TestCloseCashBalancedNeedsNoJustification(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	_, err := svc.OpenCash(ctx, domain.CashOpenRequest{OpeningAmount: dec("50")})
	require.NoError(t, err)
	_, err = svc.RecordCashMovement(ctx, domain.CashMovementRequest{Type: domain.CashRefund, Amount: dec("5.50")})
	require.NoError(t, err)

	closed, err := svc.CloseCash(ctx, domain.CashCloseRequest{
		Counts: []domain.CashCountInput{{PaymentMethodID: "pm-dinheiro", Amount: dec("44.50")}},
	})
	require.NoError(t, err)
	assertDecimal(t, "0", closed.Difference)
	assert.Nil(t, closed.Session.Justification)

	_, err = svc.CloseCash(ctx, domain.CashCloseRequest{})
	assert.ErrorIs(t, err, store.ErrNoOpenSession)
}

func TestCloseCashRejectsDuplicateCounts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx()

	_, err := svc.OpenCash(ctx, domain.CashOpenRequest{OpeningAmount: dec("0")})
	require.NoError(t, err)
	_, err = svc.CloseCash(ctx, domain.CashCloseRequest{Counts: []domain.CashCountInput{
		{PaymentMethodID: "pm-dinheiro", Amount: dec("0")},
		{PaymentMethodID: "pm-dinheiro", Amount: dec("0")},
	}})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestCashReportIsPrivateToCashier(t *testing.T) {
	svc, _ := newTestService(t)

	opened, err := svc.OpenCash(adminCtx(), domain.CashOpenRequest{OpeningAmount: dec("10")})
	require.NoError(t, err)

	_, err = svc.CashReport(cashierCtx(), opened.Session.ID)
	assert.ErrorIs(t, err, store.ErrForbidden)

	_, err = svc.CashReport(adminCtx(), opened.Session.ID)
	assert.NoError(t, err)
}

func TestCreatePurchaseReceivesStock(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()
	expires := time.Now().UTC().AddDate(0, 0, 10)

	resp, err := svc.CreatePurchase(ctx, domain.PurchaseCreateRequest{
		SupplierID:    "sup-atacado",
		InvoiceNumber: "4512",
		Items: []domain.PurchaseItemInput{
			{ProductID: "prd-cafe", Quantity: dec("24"), UnitPrice: dec("11.80"), Batch: "L77", ExpirationDate: &expires},
			{ProductID: "prd-banana", Quantity: dec("7.25"), UnitPrice: dec("3")},
		},
	})
	require.NoError(t, err)
	assert.False(t, resp.Purchase.IsDraft)
	assertDecimal(t, "304.95", resp.Purchase.TotalAmount)
	require.Len(t, resp.Movements, 2)
	for _, m := range resp.Movements {
		assert.Equal(t, domain.MovementReceipt, m.Type)
		assert.Equal(t, domain.ReferencePurchase, m.ReferenceType)
	}

	assertDecimal(t, "32", stockOf(t, repo, "prd-cafe"))
	assertDecimal(t, "22.75", stockOf(t, repo, "prd-banana"))
	assertReplayMatches(t, repo, "prd-banana")

	expiring, err := svc.ExpiringProducts(ctx, 30)
	require.NoError(t, err)
	require.Len(t, expiring.Items, 1)
	assert.Equal(t, "prd-cafe", expiring.Items[0].ProductID)
}

func TestCreatePurchaseRejectsUnknownReferences(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()

	_, err := svc.CreatePurchase(ctx, domain.PurchaseCreateRequest{
		SupplierID: "sup-nowhere",
		Items:      []domain.PurchaseItemInput{{ProductID: "prd-cafe", Quantity: dec("1"), UnitPrice: dec("1")}},
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = svc.CreatePurchase(ctx, domain.PurchaseCreateRequest{
		SupplierID: "sup-atacado",
		Items: []domain.PurchaseItemInput{
			{ProductID: "prd-cafe", Quantity: dec("1"), UnitPrice: dec("1")},
			{ProductID: "prd-ghost", Quantity: dec("1"), UnitPrice: dec("1")},
		},
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assertDecimal(t, "8", stockOf(t, repo, "prd-cafe"))
}

func TestDraftPurchaseLeavesStockUntilReceived(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()

	draft, err := svc.CreateDraftPurchase(ctx, domain.PurchaseCreateRequest{
		SupplierID: "sup-atacado",
		Items:      []domain.PurchaseItemInput{{ProductID: "prd-leite", Quantity: dec("12"), UnitPrice: dec("3.75")}},
	})
	require.NoError(t, err)
	assert.True(t, draft.Purchase.IsDraft)
	assert.Empty(t, draft.Movements)
	assertDecimal(t, "24", stockOf(t, repo, "prd-leite"))

	received, err := svc.ReceiveDraftPurchase(ctx, draft.Purchase.ID)
	require.NoError(t, err)
	assert.False(t, received.Purchase.IsDraft)
	require.NotNil(t, received.Purchase.ReceivedAt)
	assert.Len(t, received.Movements, 1)
	assertDecimal(t, "36", stockOf(t, repo, "prd-leite"))

	_, err = svc.ReceiveDraftPurchase(ctx, draft.Purchase.ID)
	assert.ErrorIs(t, err, store.ErrValidation)
	assertDecimal(t, "36", stockOf(t, repo, "prd-leite"))
}

func TestPurchaseFromDocumentImportsOnce(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()
	req := domain.PurchaseDocumentRequest{
		SupplierID: "sup-atacado",
		Document: domain.ExternalDocument{
			Number:    "000123",
			Series:    "1",
			AccessKey: "3526 0312 3456 7800 0190 5500 1000 0001 2310 0000 1234",
		},
		Items: []domain.PurchaseItemInput{{ProductID: "prd-arroz", Quantity: dec("5"), UnitPrice: dec("19.40")}},
	}

	resp, err := svc.CreatePurchaseFromDocument(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, resp.Purchase.InvoiceNumber)
	assert.Equal(t, "000123/1", *resp.Purchase.InvoiceNumber)
	require.NotNil(t, resp.Purchase.Notes)
	assert.Equal(t, "NF-e 000123/1", *resp.Purchase.Notes)

	product, err := repo.GetProduct(context.Background(), "prd-arroz")
	require.NoError(t, err)
	assertDecimal(t, "15", product.Stock)
	assertDecimal(t, "19.40", product.PurchasePrice)

	_, err = svc.CreatePurchaseFromDocument(ctx, req)
	assert.ErrorIs(t, err, store.ErrValidation)
	assertDecimal(t, "15", stockOf(t, repo, "prd-arroz"))

	req.Document.AccessKey = "1234"
	_, err = svc.CreatePurchaseFromDocument(ctx, req)
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestDiscardProduct(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	_, err := svc.DiscardProduct(ctx, domain.DiscardRequest{ProductID: "prd-tomate", Quantity: dec("10"), Reason: domain.DiscardQualityIssue})
	assert.ErrorIs(t, err, store.ErrInsufficientStock)
	assertDecimal(t, "9.25", stockOf(t, repo, "prd-tomate"))

	resp, err := svc.DiscardProduct(ctx, domain.DiscardRequest{
		ProductID: "prd-tomate",
		Quantity:  dec("1.75"),
		Reason:    "damaged",
		Notes:     "caixa amassada",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DiscardDamaged, resp.Discard.Reason)
	assert.Equal(t, domain.MovementDiscard, resp.Movement.Type)
	assert.Equal(t, "DAMAGED: caixa amassada", resp.Movement.Description)
	assertDecimal(t, "7.5", stockOf(t, repo, "prd-tomate"))
	assertReplayMatches(t, repo, "prd-tomate")

	listed, err := svc.ListDiscards(ctx, domain.DiscardFilter{Reason: domain.DiscardDamaged, ProductName: "tom"})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, resp.Discard.ID, listed[0].ID)

	_, err = svc.DiscardProduct(ctx, domain.DiscardRequest{ProductID: "prd-tomate", Quantity: dec("1"), Reason: "LOST"})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestInventoryFinalizeAppliesOnlyDifferences(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()

	session, err := svc.StartInventory(ctx, domain.InventoryStartRequest{Name: "Balanço março"})
	require.NoError(t, err)

	for _, c := range []domain.InventoryCountRequest{
		{ProductID: "prd-arroz", CountedQty: dec("7")},
		{ProductID: "prd-feijao", CountedQty: dec("20")},
		{ProductID: "prd-banana", CountedQty: dec("16.25")},
		{ProductID: "prd-arroz", CountedQty: dec("8")},
	} {
		_, err := svc.SubmitCount(ctx, session.ID, c)
		require.NoError(t, err)
	}

	detail, err := svc.GetInventorySession(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, detail.Counts, 3, "recounting a product replaces its row")
	assertDecimal(t, "10", stockOf(t, repo, "prd-arroz"), "counting never moves stock")

	done, err := svc.FinalizeInventory(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, done.Session.Closed())
	assert.Len(t, done.Adjustments, 2)
	assert.Equal(t, 1, done.Skipped)
	for _, m := range done.Movements {
		assert.Equal(t, domain.MovementAdjustment, m.Type)
		assert.Equal(t, domain.ReferenceInventory, m.ReferenceType)
	}

	assertDecimal(t, "8", stockOf(t, repo, "prd-arroz"))
	assertDecimal(t, "20", stockOf(t, repo, "prd-feijao"))
	assertDecimal(t, "16.25", stockOf(t, repo, "prd-banana"))
	assertReplayMatches(t, repo, "prd-arroz")
	assertReplayMatches(t, repo, "prd-banana")

	_, err = svc.FinalizeInventory(ctx, session.ID)
	assert.ErrorIs(t, err, store.ErrSessionClosed)
	_, err = svc.SubmitCount(ctx, session.ID, domain.InventoryCountRequest{ProductID: "prd-arroz", CountedQty: dec("1")})
	assert.ErrorIs(t, err, store.ErrSessionClosed)
	assertDecimal(t, "8", stockOf(t, repo, "prd-arroz"))
}

func TestInventoryFinalizeUsesStockAtFinalize(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()

	session, err := svc.StartInventory(ctx, domain.InventoryStartRequest{Name: "Gôndola 3"})
	require.NoError(t, err)
	_, err = svc.SubmitCount(ctx, session.ID, domain.InventoryCountRequest{ProductID: "prd-refri", CountedQty: dec("18")})
	require.NoError(t, err)

	_, err = svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items:    []domain.SaleItemInput{saleLine("prd-refri", "3", "8.49")},
		Payments: []domain.SalePaymentInput{pay("pm-pix", "25.47")},
	})
	require.NoError(t, err)

	done, err := svc.FinalizeInventory(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, done.Adjustments, 1)
	assertDecimal(t, "3", done.Adjustments[0].Difference)
	assertDecimal(t, "15", done.Adjustments[0].PreviousStock)
	assertDecimal(t, "18", stockOf(t, repo, "prd-refri"))
}

func TestImportCountsFromSpreadsheet(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()

	session, err := svc.StartInventory(ctx, domain.InventoryStartRequest{Name: "Planilha"})
	require.NoError(t, err)

	sheet := func(rows ...[]any) *excelize.File {
		file := excelize.NewFile()
		name := file.GetSheetName(0)
		for i, row := range rows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			require.NoError(t, err)
			require.NoError(t, file.SetSheetRow(name, cell, &row))
		}
		return file
	}

	bad := sheet(
		[]any{"Código", "Código de barras", "Quantidade"},
		[]any{"prd-arroz", "", "9"},
		[]any{"", "0000000000000", "1"},
	)
	buf, err := bad.WriteToBuffer()
	require.NoError(t, err)
	_, err = svc.ImportCounts(ctx, session.ID, buf)
	assert.ErrorIs(t, err, store.ErrValidation)
	detail, err := svc.GetInventorySession(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, detail.Counts, "a bad row rejects the whole sheet")

	good := sheet(
		[]any{"Código", "Código de barras", "Quantidade"},
		[]any{"prd-arroz", "", "9"},
		[]any{"", "7891000100202", "21"},
	)
	buf, err = good.WriteToBuffer()
	require.NoError(t, err)
	counts, err := svc.ImportCounts(ctx, session.ID, buf)
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, "prd-feijao", counts[1].ProductID)
	assertDecimal(t, "1", counts[1].Difference)

	_, err = svc.FinalizeInventory(ctx, session.ID)
	require.NoError(t, err)
	assertDecimal(t, "9", stockOf(t, repo, "prd-arroz"))
	assertDecimal(t, "21", stockOf(t, repo, "prd-feijao"))
}

func TestOperationsRequireActor(t *testing.T) {
	svc, _ := newTestService(t)
	anonymous := context.Background()

	_, err := svc.CreateSale(anonymous, domain.SaleCreateRequest{})
	assert.ErrorIs(t, err, store.ErrUnauthenticated)
	_, err = svc.OpenCash(anonymous, domain.CashOpenRequest{})
	assert.ErrorIs(t, err, store.ErrUnauthenticated)
	_, err = svc.StartInventory(anonymous, domain.InventoryStartRequest{Name: "x"})
	assert.ErrorIs(t, err, store.ErrUnauthenticated)
	_, err = svc.DiscardProduct(anonymous, domain.DiscardRequest{})
	assert.ErrorIs(t, err, store.ErrUnauthenticated)
}

func TestCatalogWritesRequireAdmin(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateProduct(cashierCtx(), domain.ProductCreateRequest{
		Name: "Sal", CategoryID: "cat-mercearia", Unit: "UN", PurchasePrice: dec("1"), SalePrice: dec("2"),
	})
	assert.ErrorIs(t, err, store.ErrForbidden)

	_, err = svc.SetProductActive(cashierCtx(), "prd-arroz", false)
	assert.ErrorIs(t, err, store.ErrForbidden)
}

func TestCreateProductPostsInitialStockThroughLedger(t *testing.T) {
	svc, repo := newTestService(t)

	product, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Name:          "Farinha de Mandioca",
		Barcode:       "7891000100707",
		CategoryID:    "cat-mercearia",
		Unit:          "un",
		PurchasePrice: dec("4.10"),
		SalePrice:     dec("6.49"),
		InitialStock:  dec("12"),
		MinStock:      dec("6"),
	})
	require.NoError(t, err)
	assert.Equal(t, "UN", product.Unit)
	assertDecimal(t, "12", product.Stock)

	history, err := svc.ListStockMovements(adminCtx(), product.ID)
	require.NoError(t, err)
	require.Len(t, history.Movements, 1)
	assert.Equal(t, domain.ReferenceProduct, history.Movements[0].ReferenceType)
	assertReplayMatches(t, repo, product.ID)

	_, err = svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Name: "Outra", Barcode: "7891000100707", CategoryID: "cat-mercearia", Unit: "UN",
		PurchasePrice: dec("1"), SalePrice: dec("2"),
	})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestInactiveProductCannotBeSold(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.SetProductActive(adminCtx(), "prd-leite", false)
	require.NoError(t, err)

	_, err = svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		Items:    []domain.SaleItemInput{saleLine("prd-leite", "1", "5.49")},
		Payments: []domain.SalePaymentInput{pay("pm-pix", "5.49")},
	})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestSeedPaymentMethodsIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)

	first, err := svc.SeedPaymentMethods(adminCtx())
	require.NoError(t, err)
	second, err := svc.SeedPaymentMethods(adminCtx())
	require.NoError(t, err)
	assert.Equal(t, len(first), len(second))
	assert.Len(t, second, 6)
}

func TestSubCentAmountsAreRejectedAfterRounding(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	cases := map[string]domain.SaleCreateRequest{
		"unit price rounds to zero": {
			Items: []domain.SaleItemInput{{
				ProductID: "prd-arroz", Quantity: dec("1"), UnitPrice: dec("0.004"), TotalPrice: dec("0.004"),
			}},
			Payments: []domain.SalePaymentInput{pay("pm-pix", "0.004")},
		},
		"payment rounds to zero": {
			Items:    []domain.SaleItemInput{saleLine("prd-arroz", "1", "27.90")},
			Payments: []domain.SalePaymentInput{pay("pm-pix", "27.90"), pay("pm-debito", "0.004")},
		},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateSale(ctx, req)
			assert.ErrorIs(t, err, store.ErrValidation)
		})
	}
	assertDecimal(t, "10", stockOf(t, repo, "prd-arroz"))

	_, err := svc.CreatePurchase(adminCtx(), domain.PurchaseCreateRequest{
		SupplierID: "sup-atacado",
		Items:      []domain.PurchaseItemInput{{ProductID: "prd-cafe", Quantity: dec("5"), UnitPrice: dec("0.004")}},
	})
	assert.ErrorIs(t, err, store.ErrValidation)
	_, err = svc.CreatePurchase(adminCtx(), domain.PurchaseCreateRequest{
		SupplierID: "sup-atacado",
		Items:      []domain.PurchaseItemInput{{ProductID: "prd-cafe", Quantity: dec("0.001"), UnitPrice: dec("0.01")}},
	})
	assert.ErrorIs(t, err, store.ErrValidation)
	assertDecimal(t, "8", stockOf(t, repo, "prd-cafe"))
}

// cancelOnBegin cancels the caller's context as the transaction starts.
type cancelOnBegin struct {
	*memory.Store
	cancel context.CancelFunc
}

func (r cancelOnBegin) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	r.cancel()
	return r.Store.WithTx(ctx, fn)
}

func TestStartedOperationIgnoresCallerCancellation(t *testing.T) {
	repo, err := memory.NewSeeded(memory.DevCredentials)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(cashierCtx())
	defer cancel()
	svc := New(cancelOnBegin{Store: repo, cancel: cancel}, nil, nil)

	resp, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items:    []domain.SaleItemInput{saleLine("prd-leite", "2", "5.49")},
		Payments: []domain.SalePaymentInput{pay("pm-pix", "10.98")},
	})
	require.NoError(t, err)
	assert.Error(t, ctx.Err(), "caller context was cancelled mid-flight")
	assertDecimal(t, "22", stockOf(t, repo, "prd-leite"))

	_, err = svc.GetSale(cashierCtx(), resp.Sale.ID)
	assert.NoError(t, err)
}

func TestOperationNotStartedForGoneCaller(t *testing.T) {
	svc, repo := newTestService(t)
	ctx, cancel := context.WithCancel(cashierCtx())
	cancel()

	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items:    []domain.SaleItemInput{saleLine("prd-leite", "1", "5.49")},
		Payments: []domain.SalePaymentInput{pay("pm-pix", "5.49")},
	})
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
	assertDecimal(t, "24", stockOf(t, repo, "prd-leite"))

	svc.txTimeout = 0
	_, err = svc.CreateSale(cashierCtx(), domain.SaleCreateRequest{
		Items:    []domain.SaleItemInput{saleLine("prd-leite", "1", "5.49")},
		Payments: []domain.SalePaymentInput{pay("pm-pix", "5.49")},
	})
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
	assertDecimal(t, "24", stockOf(t, repo, "prd-leite"))
}

func TestSaleNumberCollisionDrawsNewNumber(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()

	numbers := []string{"V1700000000000-aaaa", "V1700000000000-aaaa", "V1700000000000-aaaa", "V1700000000000-bbbb"}
	svc.saleNumber = func(time.Time) string {
		next := numbers[0]
		numbers = numbers[1:]
		return next
	}

	first, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items:    []domain.SaleItemInput{saleLine("prd-refri", "1", "8.49")},
		Payments: []domain.SalePaymentInput{pay("pm-pix", "8.49")},
	})
	require.NoError(t, err)
	assert.Equal(t, "V1700000000000-aaaa", first.Sale.SaleNumber)

	second, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items:    []domain.SaleItemInput{saleLine("prd-refri", "1", "8.49")},
		Payments: []domain.SalePaymentInput{pay("pm-pix", "8.49")},
	})
	require.NoError(t, err)
	assert.Equal(t, "V1700000000000-bbbb", second.Sale.SaleNumber)
	assert.Empty(t, numbers)
	assertDecimal(t, "16", stockOf(t, repo, "prd-refri"))
	assertReplayMatches(t, repo, "prd-refri")

	svc.saleNumber = func(time.Time) string { return "V1700000000000-aaaa" }
	_, err = svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items:    []domain.SaleItemInput{saleLine("prd-refri", "1", "8.49")},
		Payments: []domain.SalePaymentInput{pay("pm-pix", "8.49")},
	})
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
	assertDecimal(t, "16", stockOf(t, repo, "prd-refri"))
}

func TestInventoryFinalizeWithMatchingCountsPostsNothing(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()

	session, err := svc.StartInventory(ctx, domain.InventoryStartRequest{Name: "Conferência"})
	require.NoError(t, err)
	for _, c := range []domain.InventoryCountRequest{
		{ProductID: "prd-arroz", CountedQty: dec("10")},
		{ProductID: "prd-tomate", CountedQty: dec("9.25")},
	} {
		_, err := svc.SubmitCount(ctx, session.ID, c)
		require.NoError(t, err)
	}
	before, err := repo.ListStockMovements(context.Background(), "prd-tomate")
	require.NoError(t, err)

	done, err := svc.FinalizeInventory(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, done.Session.Closed())
	assert.Empty(t, done.Adjustments)
	assert.Empty(t, done.Movements)
	assert.Equal(t, 2, done.Skipped)

	after, err := repo.ListStockMovements(context.Background(), "prd-tomate")
	require.NoError(t, err)
	assert.Len(t, after, len(before))
	detail, err := svc.GetInventorySession(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, detail.Session.Closed())
	assert.Empty(t, detail.Adjustments)
}

func TestNormalizePage(t *testing.T) {
	cases := []struct {
		page, size         int
		wantPage, wantSize int
	}{
		{0, 0, 1, defaultPageSize},
		{3, 25, 3, 25},
		{-1, 1000, 1, maxPageSize},
	}
	for _, tc := range cases {
		page, size := normalizePage(tc.page, tc.size)
		assert.Equal(t, tc.wantPage, page)
		assert.Equal(t, tc.wantSize, size)
	}
}
