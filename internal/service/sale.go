package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mercado/backend/internal/domain"
	"mercado/backend/internal/ledger"
	"mercado/backend/internal/store"
	"mercado/backend/internal/xid"
)

// lineTolerance absorbs rounding on weighed items when checking that a line
// total matches quantity × unit price − discount.
var lineTolerance = decimal.RequireFromString("0.01")

const saleNumberAttempts = 3

// CreateSale records a sale in one transaction: header, items with their
// stock issues, payments, and the cash movements for the actor's open
// session when there is one. Any failure leaves nothing behind.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.SaleResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	if err := s.check(req); err != nil {
		return domain.SaleResponse{}, err
	}

	now := s.now()
	sale := domain.Sale{
		ID:         xid.New("sale"),
		SaleNumber: s.saleNumber(now),
		CustomerID: optionalString(req.CustomerID),
		CreatedBy:  actor.ID,
		CreatedAt:  now,
	}

	total := decimal.Zero
	items := make([]domain.SaleItem, 0, len(req.Items))
	for i, in := range req.Items {
		field := fmt.Sprintf("items[%d]", i)
		item := domain.SaleItem{
			ID:         xid.New("si"),
			SaleID:     sale.ID,
			ProductID:  strings.TrimSpace(in.ProductID),
			Quantity:   quantity(in.Quantity),
			UnitPrice:  money(in.UnitPrice),
			Discount:   money(in.Discount),
			TotalPrice: money(in.TotalPrice),
		}
		if !item.Quantity.IsPositive() {
			return domain.SaleResponse{}, store.Invalid(field+".quantity", "must be greater than 0")
		}
		if !item.UnitPrice.IsPositive() {
			return domain.SaleResponse{}, store.Invalid(field+".unit_price", "must be at least 0.01")
		}
		if !item.TotalPrice.IsPositive() {
			return domain.SaleResponse{}, store.Invalid(field+".total_price", "must be at least 0.01")
		}
		gross := item.Quantity.Mul(item.UnitPrice)
		if item.Discount.GreaterThan(gross) {
			return domain.SaleResponse{}, store.Invalid(field+".discount", "exceeds the line amount")
		}
		if gross.Sub(item.Discount).Sub(item.TotalPrice).Abs().GreaterThan(lineTolerance) {
			return domain.SaleResponse{}, store.Invalid(field+".total_price", "does not match quantity × unit_price − discount")
		}
		total = total.Add(item.TotalPrice)
		items = append(items, item)
	}

	sale.TotalAmount = money(total)
	sale.DiscountAmount = money(req.DiscountAmount)
	if sale.DiscountAmount.GreaterThan(sale.TotalAmount) {
		return domain.SaleResponse{}, store.Invalid("discount_amount", "exceeds the sale total")
	}
	sale.FinalAmount = sale.TotalAmount.Sub(sale.DiscountAmount)

	paid := decimal.Zero
	payments := make([]domain.SalePayment, 0, len(req.Payments))
	for i, in := range req.Payments {
		payment := domain.SalePayment{
			ID:              xid.New("sp"),
			SaleID:          sale.ID,
			PaymentMethodID: strings.TrimSpace(in.PaymentMethodID),
			Amount:          money(in.Amount),
		}
		if !payment.Amount.IsPositive() {
			return domain.SaleResponse{}, store.Invalid(fmt.Sprintf("payments[%d].amount", i), "must be at least 0.01")
		}
		paid = paid.Add(payment.Amount)
		payments = append(payments, payment)
	}
	if paid.LessThan(sale.FinalAmount) {
		return domain.SaleResponse{}, store.Invalid("payments", fmt.Sprintf("paid %s is less than the final amount %s",
			paid.StringFixed(2), sale.FinalAmount.StringFixed(2)))
	}
	sale.PaidAmount = paid
	sale.ChangeAmount = paid.Sub(sale.FinalAmount)

	var cashMovements []domain.CashMovement
	for attempt := 1; ; attempt++ {
		cashMovements = nil
		sale.CashSessionID = nil
		err = s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return s.insertSale(ctx, tx, actor, &sale, items, payments, &cashMovements)
		})
		if !errors.Is(err, store.ErrSaleNumberTaken) {
			break
		}
		if attempt == saleNumberAttempts {
			return domain.SaleResponse{}, store.Unavailable(err)
		}
		s.logger.Warn("sale number collision, retrying", zap.String("sale_number", sale.SaleNumber))
		sale.SaleNumber = s.saleNumber(s.now())
	}
	if err != nil {
		return domain.SaleResponse{}, err
	}

	sale.Items = items
	sale.Payments = payments
	s.audit(ctx, "sale_create", "sale", sale.ID,
		zap.String("sale_number", sale.SaleNumber),
		decimalField(sale.FinalAmount, "final_amount"),
		zap.Int("items", len(items)))
	s.refreshReports(ctx)
	return domain.SaleResponse{Sale: sale, CashMovements: cashMovements}, nil
}

// insertSale writes one sale attempt inside tx. Stock issues and cash
// movements are posted for the numbered sale; out collects the movements.
func (s *Service) insertSale(ctx context.Context, tx store.Tx, actor domain.Actor, sale *domain.Sale, items []domain.SaleItem, payments []domain.SalePayment, out *[]domain.CashMovement) error {
	productIDs := make([]string, 0, len(items))
	for _, item := range items {
		productIDs = append(productIDs, item.ProductID)
	}

	if sale.CustomerID != nil {
		ok, err := tx.CustomerExists(ctx, *sale.CustomerID)
		if err != nil {
			return err
		}
		if !ok {
			return store.NotFound("customer", *sale.CustomerID)
		}
	}

	methods := make(map[string]domain.PaymentMethod, len(payments))
	cashTendered := decimal.Zero
	for i, p := range payments {
		method, err := tx.GetPaymentMethod(ctx, p.PaymentMethodID)
		if err != nil {
			return err
		}
		if !method.Active {
			return store.Invalid(fmt.Sprintf("payments[%d].payment_method_id", i), "payment method is inactive")
		}
		methods[method.ID] = *method
		if method.IsCash {
			cashTendered = cashTendered.Add(p.Amount)
		}
	}
	if sale.ChangeAmount.GreaterThan(cashTendered) {
		return store.Invalid("payments", "change can only be given from cash tender")
	}

	locked, err := s.ledger.LockProducts(ctx, tx, productIDs)
	if err != nil {
		return err
	}
	for i, item := range items {
		if !locked[item.ProductID].Active {
			return store.Invalid(fmt.Sprintf("items[%d].product_id", i), "product is inactive")
		}
	}

	session, err := lockOpenSession(ctx, tx, actor.ID)
	switch {
	case errors.Is(err, store.ErrNoOpenSession):
		session = nil
	case err != nil:
		return err
	default:
		sale.CashSessionID = &session.ID
	}

	if err := tx.InsertSale(ctx, *sale); err != nil {
		return err
	}
	for _, item := range items {
		if err := tx.InsertSaleItem(ctx, item); err != nil {
			return err
		}
		_, err := s.ledger.ApplyDelta(ctx, tx, ledger.Entry{
			ProductID:     item.ProductID,
			Delta:         item.Quantity.Neg(),
			Type:          domain.MovementSaleIssue,
			ReferenceID:   sale.ID,
			ReferenceType: domain.ReferenceSale,
			Description:   "sale " + sale.SaleNumber,
			ActorID:       actor.ID,
		})
		if err != nil {
			return err
		}
	}

	changeDue := sale.ChangeAmount
	for _, p := range payments {
		if err := tx.InsertSalePayment(ctx, p); err != nil {
			return err
		}
		if session == nil {
			continue
		}

		method := methods[p.PaymentMethodID]
		movement := domain.CashMovement{
			ID:              xid.New("cmv"),
			SessionID:       session.ID,
			Type:            domain.CashSaleNonCash,
			Amount:          p.Amount,
			PaymentMethodID: &method.ID,
			SaleID:          &sale.ID,
			Reason:          "sale " + sale.SaleNumber,
			CreatedBy:       actor.ID,
			CreatedAt:       sale.CreatedAt,
		}
		if method.IsCash {
			movement.Type = domain.CashSale
			// Change leaves the drawer, so cash proceeds are booked net of it.
			kept := decimal.Max(p.Amount.Sub(changeDue), decimal.Zero)
			changeDue = changeDue.Sub(p.Amount.Sub(kept))
			movement.Amount = kept
		}
		if !movement.Amount.IsPositive() {
			continue
		}
		if err := tx.InsertCashMovement(ctx, movement); err != nil {
			return err
		}
		*out = append(*out, movement)
	}
	return nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// ListSales pages through sale headers, newest first. Cashiers only see the
// sales they rang up.
func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) (domain.SaleListResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.SaleListResponse{}, err
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return domain.SaleListResponse{}, store.Invalid("to", "is before from")
	}
	filter.CustomerID = strings.TrimSpace(filter.CustomerID)
	filter.PaymentMethodID = strings.TrimSpace(filter.PaymentMethodID)
	filter.CreatedBy = strings.TrimSpace(filter.CreatedBy)
	if actor.Role != domain.RoleAdmin {
		filter.CreatedBy = actor.ID
	}
	filter.Page, filter.PageSize = normalizePage(filter.Page, filter.PageSize)

	sales, total, err := s.repo.ListSales(ctx, filter)
	if err != nil {
		return domain.SaleListResponse{}, err
	}
	return domain.SaleListResponse{Sales: sales, Total: total, Page: filter.Page, PageSize: filter.PageSize}, nil
}
