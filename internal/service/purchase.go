package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mercado/backend/internal/domain"
	"mercado/backend/internal/ledger"
	"mercado/backend/internal/store"
	"mercado/backend/internal/xid"
)

const accessKeyLength = 44

type purchasePlan struct {
	purchase    domain.Purchase
	receive     bool
	updateCosts bool
}

// CreatePurchase records a goods receipt: one RECEIPT movement per item.
func (s *Service) CreatePurchase(ctx context.Context, req domain.PurchaseCreateRequest) (domain.PurchaseResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.PurchaseResponse{}, err
	}
	if err := s.check(req); err != nil {
		return domain.PurchaseResponse{}, err
	}

	purchase, err := s.newPurchase(actor, req.SupplierID, req.PurchaseDate, req.Items)
	if err != nil {
		return domain.PurchaseResponse{}, err
	}
	purchase.InvoiceNumber = optionalString(req.InvoiceNumber)
	purchase.Notes = optionalString(req.Notes)

	return s.commitPurchase(ctx, actor, purchasePlan{purchase: purchase, receive: true}, "purchase_create")
}

// CreateDraftPurchase stores a purchase without touching stock. It becomes a
// receipt through ReceiveDraftPurchase.
func (s *Service) CreateDraftPurchase(ctx context.Context, req domain.PurchaseCreateRequest) (domain.PurchaseResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.PurchaseResponse{}, err
	}
	if err := s.check(req); err != nil {
		return domain.PurchaseResponse{}, err
	}

	purchase, err := s.newPurchase(actor, req.SupplierID, req.PurchaseDate, req.Items)
	if err != nil {
		return domain.PurchaseResponse{}, err
	}
	purchase.IsDraft = true
	purchase.InvoiceNumber = optionalString(req.InvoiceNumber)
	purchase.Notes = optionalString(req.Notes)

	return s.commitPurchase(ctx, actor, purchasePlan{purchase: purchase}, "purchase_draft_create")
}

// CreatePurchaseFromDocument records a receipt from a supplier electronic
// invoice whose lines were already matched to products. The access key can
// be imported once; each product's purchase price follows the invoice.
func (s *Service) CreatePurchaseFromDocument(ctx context.Context, req domain.PurchaseDocumentRequest) (domain.PurchaseResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.PurchaseResponse{}, err
	}
	if err := s.check(req); err != nil {
		return domain.PurchaseResponse{}, err
	}

	key := strings.Join(strings.Fields(req.Document.AccessKey), "")
	if len(key) != accessKeyLength || strings.IndexFunc(key, func(r rune) bool { return !unicode.IsDigit(r) }) >= 0 {
		return domain.PurchaseResponse{}, store.Invalid("document.access_key", fmt.Sprintf("must be %d digits", accessKeyLength))
	}

	purchase, err := s.newPurchase(actor, req.SupplierID, req.Document.IssuedAt, req.Items)
	if err != nil {
		return domain.PurchaseResponse{}, err
	}
	number := strings.TrimSpace(req.Document.Number)
	if series := strings.TrimSpace(req.Document.Series); series != "" {
		number += "/" + series
	}
	purchase.InvoiceNumber = &number
	purchase.DocumentKey = &key
	notes := "NF-e " + number
	if extra := strings.TrimSpace(req.Notes); extra != "" {
		notes += ": " + extra
	}
	purchase.Notes = &notes

	return s.commitPurchase(ctx, actor, purchasePlan{purchase: purchase, receive: true, updateCosts: true}, "purchase_document_import")
}

// ReceiveDraftPurchase turns a draft into a committed receipt.
func (s *Service) ReceiveDraftPurchase(ctx context.Context, purchaseID string) (domain.PurchaseResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.PurchaseResponse{}, err
	}
	purchaseID = strings.TrimSpace(purchaseID)
	if purchaseID == "" {
		return domain.PurchaseResponse{}, store.Invalid("purchase_id", "is required")
	}

	var resp domain.PurchaseResponse
	err = s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		purchase, err := tx.GetPurchaseForUpdate(ctx, purchaseID)
		if err != nil {
			return err
		}
		if !purchase.IsDraft {
			return store.Invalid("purchase_id", "purchase was already received")
		}

		movements, err := s.receiveItems(ctx, tx, actor, *purchase)
		if err != nil {
			return err
		}
		receivedAt := s.now()
		if err := tx.MarkPurchaseReceived(ctx, purchase.ID, receivedAt); err != nil {
			return err
		}
		purchase.IsDraft = false
		purchase.ReceivedAt = &receivedAt
		resp = domain.PurchaseResponse{Purchase: *purchase, Movements: movements}
		return nil
	})
	if err != nil {
		return domain.PurchaseResponse{}, err
	}

	s.audit(ctx, "purchase_receive", "purchase", resp.Purchase.ID, zap.Int("items", len(resp.Purchase.Items)))
	s.refreshReports(ctx)
	return resp, nil
}

func (s *Service) GetPurchase(ctx context.Context, id string) (domain.Purchase, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.Purchase{}, err
	}
	purchase, err := s.repo.GetPurchase(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Purchase{}, err
	}
	return *purchase, nil
}

func (s *Service) ListPurchases(ctx context.Context, filter domain.PurchaseFilter) (domain.PurchaseListResponse, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.PurchaseListResponse{}, err
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return domain.PurchaseListResponse{}, store.Invalid("to", "is before from")
	}
	filter.SupplierID = strings.TrimSpace(filter.SupplierID)
	filter.Status = domain.PurchaseStatus(strings.ToLower(strings.TrimSpace(string(filter.Status))))
	switch filter.Status {
	case domain.PurchaseAny, domain.PurchaseDraft, domain.PurchaseReceived:
	default:
		return domain.PurchaseListResponse{}, store.Invalid("status", "must be draft or received")
	}
	filter.Page, filter.PageSize = normalizePage(filter.Page, filter.PageSize)

	purchases, total, err := s.repo.ListPurchases(ctx, filter)
	if err != nil {
		return domain.PurchaseListResponse{}, err
	}
	return domain.PurchaseListResponse{Purchases: purchases, Total: total, Page: filter.Page, PageSize: filter.PageSize}, nil
}

func (s *Service) PurchaseSuggestions(ctx context.Context, filter domain.SuggestionFilter) (domain.PurchaseSuggestionResponse, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.PurchaseSuggestionResponse{}, err
	}
	filter.CategoryID = strings.TrimSpace(filter.CategoryID)
	filter.SupplierID = strings.TrimSpace(filter.SupplierID)
	return s.restock.Suggestions(ctx, filter)
}

func (s *Service) ExpiringProducts(ctx context.Context, days int) (domain.ExpiringProductResponse, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.ExpiringProductResponse{}, err
	}
	return s.restock.Expiring(ctx, days)
}

func (s *Service) newPurchase(actor domain.Actor, supplierID string, date *time.Time, inputs []domain.PurchaseItemInput) (domain.Purchase, error) {
	now := s.now()
	purchase := domain.Purchase{
		ID:           xid.New("pur"),
		SupplierID:   strings.TrimSpace(supplierID),
		PurchaseDate: now,
		CreatedBy:    actor.ID,
		CreatedAt:    now,
	}
	if date != nil && !date.IsZero() {
		purchase.PurchaseDate = date.UTC()
	}

	total := decimal.Zero
	purchase.Items = make([]domain.PurchaseItem, 0, len(inputs))
	for i, in := range inputs {
		field := fmt.Sprintf("items[%d]", i)
		item := domain.PurchaseItem{
			ID:                xid.New("pi"),
			PurchaseID:        purchase.ID,
			ProductID:         strings.TrimSpace(in.ProductID),
			Quantity:          quantity(in.Quantity),
			UnitPrice:         money(in.UnitPrice),
			Batch:             optionalString(in.Batch),
			ManufacturingDate: in.ManufacturingDate,
			ExpirationDate:    in.ExpirationDate,
		}
		if !item.Quantity.IsPositive() {
			return domain.Purchase{}, store.Invalid(field+".quantity", "must be greater than 0")
		}
		if !item.UnitPrice.IsPositive() {
			return domain.Purchase{}, store.Invalid(field+".unit_price", "must be at least 0.01")
		}
		if in.ManufacturingDate != nil && in.ExpirationDate != nil && in.ExpirationDate.Before(*in.ManufacturingDate) {
			return domain.Purchase{}, store.Invalid(field+".expiration_date", "is before manufacturing_date")
		}
		item.TotalPrice = money(item.Quantity.Mul(item.UnitPrice))
		if !item.TotalPrice.IsPositive() {
			return domain.Purchase{}, store.Invalid(field+".unit_price", "line total rounds to zero")
		}
		total = total.Add(item.TotalPrice)
		purchase.Items = append(purchase.Items, item)
	}
	purchase.TotalAmount = money(total)
	return purchase, nil
}

func (s *Service) commitPurchase(ctx context.Context, actor domain.Actor, plan purchasePlan, action string) (domain.PurchaseResponse, error) {
	purchase := plan.purchase
	if plan.receive {
		receivedAt := purchase.CreatedAt
		purchase.ReceivedAt = &receivedAt
	}

	var movements []domain.StockMovement
	err := s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ok, err := tx.SupplierExists(ctx, purchase.SupplierID)
		if err != nil {
			return err
		}
		if !ok {
			return store.NotFound("supplier", purchase.SupplierID)
		}

		ids := make([]string, 0, len(purchase.Items))
		for _, item := range purchase.Items {
			ids = append(ids, item.ProductID)
		}
		if _, err := s.ledger.LockProducts(ctx, tx, ids); err != nil {
			return err
		}

		if err := tx.InsertPurchase(ctx, purchase); err != nil {
			return err
		}
		for _, item := range purchase.Items {
			if err := tx.InsertPurchaseItem(ctx, item); err != nil {
				return err
			}
			if plan.updateCosts {
				if err := tx.SetProductPurchasePrice(ctx, item.ProductID, item.UnitPrice, purchase.CreatedAt); err != nil {
					return err
				}
			}
		}
		if !plan.receive {
			return nil
		}
		movements, err = s.receiveItems(ctx, tx, actor, purchase)
		return err
	})
	if err != nil {
		return domain.PurchaseResponse{}, err
	}

	s.audit(ctx, action, "purchase", purchase.ID,
		zap.String("supplier_id", purchase.SupplierID),
		decimalField(purchase.TotalAmount, "total_amount"),
		zap.Bool("draft", purchase.IsDraft))
	if plan.receive {
		s.refreshReports(ctx)
	}
	return domain.PurchaseResponse{Purchase: purchase, Movements: movements}, nil
}

// receiveItems posts one RECEIPT movement per purchase item.
func (s *Service) receiveItems(ctx context.Context, tx store.Tx, actor domain.Actor, purchase domain.Purchase) ([]domain.StockMovement, error) {
	ids := make([]string, 0, len(purchase.Items))
	for _, item := range purchase.Items {
		ids = append(ids, item.ProductID)
	}
	if _, err := s.ledger.LockProducts(ctx, tx, ids); err != nil {
		return nil, err
	}

	description := "purchase"
	if purchase.InvoiceNumber != nil {
		description = "purchase invoice " + *purchase.InvoiceNumber
	}
	movements := make([]domain.StockMovement, 0, len(purchase.Items))
	for _, item := range purchase.Items {
		movement, err := s.ledger.ApplyDelta(ctx, tx, ledger.Entry{
			ProductID:     item.ProductID,
			Delta:         item.Quantity,
			Type:          domain.MovementReceipt,
			ReferenceID:   purchase.ID,
			ReferenceType: domain.ReferencePurchase,
			Description:   description,
			ActorID:       actor.ID,
		})
		if err != nil {
			return nil, err
		}
		movements = append(movements, movement)
	}
	return movements, nil
}
