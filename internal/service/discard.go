package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"mercado/backend/internal/domain"
	"mercado/backend/internal/ledger"
	"mercado/backend/internal/store"
	"mercado/backend/internal/xid"
)

func (s *Service) DiscardProduct(ctx context.Context, req domain.DiscardRequest) (domain.DiscardResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.DiscardResponse{}, err
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.Reason = domain.DiscardReason(strings.ToUpper(strings.TrimSpace(string(req.Reason))))
	if err := s.check(req); err != nil {
		return domain.DiscardResponse{}, err
	}
	qty := quantity(req.Quantity)
	if !qty.IsPositive() {
		return domain.DiscardResponse{}, store.Invalid("quantity", "must be greater than 0")
	}

	discard := domain.ProductDiscard{
		ID:          xid.New("dsc"),
		ProductID:   req.ProductID,
		BatchID:     optionalString(req.BatchID),
		Quantity:    qty,
		Reason:      req.Reason,
		Notes:       optionalString(req.Notes),
		DiscardedBy: actor.ID,
		DiscardedAt: s.now(),
	}
	description := string(discard.Reason)
	if discard.Notes != nil {
		description += ": " + *discard.Notes
	}

	var movement domain.StockMovement
	err = s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		product, err := tx.GetProductForUpdate(ctx, discard.ProductID)
		if err != nil {
			return err
		}
		if qty.GreaterThan(product.Stock) {
			return &store.InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Available:   product.Stock,
				Requested:   qty,
			}
		}
		discard.ProductName = product.Name

		if err := tx.InsertDiscard(ctx, discard); err != nil {
			return err
		}
		movement, err = s.ledger.ApplyDelta(ctx, tx, ledger.Entry{
			ProductID:     discard.ProductID,
			Delta:         qty.Neg(),
			Type:          domain.MovementDiscard,
			ReferenceID:   discard.ID,
			ReferenceType: domain.ReferenceDiscard,
			Description:   description,
			ActorID:       actor.ID,
		})
		return err
	})
	if err != nil {
		return domain.DiscardResponse{}, err
	}

	s.audit(ctx, "product_discard", "product", discard.ProductID,
		zap.String("discard_id", discard.ID),
		zap.String("reason", string(discard.Reason)),
		decimalField(discard.Quantity, "quantity"))
	s.refreshReports(ctx)
	return domain.DiscardResponse{Discard: discard, Movement: movement}, nil
}

func (s *Service) ListDiscards(ctx context.Context, filter domain.DiscardFilter) ([]domain.ProductDiscard, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, store.Invalid("to", "is before from")
	}
	filter.Reason = domain.DiscardReason(strings.ToUpper(strings.TrimSpace(string(filter.Reason))))
	switch filter.Reason {
	case "", domain.DiscardExpired, domain.DiscardDamaged, domain.DiscardQualityIssue, domain.DiscardOther:
	default:
		return nil, store.Invalid("reason", "must be one of EXPIRED DAMAGED QUALITY_ISSUE OTHER")
	}
	return s.repo.ListDiscards(ctx, filter)
}
