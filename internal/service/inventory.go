package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mercado/backend/internal/domain"
	"mercado/backend/internal/importer"
	"mercado/backend/internal/ledger"
	"mercado/backend/internal/store"
	"mercado/backend/internal/xid"
)

func (s *Service) StartInventory(ctx context.Context, req domain.InventoryStartRequest) (domain.InventorySession, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.InventorySession{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := s.check(req); err != nil {
		return domain.InventorySession{}, err
	}

	session := domain.InventorySession{
		ID:        xid.New("inv"),
		Name:      req.Name,
		Notes:     optionalString(req.Notes),
		StartedBy: actor.ID,
		StartedAt: s.now(),
	}
	err = s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateInventorySession(ctx, session)
	})
	if err != nil {
		return domain.InventorySession{}, err
	}

	s.audit(ctx, "inventory_start", "inventory_session", session.ID, zap.String("name", session.Name))
	return session, nil
}

// SubmitCount records the counted quantity for one product, replacing any
// earlier count in the session. The difference is taken against live stock.
func (s *Service) SubmitCount(ctx context.Context, sessionID string, req domain.InventoryCountRequest) (domain.InventoryCount, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.InventoryCount{}, err
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if err := s.check(req); err != nil {
		return domain.InventoryCount{}, err
	}

	var count *domain.InventoryCount
	err = s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		session, err := lockOpenInventory(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		product, err := tx.GetProductForUpdate(ctx, req.ProductID)
		if err != nil {
			return err
		}
		count, err = s.upsertCount(ctx, tx, actor, session.ID, *product, req.CountedQty)
		return err
	})
	if err != nil {
		return domain.InventoryCount{}, err
	}

	s.audit(ctx, "inventory_count", "inventory_session", count.SessionID,
		zap.String("product_id", count.ProductID),
		decimalField(count.CountedQty, "counted_qty"),
		decimalField(count.Difference, "difference"))
	return *count, nil
}

// ImportCounts submits every row of a count spreadsheet in one transaction.
// A bad row rejects the whole sheet.
func (s *Service) ImportCounts(ctx context.Context, sessionID string, sheet io.Reader) ([]domain.InventoryCount, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := importer.ParseCountSheet(sheet)
	if err != nil {
		return nil, err
	}

	counts := make([]domain.InventoryCount, 0, len(rows))
	err = s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		session, err := lockOpenInventory(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		for _, row := range rows {
			product, err := resolveSheetProduct(ctx, tx, row)
			if err != nil {
				return err
			}
			count, err := s.upsertCount(ctx, tx, actor, session.ID, *product, row.CountedQty)
			if err != nil {
				return err
			}
			counts = append(counts, *count)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, "inventory_import", "inventory_session", strings.TrimSpace(sessionID), zap.Int("rows", len(counts)))
	return counts, nil
}

// FinalizeInventory applies one ADJUSTMENT per counted product whose count
// differs from the locked live stock and closes the session. Products whose
// count matches are skipped.
func (s *Service) FinalizeInventory(ctx context.Context, sessionID string) (domain.InventoryFinalizeResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.InventoryFinalizeResponse{}, err
	}

	var resp domain.InventoryFinalizeResponse
	err = s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		session, err := lockOpenInventory(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		counts, err := tx.ListInventoryCounts(ctx, session.ID)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(counts))
		for _, c := range counts {
			ids = append(ids, c.ProductID)
		}
		locked, err := s.ledger.LockProducts(ctx, tx, ids)
		if err != nil {
			return err
		}

		adjustments := make([]domain.InventoryAdjustment, 0, len(counts))
		movements := make([]domain.StockMovement, 0, len(counts))
		skipped := 0
		for _, c := range counts {
			current := quantity(locked[c.ProductID].Stock)
			diff := quantity(c.CountedQty.Sub(current))
			if diff.IsZero() {
				skipped++
				continue
			}
			movement, err := s.ledger.ApplyDelta(ctx, tx, ledger.Entry{
				ProductID:     c.ProductID,
				Delta:         diff,
				Type:          domain.MovementAdjustment,
				ReferenceID:   session.ID,
				ReferenceType: domain.ReferenceInventory,
				Description:   "inventory " + session.Name,
				ActorID:       actor.ID,
			})
			if err != nil {
				return err
			}
			adjustment := domain.InventoryAdjustment{
				ID:            xid.New("adj"),
				SessionID:     session.ID,
				ProductID:     c.ProductID,
				MovementID:    movement.ID,
				PreviousStock: movement.PreviousStock,
				CountedQty:    c.CountedQty,
				Difference:    diff,
				CreatedBy:     actor.ID,
				CreatedAt:     movement.CreatedAt,
			}
			if err := tx.InsertInventoryAdjustment(ctx, adjustment); err != nil {
				return err
			}
			adjustments = append(adjustments, adjustment)
			movements = append(movements, movement)
		}

		closedAt := s.now()
		if err := tx.CloseInventorySession(ctx, session.ID, closedAt); err != nil {
			return err
		}
		session.ClosedAt = &closedAt
		resp = domain.InventoryFinalizeResponse{
			Session:     *session,
			Adjustments: adjustments,
			Movements:   movements,
			Skipped:     skipped,
		}
		return nil
	})
	if err != nil {
		return domain.InventoryFinalizeResponse{}, err
	}

	s.audit(ctx, "inventory_finalize", "inventory_session", resp.Session.ID,
		zap.Int("adjusted", len(resp.Adjustments)), zap.Int("skipped", resp.Skipped))
	if len(resp.Adjustments) > 0 {
		s.refreshReports(ctx)
	}
	return resp, nil
}

func (s *Service) GetInventorySession(ctx context.Context, sessionID string) (domain.InventorySessionResponse, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.InventorySessionResponse{}, err
	}
	session, err := s.repo.GetInventorySession(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return domain.InventorySessionResponse{}, err
	}
	counts, err := s.repo.ListInventoryCounts(ctx, session.ID)
	if err != nil {
		return domain.InventorySessionResponse{}, err
	}
	adjustments, err := s.repo.ListInventoryAdjustments(ctx, session.ID)
	if err != nil {
		return domain.InventorySessionResponse{}, err
	}
	return domain.InventorySessionResponse{Session: *session, Counts: counts, Adjustments: adjustments}, nil
}

func lockOpenInventory(ctx context.Context, tx store.Tx, sessionID string) (*domain.InventorySession, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, store.Invalid("session_id", "is required")
	}
	session, err := tx.GetInventorySessionForUpdate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Closed() {
		return nil, store.ErrSessionClosed
	}
	return session, nil
}

func (s *Service) upsertCount(ctx context.Context, tx store.Tx, actor domain.Actor, sessionID string, product domain.Product, counted decimal.Decimal) (*domain.InventoryCount, error) {
	counted = quantity(counted)
	if counted.IsNegative() {
		return nil, store.Invalid("counted_qty", "must not be negative")
	}
	previous := quantity(product.Stock)
	return tx.UpsertInventoryCount(ctx, domain.InventoryCount{
		ID:            xid.New("cnt"),
		SessionID:     sessionID,
		ProductID:     product.ID,
		CountedQty:    counted,
		PreviousStock: previous,
		Difference:    counted.Sub(previous),
		CountedBy:     actor.ID,
		CountedAt:     s.now(),
	})
}

func resolveSheetProduct(ctx context.Context, tx store.Tx, row domain.CountSheetRow) (*domain.Product, error) {
	var (
		product *domain.Product
		err     error
	)
	if row.ProductID != "" {
		product, err = tx.GetProductForUpdate(ctx, row.ProductID)
	} else {
		product, err = tx.GetProductByBarcode(ctx, row.Barcode)
		if err == nil {
			product, err = tx.GetProductForUpdate(ctx, product.ID)
		}
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.Invalid("file", fmt.Sprintf("row %d: %v", row.Line, err))
	}
	return product, err
}
