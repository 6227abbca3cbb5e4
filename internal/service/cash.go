package service

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mercado/backend/internal/domain"
	"mercado/backend/internal/store"
	"mercado/backend/internal/xid"
)

func (s *Service) OpenCash(ctx context.Context, req domain.CashOpenRequest) (domain.CashSessionResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CashSessionResponse{}, err
	}
	if err := s.check(req); err != nil {
		return domain.CashSessionResponse{}, err
	}

	session := domain.CashSession{
		ID:            xid.New("cash"),
		UserID:        actor.ID,
		OpeningAmount: money(req.OpeningAmount),
		OpenedAt:      s.now(),
	}
	err = s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateCashSession(ctx, session)
	})
	if err != nil {
		return domain.CashSessionResponse{}, err
	}

	s.audit(ctx, "cash_open", "cash_session", session.ID, decimalField(session.OpeningAmount, "opening_amount"))
	return domain.CashSessionResponse{Session: session, ExpectedCash: session.OpeningAmount}, nil
}

// lockOpenSession returns the actor's open session under lock, mapping a
// missing row to ErrNoOpenSession.
func lockOpenSession(ctx context.Context, tx store.Tx, userID string) (*domain.CashSession, error) {
	session, err := tx.GetOpenCashSessionForUpdate(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.ErrNoOpenSession
	}
	return session, err
}

// RecordCashMovement posts a manual supply (IN), withdrawal (OUT) or refund
// against the actor's open session.
func (s *Service) RecordCashMovement(ctx context.Context, req domain.CashMovementRequest) (domain.CashMovement, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CashMovement{}, err
	}
	req.Type = domain.CashMovementType(strings.ToUpper(strings.TrimSpace(string(req.Type))))
	req.SessionID = strings.TrimSpace(req.SessionID)
	if err := s.check(req); err != nil {
		return domain.CashMovement{}, err
	}
	if !req.Type.Manual() {
		return domain.CashMovement{}, store.Invalid("type", "sale movements are recorded by the sale processor")
	}
	amount := money(req.Amount)
	if !amount.IsPositive() {
		return domain.CashMovement{}, store.Invalid("amount", "must be greater than 0")
	}

	var movement domain.CashMovement
	err = s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		session, err := lockOpenSession(ctx, tx, actor.ID)
		if err != nil {
			return err
		}
		if req.SessionID != "" && req.SessionID != session.ID {
			return store.ErrNoOpenSession
		}
		movement = domain.CashMovement{
			ID:        xid.New("cmv"),
			SessionID: session.ID,
			Type:      req.Type,
			Amount:    amount,
			Reason:    strings.TrimSpace(req.Reason),
			CreatedBy: actor.ID,
			CreatedAt: s.now(),
		}
		return tx.InsertCashMovement(ctx, movement)
	})
	if err != nil {
		return domain.CashMovement{}, err
	}

	s.audit(ctx, "cash_movement", "cash_session", movement.SessionID,
		zap.String("type", string(movement.Type)), decimalField(movement.Amount, "amount"))
	return movement, nil
}

// CloseCash reconciles the drawer and closes the actor's open session. The
// counted cash is the sum of counts for cash payment methods; a difference
// against the expected balance needs a justification. Differences on
// non-cash methods are recorded but do not block the close.
func (s *Service) CloseCash(ctx context.Context, req domain.CashCloseRequest) (domain.CashCloseResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CashCloseResponse{}, err
	}
	if err := s.check(req); err != nil {
		return domain.CashCloseResponse{}, err
	}
	justification := strings.TrimSpace(req.Justification)

	seen := make(map[string]struct{}, len(req.Counts))
	for _, c := range req.Counts {
		id := strings.TrimSpace(c.PaymentMethodID)
		if _, dup := seen[id]; dup {
			return domain.CashCloseResponse{}, store.Invalid("counts", "payment method "+id+" counted twice")
		}
		seen[id] = struct{}{}
	}

	var resp domain.CashCloseResponse
	err = s.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		session, err := lockOpenSession(ctx, tx, actor.ID)
		if err != nil {
			return err
		}
		movements, err := tx.ListCashMovements(ctx, session.ID)
		if err != nil {
			return err
		}
		expected := expectedCash(session.OpeningAmount, summarize(movements))

		counted := decimal.Zero
		cashCounts := 0
		counts := make([]domain.CashCount, 0, len(req.Counts))
		for _, input := range req.Counts {
			method, err := tx.GetPaymentMethod(ctx, strings.TrimSpace(input.PaymentMethodID))
			if err != nil {
				return err
			}
			count := domain.CashCount{
				SessionID:       session.ID,
				PaymentMethodID: method.ID,
				Counted:         money(input.Amount),
			}
			if method.IsCash {
				cashCounts++
				if cashCounts > 1 {
					return store.Invalid("counts", "only one cash count is allowed")
				}
				counted = count.Counted
				count.Expected = expected
			} else {
				count.Expected = nonCashTotal(movements, method.ID)
			}
			count.Difference = money(count.Counted.Sub(count.Expected))
			counts = append(counts, count)
		}

		difference := money(counted.Sub(expected))
		if !difference.IsZero() && justification == "" {
			return &store.DiscrepancyError{Expected: expected, Counted: counted, Difference: difference}
		}

		closedAt := s.now()
		closed := *session
		closed.ClosingAmount = &counted
		closed.ExpectedAmount = &expected
		closed.Difference = &difference
		closed.Justification = optionalString(justification)
		closed.ClosedAt = &closedAt
		if err := tx.CloseCashSession(ctx, closed, counts); err != nil {
			return err
		}

		resp = domain.CashCloseResponse{
			Session:      closed,
			ExpectedCash: expected,
			CountedCash:  counted,
			Difference:   difference,
			Counts:       counts,
		}
		return nil
	})
	if err != nil {
		return domain.CashCloseResponse{}, err
	}

	s.audit(ctx, "cash_close", "cash_session", resp.Session.ID,
		decimalField(resp.ExpectedCash, "expected"),
		decimalField(resp.CountedCash, "counted"),
		decimalField(resp.Difference, "difference"))
	return resp, nil
}

// CashStatus returns the actor's open session with running totals.
func (s *Service) CashStatus(ctx context.Context) (domain.CashSessionResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CashSessionResponse{}, err
	}
	session, err := s.repo.GetOpenCashSession(ctx, actor.ID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.CashSessionResponse{}, store.ErrNoOpenSession
	}
	if err != nil {
		return domain.CashSessionResponse{}, err
	}
	movements, err := s.repo.ListCashMovements(ctx, session.ID)
	if err != nil {
		return domain.CashSessionResponse{}, err
	}

	totals := summarize(movements)
	return domain.CashSessionResponse{
		Session:      *session,
		Totals:       totals,
		ExpectedCash: expectedCash(session.OpeningAmount, totals),
	}, nil
}

// CashReport breaks a session down by movement type and payment method.
// Cashiers may only read their own sessions.
func (s *Service) CashReport(ctx context.Context, sessionID string) (domain.CashReport, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CashReport{}, err
	}
	session, err := s.repo.GetCashSession(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return domain.CashReport{}, err
	}
	if actor.Role != domain.RoleAdmin && session.UserID != actor.ID {
		return domain.CashReport{}, store.ErrForbidden
	}

	movements, err := s.repo.ListCashMovements(ctx, session.ID)
	if err != nil {
		return domain.CashReport{}, err
	}
	counts, err := s.repo.ListCashCounts(ctx, session.ID)
	if err != nil {
		return domain.CashReport{}, err
	}
	methods, err := s.repo.ListPaymentMethods(ctx)
	if err != nil {
		return domain.CashReport{}, err
	}

	byMethod := make([]domain.CashMethodTotal, 0, len(methods))
	for _, method := range methods {
		total := domain.CashMethodTotal{PaymentMethodID: method.ID, Name: method.Name, IsCash: method.IsCash, Total: decimal.Zero}
		for _, m := range movements {
			if m.PaymentMethodID == nil || *m.PaymentMethodID != method.ID {
				continue
			}
			if m.Type == domain.CashSale || m.Type == domain.CashSaleNonCash {
				total.Total = total.Total.Add(m.Amount)
				total.Movements++
			}
		}
		if total.Movements > 0 {
			byMethod = append(byMethod, total)
		}
	}

	totals := summarize(movements)
	return domain.CashReport{
		Session:      *session,
		Totals:       totals,
		ExpectedCash: expectedCash(session.OpeningAmount, totals),
		ByMethod:     byMethod,
		Counts:       counts,
		Movements:    movements,
	}, nil
}

func summarize(movements []domain.CashMovement) domain.CashTotals {
	totals := domain.CashTotals{
		In:          decimal.Zero,
		Out:         decimal.Zero,
		Sale:        decimal.Zero,
		SaleNonCash: decimal.Zero,
		Refund:      decimal.Zero,
	}
	for _, m := range movements {
		switch m.Type {
		case domain.CashIn:
			totals.In = totals.In.Add(m.Amount)
		case domain.CashOut:
			totals.Out = totals.Out.Add(m.Amount)
		case domain.CashSale:
			totals.Sale = totals.Sale.Add(m.Amount)
		case domain.CashSaleNonCash:
			totals.SaleNonCash = totals.SaleNonCash.Add(m.Amount)
		case domain.CashRefund:
			totals.Refund = totals.Refund.Add(m.Amount)
		}
	}
	return totals
}

// expectedCash is opening + IN + SALE − OUT − REFUND. Non-cash sales never
// enter the drawer.
func expectedCash(opening decimal.Decimal, totals domain.CashTotals) decimal.Decimal {
	return money(opening.Add(totals.In).Add(totals.Sale).Sub(totals.Out).Sub(totals.Refund))
}

func nonCashTotal(movements []domain.CashMovement, methodID string) decimal.Decimal {
	total := decimal.Zero
	for _, m := range movements {
		if m.Type == domain.CashSaleNonCash && m.PaymentMethodID != nil && *m.PaymentMethodID == methodID {
			total = total.Add(m.Amount)
		}
	}
	return money(total)
}
