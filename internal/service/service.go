package service

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mercado/backend/internal/domain"
	"mercado/backend/internal/ledger"
	"mercado/backend/internal/restock"
	"mercado/backend/internal/store"
	"mercado/backend/internal/xid"
)

// txTimeout bounds a ledger operation once it has started.
const txTimeout = 20 * time.Second

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo       store.Repository
	ledger     *ledger.Ledger
	restock    *restock.Engine
	validate   *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
	saleNumber func(time.Time) string
	txTimeout  time.Duration
}

func New(repo store.Repository, restockEngine *restock.Engine, logger *zap.Logger) *Service {
	if restockEngine == nil {
		restockEngine = restock.NewEngine(repo, nil, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		repo:       repo,
		ledger:     ledger.New(),
		restock:    restockEngine,
		validate:   newValidator(),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		saleNumber: xid.SaleNumber,
		txTimeout:  txTimeout,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// check runs the struct's validate tags and reports the first failure as a
// ValidationError naming the JSON field.
func (s *Service) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return store.Invalid("", err.Error())
	}
	fe := fieldErrs[0]
	field := strings.TrimPrefix(fe.Namespace(), strings.SplitN(fe.Namespace(), ".", 2)[0]+".")
	return store.Invalid(field, describeTag(fe))
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "min":
		return "needs at least " + fe.Param() + " entries"
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "failed " + fe.Tag() + " check"
	}
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.ID == "" {
		return domain.Actor{}, store.ErrUnauthenticated
	}
	return actor, nil
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if actor.Role != domain.RoleAdmin {
		return domain.Actor{}, store.ErrForbidden
	}
	return actor, nil
}

// inTx runs fn in one store transaction. A caller that goes away before the
// transaction starts gets StoreUnavailable; once started, the operation is
// detached from the caller's cancellation and runs to commit or rollback
// within txTimeout.
func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return store.Unavailable(err)
	}
	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.txTimeout)
	defer cancel()

	err := s.repo.WithTx(txCtx, func(tx store.Tx) error {
		return fn(txCtx, tx)
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return store.Unavailable(err)
	}
	return err
}

// audit writes one structured entry for a committed operation.
func (s *Service) audit(ctx context.Context, action string, entity string, entityID string, fields ...zap.Field) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	base := []zap.Field{
		zap.String("action", action),
		zap.String("entity", entity),
		zap.String("entity_id", entityID),
		zap.String("actor_id", actor.ID),
		zap.String("actor", actor.Username),
	}
	s.logger.Info("audit", append(base, fields...)...)
}

// refreshReports drops cached restock reports after a stock change. Failures
// only delay freshness until the cache TTL expires.
func (s *Service) refreshReports(ctx context.Context) {
	if err := s.restock.Invalidate(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("failed to invalidate report cache", zap.Error(err))
	}
}

func normalizePage(page int, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case size < 1:
		size = defaultPageSize
	case size > maxPageSize:
		size = maxPageSize
	}
	return page, size
}

func money(d decimal.Decimal) decimal.Decimal {
	return d.Round(domain.MoneyPlaces)
}

func quantity(d decimal.Decimal) decimal.Decimal {
	return d.Round(domain.QuantityPlaces)
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func decimalField(d decimal.Decimal, key string) zap.Field {
	return zap.String(key, d.String())
}
