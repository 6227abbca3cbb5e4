package store

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel errors, one per failure kind the ledger surfaces. Match with errors.Is.
var (
	ErrUnauthenticated        = errors.New("unauthenticated")
	ErrForbidden              = errors.New("operation not allowed for this role")
	ErrValidation             = errors.New("validation failed")
	ErrNotFound               = errors.New("not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrSessionAlreadyOpen     = errors.New("cash session already open")
	ErrNoOpenSession          = errors.New("no open cash session")
	ErrUnjustifiedDiscrepancy = errors.New("cash discrepancy requires a justification")
	ErrSessionClosed          = errors.New("session already closed")
	ErrStoreUnavailable       = errors.New("store unavailable")
)

// ErrSaleNumberTaken is returned by InsertSale when the display number is
// already used. The caller draws a new number and retries the transaction.
var ErrSaleNumberTaken = errors.New("sale number already used")

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func Invalid(field string, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

func NotFound(entity string, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// InsufficientStockError names the product that would have gone negative.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Available   decimal.Decimal
	Requested   decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %s, requested %s",
		e.ProductName, e.Available.StringFixed(3), e.Requested.StringFixed(3))
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// DiscrepancyError reports a counted cash figure that does not match the
// expected drawer balance.
type DiscrepancyError struct {
	Expected   decimal.Decimal
	Counted    decimal.Decimal
	Difference decimal.Decimal
}

func (e *DiscrepancyError) Error() string {
	return fmt.Sprintf("cash difference of %s (expected %s, counted %s) requires a justification",
		e.Difference.StringFixed(2), e.Expected.StringFixed(2), e.Counted.StringFixed(2))
}

func (e *DiscrepancyError) Unwrap() error {
	return ErrUnjustifiedDiscrepancy
}

// Unavailable wraps a transport or transaction failure so callers can tell
// it apart from business errors and retry the whole operation.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// Kind returns a stable machine-readable name for err's taxonomy kind.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrSessionAlreadyOpen):
		return "session_already_open"
	case errors.Is(err, ErrNoOpenSession):
		return "no_open_session"
	case errors.Is(err, ErrUnjustifiedDiscrepancy):
		return "unjustified_discrepancy"
	case errors.Is(err, ErrSessionClosed):
		return "session_closed"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "internal"
	}
}
