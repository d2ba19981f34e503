package settlement

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidationError reports a malformed trade intent. It is raised before any
// row is loaded, so no storage state has been touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid trade intent: %s %s", e.Field, e.Reason)
}

// MissingReferenceError reports that a referenced backtest or holding row
// does not exist. It is never retried.
type MissingReferenceError struct {
	Field string
}

func (e *MissingReferenceError) Error() string {
	return fmt.Sprintf("%s not found", e.Field)
}

// InsufficientResourceError is a business-rule rejection: the backtest does
// not hold enough balance (buy) or shares (sell) to cover the trade.
type InsufficientResourceError struct {
	Resource  string
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *InsufficientResourceError) Error() string {
	return fmt.Sprintf("insufficient %s: available=%s, required=%s",
		e.Resource, e.Available.String(), e.Required.String())
}

// ConcurrencyConflictError is surfaced once the bounded retries for
// optimistic commit conflicts are exhausted.
type ConcurrencyConflictError struct {
	Attempts int
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("settlement conflict persisted after %d attempts", e.Attempts)
}

// StorageFault wraps an error from the underlying transactional store. The
// caller must treat the trade as not settled.
type StorageFault struct {
	Err error
}

func (e *StorageFault) Error() string {
	return fmt.Sprintf("storage fault: %v", e.Err)
}

func (e *StorageFault) Unwrap() error {
	return e.Err
}
