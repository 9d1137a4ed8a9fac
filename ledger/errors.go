/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error kinds in one place. Every structured error unwraps to exactly
  one sentinel so callers can branch with errors.Is and pull details with
  errors.As.

ERROR KINDS:
  ErrValidation  malformed or out-of-range input (negative quantity/cost)
  ErrNotFound    referenced transaction or document does not exist
  ErrOversell    movement would drive on-hand negative
  ErrLifecycle   transition not permitted from the current state
  ErrTransfer    transfer-specific rule (stock at ship, cost basis, lines)
  ErrCount       count-specific rule (duplicate product, empty approval)
  ErrConflict    concurrent writer won; retried until the budget ran out

PROPAGATION:
  Validation and not-found are raised before any write. Everything else is
  raised inside the unit of work and rolls it back completely.

USAGE:
  if errors.Is(err, ledger.ErrOversell) {
      var oe *ledger.OversellError
      errors.As(err, &oe)
      fmt.Println(oe.Available)
  }

SEE ALSO:
  - retry.go: produces ConflictError
  - lifecycle/lifecycle.go: TransitionError
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/warp/storeledger/lifecycle"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrOversell   = errors.New("insufficient on-hand quantity")
	ErrLifecycle  = lifecycle.ErrInvalidTransition
	ErrTransfer   = errors.New("transfer rule violated")
	ErrCount      = errors.New("count rule violated")

	// ErrConflict is returned by stores when an optimistic version check
	// fails, the database reports a serialization failure or lock timeout,
	// or a unique key raced. It is the only retryable kind.
	ErrConflict = errors.New("concurrent modification")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type NotFoundError struct {
	Kind string // "inventory_transaction", "transfer", "count"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFound is used by stores to report a missing row.
func NewNotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// OversellError provides details about a stock shortage.
type OversellError struct {
	StoreID   StoreID
	ProductID ProductID
	Available int64
	Requested int64
}

func (e *OversellError) Error() string {
	return fmt.Sprintf("insufficient stock for %s at %s: available %d, requested %d",
		e.ProductID, e.StoreID, e.Available, e.Requested)
}

func (e *OversellError) Unwrap() error { return ErrOversell }

// TransferError reports a broken transfer rule. Err, when set, is the cause
// (a TransitionError for a wrong-state ship or receive) and stays matchable.
type TransferError struct {
	TransferID TransferID
	Reason     string
	Err        error
}

func (e *TransferError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transfer %s: %s: %v", e.TransferID, e.Reason, e.Err)
	}
	return fmt.Sprintf("transfer %s: %s", e.TransferID, e.Reason)
}

func (e *TransferError) Unwrap() []error { return withCause(ErrTransfer, e.Err) }

// CountError reports a broken count rule, optionally wrapping its cause.
type CountError struct {
	CountID CountID
	Reason  string
	Err     error
}

func (e *CountError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("count %s: %s: %v", e.CountID, e.Reason, e.Err)
	}
	return fmt.Sprintf("count %s: %s", e.CountID, e.Reason)
}

func (e *CountError) Unwrap() []error { return withCause(ErrCount, e.Err) }

func withCause(kind, cause error) []error {
	if cause == nil {
		return []error{kind}
	}
	return []error{kind, cause}
}

// ConflictError is surfaced once the retry budget is exhausted.
type ConflictError struct {
	Attempts int
	Last     error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return false
	}
	return errors.Is(err, ErrConflict)
}

// IsClientError returns true if the caller can fix the request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrOversell) ||
		errors.Is(err, ErrLifecycle) ||
		errors.Is(err, ErrTransfer) ||
		errors.Is(err, ErrCount)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
