/*
errors.go - Error taxonomy of the ledger engine

ERROR CATEGORIES:
  1. Rejected  - policy violation, safe to show the reason verbatim, no retry
  2. Conflict  - lost a race on the same book or issuance, retry the submission
  3. NotFound  - referenced reader, book, author or operation is absent
  4. Transient - store timeout or connection failure, retry with backoff

Every rejection leaves state untouched: the engine validates before writing
and performs all writes inside one store transaction.

USAGE:
  op, err := engine.Submit(ctx, actor, sub)
  var rej *ledger.RejectedError
  if errors.As(err, &rej) {
      fmt.Println(rej.Reason)
  }
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrRejected is returned when an operation violates ledger policy.
	ErrRejected = errors.New("operation rejected")

	// ErrConflict is returned when a concurrent writer changed the book or
	// resolved the issuance between read and write.
	ErrConflict = errors.New("concurrent modification detected")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrTransient is returned when the store timed out or failed in a way
	// that may succeed on retry.
	ErrTransient = errors.New("transient store failure")
)

// Rejection codes. Reasons are human readable; codes are stable.
const (
	CodeInvalidKind       = "invalid_kind"
	CodeNegativeQuantity  = "negative_quantity"
	CodeAlreadyHolding    = "already_holding"
	CodeNotAcquired       = "not_acquired"
	CodeAllIssued         = "all_issued"
	CodeAlreadyResolved   = "already_resolved"
	CodeExceedsStock      = "exceeds_stock"
	CodeIssuanceResolved  = "issuance_resolved"
	CodeLossWrittenOff    = "loss_written_off"
	CodeNotLost           = "not_lost"
	CodeAlreadyWrittenOff = "already_written_off"
	CodeInvariant         = "invariant"
	CodeReferenced        = "referenced"
	CodeDuplicate         = "duplicate"
	CodeInvalid           = "invalid"
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RejectedError is a policy violation. Reason is shown to the caller as is.
type RejectedError struct {
	Code   string
	Reason string
}

func (e *RejectedError) Error() string { return e.Reason }

func (e *RejectedError) Unwrap() error { return ErrRejected }

func reject(code, format string, args ...any) *RejectedError {
	return &RejectedError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// Reject builds a RejectedError for stores and collaborators that enforce
// catalog rules (uniqueness, restrict-on-delete).
func Reject(code, format string, args ...any) error {
	return reject(code, format, args...)
}

// NotFoundError names the missing record.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func NotFound(entity string, id int64) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// TransientError wraps the store failure that caused it.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() []error { return []error{ErrTransient, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// RejectionCode returns the code of a RejectedError in err's chain, or "".
func RejectionCode(err error) string {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej.Code
	}
	return ""
}

// IsRetryable returns true if the whole submission may succeed when repeated.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrTransient)
}

// IsClientError returns true if the error is a policy rejection.
func IsClientError(err error) bool {
	return errors.Is(err, ErrRejected)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// classify turns context deadlines into transient failures and leaves the
// rest of the taxonomy untouched.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRejected) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) || errors.Is(err, ErrTransient) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
