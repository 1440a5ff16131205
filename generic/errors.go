/*
errors.go - Ledger-level error types

PURPOSE:
  Errors raised by the engine itself: idempotency collisions, balance
  shortfalls and closed periods. Domain packages wrap or re-export these and
  add their own workflow errors.

USAGE:
    if errors.Is(err, generic.ErrDuplicateIdempotencyKey) {
        // already applied, safe to treat as success
    }

SEE ALSO:
  - ledger.go: returns ErrDuplicateIdempotencyKey
  - leave/errors.go: workflow error kinds
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists. Retries hit this.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInsufficientBalance is returned when a debit exceeds the remaining quota.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPeriodClosed is returned when writing into a frozen period.
	ErrPeriodClosed = errors.New("period closed")

	// ErrInvalidPeriod is returned when a period ends before it starts.
	ErrInvalidPeriod = errors.New("invalid period: end before start")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InsufficientBalanceError carries the numbers behind a rejected debit.
// Scope is "year" or a month name when a sub-period cap was hit.
type InsufficientBalanceError struct {
	EntityID  EntityID
	PolicyID  PolicyID
	Scope     string
	Available Amount
	Requested Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s (%s): available %s, requested %s",
		e.PolicyID, e.Scope, e.Available.Value, e.Requested.Value)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// Shortfall is how much the request exceeds the available amount.
func (e *InsufficientBalanceError) Shortfall() Amount {
	return e.Requested.Sub(e.Available)
}
