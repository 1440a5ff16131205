/*
errors.go - Leave error kinds

PURPOSE:
  Every failure a caller can act on maps to exactly one Kind. Structured
  errors carry the detail, sentinels make errors.Is work, and KindOf gives
  transports a stable name for the wire.

KINDS:
  validation            malformed input, nothing was changed
  invalid_date          an end date before the start date
  stage_mismatch        decision sent for a stage that is not pending yet
  already_decided       the stage was already passed (a concurrent loser lands here)
  already_set           the maternity end date is already recorded
  insufficient_balance  the debit would exceed a quota; retrying will not help
  not_eligible          preconditions unmet (terminal request, closed year, wrong owner)
  not_found             unknown request, employee row or year

Storage errors are wrapped with %w and surface as "internal".
*/
package leave

import (
	"errors"
	"fmt"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	ErrValidation          = errors.New("validation failed")
	ErrStageMismatch       = errors.New("stage mismatch")
	ErrAlreadyDecided      = errors.New("stage already decided")
	ErrAlreadySet          = errors.New("end date already set")
	ErrNotEligible         = errors.New("not eligible")
	ErrInsufficientBalance = generic.ErrInsufficientBalance
	ErrNotFound            = generic.ErrNotFound

	ErrInvalidDate = fmt.Errorf("invalid date: %w", ErrValidation)
	ErrYearClosed  = fmt.Errorf("%w: %w", generic.ErrPeriodClosed, ErrNotEligible)
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError names the offending field. Err defaults to ErrValidation.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrValidation
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// StageMismatchError is returned when a role decides ahead of its turn.
type StageMismatchError struct {
	RequestID string
	Role      Role
	Pending   Role
}

func (e *StageMismatchError) Error() string {
	return fmt.Sprintf("request %s is pending %s, not %s", e.RequestID, e.Pending, e.Role)
}

func (e *StageMismatchError) Unwrap() error { return ErrStageMismatch }

// AlreadyDecidedError is returned when a role's stage is already behind the request.
type AlreadyDecidedError struct {
	RequestID string
	Role      Role
	Status    Status
}

func (e *AlreadyDecidedError) Error() string {
	return fmt.Sprintf("request %s: %s stage already decided (now %s)", e.RequestID, e.Role, e.Status)
}

func (e *AlreadyDecidedError) Unwrap() error { return ErrAlreadyDecided }

// NotEligibleError explains which precondition failed.
type NotEligibleError struct {
	RequestID string
	Reason    string
}

func (e *NotEligibleError) Error() string {
	if e.RequestID == "" {
		return "not eligible: " + e.Reason
	}
	return fmt.Sprintf("request %s not eligible: %s", e.RequestID, e.Reason)
}

func (e *NotEligibleError) Unwrap() error { return ErrNotEligible }

// NotFoundError names the missing record.
type NotFoundError struct {
	What string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.What, e.ID) }

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InsufficientBalanceError is the ledger's structured shortfall.
type InsufficientBalanceError = generic.InsufficientBalanceError

// =============================================================================
// KIND
// =============================================================================

type Kind string

const (
	KindValidation          Kind = "validation"
	KindInvalidDate         Kind = "invalid_date"
	KindStageMismatch       Kind = "stage_mismatch"
	KindAlreadyDecided      Kind = "already_decided"
	KindAlreadySet          Kind = "already_set"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindNotEligible         Kind = "not_eligible"
	KindNotFound            Kind = "not_found"
	KindInternal            Kind = "internal"
)

// KindOf classifies err. nil has no kind.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidDate):
		return KindInvalidDate
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrStageMismatch):
		return KindStageMismatch
	case errors.Is(err, ErrAlreadyDecided):
		return KindAlreadyDecided
	case errors.Is(err, ErrAlreadySet):
		return KindAlreadySet
	case errors.Is(err, ErrInsufficientBalance):
		return KindInsufficientBalance
	case errors.Is(err, ErrNotEligible):
		return KindNotEligible
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	}
	return KindInternal
}
