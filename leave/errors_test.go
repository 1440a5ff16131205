package leave_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want leave.Kind
	}{
		{nil, ""},
		{&leave.ValidationError{Field: "reason", Message: "required"}, leave.KindValidation},
		{&leave.ValidationError{Field: "endDate", Err: leave.ErrInvalidDate}, leave.KindInvalidDate},
		{&leave.StageMismatchError{RequestID: "r", Role: leave.RoleApproval, Pending: leave.RoleActing}, leave.KindStageMismatch},
		{&leave.AlreadyDecidedError{RequestID: "r", Role: leave.RoleActing}, leave.KindAlreadyDecided},
		{fmt.Errorf("set: %w", leave.ErrAlreadySet), leave.KindAlreadySet},
		{&leave.InsufficientBalanceError{Scope: "March"}, leave.KindInsufficientBalance},
		{&leave.NotEligibleError{Reason: "closed"}, leave.KindNotEligible},
		{fmt.Errorf("debit: %w", leave.ErrYearClosed), leave.KindNotEligible},
		{&leave.NotFoundError{What: "request", ID: "r"}, leave.KindNotFound},
		{generic.ErrNotFound, leave.KindNotFound},
		{errors.New("disk full"), leave.KindInternal},
	}
	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, leave.KindOf(tt.err))
		})
	}
}

func TestYearClosedIsAlsoPeriodClosed(t *testing.T) {
	err := fmt.Errorf("debit: %w", leave.ErrYearClosed)
	assert.ErrorIs(t, err, generic.ErrPeriodClosed)
	assert.ErrorIs(t, err, leave.ErrNotEligible)
}
