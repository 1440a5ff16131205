package leave_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

func (f *fixture) approvedMaternity(t *testing.T, start generic.TimePoint) leave.Request {
	t.Helper()
	req := f.submit(t, leave.SubmitInput{EmployeeID: "emp-m", LeaveType: "MATERNITY", StartDate: start})
	require.Nil(t, req.EndDate)
	return f.approveAll(t, req)
}

func TestMaternity_ApprovalDefersDebit(t *testing.T) {
	// GIVEN / WHEN: an open-ended maternity request is approved
	f := newFixture(t)
	req := f.approvedMaternity(t, date(2024, time.March, 1))

	// THEN: it is approved, nothing is debited, and it is listed as pending
	assert.Equal(t, leave.StatusApproved, req.Status)
	debited, err := f.engine.Ledger.HasDebit(context.Background(), req.ID)
	require.NoError(t, err)
	assert.False(t, debited)

	pending, err := f.engine.Maternity.PendingEndDates(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, req.ID, pending[0].ID)
}

func TestMaternity_SetEndDateOnce(t *testing.T) {
	// GIVEN: an approved maternity request starting 1 March
	f := newFixture(t)
	ctx := context.Background()
	req := f.approvedMaternity(t, date(2024, time.March, 1))

	// WHEN: the end date is set to 23 May, day 84
	updated, err := f.engine.Maternity.SetEndDate(ctx, leave.SetEndDateInput{
		RequestID: req.ID,
		EndDate:   date(2024, time.May, 23),
		Comment:   " confirmed by HR ",
		ActorID:   "hr-1",
	})

	// THEN: 84 days are debited once
	require.NoError(t, err)
	require.NotNil(t, updated.EndDate)
	assert.True(t, updated.EndDate.Equal(date(2024, time.May, 23)))
	assert.Equal(t, "hr-1", updated.EndDateSetBy)
	assert.Equal(t, "confirmed by HR", updated.EndDateComment)
	assertAmount(t, days(84), f.balance(t, "emp-m", 2024, leave.TypeMaternity).Used)

	// AND: a second call is AlreadySet and debits nothing more
	_, err = f.engine.Maternity.SetEndDate(ctx, leave.SetEndDateInput{
		RequestID: req.ID,
		EndDate:   date(2024, time.April, 30),
		ActorID:   "hr-2",
	})
	assert.ErrorIs(t, err, leave.ErrAlreadySet)
	assert.Equal(t, leave.KindAlreadySet, leave.KindOf(err))
	assertAmount(t, days(84), f.balance(t, "emp-m", 2024, leave.TypeMaternity).Used)

	stored, err := f.engine.Workflow.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, stored.EndDate.Equal(date(2024, time.May, 23)))

	pending, err := f.engine.Maternity.PendingEndDates(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Contains(t, f.events.Types(), leave.EventEndDateSet)
}

func TestMaternity_ConcurrentSetEndDateDebitsOnce(t *testing.T) {
	f := newFixture(t)
	req := f.approvedMaternity(t, date(2024, time.March, 1))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := f.engine.Maternity.SetEndDate(context.Background(), leave.SetEndDateInput{
				RequestID: req.ID,
				EndDate:   date(2024, time.March, 10+n),
				ActorID:   "hr",
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, leave.ErrAlreadySet)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	txs, err := f.repo.Load(context.Background(), "emp-m", leave.PolicyIDFor(leave.TypeMaternity, 2024))
	require.NoError(t, err)
	var debits int
	for _, tx := range txs {
		if tx.Type == generic.TxConsumption {
			debits++
		}
	}
	assert.Equal(t, 1, debits)
}

func TestMaternity_SetEndDateRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	approved := f.approvedMaternity(t, date(2024, time.March, 1))

	pending := f.submit(t, leave.SubmitInput{EmployeeID: "emp-n", LeaveType: "MATERNITY", StartDate: date(2024, time.April, 1)})
	casual := f.approveAll(t, f.submitCasual(t, date(2024, time.March, 4), date(2024, time.March, 5)))

	tests := []struct {
		name string
		in   leave.SetEndDateInput
		kind leave.Kind
	}{
		{"not a maternity request", leave.SetEndDateInput{RequestID: casual.ID, EndDate: date(2024, time.March, 6)}, leave.KindNotEligible},
		{"not approved yet", leave.SetEndDateInput{RequestID: pending.ID, EndDate: date(2024, time.May, 1)}, leave.KindNotEligible},
		{"end before start", leave.SetEndDateInput{RequestID: approved.ID, EndDate: date(2024, time.February, 28)}, leave.KindInvalidDate},
		{"longer than allowed", leave.SetEndDateInput{RequestID: approved.ID, EndDate: date(2024, time.May, 24)}, leave.KindValidation},
		{"missing date", leave.SetEndDateInput{RequestID: approved.ID}, leave.KindValidation},
		{"unknown request", leave.SetEndDateInput{RequestID: "nope", EndDate: date(2024, time.May, 1)}, leave.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Maternity.SetEndDate(ctx, tt.in)
			require.Error(t, err)
			assert.Equal(t, tt.kind, leave.KindOf(err), err.Error())
		})
	}

	// nothing was debited for the maternity request
	debited, err := f.engine.Ledger.HasDebit(ctx, approved.ID)
	require.NoError(t, err)
	assert.False(t, debited)
}
