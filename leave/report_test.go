package leave_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/leave"
)

// seedReports leaves one request in each interesting state, created an hour apart.
func (f *fixture) seedReports(t *testing.T) (approved, pending, rejected, maternity leave.Request) {
	t.Helper()
	step := func() { f.clock.Set(f.clock.Now().Add(time.Hour)) }

	approved = f.approveAll(t, f.submit(t, leave.SubmitInput{
		EmployeeID: "emp-1", Department: "finance", LeaveType: "CASUAL",
		StartDate: date(2024, time.March, 4), EndDate: datePtr(2024, time.March, 6),
	}))
	step()
	pending = f.submit(t, leave.SubmitInput{
		EmployeeID: "emp-2", Department: "finance", LeaveType: "medical",
		StartDate: date(2024, time.April, 8), EndDate: datePtr(2024, time.April, 9),
	})
	step()
	rejected = f.submit(t, leave.SubmitInput{
		EmployeeID: "emp-3", Department: "ops", LeaveType: "CASUAL",
		StartDate: date(2024, time.June, 3), EndDate: datePtr(2024, time.June, 3),
	})
	rejected, err := f.decide(rejected, leave.RoleActing, leave.DecisionReject)
	require.NoError(t, err)
	step()
	maternity = f.approveAll(t, f.submit(t, leave.SubmitInput{
		EmployeeID: "emp-4", Department: "ops", LeaveType: "MATERNITY",
		StartDate: date(2024, time.July, 1),
	}))
	return approved, pending, rejected, maternity
}

func TestReports_ListRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	approved, pending, rejected, maternity := f.seedReports(t)

	all, err := f.engine.Reports.ListRequests(ctx, leave.RequestFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, []string{maternity.ID, rejected.ID, pending.ID, approved.ID},
		[]string{all[0].ID, all[1].ID, all[2].ID, all[3].ID}, "newest first")

	tests := []struct {
		name   string
		filter leave.RequestFilter
		want   []string
	}{
		{"by status", leave.RequestFilter{Status: leave.StatusApproved}, []string{maternity.ID, approved.ID}},
		{"by alias", leave.RequestFilter{Type: "Medical"}, []string{pending.ID}},
		{"by department", leave.RequestFilter{Department: "ops"}, []string{maternity.ID, rejected.ID}},
		{"by employee", leave.RequestFilter{EmployeeID: "emp-1"}, []string{approved.ID}},
		{"by overlap", leave.RequestFilter{From: datePtr(2024, time.March, 6), To: datePtr(2024, time.April, 8)}, []string{pending.ID, approved.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.engine.Reports.ListRequests(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]string, len(got))
			for i, r := range got {
				ids[i] = r.ID
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	_, err = f.engine.Reports.ListRequests(ctx, leave.RequestFilter{From: datePtr(2024, time.May, 1), To: datePtr(2024, time.April, 1)})
	assert.ErrorIs(t, err, leave.ErrValidation)
}

func TestReports_Dashboard(t *testing.T) {
	f := newFixture(t)
	f.seedReports(t)

	d, err := f.engine.Reports.Dashboard(context.Background(), leave.RequestFilter{})

	require.NoError(t, err)
	assert.Equal(t, 4, d.Total)
	assert.Equal(t, 2, d.ByStatus[leave.StatusApproved])
	assert.Equal(t, 1, d.ByStatus[leave.StatusPendingActingOfficer])
	assert.Equal(t, 1, d.ByStatus[leave.StatusRejectedByActing])
	assert.Equal(t, 2, d.ByType[leave.TypeCasual])
	assert.Equal(t, 1, d.ByType[leave.TypeSick])
	assert.Equal(t, map[leave.Role]int{leave.RoleActing: 1}, d.PendingByStage)
	assert.Equal(t, 1, d.PendingEndDates)

	finance, err := f.engine.Reports.Dashboard(context.Background(), leave.RequestFilter{Department: "finance"})
	require.NoError(t, err)
	assert.Equal(t, 2, finance.Total)
	assert.Zero(t, finance.PendingEndDates)
}

func TestReports_ExportRows(t *testing.T) {
	f := newFixture(t)
	approved, _, _, maternity := f.seedReports(t)

	rows, err := f.engine.Reports.ExportRows(context.Background(), leave.RequestFilter{Status: leave.StatusApproved})

	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, leave.ExportHeader, rows[0])

	// open-ended maternity has no end date and no day count yet
	assert.Equal(t, maternity.ID, rows[1][0])
	assert.Equal(t, "", rows[1][5])
	assert.Equal(t, "", rows[1][6])

	assert.Equal(t, []string{
		approved.ID, "emp-1", "finance", "CASUAL", "2024-03-04", "2024-03-06", "3", "APPROVED", "personal",
		"officer-ACTING", "officer-SUPERVISING", "officer-APPROVAL", "2024-02-15 09:00",
	}, rows[2])
}

func TestReports_EmployeeOverview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedReports(t)
	_, err := f.engine.Archive.UpsertBackfill(ctx, "emp-1", 2021, leave.BackfillInput{
		Entries: []leave.SummaryEntry{{Type: leave.TypeCasual, Total: days(21), Used: days(4)}},
	})
	require.NoError(t, err)

	o, err := f.engine.Reports.EmployeeOverview(ctx, "emp-1", 2024)

	require.NoError(t, err)
	assert.Len(t, o.Balances, 5)
	require.Len(t, o.History, 1)
	assert.Equal(t, 2021, o.History[0].Year)
	require.Len(t, o.Requests, 1)
	for _, e := range o.Balances {
		if e.Type == leave.TypeCasual {
			assertAmount(t, days(3), e.Used)
		}
	}

	_, err = f.engine.Reports.EmployeeOverview(ctx, "", 2024)
	assert.ErrorIs(t, err, leave.ErrValidation)
}
