package leave_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// seed2023 approves casual and short leave for two employees in 2023.
func (f *fixture) seed2023(t *testing.T) (casualReq leave.Request) {
	t.Helper()
	casualReq = f.approveAll(t, f.submit(t, leave.SubmitInput{
		EmployeeID: "emp-1",
		LeaveType:  "CASUAL",
		StartDate:  date(2023, time.September, 4),
		EndDate:    datePtr(2023, time.September, 8),
	}))
	f.approveAll(t, f.submit(t, leave.SubmitInput{
		EmployeeID: "emp-1",
		LeaveType:  "SHORT_LEAVE",
		StartDate:  date(2023, time.October, 9),
	}))
	f.approveAll(t, f.submit(t, leave.SubmitInput{
		EmployeeID: "emp-2",
		LeaveType:  "SICK",
		StartDate:  date(2023, time.November, 20),
		EndDate:    datePtr(2023, time.November, 21),
	}))
	return casualReq
}

func TestArchive_CloseYear(t *testing.T) {
	// GIVEN: two employees with 2023 activity
	f := newFixture(t)
	ctx := context.Background()
	casualReq := f.seed2023(t)

	// WHEN: 2023 is closed
	res, err := f.engine.Archive.CloseYear(ctx, 2023, "admin")

	// THEN: both are archived with their live entries
	require.NoError(t, err)
	assert.Equal(t, 2023, res.Year)
	assert.Equal(t, []generic.EntityID{"emp-1", "emp-2"}, res.Archived)
	assert.Empty(t, res.Skipped)

	s, err := f.engine.Archive.ByEmployeeYear(ctx, "emp-1", 2023)
	require.NoError(t, err)
	assert.Equal(t, leave.SourceYearClose, s.Source)
	casual, ok := s.Entry(leave.TypeCasual)
	require.True(t, ok)
	assertAmount(t, days(21), casual.Total)
	assertAmount(t, days(5), casual.Used)
	assertAmount(t, days(16), casual.Remaining)
	short, ok := s.Entry(leave.TypeShortLeave)
	require.True(t, ok)
	assertAmount(t, units(1), short.Monthly["October"].Used)

	// AND: a later credit moves the ledger, not the archived row
	_, err = f.engine.Ledger.Credit(ctx, leave.CreditInput{RequestID: casualReq.ID, ActorID: "admin", Reason: "payroll correction"})
	require.NoError(t, err)
	live := f.balance(t, "emp-1", 2023, leave.TypeCasual)
	assert.True(t, live.Frozen)
	assertAmount(t, days(0), live.Used)

	s, err = f.engine.Archive.ByEmployeeYear(ctx, "emp-1", 2023)
	require.NoError(t, err)
	casual, _ = s.Entry(leave.TypeCasual)
	assertAmount(t, days(5), casual.Used)

	years, err := f.engine.Archive.Years(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2023}, years)
	assert.Contains(t, f.events.Types(), leave.EventYearClosed)
}

func TestArchive_CloseYearGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Archive.CloseYear(ctx, 2025, "admin")
	assert.ErrorIs(t, err, leave.ErrValidation)

	_, err = f.engine.Archive.CloseYear(ctx, 2022, "admin")
	require.NoError(t, err)
	_, err = f.engine.Archive.CloseYear(ctx, 2022, "admin")
	assert.ErrorIs(t, err, leave.ErrNotEligible)
}

func TestArchive_CloseYearSkipsExistingRows(t *testing.T) {
	// GIVEN: emp-2 already has a back-filled 2023 row
	f := newFixture(t)
	ctx := context.Background()
	f.seed2023(t)
	_, err := f.engine.Archive.UpsertBackfill(ctx, "emp-2", 2023, leave.BackfillInput{
		Entries: []leave.SummaryEntry{{Type: leave.TypeSick, Total: days(24), Used: days(7)}},
		ActorID: "admin",
	})
	require.NoError(t, err)

	// WHEN
	res, err := f.engine.Archive.CloseYear(ctx, 2023, "admin")

	// THEN: the existing row survives untouched
	require.NoError(t, err)
	assert.Equal(t, []generic.EntityID{"emp-1"}, res.Archived)
	assert.Equal(t, []generic.EntityID{"emp-2"}, res.Skipped)
	s, err := f.engine.Archive.ByEmployeeYear(ctx, "emp-2", 2023)
	require.NoError(t, err)
	assert.Equal(t, leave.SourceBackfill, s.Source)
	sick, _ := s.Entry(leave.TypeSick)
	assertAmount(t, days(7), sick.Used)
}

func TestArchive_Backfill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// WHEN: a 2019 row is created with a legacy label
	created, err := f.engine.Archive.UpsertBackfill(ctx, "emp-7", 2019, leave.BackfillInput{
		Entries: []leave.SummaryEntry{
			{Type: "casual", Total: days(21), Used: days(10.5)},
			{Type: "MEDICAL", Total: days(24), Used: days(3)},
		},
		Notes:   " from paper records ",
		ActorID: "admin",
	})

	// THEN
	require.NoError(t, err)
	assert.Equal(t, leave.SourceBackfill, created.Source)
	assert.Equal(t, "from paper records", created.Notes)
	require.Len(t, created.Entries, 2)
	sick, ok := created.Entry(leave.TypeSick)
	require.True(t, ok, "MEDICAL resolves to SICK")
	assertAmount(t, days(21), sick.Remaining)
	casual, _ := created.Entry(leave.TypeCasual)
	assertAmount(t, days(10.5), casual.Remaining)

	// AND: a correction keeps CreatedAt and bumps UpdatedAt
	f.clock.Set(f.clock.Now().Add(48 * time.Hour))
	updated, err := f.engine.Archive.UpsertBackfill(ctx, "emp-7", 2019, leave.BackfillInput{
		Entries: []leave.SummaryEntry{{Type: leave.TypeCasual, Total: days(21), Used: days(11)}},
		ActorID: "admin",
	})
	require.NoError(t, err)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))
	assert.Len(t, updated.Entries, 1)

	rows, err := f.engine.Archive.ByEmployee(ctx, "emp-7")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2019, rows[0].Year)
}

func TestArchive_BackfillValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		emp   generic.EntityID
		year  int
		in    leave.BackfillInput
		field string
	}{
		{"current year", "emp-1", 2024, leave.BackfillInput{Entries: []leave.SummaryEntry{{Type: leave.TypeCasual, Total: days(1)}}}, "year"},
		{"future year", "emp-1", 2030, leave.BackfillInput{Entries: []leave.SummaryEntry{{Type: leave.TypeCasual, Total: days(1)}}}, "year"},
		{"no employee", "", 2020, leave.BackfillInput{Entries: []leave.SummaryEntry{{Type: leave.TypeCasual, Total: days(1)}}}, "employeeId"},
		{"no entries", "emp-1", 2020, leave.BackfillInput{}, "entries"},
		{"used over total", "emp-1", 2020, leave.BackfillInput{Entries: []leave.SummaryEntry{{Type: leave.TypeCasual, Total: days(2), Used: days(3)}}}, "entries[0].used"},
		{"duplicate type", "emp-1", 2020, leave.BackfillInput{Entries: []leave.SummaryEntry{
			{Type: leave.TypeSick, Total: days(2)},
			{Type: "medical", Total: days(2)},
		}}, "entries[1].type"},
		{"quarter day", "emp-1", 2020, leave.BackfillInput{Entries: []leave.SummaryEntry{{Type: leave.TypeCasual, Total: days(2.25)}}}, "entries[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Archive.UpsertBackfill(ctx, tt.emp, tt.year, tt.in)
			var ve *leave.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	years, err := f.engine.Archive.Years(ctx)
	require.NoError(t, err)
	assert.Empty(t, years)
}

func TestArchive_DeleteSummaryAndYears(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.Archive.UpsertBackfill(ctx, "emp-1", 2020, leave.BackfillInput{
		Entries: []leave.SummaryEntry{{Type: leave.TypeCasual, Total: days(21)}},
	})
	require.NoError(t, err)
	_, err = f.engine.Archive.CloseYear(ctx, 2022, "admin")
	require.NoError(t, err)

	// closed years without rows are still listed
	years, err := f.engine.Archive.Years(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2022, 2020}, years)

	require.NoError(t, f.engine.Archive.DeleteSummary(ctx, "emp-1", 2020, "admin"))
	_, err = f.engine.Archive.ByEmployeeYear(ctx, "emp-1", 2020)
	assert.ErrorIs(t, err, leave.ErrNotFound)

	err = f.engine.Archive.DeleteSummary(ctx, "emp-1", 2020, "admin")
	assert.ErrorIs(t, err, leave.ErrNotFound)

	years, err = f.engine.Archive.Years(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2022}, years)

	audit, err := f.repo.QueryAudit(ctx, generic.AuditFilter{Actions: []generic.AuditAction{generic.AuditBackfillDeleted}})
	require.NoError(t, err)
	assert.Len(t, audit, 1)
}

// =============================================================================
// CLOSE VS. OPEN REQUESTS
// =============================================================================

func TestArchive_CloseYearRefusesOpenRequests(t *testing.T) {
	// GIVEN: a late-December 2023 request still waiting on its approval officer
	f := newFixture(t)
	ctx := context.Background()
	end := date(2023, time.December, 29)
	req := f.submit(t, leave.SubmitInput{LeaveType: "CASUAL", StartDate: date(2023, time.December, 27), EndDate: &end})
	req, err := f.decide(req, leave.RoleActing, leave.DecisionApprove)
	require.NoError(t, err)
	req, err = f.decide(req, leave.RoleSupervising, leave.DecisionApprove)
	require.NoError(t, err)

	// WHEN
	_, err = f.engine.Archive.CloseYear(ctx, 2023, "admin")

	// THEN: the close is refused and the year stays open
	assert.ErrorIs(t, err, leave.ErrNotEligible)
	closed, err := f.repo.IsYearClosed(ctx, 2023)
	require.NoError(t, err)
	assert.False(t, closed)

	// AND: the final approval still debits 2023, after which the close goes through
	req, err = f.decide(req, leave.RoleApproval, leave.DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, req.Status)

	res, err := f.engine.Archive.CloseYear(ctx, 2023, "admin")
	require.NoError(t, err)
	assert.Equal(t, []generic.EntityID{"emp-1"}, res.Archived)
	s, err := f.engine.Archive.ByEmployeeYear(ctx, "emp-1", 2023)
	require.NoError(t, err)
	casual, _ := s.Entry(leave.TypeCasual)
	assertAmount(t, days(3), casual.Used)
}

func TestArchive_CloseYearWaitsForMaternityEndDate(t *testing.T) {
	// GIVEN: an approved 2023 maternity request without an end date
	f := newFixture(t)
	ctx := context.Background()
	req := f.approvedMaternity(t, date(2023, time.October, 2))

	_, err := f.engine.Archive.CloseYear(ctx, 2023, "admin")
	assert.ErrorIs(t, err, leave.ErrNotEligible)

	// WHEN: HR records the end date
	_, err = f.engine.Maternity.SetEndDate(ctx, leave.SetEndDateInput{
		RequestID: req.ID,
		EndDate:   date(2023, time.December, 24),
		ActorID:   "hr-1",
	})
	require.NoError(t, err)

	// THEN: the year closes with the maternity days in the row
	_, err = f.engine.Archive.CloseYear(ctx, 2023, "admin")
	require.NoError(t, err)
	s, err := f.engine.Archive.ByEmployeeYear(ctx, "emp-m", 2023)
	require.NoError(t, err)
	maternity, ok := s.Entry(leave.TypeMaternity)
	require.True(t, ok)
	assertAmount(t, days(84), maternity.Used)
}

func TestArchive_CloseYearIgnoresTerminalAndOtherYears(t *testing.T) {
	// GIVEN: a rejected 2023 request and a pending 2024 one
	f := newFixture(t)
	ctx := context.Background()
	end := date(2023, time.November, 7)
	old := f.submit(t, leave.SubmitInput{LeaveType: "CASUAL", StartDate: date(2023, time.November, 6), EndDate: &end})
	_, err := f.decide(old, leave.RoleActing, leave.DecisionReject)
	require.NoError(t, err)
	f.submitCasual(t, date(2024, time.March, 4), date(2024, time.March, 5))

	// WHEN / THEN
	_, err = f.engine.Archive.CloseYear(ctx, 2023, "admin")
	require.NoError(t, err)
}

// =============================================================================
// CLOSE CONCURRENCY
// =============================================================================

// hookedRepo runs a callback once on the first Keys or ListRequests call
// after it is armed.
type hookedRepo struct {
	leave.TxRepository

	mu            sync.Mutex
	afterKeys     func()
	beforeListing func()
}

func (h *hookedRepo) take(fn *func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	f := *fn
	*fn = nil
	return f
}

func (h *hookedRepo) Keys(ctx context.Context) ([]generic.Key, error) {
	keys, err := h.TxRepository.Keys(ctx)
	if fn := h.take(&h.afterKeys); fn != nil {
		fn()
	}
	return keys, err
}

func (h *hookedRepo) ListRequests(ctx context.Context, filter leave.RequestFilter) ([]leave.Request, error) {
	if fn := h.take(&h.beforeListing); fn != nil {
		fn()
	}
	return h.TxRepository.ListRequests(ctx, filter)
}

func newHookedFixture(t *testing.T) (*fixture, *hookedRepo) {
	t.Helper()
	hook := &hookedRepo{}
	f := newWrappedFixture(t, func(r leave.TxRepository) leave.TxRepository {
		hook.TxRepository = r
		return hook
	})
	return f, hook
}

// stalls reports whether done stays empty for a short while.
func stalls[T any](done <-chan T) bool {
	select {
	case <-done:
		return false
	case <-time.After(50 * time.Millisecond):
		return true
	}
}

func TestArchive_FirstReadDuringCloseIsNotProvisioned(t *testing.T) {
	// GIVEN: a close of 2023 that has just listed the employees to archive
	f, hook := newHookedFixture(t)
	ctx := context.Background()
	f.seed2023(t)

	readDone := make(chan error, 1)
	hook.mu.Lock()
	hook.afterKeys = func() {
		go func() {
			_, err := f.engine.Ledger.Balance(ctx, "emp-late", 2023, leave.TypeCasual)
			readDone <- err
		}()
		// WHEN: a new employee's first balance read arrives mid-close
		assert.True(t, stalls(readDone), "read ran while the year was closing")
	}
	hook.mu.Unlock()

	res, err := f.engine.Archive.CloseYear(ctx, 2023, "admin")
	require.NoError(t, err)

	// THEN: the read saw the frozen year and wrote no grant
	assert.ErrorIs(t, <-readDone, leave.ErrNotFound)
	txs, err := f.repo.Load(ctx, "emp-late", leave.PolicyIDFor(leave.TypeCasual, 2023))
	require.NoError(t, err)
	assert.Empty(t, txs)
	assert.Equal(t, []generic.EntityID{"emp-1", "emp-2"}, res.Archived)

	// AND: every 2023 stream has an archived row
	keys, err := f.repo.Keys(ctx)
	require.NoError(t, err)
	for _, k := range keys {
		if _, y, ok := leave.ParsePolicyID(k.PolicyID); ok && y == 2023 {
			_, err := f.engine.Archive.ByEmployeeYear(ctx, k.EntityID, 2023)
			assert.NoError(t, err, "no row for %s", k.EntityID)
		}
	}
}

// holdClose arms hook so the next CloseYear blocks while it holds the year.
// It returns once the close is blocked, with a func that lets it continue.
func holdClose(t *testing.T, f *fixture, hook *hookedRepo, year int) (release func(), closeErr <-chan error) {
	t.Helper()
	entered := make(chan struct{})
	proceed := make(chan struct{})
	hook.mu.Lock()
	hook.beforeListing = func() {
		close(entered)
		<-proceed
	}
	hook.mu.Unlock()

	errc := make(chan error, 1)
	go func() {
		_, err := f.engine.Archive.CloseYear(context.Background(), year, "admin")
		errc <- err
	}()
	<-entered
	return func() { close(proceed) }, errc
}

func TestArchive_DecisionWaitsForClose(t *testing.T) {
	// GIVEN: a 2023 request at its final stage and a close of 2023 in progress
	f, hook := newHookedFixture(t)
	end := date(2023, time.December, 29)
	req := f.submit(t, leave.SubmitInput{LeaveType: "CASUAL", StartDate: date(2023, time.December, 27), EndDate: &end})
	req, err := f.decide(req, leave.RoleActing, leave.DecisionApprove)
	require.NoError(t, err)
	req, err = f.decide(req, leave.RoleSupervising, leave.DecisionApprove)
	require.NoError(t, err)

	release, closeErr := holdClose(t, f, hook, 2023)

	// WHEN: the approval officer decides meanwhile
	decided := make(chan error, 1)
	go func() {
		_, err := f.decide(req, leave.RoleApproval, leave.DecisionApprove)
		decided <- err
	}()

	// THEN: the decision waits for the close, which refuses the open request
	assert.True(t, stalls(decided), "decision ran inside the close")
	release()
	assert.ErrorIs(t, <-closeErr, leave.ErrNotEligible)
	require.NoError(t, <-decided)

	stored, err := f.engine.Workflow.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, stored.Status)
	assertAmount(t, days(3), f.balance(t, "emp-1", 2023, leave.TypeCasual).Used)
}

func TestArchive_SetEndDateWaitsForClose(t *testing.T) {
	// GIVEN: an open-ended 2023 maternity request and a close of 2023 in progress
	f, hook := newHookedFixture(t)
	req := f.approvedMaternity(t, date(2023, time.October, 2))

	release, closeErr := holdClose(t, f, hook, 2023)

	// WHEN: HR sets the end date meanwhile
	set := make(chan error, 1)
	go func() {
		_, err := f.engine.Maternity.SetEndDate(context.Background(), leave.SetEndDateInput{
			RequestID: req.ID,
			EndDate:   date(2023, time.December, 24),
			ActorID:   "hr-1",
		})
		set <- err
	}()

	// THEN: the end date lands after the refused close and debits 2023
	assert.True(t, stalls(set), "end date set inside the close")
	release()
	assert.ErrorIs(t, <-closeErr, leave.ErrNotEligible)
	require.NoError(t, <-set)
	assertAmount(t, days(84), f.balance(t, "emp-m", 2023, leave.TypeMaternity).Used)
}

// =============================================================================
// PARTIAL FAILURE
// =============================================================================

// failingSummaries fails SaveSummary for one employee inside transactions.
type failingSummaries struct {
	leave.TxRepository

	mu      sync.Mutex
	failFor generic.EntityID
}

func (f *failingSummaries) setFailFor(emp generic.EntityID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failFor = emp
}

func (f *failingSummaries) WithTx(ctx context.Context, fn func(leave.Repository) error) error {
	f.mu.Lock()
	failFor := f.failFor
	f.mu.Unlock()
	return f.TxRepository.WithTx(ctx, func(tx leave.Repository) error {
		return fn(failingTx{Repository: tx, failFor: failFor})
	})
}

type failingTx struct {
	leave.Repository
	failFor generic.EntityID
}

var errDiskFull = errors.New("disk full")

func (f failingTx) SaveSummary(ctx context.Context, s leave.Summary) error {
	if s.EmployeeID == f.failFor {
		return errDiskFull
	}
	return f.Repository.SaveSummary(ctx, s)
}

func TestArchive_CloseYearFailureKeepsYearOpen(t *testing.T) {
	// GIVEN: emp-2's archive row cannot be written
	repo := &failingSummaries{failFor: "emp-2"}
	f := newWrappedFixture(t, func(r leave.TxRepository) leave.TxRepository {
		repo.TxRepository = r
		return repo
	})
	ctx := context.Background()
	f.seed2023(t)

	// WHEN
	_, err := f.engine.Archive.CloseYear(ctx, 2023, "admin")

	// THEN: the close fails, emp-2 has no row and the year stays open
	require.ErrorIs(t, err, errDiskFull)
	_, err = f.engine.Archive.ByEmployeeYear(ctx, "emp-2", 2023)
	assert.ErrorIs(t, err, leave.ErrNotFound)
	closed, err := f.repo.IsYearClosed(ctx, 2023)
	require.NoError(t, err)
	assert.False(t, closed)
	assert.NotContains(t, f.events.Types(), leave.EventYearClosed)

	// AND: a re-run archives emp-2 and keeps whatever emp-1 already has
	repo.setFailFor("")
	res, err := f.engine.Archive.CloseYear(ctx, 2023, "admin")
	require.NoError(t, err)
	assert.Contains(t, res.Archived, generic.EntityID("emp-2"))
	assert.ElementsMatch(t, []generic.EntityID{"emp-1", "emp-2"}, append(res.Archived, res.Skipped...))
	s, err := f.engine.Archive.ByEmployeeYear(ctx, "emp-2", 2023)
	require.NoError(t, err)
	sick, _ := s.Entry(leave.TypeSick)
	assertAmount(t, days(2), sick.Used)
}
