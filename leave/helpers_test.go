package leave_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recorder struct {
	mu     sync.Mutex
	events []leave.Event
}

func (r *recorder) Publish(_ context.Context, e leave.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Types() []leave.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]leave.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	engine *leave.Engine
	repo   *memory.Repository
	clock  *clock
	events *recorder
}

// newFixture starts the clock in mid-February 2024.
func newFixture(t *testing.T, policies ...leave.Policy) *fixture {
	t.Helper()
	return newWrappedFixture(t, nil, policies...)
}

// newWrappedFixture runs the engine over wrap(repo) so a test can intercept
// store calls. f.repo stays the bare store.
func newWrappedFixture(t *testing.T, wrap func(leave.TxRepository) leave.TxRepository, policies ...leave.Policy) *fixture {
	t.Helper()
	catalog, err := leave.NewCatalog(policies...)
	require.NoError(t, err)

	repo := memory.New()
	require.NoError(t, catalog.Attach(context.Background(), repo))

	var engineRepo leave.TxRepository = repo
	if wrap != nil {
		engineRepo = wrap(repo)
	}

	c := &clock{now: time.Date(2024, time.February, 15, 9, 0, 0, 0, time.UTC)}
	events := &recorder{}
	engine := leave.New(engineRepo, catalog,
		leave.WithClock(c.Now),
		leave.WithPublisher(events),
		leave.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return &fixture{engine: engine, repo: repo, clock: c, events: events}
}

func date(y int, m time.Month, d int) generic.TimePoint { return generic.NewTimePoint(y, m, d) }

func datePtr(y int, m time.Month, d int) *generic.TimePoint {
	tp := date(y, m, d)
	return &tp
}

func days(n float64) generic.Amount { return generic.NewAmount(n, generic.UnitDays) }

func units(n int) generic.Amount { return generic.NewAmountFromInt(n, generic.UnitUnits) }

func assertAmount(t *testing.T, want, got generic.Amount, msgAndArgs ...any) {
	t.Helper()
	require.Truef(t, want.Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

func (f *fixture) submit(t *testing.T, in leave.SubmitInput) leave.Request {
	t.Helper()
	if in.EmployeeID == "" {
		in.EmployeeID = "emp-1"
	}
	if in.Reason == "" {
		in.Reason = "personal"
	}
	req, err := f.engine.Workflow.Submit(context.Background(), in)
	require.NoError(t, err)
	return req
}

func (f *fixture) submitCasual(t *testing.T, start, end generic.TimePoint) leave.Request {
	t.Helper()
	return f.submit(t, leave.SubmitInput{LeaveType: "CASUAL", StartDate: start, EndDate: &end})
}

func (f *fixture) decide(req leave.Request, role leave.Role, d leave.Decision) (leave.Request, error) {
	return f.engine.Workflow.Decide(context.Background(), leave.DecideInput{
		RequestID: req.ID,
		Role:      role,
		Decision:  d,
		OfficerID: "officer-" + string(role),
	})
}

// approveAll walks a request through every stage.
func (f *fixture) approveAll(t *testing.T, req leave.Request) leave.Request {
	t.Helper()
	var err error
	for _, role := range leave.Roles {
		req, err = f.decide(req, role, leave.DecisionApprove)
		require.NoError(t, err, "approve at %s", role)
	}
	return req
}

func (f *fixture) balance(t *testing.T, emp generic.EntityID, year int, lt leave.Type) leave.Entry {
	t.Helper()
	e, err := f.engine.Ledger.Balance(context.Background(), emp, year, lt)
	require.NoError(t, err)
	return e
}
