package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/sqlite"
	"github.com/warp/leave-engine/store/storetest"
)

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) leave.TxRepository {
		return newTestStore(t)
	})
}

func TestStore_MigrationsAreIdempotent(t *testing.T) {
	// GIVEN: a database file written by one store
	path := filepath.Join(t.TempDir(), "leave.db")
	first, err := sqlite.New(path)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, first.MarkYearClosed(ctx, 2024, time.Now()))
	require.NoError(t, first.Close())

	// WHEN: the same file is opened again
	second, err := sqlite.New(path)
	require.NoError(t, err)
	defer second.Close()

	// THEN: migrations are a no-op and the data is still there
	closed, err := second.IsYearClosed(ctx, 2024)
	require.NoError(t, err)
	assert.True(t, closed)
}

func TestStore_EngineRoundTrip(t *testing.T) {
	// GIVEN: an engine over SQLite
	store := newTestStore(t)
	catalog, err := leave.NewCatalog()
	require.NoError(t, err)
	now := time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC)
	engine := leave.New(store, catalog, leave.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	end := generic.NewTimePoint(2025, time.June, 4)
	req, err := engine.Workflow.Submit(ctx, leave.SubmitInput{
		EmployeeID: "emp-1",
		LeaveType:  "casual",
		StartDate:  generic.NewTimePoint(2025, time.June, 2),
		EndDate:    &end,
		Reason:     "moving house",
	})
	require.NoError(t, err)

	// WHEN: all three officers approve
	for _, role := range leave.Roles {
		req, err = engine.Workflow.Decide(ctx, leave.DecideInput{
			RequestID: req.ID, Role: role, Decision: leave.DecisionApprove, OfficerID: "off-" + string(role),
		})
		require.NoError(t, err)
	}

	// THEN: the request is approved and the debit is committed with it
	assert.Equal(t, leave.StatusApproved, req.Status)
	entry, err := engine.Ledger.Balance(ctx, "emp-1", 2025, leave.TypeCasual)
	require.NoError(t, err)
	assert.True(t, entry.Used.Equal(generic.NewAmount(3, generic.UnitDays)))
	assert.True(t, entry.Remaining.Equal(generic.NewAmount(18, generic.UnitDays)))

	history, err := engine.Workflow.History(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}
