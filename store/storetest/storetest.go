// Package storetest is the behaviour every leave.TxRepository must share.
// Store packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// Run exercises repo constructors produced by newRepo. Each subtest gets a
// fresh repository.
func Run(t *testing.T, newRepo func(t *testing.T) leave.TxRepository) {
	t.Run("LedgerOrderAndRange", func(t *testing.T) { testLedgerOrderAndRange(t, newRepo(t)) })
	t.Run("IdempotencyKey", func(t *testing.T) { testIdempotencyKey(t, newRepo(t)) })
	t.Run("Keys", func(t *testing.T) { testKeys(t, newRepo(t)) })
	t.Run("Requests", func(t *testing.T) { testRequests(t, newRepo(t)) })
	t.Run("Summaries", func(t *testing.T) { testSummaries(t, newRepo(t)) })
	t.Run("ClosedYears", func(t *testing.T) { testClosedYears(t, newRepo(t)) })
	t.Run("LeaveTypes", func(t *testing.T) { testLeaveTypes(t, newRepo(t)) })
	t.Run("Audit", func(t *testing.T) { testAudit(t, newRepo(t)) })
	t.Run("WithTxRollback", func(t *testing.T) { testWithTxRollback(t, newRepo(t)) })
	t.Run("WithTxCommit", func(t *testing.T) { testWithTxCommit(t, newRepo(t)) })
}

// =============================================================================
// FIXTURES
// =============================================================================

func day(y int, m time.Month, d int) generic.TimePoint { return generic.NewTimePoint(y, m, d) }

func tx(id, key string, at generic.TimePoint, delta float64, typ generic.TransactionType) generic.Transaction {
	return generic.Transaction{
		ID:             generic.TransactionID(id),
		EntityID:       "emp-1",
		PolicyID:       "CASUAL-2025",
		ResourceType:   leave.TypeCasual,
		EffectiveAt:    at,
		Delta:          generic.NewAmount(delta, generic.UnitDays),
		Type:           typ,
		ReferenceID:    "req-" + id,
		IdempotencyKey: key,
		CreatedBy:      "system",
		CreatedAt:      day(2025, time.January, 1),
	}
}

func request(id string, created time.Time, status leave.Status) leave.Request {
	end := day(2025, time.March, 12)
	return leave.Request{
		ID:         id,
		EmployeeID: "emp-1",
		Department: "finance",
		Type:       leave.TypeCasual,
		StartDate:  day(2025, time.March, 10),
		EndDate:    &end,
		Reason:     "family",
		Status:     status,
		Stages: [3]leave.StageRecord{
			{Role: leave.RoleActing, OfficerID: "off-a"},
			{Role: leave.RoleSupervising, OfficerID: "off-s"},
			{Role: leave.RoleApproval, OfficerID: "off-p"},
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

// =============================================================================
// LEDGER
// =============================================================================

func testLedgerOrderAndRange(t *testing.T, repo leave.TxRepository) {
	// GIVEN: transactions appended out of date order
	ctx := context.Background()
	require.NoError(t, repo.Append(ctx, tx("t2", "k2", day(2025, time.March, 3), -1, generic.TxConsumption)))
	require.NoError(t, repo.Append(ctx, tx("t1", "k1", day(2025, time.January, 1), 21, generic.TxGrant)))
	require.NoError(t, repo.Append(ctx, tx("t3", "k3", day(2025, time.April, 7), -0.5, generic.TxConsumption)))

	// WHEN: loading the whole stream and March only
	all, err := repo.Load(ctx, "emp-1", "CASUAL-2025")
	require.NoError(t, err)
	march, err := repo.LoadRange(ctx, "emp-1", "CASUAL-2025", day(2025, time.March, 1), day(2025, time.March, 31))
	require.NoError(t, err)

	// THEN: the stream is ordered by effective date and values survive the round trip
	require.Len(t, all, 3)
	assert.Equal(t, generic.TransactionID("t1"), all[0].ID)
	assert.Equal(t, generic.TransactionID("t3"), all[2].ID)
	assert.True(t, all[2].Delta.Equal(generic.NewAmount(-0.5, generic.UnitDays)))
	assert.Equal(t, leave.TypeCasual.ResourceID(), all[0].ResourceType.ResourceID())
	assert.Equal(t, "system", all[0].CreatedBy)
	require.Len(t, march, 1)
	assert.Equal(t, generic.TransactionID("t2"), march[0].ID)
}

func testIdempotencyKey(t *testing.T, repo leave.TxRepository) {
	// GIVEN: a debit keyed by its request
	ctx := context.Background()
	require.NoError(t, repo.Append(ctx, tx("t1", "debit:req-1", day(2025, time.May, 2), -2, generic.TxConsumption)))

	// WHEN: the same key is appended again
	err := repo.Append(ctx, tx("t2", "debit:req-1", day(2025, time.May, 2), -2, generic.TxConsumption))

	// THEN: the store refuses it and lookups find the first row
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)
	exists, err := repo.Exists(ctx, "debit:req-1")
	require.NoError(t, err)
	assert.True(t, exists)
	found, ok, err := repo.FindByKey(ctx, "debit:req-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, generic.TransactionID("t1"), found.ID)
	_, ok, err = repo.FindByKey(ctx, "debit:missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testKeys(t *testing.T, repo leave.TxRepository) {
	// GIVEN: streams for two employees
	ctx := context.Background()
	a := tx("t1", "k1", day(2025, time.January, 1), 21, generic.TxGrant)
	b := tx("t2", "k2", day(2025, time.January, 1), 24, generic.TxGrant)
	b.PolicyID = "SICK-2025"
	c := tx("t3", "k3", day(2025, time.January, 1), 21, generic.TxGrant)
	c.EntityID = "emp-0"
	require.NoError(t, repo.AppendBatch(ctx, []generic.Transaction{a, b, c}))

	// WHEN: listing keys
	keys, err := repo.Keys(ctx)
	require.NoError(t, err)

	// THEN: each stream appears once, ordered
	assert.Equal(t, []generic.Key{
		{EntityID: "emp-0", PolicyID: "CASUAL-2025"},
		{EntityID: "emp-1", PolicyID: "CASUAL-2025"},
		{EntityID: "emp-1", PolicyID: "SICK-2025"},
	}, keys)
}

// =============================================================================
// RECORDS
// =============================================================================

func testRequests(t *testing.T, repo leave.TxRepository) {
	ctx := context.Background()
	base := time.Date(2025, time.February, 1, 9, 0, 0, 0, time.UTC)

	// GIVEN: two requests, the second one newer and approved
	require.NoError(t, repo.SaveRequest(ctx, request("r1", base, leave.StatusPendingActingOfficer)))
	r2 := request("r2", base.Add(time.Hour), leave.StatusApproved)
	decided := base.Add(2 * time.Hour)
	r2.Stages[2].Decision = leave.DecisionApprove
	r2.Stages[2].DecidedAt = &decided
	require.NoError(t, repo.SaveRequest(ctx, r2))

	// WHEN: reading them back
	got, err := repo.GetRequest(ctx, "r2")
	require.NoError(t, err)
	all, err := repo.ListRequests(ctx, leave.RequestFilter{})
	require.NoError(t, err)
	approved, err := repo.ListRequests(ctx, leave.RequestFilter{Status: leave.StatusApproved})
	require.NoError(t, err)
	from, to := day(2025, time.April, 1), day(2025, time.April, 30)
	april, err := repo.ListRequests(ctx, leave.RequestFilter{From: &from, To: &to})
	require.NoError(t, err)

	// THEN: fields round-trip and lists come newest first
	assert.Equal(t, leave.StatusApproved, got.Status)
	require.NotNil(t, got.EndDate)
	assert.Equal(t, "2025-03-12", got.EndDate.String())
	assert.Equal(t, leave.DecisionApprove, got.Stages[2].Decision)
	require.NotNil(t, got.Stages[2].DecidedAt)
	assert.True(t, decided.Equal(*got.Stages[2].DecidedAt))
	assert.True(t, r2.CreatedAt.Equal(got.CreatedAt))
	require.Len(t, all, 2)
	assert.Equal(t, "r2", all[0].ID)
	require.Len(t, approved, 1)
	assert.Empty(t, april)

	// AND: unknown IDs are NotFound
	_, err = repo.GetRequest(ctx, "nope")
	assert.ErrorIs(t, err, leave.ErrNotFound)
}

func testSummaries(t *testing.T, repo leave.TxRepository) {
	ctx := context.Background()
	now := time.Date(2025, time.January, 2, 0, 0, 0, 0, time.UTC)
	entry := leave.SummaryEntry{
		Type:      leave.TypeCasual,
		Total:     generic.NewAmount(21, generic.UnitDays),
		Used:      generic.NewAmount(3.5, generic.UnitDays),
		Remaining: generic.NewAmount(17.5, generic.UnitDays),
	}

	// GIVEN: rows for two years and two employees
	for _, s := range []leave.Summary{
		{EmployeeID: "emp-1", Year: 2023, Entries: []leave.SummaryEntry{entry}, Source: leave.SourceBackfill, CreatedAt: now, UpdatedAt: now},
		{EmployeeID: "emp-1", Year: 2024, Entries: []leave.SummaryEntry{entry}, Source: leave.SourceYearClose, CreatedAt: now, UpdatedAt: now},
		{EmployeeID: "emp-2", Year: 2024, Entries: []leave.SummaryEntry{entry}, Source: leave.SourceYearClose, CreatedAt: now, UpdatedAt: now},
	} {
		require.NoError(t, repo.SaveSummary(ctx, s))
	}

	// WHEN/THEN: reads by key, employee and year
	got, err := repo.GetSummary(ctx, "emp-1", 2024)
	require.NoError(t, err)
	require.Len(t, got.Entries, 1)
	assert.True(t, got.Entries[0].Used.Equal(generic.NewAmount(3.5, generic.UnitDays)))

	byEmp, err := repo.SummariesByEmployee(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, byEmp, 2)
	assert.Equal(t, 2024, byEmp[0].Year)

	byYear, err := repo.SummariesByYear(ctx, 2024)
	require.NoError(t, err)
	assert.Len(t, byYear, 2)

	years, err := repo.SummaryYears(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2024, 2023}, years)

	// AND: upsert replaces, delete removes, a second delete is NotFound
	got.Notes = "corrected"
	require.NoError(t, repo.SaveSummary(ctx, got))
	got, err = repo.GetSummary(ctx, "emp-1", 2024)
	require.NoError(t, err)
	assert.Equal(t, "corrected", got.Notes)

	require.NoError(t, repo.DeleteSummary(ctx, "emp-1", 2023))
	assert.ErrorIs(t, repo.DeleteSummary(ctx, "emp-1", 2023), leave.ErrNotFound)
	_, err = repo.GetSummary(ctx, "emp-1", 2023)
	assert.ErrorIs(t, err, leave.ErrNotFound)
}

func testClosedYears(t *testing.T, repo leave.TxRepository) {
	ctx := context.Background()
	at := time.Date(2025, time.January, 1, 0, 5, 0, 0, time.UTC)

	// GIVEN: 2023 and 2024 closed, 2024 twice
	require.NoError(t, repo.MarkYearClosed(ctx, 2023, at))
	require.NoError(t, repo.MarkYearClosed(ctx, 2024, at))
	require.NoError(t, repo.MarkYearClosed(ctx, 2024, at))

	// THEN
	closed, err := repo.IsYearClosed(ctx, 2024)
	require.NoError(t, err)
	assert.True(t, closed)
	closed, err = repo.IsYearClosed(ctx, 2025)
	require.NoError(t, err)
	assert.False(t, closed)
	years, err := repo.ClosedYears(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2024, 2023}, years)
}

func testLeaveTypes(t *testing.T, repo leave.TxRepository) {
	ctx := context.Background()

	// GIVEN: a saved leave type, then an edit of it
	p := leave.Policy{Code: "STUDY", Name: "Study leave", Entitlement: 5, Capped: true}
	require.NoError(t, repo.SaveLeaveType(ctx, p))
	p.Entitlement = 7
	require.NoError(t, repo.SaveLeaveType(ctx, p))

	// THEN: one row with the latest values
	types, err := repo.LeaveTypes(ctx)
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Equal(t, 7.0, types[0].Entitlement)
	assert.True(t, types[0].Capped)
}

func testAudit(t *testing.T, repo leave.TxRepository) {
	ctx := context.Background()
	ts := time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)

	// GIVEN: entries for two requests
	for i, e := range []generic.AuditEntry{
		{ID: "a1", Timestamp: ts, ActorID: "emp-1", Action: generic.AuditRequestSubmitted, EntityID: "emp-1", ReferenceID: "r1"},
		{ID: "a2", Timestamp: ts.Add(time.Minute), ActorID: "off-a", Action: generic.AuditStageApproved, EntityID: "emp-1", ReferenceID: "r1", Payload: map[string]string{"role": "ACTING"}},
		{ID: "a3", Timestamp: ts.Add(2 * time.Minute), ActorID: "emp-2", Action: generic.AuditRequestSubmitted, EntityID: "emp-2", ReferenceID: "r2"},
	} {
		require.NoError(t, repo.AppendAudit(ctx, e), "entry %d", i)
	}

	// WHEN: filtering by reference and by action
	ref := "r1"
	byRef, err := repo.QueryAudit(ctx, generic.AuditFilter{ReferenceID: &ref})
	require.NoError(t, err)
	submitted, err := repo.QueryAudit(ctx, generic.AuditFilter{Actions: []generic.AuditAction{generic.AuditRequestSubmitted}})
	require.NoError(t, err)

	// THEN: oldest first, payload intact
	require.Len(t, byRef, 2)
	assert.Equal(t, "a1", byRef[0].ID)
	assert.Equal(t, "ACTING", byRef[1].Payload["role"])
	assert.Len(t, submitted, 2)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func testWithTxRollback(t *testing.T, repo leave.TxRepository) {
	ctx := context.Background()
	boom := errors.New("boom")

	// GIVEN: a transaction that writes everywhere and then fails
	err := repo.WithTx(ctx, func(tx leave.Repository) error {
		require.NoError(t, tx.Append(ctx, tx1()))
		require.NoError(t, tx.SaveRequest(ctx, request("r1", time.Now().UTC(), leave.StatusApproved)))
		require.NoError(t, tx.MarkYearClosed(ctx, 2024, time.Now()))
		require.NoError(t, tx.AppendAudit(ctx, generic.AuditEntry{ID: "a1", Timestamp: time.Now(), Action: generic.AuditRequestApproved}))
		return boom
	})

	// THEN: the error surfaces and nothing was kept
	assert.ErrorIs(t, err, boom)
	exists, err := repo.Exists(ctx, "debit:r1")
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = repo.GetRequest(ctx, "r1")
	assert.ErrorIs(t, err, leave.ErrNotFound)
	closed, err := repo.IsYearClosed(ctx, 2024)
	require.NoError(t, err)
	assert.False(t, closed)
	entries, err := repo.QueryAudit(ctx, generic.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func testWithTxCommit(t *testing.T, repo leave.TxRepository) {
	ctx := context.Background()

	// GIVEN: a transaction that reads its own writes
	err := repo.WithTx(ctx, func(tx leave.Repository) error {
		if err := tx.Append(ctx, tx1()); err != nil {
			return err
		}
		found, ok, err := tx.FindByKey(ctx, "debit:r1")
		if err != nil {
			return err
		}
		assert.True(t, ok)
		assert.Equal(t, generic.TransactionID("t-r1"), found.ID)
		return tx.SaveRequest(ctx, request("r1", time.Now().UTC(), leave.StatusApproved))
	})

	// THEN: both writes are visible afterwards
	require.NoError(t, err)
	exists, err := repo.Exists(ctx, "debit:r1")
	require.NoError(t, err)
	assert.True(t, exists)
	got, err := repo.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, got.Status)
}

func tx1() generic.Transaction {
	return tx("t-r1", "debit:r1", day(2025, time.March, 10), -3, generic.TxConsumption)
}
