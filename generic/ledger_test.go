package generic_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/generic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestLedger() *generic.DefaultLedger {
	return generic.NewLedger(store.NewMemory())
}

func days(n float64) generic.Amount {
	return generic.NewAmount(n, generic.UnitDays)
}

func grant(id string, n float64, key string) generic.Transaction {
	return generic.Transaction{
		ID: generic.TransactionID(id), EntityID: "emp-1", PolicyID: "CASUAL-2025",
		EffectiveAt:    generic.StartOfYear(2025),
		Delta:          days(n),
		Type:           generic.TxGrant,
		IdempotencyKey: key,
	}
}

// =============================================================================
// IDEMPOTENCY TESTS
// =============================================================================

func TestIdempotency_DuplicateTransactionRejected(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	tx := grant("tx-1", 21, "grant:emp-1:CASUAL:2025")

	err1 := ledger.Append(ctx, tx)
	err2 := ledger.Append(ctx, tx)

	if err1 != nil {
		t.Error("first append should succeed")
	}
	if !errors.Is(err2, generic.ErrDuplicateIdempotencyKey) {
		t.Errorf("second append should fail with duplicate key, got %v", err2)
	}

	txs, _ := ledger.Transactions(ctx, "emp-1", "CASUAL-2025")
	if len(txs) != 1 {
		t.Errorf("expected 1 transaction, got %d", len(txs))
	}

	found, ok, err := ledger.Find(ctx, "grant:emp-1:CASUAL:2025")
	if err != nil || !ok || found.ID != "tx-1" {
		t.Errorf("expected tx-1 under its key, got %v %v %v", found.ID, ok, err)
	}
}

// =============================================================================
// RANGE AND KEYS
// =============================================================================

func TestTransactionsInRange_InclusiveBounds(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	dates := map[generic.TransactionID]generic.TimePoint{
		"feb-28": generic.NewTimePoint(2025, time.February, 28),
		"mar-31": generic.NewTimePoint(2025, time.March, 31),
		"mar-01": generic.NewTimePoint(2025, time.March, 1),
	}
	for id, at := range dates {
		tx := generic.Transaction{
			ID:          id,
			EntityID:    "emp-1",
			PolicyID:    "SHORT_LEAVE-2025",
			EffectiveAt: at,
			Delta:       generic.NewAmountFromInt(-1, generic.UnitUnits),
			Type:        generic.TxConsumption,
		}
		if err := ledger.Append(ctx, tx); err != nil {
			t.Fatal(err)
		}
	}

	march := generic.MonthPeriod(2025, time.March)
	got, err := ledger.TransactionsInRange(ctx, "emp-1", "SHORT_LEAVE-2025", march.Start, march.End)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 March transactions, got %d", len(got))
	}
	if !got[0].EffectiveAt.Before(got[1].EffectiveAt) {
		t.Error("expected chronological order")
	}

	keys, _ := ledger.Keys(ctx)
	if len(keys) != 1 || keys[0].PolicyID != "SHORT_LEAVE-2025" {
		t.Errorf("unexpected keys %v", keys)
	}
}

func TestTxMemory_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	mem := store.NewTxMemory()
	boom := errors.New("boom")

	err := mem.WithTx(ctx, func(s generic.Store) error {
		if err := generic.NewLedger(s).Append(ctx, grant("tx-1", 21, "k1")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	exists, _ := mem.Exists(ctx, "k1")
	if exists {
		t.Error("rolled back key should not exist")
	}
	txs, _ := mem.Load(ctx, "emp-1", "CASUAL-2025")
	if len(txs) != 0 {
		t.Errorf("expected no transactions after rollback, got %d", len(txs))
	}
}
