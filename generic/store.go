/*
store.go - Persistence interface for transactions and the audit trail

PURPOSE:
  Defines the boundary between the engine and the database. Implementations
  live in store/sqlite (production) and generic/store (in-memory, tests).

APPEND-ONLY CONTRACT:
  Store has Append and AppendBatch. There is no Update or Delete for
  transactions; corrections are reversal transactions.

ATOMICITY:
  TxStore.WithTx runs fn against a transactional view. If fn returns an error
  every write made through the view is discarded. The leave workflow relies on
  this to keep a final approval and its debit together.

SEE ALSO:
  - ledger.go: higher-level interface using Store
  - store/sqlite/sqlite.go: SQL implementation
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// Append persists a transaction. Returns ErrDuplicateIdempotencyKey if the
	// key exists.
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch persists multiple transactions. All or nothing.
	AppendBatch(ctx context.Context, txs []Transaction) error

	// Load returns all transactions for entity+policy, ordered by EffectiveAt.
	Load(ctx context.Context, entityID EntityID, policyID PolicyID) ([]Transaction, error)

	// LoadRange returns transactions effective in [from, to].
	LoadRange(ctx context.Context, entityID EntityID, policyID PolicyID, from, to TimePoint) ([]Transaction, error)

	// Exists checks if an idempotency key was already used.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)

	// FindByKey returns the transaction written under idempotencyKey.
	FindByKey(ctx context.Context, idempotencyKey string) (Transaction, bool, error)

	// Keys lists the distinct (entity, policy) streams.
	Keys(ctx context.Context) ([]Key, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. An error from fn rolls back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// AUDIT LOG - who did what when, separate from the ledger
// =============================================================================

type AuditEntry struct {
	ID          string
	Timestamp   time.Time
	ActorID     string
	Action      AuditAction
	EntityID    EntityID
	ReferenceID string // request ID, or "<employee>/<year>" for archive rows
	Payload     map[string]string
}

type AuditAction string

const (
	AuditRequestSubmitted AuditAction = "request_submitted"
	AuditStageApproved    AuditAction = "stage_approved"
	AuditRequestApproved  AuditAction = "request_approved"
	AuditRequestRejected  AuditAction = "request_rejected"
	AuditRequestCancelled AuditAction = "request_cancelled"
	AuditEndDateSet       AuditAction = "end_date_set"
	AuditEntitlementSet   AuditAction = "entitlement_set"
	AuditDebitReversed    AuditAction = "debit_reversed"
	AuditYearClosed       AuditAction = "year_closed"
	AuditBackfillUpserted AuditAction = "backfill_upserted"
	AuditBackfillDeleted  AuditAction = "backfill_deleted"
	AuditLeaveTypeChanged AuditAction = "leave_type_changed"
)

// AuditLog stores audit entries. Also append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	EntityID    *EntityID
	ReferenceID *string
	ActorID     *string
	Actions     []AuditAction
}

// Matches reports whether e passes every set field of the filter.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.EntityID != nil && *f.EntityID != e.EntityID {
		return false
	}
	if f.ReferenceID != nil && *f.ReferenceID != e.ReferenceID {
		return false
	}
	if f.ActorID != nil && *f.ActorID != e.ActorID {
		return false
	}
	if len(f.Actions) > 0 {
		for _, a := range f.Actions {
			if a == e.Action {
				return true
			}
		}
		return false
	}
	return true
}
