/*
ledger.go - Append-only transaction log

PURPOSE:
  The Ledger is the source of truth for every balance change. Entitlement
  grants, admin overrides, approval debits and cancellation credits are all
  recorded here, and balances are replayed from them.

INVARIANTS:
  1. APPEND-ONLY: there is no Update and no Delete.
  2. IDEMPOTENT: a second write with the same idempotency key is rejected
     with ErrDuplicateIdempotencyKey. Leave debits use "debit:<requestID>",
     so a retried approval can never debit twice.

CORRECTIONS:
  A mistaken debit is not edited. A TxReversal with the opposite sign is
  appended, dated at the original debit so the same month bucket is restored.

SEE ALSO:
  - store.go: persistence contract
  - leave/entitlement.go: policy checks on top of the ledger
*/
package generic

import "context"

// =============================================================================
// LEDGER
// =============================================================================

type Ledger interface {
	// Append adds a transaction. Fails if the idempotency key exists.
	Append(ctx context.Context, tx Transaction) error

	// Transactions returns all transactions for entity+policy, chronologically.
	Transactions(ctx context.Context, entityID EntityID, policyID PolicyID) ([]Transaction, error)

	// TransactionsInRange returns transactions effective in [from, to].
	TransactionsInRange(ctx context.Context, entityID EntityID, policyID PolicyID, from, to TimePoint) ([]Transaction, error)

	// Find returns the transaction recorded under an idempotency key.
	Find(ctx context.Context, idempotencyKey string) (Transaction, bool, error)

	// Keys lists every (entity, policy) stream that has at least one transaction.
	Keys(ctx context.Context) ([]Key, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, tx Transaction) error {
	if tx.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.Append(ctx, tx)
}

func (l *DefaultLedger) Transactions(ctx context.Context, entityID EntityID, policyID PolicyID) ([]Transaction, error) {
	return l.Store.Load(ctx, entityID, policyID)
}

func (l *DefaultLedger) TransactionsInRange(ctx context.Context, entityID EntityID, policyID PolicyID, from, to TimePoint) ([]Transaction, error) {
	return l.Store.LoadRange(ctx, entityID, policyID, from, to)
}

func (l *DefaultLedger) Find(ctx context.Context, idempotencyKey string) (Transaction, bool, error) {
	return l.Store.FindByKey(ctx, idempotencyKey)
}

func (l *DefaultLedger) Keys(ctx context.Context) ([]Key, error) {
	return l.Store.Keys(ctx)
}
