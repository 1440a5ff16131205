// Package store provides an in-memory generic.Store for tests and local runs.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	transactions map[generic.Key][]generic.Transaction
	idempotency  map[string]generic.Transaction
}

func NewMemory() *Memory {
	return &Memory{
		transactions: make(map[generic.Key][]generic.Transaction),
		idempotency:  make(map[string]generic.Transaction),
	}
}

// Append adds a single transaction.
func (m *Memory) Append(_ context.Context, tx generic.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

// AppendBatch adds multiple transactions atomically.
func (m *Memory) AppendBatch(_ context.Context, txs []generic.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendBatchLocked(txs)
}

func (m *Memory) appendBatchLocked(txs []generic.Transaction) error {
	seen := make(map[string]bool, len(txs))
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		if _, ok := m.idempotency[tx.IdempotencyKey]; ok || seen[tx.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		seen[tx.IdempotencyKey] = true
	}
	for _, tx := range txs {
		if err := m.appendLocked(tx); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) appendLocked(tx generic.Transaction) error {
	if tx.IdempotencyKey != "" {
		if _, ok := m.idempotency[tx.IdempotencyKey]; ok {
			return generic.ErrDuplicateIdempotencyKey
		}
	}

	k := generic.Key{EntityID: tx.EntityID, PolicyID: tx.PolicyID}
	txs := m.transactions[k]

	// keep each stream sorted by EffectiveAt, stable for equal dates
	i := sort.Search(len(txs), func(i int) bool {
		return txs[i].EffectiveAt.After(tx.EffectiveAt)
	})
	txs = append(txs, generic.Transaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = tx
	m.transactions[k] = txs

	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = tx
	}
	return nil
}

func (m *Memory) Load(_ context.Context, entityID generic.EntityID, policyID generic.PolicyID) ([]generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadLocked(entityID, policyID), nil
}

func (m *Memory) loadLocked(entityID generic.EntityID, policyID generic.PolicyID) []generic.Transaction {
	src := m.transactions[generic.Key{EntityID: entityID, PolicyID: policyID}]
	result := make([]generic.Transaction, len(src))
	copy(result, src)
	return result
}

func (m *Memory) LoadRange(_ context.Context, entityID generic.EntityID, policyID generic.PolicyID, from, to generic.TimePoint) ([]generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadRangeLocked(entityID, policyID, from, to), nil
}

func (m *Memory) loadRangeLocked(entityID generic.EntityID, policyID generic.PolicyID, from, to generic.TimePoint) []generic.Transaction {
	var result []generic.Transaction
	for _, tx := range m.transactions[generic.Key{EntityID: entityID, PolicyID: policyID}] {
		if from.BeforeOrEqual(tx.EffectiveAt) && tx.EffectiveAt.BeforeOrEqual(to) {
			result = append(result, tx)
		}
	}
	return result
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.idempotency[idempotencyKey]
	return ok, nil
}

func (m *Memory) FindByKey(_ context.Context, idempotencyKey string) (generic.Transaction, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.idempotency[idempotencyKey]
	return tx, ok, nil
}

func (m *Memory) Keys(_ context.Context) ([]generic.Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keysLocked(), nil
}

func (m *Memory) keysLocked() []generic.Key {
	keys := make([]generic.Key, 0, len(m.transactions))
	for k, txs := range m.transactions {
		if len(txs) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].EntityID != keys[j].EntityID {
			return keys[i].EntityID < keys[j].EntityID
		}
		return keys[i].PolicyID < keys[j].PolicyID
	})
	return keys
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

var _ generic.TxStore = (*TxMemory)(nil)

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn with the store locked. Writes land directly and are
// rolled back from a snapshot if fn fails.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	transactions map[generic.Key][]generic.Transaction
	idempotency  map[string]generic.Transaction
}

func (tm *TxMemory) snapshot() memorySnapshot {
	txsCopy := make(map[generic.Key][]generic.Transaction, len(tm.transactions))
	for k, v := range tm.transactions {
		txsCopy[k] = append([]generic.Transaction{}, v...)
	}
	idempCopy := make(map[string]generic.Transaction, len(tm.idempotency))
	for k, v := range tm.idempotency {
		idempCopy[k] = v
	}
	return memorySnapshot{transactions: txsCopy, idempotency: idempCopy}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.transactions = s.transactions
	tm.idempotency = s.idempotency
}

// txMemoryView runs against the parent without locking; WithTx already holds it.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) Append(_ context.Context, tx generic.Transaction) error {
	return tv.parent.appendLocked(tx)
}

func (tv *txMemoryView) AppendBatch(_ context.Context, txs []generic.Transaction) error {
	return tv.parent.appendBatchLocked(txs)
}

func (tv *txMemoryView) Load(_ context.Context, entityID generic.EntityID, policyID generic.PolicyID) ([]generic.Transaction, error) {
	return tv.parent.loadLocked(entityID, policyID), nil
}

func (tv *txMemoryView) LoadRange(_ context.Context, entityID generic.EntityID, policyID generic.PolicyID, from, to generic.TimePoint) ([]generic.Transaction, error) {
	return tv.parent.loadRangeLocked(entityID, policyID, from, to), nil
}

func (tv *txMemoryView) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	_, ok := tv.parent.idempotency[idempotencyKey]
	return ok, nil
}

func (tv *txMemoryView) FindByKey(_ context.Context, idempotencyKey string) (generic.Transaction, bool, error) {
	tx, ok := tv.parent.idempotency[idempotencyKey]
	return tx, ok, nil
}

func (tv *txMemoryView) Keys(_ context.Context) ([]generic.Key, error) {
	return tv.parent.keysLocked(), nil
}
