// Package memory provides an in-memory leave.TxRepository for tests and
// local runs. Ledger transactions live in the generic memory store; requests,
// archive rows, closed years, catalog edits and audit entries live here.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/warp/leave-engine/generic"
	genstore "github.com/warp/leave-engine/generic/store"
	"github.com/warp/leave-engine/leave"
)

type Repository struct {
	mu     sync.RWMutex
	ledger *genstore.TxMemory
	t      *tables
}

var _ leave.TxRepository = (*Repository)(nil)

func New() *Repository {
	return &Repository{
		ledger: genstore.NewTxMemory(),
		t:      newTables(),
	}
}

// =============================================================================
// LEDGER (generic.Store)
// =============================================================================

func (r *Repository) Append(ctx context.Context, tx generic.Transaction) error {
	return r.ledger.Append(ctx, tx)
}

func (r *Repository) AppendBatch(ctx context.Context, txs []generic.Transaction) error {
	return r.ledger.AppendBatch(ctx, txs)
}

func (r *Repository) Load(ctx context.Context, entityID generic.EntityID, policyID generic.PolicyID) ([]generic.Transaction, error) {
	return r.ledger.Load(ctx, entityID, policyID)
}

func (r *Repository) LoadRange(ctx context.Context, entityID generic.EntityID, policyID generic.PolicyID, from, to generic.TimePoint) ([]generic.Transaction, error) {
	return r.ledger.LoadRange(ctx, entityID, policyID, from, to)
}

func (r *Repository) Exists(ctx context.Context, key string) (bool, error) {
	return r.ledger.Exists(ctx, key)
}

func (r *Repository) FindByKey(ctx context.Context, key string) (generic.Transaction, bool, error) {
	return r.ledger.FindByKey(ctx, key)
}

func (r *Repository) Keys(ctx context.Context) ([]generic.Key, error) {
	return r.ledger.Keys(ctx)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx holds the repository for the whole of fn. On error the tables and
// the ledger are restored to their state before fn ran.
func (r *Repository) WithTx(ctx context.Context, fn func(leave.Repository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.t.clone()
	err := r.ledger.WithTx(ctx, func(ls generic.Store) error {
		return fn(&txView{Store: ls, t: r.t})
	})
	if err != nil {
		r.t = snap
	}
	return err
}

// txView is handed to WithTx callbacks. The repository lock is already held.
type txView struct {
	generic.Store
	t *tables
}

var _ leave.Repository = (*txView)(nil)

// =============================================================================
// LOCKED ACCESSORS
// =============================================================================

func (r *Repository) SaveRequest(_ context.Context, req leave.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.t.saveRequest(req)
}

func (r *Repository) GetRequest(_ context.Context, id string) (leave.Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.t.getRequest(id)
}

func (r *Repository) ListRequests(_ context.Context, f leave.RequestFilter) ([]leave.Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.t.listRequests(f), nil
}

func (r *Repository) SaveSummary(_ context.Context, s leave.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.t.saveSummary(s)
}

func (r *Repository) GetSummary(_ context.Context, emp generic.EntityID, year int) (leave.Summary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.t.getSummary(emp, year)
}

func (r *Repository) SummariesByEmployee(_ context.Context, emp generic.EntityID) ([]leave.Summary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.t.summariesWhere(func(s leave.Summary) bool { return s.EmployeeID == emp }), nil
}

func (r *Repository) SummariesByYear(_ context.Context, year int) ([]leave.Summary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.t.summariesWhere(func(s leave.Summary) bool { return s.Year == year }), nil
}

func (r *Repository) DeleteSummary(_ context.Context, emp generic.EntityID, year int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.t.deleteSummary(emp, year)
}

func (r *Repository) SummaryYears(_ context.Context) ([]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.t.summaryYears(), nil
}

func (r *Repository) MarkYearClosed(_ context.Context, year int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.t.markYearClosed(year, at)
}

func (r *Repository) IsYearClosed(_ context.Context, year int) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.t.closed[year]
	return ok, nil
}

func (r *Repository) ClosedYears(_ context.Context) ([]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.t.closedYears(), nil
}

func (r *Repository) SaveLeaveType(_ context.Context, p leave.Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.t.types[p.Code] = p
	return nil
}

func (r *Repository) LeaveTypes(_ context.Context) ([]leave.Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.t.leaveTypes(), nil
}

func (r *Repository) AppendAudit(_ context.Context, e generic.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.t.audit = append(r.t.audit, e)
	return nil
}

func (r *Repository) QueryAudit(_ context.Context, f generic.AuditFilter) ([]generic.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.t.queryAudit(f), nil
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

func (v *txView) SaveRequest(_ context.Context, req leave.Request) error {
	return v.t.saveRequest(req)
}

func (v *txView) GetRequest(_ context.Context, id string) (leave.Request, error) {
	return v.t.getRequest(id)
}

func (v *txView) ListRequests(_ context.Context, f leave.RequestFilter) ([]leave.Request, error) {
	return v.t.listRequests(f), nil
}

func (v *txView) SaveSummary(_ context.Context, s leave.Summary) error {
	return v.t.saveSummary(s)
}

func (v *txView) GetSummary(_ context.Context, emp generic.EntityID, year int) (leave.Summary, error) {
	return v.t.getSummary(emp, year)
}

func (v *txView) SummariesByEmployee(_ context.Context, emp generic.EntityID) ([]leave.Summary, error) {
	return v.t.summariesWhere(func(s leave.Summary) bool { return s.EmployeeID == emp }), nil
}

func (v *txView) SummariesByYear(_ context.Context, year int) ([]leave.Summary, error) {
	return v.t.summariesWhere(func(s leave.Summary) bool { return s.Year == year }), nil
}

func (v *txView) DeleteSummary(_ context.Context, emp generic.EntityID, year int) error {
	return v.t.deleteSummary(emp, year)
}

func (v *txView) SummaryYears(_ context.Context) ([]int, error) {
	return v.t.summaryYears(), nil
}

func (v *txView) MarkYearClosed(_ context.Context, year int, at time.Time) error {
	return v.t.markYearClosed(year, at)
}

func (v *txView) IsYearClosed(_ context.Context, year int) (bool, error) {
	_, ok := v.t.closed[year]
	return ok, nil
}

func (v *txView) ClosedYears(_ context.Context) ([]int, error) {
	return v.t.closedYears(), nil
}

func (v *txView) SaveLeaveType(_ context.Context, p leave.Policy) error {
	v.t.types[p.Code] = p
	return nil
}

func (v *txView) LeaveTypes(_ context.Context) ([]leave.Policy, error) {
	return v.t.leaveTypes(), nil
}

func (v *txView) AppendAudit(_ context.Context, e generic.AuditEntry) error {
	v.t.audit = append(v.t.audit, e)
	return nil
}

func (v *txView) QueryAudit(_ context.Context, f generic.AuditFilter) ([]generic.AuditEntry, error) {
	return v.t.queryAudit(f), nil
}
