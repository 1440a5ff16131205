/*
repository.go - Persistence contracts of the leave package

PURPOSE:
  One Repository carries everything the leave services persist: ledger
  transactions (generic.Store), requests, archive rows, closed years, the
  leave-type catalog and the audit trail. TxRepository adds WithTx so a
  final approval can write its debit, the status change and the audit entry
  as one unit.

IMPLEMENTATIONS:
  - store/memory: maps with snapshot rollback (tests, local runs)
  - store/sqlite: SQLite with versioned migrations
*/
package leave

import (
	"context"
	"time"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// REQUESTS
// =============================================================================

// RequestFilter selects requests. Zero fields match everything. From/To match
// requests whose dates overlap the range.
type RequestFilter struct {
	Status     Status
	Type       Type
	Department string
	EmployeeID generic.EntityID
	From       *generic.TimePoint
	To         *generic.TimePoint
}

func (f RequestFilter) Matches(r Request) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.Department != "" && r.Department != f.Department {
		return false
	}
	if f.EmployeeID != "" && r.EmployeeID != f.EmployeeID {
		return false
	}
	return r.Overlaps(f.From, f.To)
}

type RequestStore interface {
	// SaveRequest inserts or replaces a request.
	SaveRequest(ctx context.Context, r Request) error
	// GetRequest returns ErrNotFound for an unknown ID.
	GetRequest(ctx context.Context, id string) (Request, error)
	// ListRequests returns matches, newest first.
	ListRequests(ctx context.Context, filter RequestFilter) ([]Request, error)
}

// =============================================================================
// ARCHIVE
// =============================================================================

type ArchiveStore interface {
	// SaveSummary inserts or replaces the row for (employee, year).
	SaveSummary(ctx context.Context, s Summary) error
	// GetSummary returns ErrNotFound if the row does not exist.
	GetSummary(ctx context.Context, employeeID generic.EntityID, year int) (Summary, error)
	SummariesByEmployee(ctx context.Context, employeeID generic.EntityID) ([]Summary, error)
	SummariesByYear(ctx context.Context, year int) ([]Summary, error)
	// DeleteSummary returns ErrNotFound if the row does not exist.
	DeleteSummary(ctx context.Context, employeeID generic.EntityID, year int) error
	// SummaryYears lists years that have at least one row.
	SummaryYears(ctx context.Context) ([]int, error)
}

// YearStore records which entitlement years are frozen.
type YearStore interface {
	MarkYearClosed(ctx context.Context, year int, at time.Time) error
	IsYearClosed(ctx context.Context, year int) (bool, error)
	ClosedYears(ctx context.Context) ([]int, error)
}

// CatalogStore persists admin edits to the leave-type catalog.
type CatalogStore interface {
	SaveLeaveType(ctx context.Context, p Policy) error
	LeaveTypes(ctx context.Context) ([]Policy, error)
}

// =============================================================================
// REPOSITORY
// =============================================================================

type Repository interface {
	generic.Store
	generic.AuditLog
	RequestStore
	ArchiveStore
	YearStore
	CatalogStore
}

type TxRepository interface {
	Repository

	// WithTx runs fn against a transactional view. An error from fn discards
	// every write made through the view.
	WithTx(ctx context.Context, fn func(Repository) error) error
}
