/*
archive.go - Historical archive of closed years

PURPOSE:
  A Summary is a frozen copy of one employee's entitlement entries for one
  year. Rows come from two places: CloseYear snapshots the live ledger, and
  admins back-fill years that predate the system.

CLOSING A YEAR:
  1. Take the year gate exclusively; in-flight decisions, submissions and
     balance reads for the year finish first and new ones wait.
  2. Refuse with NotEligible while a request starting in the year still
     waits on an officer or on its maternity end date. Closing would leave
     it unable to debit.
  3. For each employee with a ledger stream in the year, write the summary
     in its own store transaction. Employees that already have a row are
     skipped, so a failed close can be re-run.
  4. Mark the year closed. Debits into it fail with ErrYearClosed from then
     on; credits and admin overrides still apply to the ledger but never to
     the archived row.

SEE ALSO:
  - entitlement.go: the entries being frozen
  - api/scheduler.go: closes the previous year automatically
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// TYPES
// =============================================================================

type Source string

const (
	SourceYearClose Source = "year_close"
	SourceBackfill  Source = "backfill"
)

type SummaryEntry struct {
	Type                Type
	Total               generic.Amount
	Used                generic.Amount
	Remaining           generic.Amount
	AccumulatedHalfDays int
	Monthly             map[string]MonthBucket
}

type Summary struct {
	EmployeeID generic.EntityID
	Year       int
	Entries    []SummaryEntry
	Notes      string
	Source     Source
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Entry returns the row for one leave type.
func (s Summary) Entry(t Type) (SummaryEntry, bool) {
	for _, e := range s.Entries {
		if e.Type == t {
			return e, true
		}
	}
	return SummaryEntry{}, false
}

type BackfillInput struct {
	Entries []SummaryEntry
	Notes   string
	ActorID string
}

type CloseYearResult struct {
	Year     int
	Archived []generic.EntityID
	Skipped  []generic.EntityID
}

// =============================================================================
// ARCHIVE
// =============================================================================

type Archive struct {
	*deps
	ledger *EntitlementLedger
}

// CloseYear archives every employee's entries for year and freezes it.
func (a *Archive) CloseYear(ctx context.Context, year int, actorID string) (CloseYearResult, error) {
	if year > a.currentYear() {
		return CloseYearResult{}, invalid("year", fmt.Sprintf("%d has not started yet", year))
	}
	defer a.years.Exclusive(year)()

	closed, err := a.yearClosed(ctx, a.repo, year)
	if err != nil {
		return CloseYearResult{}, err
	}
	if closed {
		return CloseYearResult{}, &NotEligibleError{Reason: fmt.Sprintf("year %d is already closed", year)}
	}
	pending, err := a.openRequestsIn(ctx, year)
	if err != nil {
		return CloseYearResult{}, err
	}
	if len(pending) > 0 {
		return CloseYearResult{}, &NotEligibleError{
			RequestID: pending[0].ID,
			Reason:    fmt.Sprintf("%d request(s) starting in %d are still open", len(pending), year),
		}
	}

	employees, err := a.employeesIn(ctx, year)
	if err != nil {
		return CloseYearResult{}, err
	}

	res := CloseYearResult{Year: year}
	archived := make([]bool, len(employees))
	skipped := make([]bool, len(employees))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.closeConcurrency)
	for i, emp := range employees {
		i, emp := i, emp
		g.Go(func() error {
			wrote, err := a.archiveEmployee(gctx, emp, year, actorID)
			if err != nil {
				return fmt.Errorf("archive %s/%d: %w", emp, year, err)
			}
			archived[i] = wrote
			skipped[i] = !wrote
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		a.logger.Error("year close aborted", "year", year, "error", err)
		return CloseYearResult{}, err
	}
	for i, emp := range employees {
		if archived[i] {
			res.Archived = append(res.Archived, emp)
		}
		if skipped[i] {
			res.Skipped = append(res.Skipped, emp)
		}
	}

	now := a.now().UTC()
	err = a.repo.WithTx(ctx, func(tx Repository) error {
		if err := tx.MarkYearClosed(ctx, year, now); err != nil {
			return fmt.Errorf("mark year closed: %w", err)
		}
		return a.audit(ctx, tx, generic.AuditEntry{
			Timestamp:   now,
			ActorID:     actorID,
			Action:      generic.AuditYearClosed,
			ReferenceID: fmt.Sprint(year),
			Payload: map[string]string{
				"archived": fmt.Sprint(len(res.Archived)),
				"skipped":  fmt.Sprint(len(res.Skipped)),
			},
		})
	})
	if err != nil {
		return CloseYearResult{}, err
	}

	a.logger.Info("year closed",
		"year", year,
		"archived", len(res.Archived),
		"skipped", len(res.Skipped),
	)
	a.publish(ctx, Event{Type: EventYearClosed, Year: year, ActorID: actorID, OccurredAt: now})
	return res, nil
}

// openRequestsIn lists requests starting in year that can still debit it:
// those pending an officer and approved ones without an end date.
func (a *Archive) openRequestsIn(ctx context.Context, year int) ([]Request, error) {
	from, to := generic.StartOfYear(year), generic.EndOfYear(year)
	reqs, err := a.repo.ListRequests(ctx, RequestFilter{From: &from, To: &to})
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	var out []Request
	for _, r := range reqs {
		if r.Year() != year {
			continue
		}
		if IsPending(r.Status) || r.Status == StatusSubmitted || (r.Status == StatusApproved && r.EndDate == nil) {
			out = append(out, r)
		}
	}
	return out, nil
}

// employeesIn lists employees with at least one stream in year.
func (a *Archive) employeesIn(ctx context.Context, year int) ([]generic.EntityID, error) {
	keys, err := generic.NewLedger(a.repo).Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ledger keys: %w", err)
	}
	seen := make(map[generic.EntityID]bool)
	var out []generic.EntityID
	for _, k := range keys {
		_, y, ok := ParsePolicyID(k.PolicyID)
		if !ok || y != year || seen[k.EntityID] {
			continue
		}
		seen[k.EntityID] = true
		out = append(out, k.EntityID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// archiveEmployee writes one summary. wrote is false when a row already existed.
func (a *Archive) archiveEmployee(ctx context.Context, emp generic.EntityID, year int, actorID string) (wrote bool, err error) {
	err = a.repo.WithTx(ctx, func(tx Repository) error {
		_, err := tx.GetSummary(ctx, emp, year)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		keys, err := generic.NewLedger(tx).Keys(ctx)
		if err != nil {
			return err
		}
		var entries []SummaryEntry
		for _, k := range keys {
			t, y, ok := ParsePolicyID(k.PolicyID)
			if k.EntityID != emp || !ok || y != year {
				continue
			}
			p, known := a.catalog.Get(t)
			if !known {
				p = Policy{Code: t, Name: string(t)}
			}
			e, _, err := a.ledger.entry(ctx, tx, emp, year, p)
			if err != nil {
				return err
			}
			entries = append(entries, summaryEntry(e))
		}
		sortEntries(entries)

		now := a.now().UTC()
		if err := tx.SaveSummary(ctx, Summary{
			EmployeeID: emp,
			Year:       year,
			Entries:    entries,
			Source:     SourceYearClose,
			CreatedAt:  now,
			UpdatedAt:  now,
		}); err != nil {
			return fmt.Errorf("save summary: %w", err)
		}
		wrote = true
		return nil
	})
	return wrote, err
}

func summaryEntry(e Entry) SummaryEntry {
	return SummaryEntry{
		Type:                e.Type,
		Total:               e.Total,
		Used:                e.Used,
		Remaining:           e.Remaining,
		AccumulatedHalfDays: e.AccumulatedHalfDays,
		Monthly:             e.Monthly,
	}
}

func sortEntries(entries []SummaryEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Type < entries[j].Type })
}

// ByEmployee returns every archived year of an employee, newest first.
func (a *Archive) ByEmployee(ctx context.Context, employeeID generic.EntityID) ([]Summary, error) {
	return a.repo.SummariesByEmployee(ctx, employeeID)
}

// ByEmployeeYear returns one row or ErrNotFound.
func (a *Archive) ByEmployeeYear(ctx context.Context, employeeID generic.EntityID, year int) (Summary, error) {
	return a.repo.GetSummary(ctx, employeeID, year)
}

// ByYear returns all employees' rows for year.
func (a *Archive) ByYear(ctx context.Context, year int) ([]Summary, error) {
	return a.repo.SummariesByYear(ctx, year)
}

// Years lists every year with archived rows or a close marker, newest first.
func (a *Archive) Years(ctx context.Context) ([]int, error) {
	withRows, err := a.repo.SummaryYears(ctx)
	if err != nil {
		return nil, err
	}
	closed, err := a.repo.ClosedYears(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[int]bool)
	var out []int
	for _, y := range append(withRows, closed...) {
		if !seen[y] {
			seen[y] = true
			out = append(out, y)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out, nil
}

// UpsertBackfill creates or corrects a past year's row directly. Only the
// shape is checked; the workflow and the ledger are not consulted.
func (a *Archive) UpsertBackfill(ctx context.Context, employeeID generic.EntityID, year int, in BackfillInput) (Summary, error) {
	if strings.TrimSpace(string(employeeID)) == "" {
		return Summary{}, invalid("employeeId", "required")
	}
	if year <= 0 || year >= a.currentYear() {
		return Summary{}, invalid("year", "back-fill is limited to past years")
	}
	entries, err := a.normalizeEntries(in.Entries)
	if err != nil {
		return Summary{}, err
	}

	var out Summary
	err = a.repo.WithTx(ctx, func(tx Repository) error {
		now := a.now().UTC()
		s := Summary{
			EmployeeID: employeeID,
			Year:       year,
			Entries:    entries,
			Notes:      strings.TrimSpace(in.Notes),
			Source:     SourceBackfill,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		existing, err := tx.GetSummary(ctx, employeeID, year)
		switch {
		case err == nil:
			s.Source = existing.Source
			s.CreatedAt = existing.CreatedAt
		case !errors.Is(err, ErrNotFound):
			return err
		}
		if err := tx.SaveSummary(ctx, s); err != nil {
			return fmt.Errorf("save summary: %w", err)
		}
		out = s
		return a.audit(ctx, tx, generic.AuditEntry{
			Timestamp:   now,
			ActorID:     in.ActorID,
			Action:      generic.AuditBackfillUpserted,
			EntityID:    employeeID,
			ReferenceID: fmt.Sprintf("%s/%d", employeeID, year),
			Payload:     map[string]string{"entries": fmt.Sprint(len(entries))},
		})
	})
	return out, err
}

func (a *Archive) normalizeEntries(in []SummaryEntry) ([]SummaryEntry, error) {
	if len(in) == 0 {
		return nil, invalid("entries", "at least one entry is required")
	}
	seen := make(map[Type]bool, len(in))
	out := make([]SummaryEntry, 0, len(in))
	for i, e := range in {
		field := fmt.Sprintf("entries[%d]", i)
		t := NormalizeType(string(e.Type))
		if t == "" {
			return nil, invalid(field+".type", "required")
		}
		if canonical, ok := a.catalog.Resolve(string(t)); ok {
			t = canonical
		}
		if seen[t] {
			return nil, invalid(field+".type", fmt.Sprintf("duplicate %s", t))
		}
		seen[t] = true
		if e.Total.IsNegative() || e.Used.IsNegative() {
			return nil, invalid(field, "amounts must not be negative")
		}
		if !e.Total.IsHalfDayMultiple() || !e.Used.IsHalfDayMultiple() {
			return nil, invalid(field, "amounts must be multiples of 0.5")
		}
		if e.Used.GreaterThan(e.Total) {
			return nil, invalid(field+".used", "exceeds total")
		}
		e.Type = t
		e.Remaining = e.Total.Sub(e.Used)
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

// DeleteSummary removes a row. Missing rows are ErrNotFound.
func (a *Archive) DeleteSummary(ctx context.Context, employeeID generic.EntityID, year int, actorID string) error {
	return a.repo.WithTx(ctx, func(tx Repository) error {
		if err := tx.DeleteSummary(ctx, employeeID, year); err != nil {
			return err
		}
		return a.audit(ctx, tx, generic.AuditEntry{
			ActorID:     actorID,
			Action:      generic.AuditBackfillDeleted,
			EntityID:    employeeID,
			ReferenceID: fmt.Sprintf("%s/%d", employeeID, year),
		})
	})
}
