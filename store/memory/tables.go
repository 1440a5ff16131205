package memory

import (
	"fmt"
	"sort"
	"time"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

type summaryKey struct {
	employeeID generic.EntityID
	year       int
}

// tables holds everything outside the ledger. Callers hold Repository.mu.
type tables struct {
	requests  map[string]leave.Request
	summaries map[summaryKey]leave.Summary
	closed    map[int]time.Time
	types     map[leave.Type]leave.Policy
	audit     []generic.AuditEntry
}

func newTables() *tables {
	return &tables{
		requests:  make(map[string]leave.Request),
		summaries: make(map[summaryKey]leave.Summary),
		closed:    make(map[int]time.Time),
		types:     make(map[leave.Type]leave.Policy),
	}
}

// clone copies the maps. Stored values are never mutated in place, so a
// shallow copy of each value is enough.
func (t *tables) clone() *tables {
	c := newTables()
	for k, v := range t.requests {
		c.requests[k] = v
	}
	for k, v := range t.summaries {
		c.summaries[k] = v
	}
	for k, v := range t.closed {
		c.closed[k] = v
	}
	for k, v := range t.types {
		c.types[k] = v
	}
	c.audit = append([]generic.AuditEntry(nil), t.audit...)
	return c
}

// =============================================================================
// REQUESTS
// =============================================================================

func (t *tables) saveRequest(r leave.Request) error {
	if r.ID == "" {
		return fmt.Errorf("save request: empty id")
	}
	t.requests[r.ID] = r
	return nil
}

func (t *tables) getRequest(id string) (leave.Request, error) {
	r, ok := t.requests[id]
	if !ok {
		return leave.Request{}, &leave.NotFoundError{What: "request", ID: id}
	}
	return r, nil
}

func (t *tables) listRequests(f leave.RequestFilter) []leave.Request {
	out := make([]leave.Request, 0)
	for _, r := range t.requests {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// =============================================================================
// ARCHIVE
// =============================================================================

func (t *tables) saveSummary(s leave.Summary) error {
	s.Entries = append([]leave.SummaryEntry(nil), s.Entries...)
	t.summaries[summaryKey{s.EmployeeID, s.Year}] = s
	return nil
}

func (t *tables) getSummary(emp generic.EntityID, year int) (leave.Summary, error) {
	s, ok := t.summaries[summaryKey{emp, year}]
	if !ok {
		return leave.Summary{}, &leave.NotFoundError{What: "summary", ID: fmt.Sprintf("%s/%d", emp, year)}
	}
	return s, nil
}

// summariesWhere returns matches ordered by year descending, then employee.
func (t *tables) summariesWhere(keep func(leave.Summary) bool) []leave.Summary {
	out := make([]leave.Summary, 0)
	for _, s := range t.summaries {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		return out[i].EmployeeID < out[j].EmployeeID
	})
	return out
}

func (t *tables) deleteSummary(emp generic.EntityID, year int) error {
	k := summaryKey{emp, year}
	if _, ok := t.summaries[k]; !ok {
		return &leave.NotFoundError{What: "summary", ID: fmt.Sprintf("%s/%d", emp, year)}
	}
	delete(t.summaries, k)
	return nil
}

func (t *tables) summaryYears() []int {
	seen := make(map[int]bool)
	var out []int
	for k := range t.summaries {
		if !seen[k.year] {
			seen[k.year] = true
			out = append(out, k.year)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

// =============================================================================
// YEARS, CATALOG, AUDIT
// =============================================================================

func (t *tables) markYearClosed(year int, at time.Time) error {
	if _, ok := t.closed[year]; ok {
		return nil
	}
	t.closed[year] = at
	return nil
}

func (t *tables) closedYears() []int {
	out := make([]int, 0, len(t.closed))
	for y := range t.closed {
		out = append(out, y)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

func (t *tables) leaveTypes() []leave.Policy {
	out := make([]leave.Policy, 0, len(t.types))
	for _, p := range t.types {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (t *tables) queryAudit(f generic.AuditFilter) []generic.AuditEntry {
	var out []generic.AuditEntry
	for _, e := range t.audit {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}
