package leave

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// REPORTS - read-only views over requests, balances and the archive
// =============================================================================

// Reports never writes except for the balance provisioning a read implies.
// Views combined from several reads are not a single snapshot.
type Reports struct {
	*deps
	ledger    *EntitlementLedger
	maternity *MaternityResolver
}

type Dashboard struct {
	Total           int
	ByStatus        map[Status]int
	ByType          map[Type]int
	PendingByStage  map[Role]int
	PendingEndDates int
}

type Overview struct {
	EmployeeID generic.EntityID
	Year       int
	Balances   []Entry
	History    []Summary
	Requests   []Request
}

// ListRequests returns matching requests, newest first.
func (r *Reports) ListRequests(ctx context.Context, filter RequestFilter) ([]Request, error) {
	if filter.Type != "" {
		if t, ok := r.catalog.Resolve(string(filter.Type)); ok {
			filter.Type = t
		}
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, invalid("to", "before from")
	}
	reqs, err := r.repo.ListRequests(ctx, filter)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(reqs, func(i, j int) bool { return reqs[i].CreatedAt.After(reqs[j].CreatedAt) })
	return reqs, nil
}

// Dashboard counts requests by status, type and pending stage.
func (r *Reports) Dashboard(ctx context.Context, filter RequestFilter) (Dashboard, error) {
	var (
		reqs    []Request
		pending []Request
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		reqs, err = r.ListRequests(gctx, filter)
		return err
	})
	g.Go(func() error {
		var err error
		pending, err = r.maternity.PendingEndDates(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}

	d := Dashboard{
		Total:          len(reqs),
		ByStatus:       make(map[Status]int),
		ByType:         make(map[Type]int),
		PendingByStage: make(map[Role]int),
	}
	for _, req := range reqs {
		d.ByStatus[req.Status]++
		d.ByType[req.Type]++
		if role, ok := req.PendingRole(); ok {
			d.PendingByStage[role]++
		}
	}
	for _, req := range pending {
		if filter.Matches(req) {
			d.PendingEndDates++
		}
	}
	return d, nil
}

// ExportHeader is the first row of ExportRows.
var ExportHeader = []string{
	"Request ID", "Employee", "Department", "Leave Type", "Start Date", "End Date",
	"Days", "Status", "Reason", "Acting Officer", "Supervising Officer", "Approval Officer", "Created At",
}

// ExportRows flattens matching requests into string rows, header first.
// Encoding the rows is left to the caller.
func (r *Reports) ExportRows(ctx context.Context, filter RequestFilter) ([][]string, error) {
	reqs, err := r.ListRequests(ctx, filter)
	if err != nil {
		return nil, err
	}
	rows := make([][]string, 0, len(reqs)+1)
	rows = append(rows, ExportHeader)
	for _, req := range reqs {
		end, days := "", ""
		if req.EndDate != nil {
			end = req.EndDate.String()
		}
		if p, ok := r.catalog.Get(req.Type); ok {
			if amount, ok := req.Duration(p); ok {
				days = amount.String()
			}
		}
		rows = append(rows, []string{
			req.ID,
			string(req.EmployeeID),
			req.Department,
			string(req.Type),
			req.StartDate.String(),
			end,
			days,
			string(req.Status),
			strings.TrimSpace(req.Reason),
			req.Stages[0].OfficerID,
			req.Stages[1].OfficerID,
			req.Stages[2].OfficerID,
			req.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	return rows, nil
}

// EmployeeOverview reads balances, archive rows and the year's requests
// concurrently.
func (r *Reports) EmployeeOverview(ctx context.Context, employeeID generic.EntityID, year int) (Overview, error) {
	if employeeID == "" {
		return Overview{}, invalid("employeeId", "required")
	}
	o := Overview{EmployeeID: employeeID, Year: year}
	from, to := generic.StartOfYear(year), generic.EndOfYear(year)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		o.Balances, err = r.ledger.Balances(gctx, employeeID, year)
		return err
	})
	g.Go(func() error {
		var err error
		o.History, err = r.repo.SummariesByEmployee(gctx, employeeID)
		return err
	})
	g.Go(func() error {
		var err error
		o.Requests, err = r.ListRequests(gctx, RequestFilter{EmployeeID: employeeID, From: &from, To: &to})
		return err
	})
	if err := g.Wait(); err != nil {
		return Overview{}, err
	}
	return o, nil
}
