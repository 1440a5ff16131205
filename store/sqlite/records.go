package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// =============================================================================
// REQUEST STORE
// =============================================================================

const requestColumns = `id, employee_id, department, leave_type, start_date, end_date, half_day,
	reason, status, stages_json, end_date_set_by, end_date_comment, end_date_set_at,
	created_at, updated_at, cancelled_at`

// SaveRequest inserts or replaces a request.
func (c *conn) SaveRequest(ctx context.Context, r leave.Request) error {
	stagesJSON, err := json.Marshal(r.Stages)
	if err != nil {
		return fmt.Errorf("encode stages: %w", err)
	}
	var endDate sql.NullString
	if r.EndDate != nil {
		endDate = sql.NullString{String: r.EndDate.String(), Valid: true}
	}

	_, err = c.q.ExecContext(ctx, `
		INSERT INTO requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			department = excluded.department,
			leave_type = excluded.leave_type,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			half_day = excluded.half_day,
			reason = excluded.reason,
			status = excluded.status,
			stages_json = excluded.stages_json,
			end_date_set_by = excluded.end_date_set_by,
			end_date_comment = excluded.end_date_comment,
			end_date_set_at = excluded.end_date_set_at,
			updated_at = excluded.updated_at,
			cancelled_at = excluded.cancelled_at`,
		r.ID,
		r.EmployeeID,
		r.Department,
		r.Type,
		r.StartDate.String(),
		endDate,
		r.HalfDay,
		r.Reason,
		r.Status,
		string(stagesJSON),
		nullString(r.EndDateSetBy),
		nullString(r.EndDateComment),
		formatTimePtr(r.EndDateSetAt),
		formatTime(r.CreatedAt),
		formatTime(r.UpdatedAt),
		formatTimePtr(r.CancelledAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save request: %w", err)
	}
	return nil
}

func (c *conn) GetRequest(ctx context.Context, id string) (leave.Request, error) {
	reqs, err := c.queryRequests(ctx, "SELECT "+requestColumns+" FROM requests WHERE id = ?", id)
	if err != nil {
		return leave.Request{}, err
	}
	if len(reqs) == 0 {
		return leave.Request{}, &leave.NotFoundError{What: "request", ID: id}
	}
	return reqs[0], nil
}

// ListRequests narrows by the equality fields in SQL and applies the date
// overlap in Go.
func (c *conn) ListRequests(ctx context.Context, f leave.RequestFilter) ([]leave.Request, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		where = append(where, "leave_type = ?")
		args = append(args, f.Type)
	}
	if f.Department != "" {
		where = append(where, "department = ?")
		args = append(args, f.Department)
	}
	if f.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, f.EmployeeID)
	}
	query := "SELECT " + requestColumns + " FROM requests"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"

	reqs, err := c.queryRequests(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := reqs[:0]
	for _, r := range reqs {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *conn) queryRequests(ctx context.Context, query string, args ...any) ([]leave.Request, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	reqs := make([]leave.Request, 0)
	for rows.Next() {
		var (
			r              leave.Request
			startDate      string
			endDate        sql.NullString
			stagesJSON     string
			endDateSetBy   sql.NullString
			endDateComment sql.NullString
			endDateSetAt   sql.NullString
			createdAt      string
			updatedAt      string
			cancelledAt    sql.NullString
		)
		err := rows.Scan(
			&r.ID, &r.EmployeeID, &r.Department, &r.Type, &startDate, &endDate, &r.HalfDay,
			&r.Reason, &r.Status, &stagesJSON, &endDateSetBy, &endDateComment, &endDateSetAt,
			&createdAt, &updatedAt, &cancelledAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		if r.StartDate, err = generic.ParseDate(startDate); err != nil {
			return nil, fmt.Errorf("request %s start_date: %w", r.ID, err)
		}
		if endDate.Valid {
			end, err := generic.ParseDate(endDate.String)
			if err != nil {
				return nil, fmt.Errorf("request %s end_date: %w", r.ID, err)
			}
			r.EndDate = &end
		}
		if err := json.Unmarshal([]byte(stagesJSON), &r.Stages); err != nil {
			return nil, fmt.Errorf("request %s stages: %w", r.ID, err)
		}
		r.EndDateSetBy = endDateSetBy.String
		r.EndDateComment = endDateComment.String
		if r.EndDateSetAt, err = parseTimePtr(endDateSetAt); err != nil {
			return nil, fmt.Errorf("request %s end_date_set_at: %w", r.ID, err)
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("request %s created_at: %w", r.ID, err)
		}
		if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("request %s updated_at: %w", r.ID, err)
		}
		if r.CancelledAt, err = parseTimePtr(cancelledAt); err != nil {
			return nil, fmt.Errorf("request %s cancelled_at: %w", r.ID, err)
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

// =============================================================================
// ARCHIVE STORE
// =============================================================================

const summaryColumns = `employee_id, year, entries_json, notes, source, created_at, updated_at`

// SaveSummary inserts or replaces the row for (employee, year).
func (c *conn) SaveSummary(ctx context.Context, s leave.Summary) error {
	entriesJSON, err := json.Marshal(s.Entries)
	if err != nil {
		return fmt.Errorf("encode entries: %w", err)
	}
	_, err = c.q.ExecContext(ctx, `
		INSERT INTO summaries (`+summaryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, year) DO UPDATE SET
			entries_json = excluded.entries_json,
			notes = excluded.notes,
			source = excluded.source,
			updated_at = excluded.updated_at`,
		s.EmployeeID,
		s.Year,
		string(entriesJSON),
		s.Notes,
		s.Source,
		formatTime(s.CreatedAt),
		formatTime(s.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	return nil
}

func (c *conn) GetSummary(ctx context.Context, employeeID generic.EntityID, year int) (leave.Summary, error) {
	rows, err := c.querySummaries(ctx,
		"SELECT "+summaryColumns+" FROM summaries WHERE employee_id = ? AND year = ?",
		employeeID, year)
	if err != nil {
		return leave.Summary{}, err
	}
	if len(rows) == 0 {
		return leave.Summary{}, &leave.NotFoundError{What: "summary", ID: fmt.Sprintf("%s/%d", employeeID, year)}
	}
	return rows[0], nil
}

func (c *conn) SummariesByEmployee(ctx context.Context, employeeID generic.EntityID) ([]leave.Summary, error) {
	return c.querySummaries(ctx,
		"SELECT "+summaryColumns+" FROM summaries WHERE employee_id = ? ORDER BY year DESC",
		employeeID)
}

func (c *conn) SummariesByYear(ctx context.Context, year int) ([]leave.Summary, error) {
	return c.querySummaries(ctx,
		"SELECT "+summaryColumns+" FROM summaries WHERE year = ? ORDER BY employee_id ASC",
		year)
}

func (c *conn) DeleteSummary(ctx context.Context, employeeID generic.EntityID, year int) error {
	res, err := c.q.ExecContext(ctx, "DELETE FROM summaries WHERE employee_id = ? AND year = ?", employeeID, year)
	if err != nil {
		return fmt.Errorf("failed to delete summary: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete summary: %w", err)
	}
	if n == 0 {
		return &leave.NotFoundError{What: "summary", ID: fmt.Sprintf("%s/%d", employeeID, year)}
	}
	return nil
}

func (c *conn) SummaryYears(ctx context.Context) ([]int, error) {
	return c.queryYears(ctx, "SELECT DISTINCT year FROM summaries ORDER BY year DESC")
}

func (c *conn) querySummaries(ctx context.Context, query string, args ...any) ([]leave.Summary, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	out := make([]leave.Summary, 0)
	for rows.Next() {
		var (
			s           leave.Summary
			entriesJSON string
			createdAt   string
			updatedAt   string
		)
		if err := rows.Scan(&s.EmployeeID, &s.Year, &entriesJSON, &s.Notes, &s.Source, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		if err := json.Unmarshal([]byte(entriesJSON), &s.Entries); err != nil {
			return nil, fmt.Errorf("summary %s/%d entries: %w", s.EmployeeID, s.Year, err)
		}
		if s.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("summary %s/%d created_at: %w", s.EmployeeID, s.Year, err)
		}
		if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("summary %s/%d updated_at: %w", s.EmployeeID, s.Year, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// =============================================================================
// YEAR STORE
// =============================================================================

// MarkYearClosed is a no-op for a year that is already closed.
func (c *conn) MarkYearClosed(ctx context.Context, year int, at time.Time) error {
	_, err := c.q.ExecContext(ctx,
		"INSERT OR IGNORE INTO closed_years (year, closed_at) VALUES (?, ?)",
		year, formatTime(at))
	if err != nil {
		return fmt.Errorf("failed to close year: %w", err)
	}
	return nil
}

func (c *conn) IsYearClosed(ctx context.Context, year int) (bool, error) {
	var count int
	if err := c.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM closed_years WHERE year = ?", year).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check year: %w", err)
	}
	return count > 0, nil
}

func (c *conn) ClosedYears(ctx context.Context) ([]int, error) {
	return c.queryYears(ctx, "SELECT year FROM closed_years ORDER BY year DESC")
}

func (c *conn) queryYears(ctx context.Context, query string) ([]int, error) {
	rows, err := c.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query years: %w", err)
	}
	defer rows.Close()

	years := make([]int, 0)
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			return nil, fmt.Errorf("failed to scan year: %w", err)
		}
		years = append(years, y)
	}
	return years, rows.Err()
}

// =============================================================================
// CATALOG STORE
// =============================================================================

func (c *conn) SaveLeaveType(ctx context.Context, p leave.Policy) error {
	configJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode leave type: %w", err)
	}
	_, err = c.q.ExecContext(ctx, `
		INSERT INTO leave_types (code, config_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			config_json = excluded.config_json,
			updated_at = excluded.updated_at`,
		p.Code, string(configJSON), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save leave type: %w", err)
	}
	return nil
}

func (c *conn) LeaveTypes(ctx context.Context) ([]leave.Policy, error) {
	rows, err := c.q.QueryContext(ctx, "SELECT code, config_json FROM leave_types ORDER BY code")
	if err != nil {
		return nil, fmt.Errorf("failed to query leave types: %w", err)
	}
	defer rows.Close()

	var out []leave.Policy
	for rows.Next() {
		var (
			code       string
			configJSON string
			p          leave.Policy
		)
		if err := rows.Scan(&code, &configJSON); err != nil {
			return nil, fmt.Errorf("failed to scan leave type: %w", err)
		}
		if err := json.Unmarshal([]byte(configJSON), &p); err != nil {
			return nil, fmt.Errorf("leave type %s: %w", code, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (c *conn) AppendAudit(ctx context.Context, e generic.AuditEntry) error {
	var payloadJSON sql.NullString
	if len(e.Payload) > 0 {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("encode audit payload: %w", err)
		}
		payloadJSON = sql.NullString{String: string(b), Valid: true}
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO audit (id, ts, actor_id, action, entity_id, reference_id, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, formatTime(e.Timestamp), e.ActorID, e.Action, e.EntityID, e.ReferenceID, payloadJSON)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// QueryAudit returns matching entries, oldest first.
func (c *conn) QueryAudit(ctx context.Context, f generic.AuditFilter) ([]generic.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.EntityID != nil {
		where = append(where, "entity_id = ?")
		args = append(args, *f.EntityID)
	}
	if f.ReferenceID != nil {
		where = append(where, "reference_id = ?")
		args = append(args, *f.ReferenceID)
	}
	if f.ActorID != nil {
		where = append(where, "actor_id = ?")
		args = append(args, *f.ActorID)
	}
	if len(f.Actions) > 0 {
		marks := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			marks[i] = "?"
			args = append(args, a)
		}
		where = append(where, "action IN ("+strings.Join(marks, ", ")+")")
	}
	query := "SELECT id, ts, actor_id, action, entity_id, reference_id, payload_json FROM audit"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit: %w", err)
	}
	defer rows.Close()

	var out []generic.AuditEntry
	for rows.Next() {
		var (
			e           generic.AuditEntry
			ts          string
			payloadJSON sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &e.ActorID, &e.Action, &e.EntityID, &e.ReferenceID, &payloadJSON); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("audit %s ts: %w", e.ID, err)
		}
		if payloadJSON.Valid {
			if err := json.Unmarshal([]byte(payloadJSON.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("audit %s payload: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
