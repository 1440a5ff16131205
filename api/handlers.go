/*
handlers.go - HTTP API handlers for the leave engine

PURPOSE:
  Exposes leave.Engine via REST. Handlers parse the request, call one engine
  operation and serialize the result. No business rule lives here.

ENDPOINTS:
  Requests:
    POST   /api/requests                       Submit a leave request
    GET    /api/requests                       List (status, type, department, employeeId, from, to)
    GET    /api/requests/{id}                  Request detail
    GET    /api/requests/{id}/history          Audit trail
    POST   /api/requests/{id}/decisions        Officer decision
    POST   /api/requests/{id}/cancel           Employee cancellation

  Employees:
    GET    /api/employees/{id}/balances        Balances (?year=, default current)
    GET    /api/employees/{id}/overview        Balances, archive rows, requests
    PUT    /api/employees/{id}/entitlements/{type}  Admin entitlement override

  Catalog:
    GET    /api/leave-types                    List leave types
    POST   /api/leave-types                    Add a leave type
    PUT    /api/leave-types/{code}             Edit a leave type

  Maternity:
    GET    /api/maternity/pending              Approved, end date still open
    POST   /api/maternity/{id}/end-date        Record the end date

  History:
    GET    /api/history/years                  Years with archive rows
    GET    /api/history/years/{year}           Rows of one year
    GET    /api/history/employees/{id}         Rows of one employee (?year=)
    PUT    /api/history/employees/{id}/years/{year}     Back-fill create/edit
    DELETE /api/history/employees/{id}/years/{year}     Back-fill delete (?actorId=)

  Admin / reports:
    POST   /api/admin/close-year               Archive and freeze a year
    GET    /api/reports/dashboard              Counts by status, type, stage
    GET    /api/reports/export                 Flat rows (?format=csv for CSV)

ERROR HANDLING:
  Failures are {"error": "<kind>", "message": "..."} where kind comes from
  leave.KindOf:
  - 400: validation, invalid_date
  - 404: not_found
  - 409: stage_mismatch, already_decided, already_set, not_eligible
  - 422: insufficient_balance
  - 500: anything else (logged)

SECURITY NOTE:
  No authentication. Actor and officer IDs are taken from the body.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *leave.Engine
	Logger *slog.Logger

	// Now picks the default year for balance reads.
	Now func() time.Time
}

// NewHandler creates a new handler over engine.
func NewHandler(engine *leave.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Engine: engine, Logger: logger, Now: time.Now}
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := leave.SubmitInput{
		EmployeeID:         generic.EntityID(req.EmployeeID),
		Department:         req.Department,
		LeaveType:          req.LeaveType,
		HalfDay:            req.HalfDay,
		Reason:             req.Reason,
		ActingOfficer:      req.ActingOfficer,
		SupervisingOfficer: req.SupervisingOfficer,
		ApprovalOfficer:    req.ApprovalOfficer,
	}
	var err error
	if req.StartDate != "" {
		if in.StartDate, err = parseDate("startDate", req.StartDate); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	if in.EndDate, err = parseOptionalDate("endDate", req.EndDate); err != nil {
		h.writeError(w, r, err)
		return
	}

	created, err := h.Engine.Workflow.Submit(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestDTO(created))
}

func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	reqs, err := h.Engine.Reports.ListRequests(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTOs(reqs))
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Engine.Workflow.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

func (h *Handler) GetRequestHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Engine.Workflow.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTOs(entries))
}

func (h *Handler) DecideRequest(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, ok := leave.ParseRole(req.Role)
	if !ok {
		h.writeError(w, r, &leave.ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", req.Role)})
		return
	}
	decision, ok := leave.ParseDecision(req.Decision)
	if !ok {
		h.writeError(w, r, &leave.ValidationError{Field: "decision", Message: fmt.Sprintf("unknown decision %q", req.Decision)})
		return
	}

	updated, err := h.Engine.Workflow.Decide(r.Context(), leave.DecideInput{
		RequestID: chi.URLParam(r, "id"),
		Role:      role,
		Decision:  decision,
		OfficerID: req.OfficerID,
		Comment:   req.Comment,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(updated))
}

func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if !h.decode(w, r, &req) {
		return
	}
	updated, err := h.Engine.Workflow.Cancel(r.Context(), chi.URLParam(r, "id"), generic.EntityID(req.EmployeeID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(updated))
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	year, err := h.yearParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	entries, err := h.Engine.Ledger.Balances(r.Context(), generic.EntityID(chi.URLParam(r, "id")), year)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

func (h *Handler) GetOverview(w http.ResponseWriter, r *http.Request) {
	year, err := h.yearParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	o, err := h.Engine.Reports.EmployeeOverview(r.Context(), generic.EntityID(chi.URLParam(r, "id")), year)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OverviewDTO{
		EmployeeID: string(o.EmployeeID),
		Year:       o.Year,
		Balances:   toEntryDTOs(o.Balances),
		History:    toSummaryDTOs(o.History),
		Requests:   toRequestDTOs(o.Requests),
	})
}

func (h *Handler) SetEntitlement(w http.ResponseWriter, r *http.Request) {
	var req EntitlementRequest
	if !h.decode(w, r, &req) {
		return
	}
	t, p, err := h.policy(chi.URLParam(r, "type"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	total, err := parseAmount("total", req.Total, p.Unit())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Year == 0 {
		req.Year = h.Now().Year()
	}

	entry, err := h.Engine.Ledger.SetEntitlement(r.Context(), leave.SetEntitlementInput{
		EmployeeID: generic.EntityID(chi.URLParam(r, "id")),
		Year:       req.Year,
		LeaveType:  t,
		Total:      total,
		ActorID:    req.ActorID,
		Reason:     req.Reason,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

func (h *Handler) ListLeaveTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.Catalog.List())
}

func (h *Handler) CreateLeaveType(w http.ResponseWriter, r *http.Request) {
	var p leave.Policy
	if !h.decode(w, r, &p) {
		return
	}
	created, err := h.Engine.Catalog.Add(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) UpdateLeaveType(w http.ResponseWriter, r *http.Request) {
	var p leave.Policy
	if !h.decode(w, r, &p) {
		return
	}
	updated, err := h.Engine.Catalog.Update(r.Context(), leave.Type(chi.URLParam(r, "code")), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// =============================================================================
// MATERNITY HANDLERS
// =============================================================================

func (h *Handler) ListPendingEndDates(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Engine.Maternity.PendingEndDates(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTOs(reqs))
}

func (h *Handler) SetEndDate(w http.ResponseWriter, r *http.Request) {
	var req EndDateRequest
	if !h.decode(w, r, &req) {
		return
	}
	var end generic.TimePoint
	if req.EndDate != "" {
		var err error
		if end, err = parseDate("endDate", req.EndDate); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	updated, err := h.Engine.Maternity.SetEndDate(r.Context(), leave.SetEndDateInput{
		RequestID: chi.URLParam(r, "id"),
		EndDate:   end,
		Comment:   req.Comment,
		ActorID:   req.ActorID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(updated))
}

// =============================================================================
// HISTORY HANDLERS
// =============================================================================

func (h *Handler) ListHistoryYears(w http.ResponseWriter, r *http.Request) {
	years, err := h.Engine.Archive.Years(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if years == nil {
		years = []int{}
	}
	writeJSON(w, http.StatusOK, years)
}

func (h *Handler) GetHistoryYear(w http.ResponseWriter, r *http.Request) {
	year, err := parseYear(chi.URLParam(r, "year"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rows, err := h.Engine.Archive.ByYear(r.Context(), year)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTOs(rows))
}

func (h *Handler) GetEmployeeHistory(w http.ResponseWriter, r *http.Request) {
	emp := generic.EntityID(chi.URLParam(r, "id"))
	if raw := r.URL.Query().Get("year"); raw != "" {
		year, err := parseYear(raw)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		row, err := h.Engine.Archive.ByEmployeeYear(r.Context(), emp, year)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, []SummaryDTO{toSummaryDTO(row)})
		return
	}

	rows, err := h.Engine.Archive.ByEmployee(r.Context(), emp)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTOs(rows))
}

func (h *Handler) UpsertBackfill(w http.ResponseWriter, r *http.Request) {
	year, err := parseYear(chi.URLParam(r, "year"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req BackfillRequest
	if !h.decode(w, r, &req) {
		return
	}
	entries, err := h.summaryEntries(req.Entries)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	row, err := h.Engine.Archive.UpsertBackfill(r.Context(), generic.EntityID(chi.URLParam(r, "id")), year, leave.BackfillInput{
		Entries: entries,
		Notes:   req.Notes,
		ActorID: req.ActorID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(row))
}

func (h *Handler) DeleteBackfill(w http.ResponseWriter, r *http.Request) {
	year, err := parseYear(chi.URLParam(r, "year"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	emp := generic.EntityID(chi.URLParam(r, "id"))
	if err := h.Engine.Archive.DeleteSummary(r.Context(), emp, year, r.URL.Query().Get("actorId")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ADMIN / REPORT HANDLERS
// =============================================================================

func (h *Handler) CloseYear(w http.ResponseWriter, r *http.Request) {
	var req CloseYearRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Year == 0 {
		h.writeError(w, r, &leave.ValidationError{Field: "year", Message: "required"})
		return
	}
	res, err := h.Engine.Archive.CloseYear(r.Context(), req.Year, req.ActorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CloseYearDTO{
		Year:     res.Year,
		Archived: entityIDs(res.Archived),
		Skipped:  entityIDs(res.Skipped),
	})
}

func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	d, err := h.Engine.Reports.Dashboard(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDashboardDTO(d))
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rows, err := h.Engine.Reports.ExportRows(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") != "csv" {
		writeJSON(w, http.StatusOK, ExportDTO{Rows: rows})
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="leave-requests.csv"`)
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(rows); err != nil {
		h.Logger.ErrorContext(r.Context(), "csv export failed", "error", err)
	}
}

// =============================================================================
// PARSING
// =============================================================================

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, r, &leave.ValidationError{Message: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func (h *Handler) yearParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("year")
	if raw == "" {
		return h.Now().Year(), nil
	}
	return parseYear(raw)
}

// policy resolves a URL leave-type label. Unknown labels are 404.
func (h *Handler) policy(label string) (leave.Type, leave.Policy, error) {
	t, ok := h.Engine.Catalog.Resolve(label)
	if !ok {
		return "", leave.Policy{}, &leave.NotFoundError{What: "leave type", ID: label}
	}
	p, _ := h.Engine.Catalog.Get(t)
	return t, p, nil
}

// summaryEntries converts back-fill rows. Amounts take the unit of the known
// leave type; unknown types fall back to days and are judged by the archive.
func (h *Handler) summaryEntries(in []SummaryEntryDTO) ([]leave.SummaryEntry, error) {
	out := make([]leave.SummaryEntry, len(in))
	for i, e := range in {
		unit := generic.UnitDays
		if t, ok := h.Engine.Catalog.Resolve(e.LeaveType); ok {
			if p, ok := h.Engine.Catalog.Get(t); ok {
				unit = p.Unit()
			}
		}
		field := fmt.Sprintf("entries[%d]", i)
		total, err := parseAmount(field+".total", e.Total, unit)
		if err != nil {
			return nil, err
		}
		used, err := parseAmount(field+".used", e.Used, unit)
		if err != nil {
			return nil, err
		}
		out[i] = leave.SummaryEntry{
			Type:                leave.Type(e.LeaveType),
			Total:               total,
			Used:                used,
			AccumulatedHalfDays: e.AccumulatedHalfDays,
		}
		if len(e.Monthly) > 0 {
			out[i].Monthly = make(map[string]leave.MonthBucket, len(e.Monthly))
			for month, b := range e.Monthly {
				mu, err := parseAmount(field+".monthly."+month+".used", b.Used, unit)
				if err != nil {
					return nil, err
				}
				mt, err := parseAmount(field+".monthly."+month+".total", b.Total, unit)
				if err != nil {
					return nil, err
				}
				out[i].Monthly[month] = leave.MonthBucket{Used: mu, Total: mt}
			}
		}
	}
	return out, nil
}

func parseFilter(r *http.Request) (leave.RequestFilter, error) {
	q := r.URL.Query()
	f := leave.RequestFilter{
		Status:     leave.Status(q.Get("status")),
		Type:       leave.Type(q.Get("type")),
		Department: q.Get("department"),
		EmployeeID: generic.EntityID(q.Get("employeeId")),
	}
	if f.Status != "" && !f.Status.Valid() {
		return f, &leave.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", f.Status)}
	}
	var err error
	if f.From, err = parseOptionalDate("from", q.Get("from")); err != nil {
		return f, err
	}
	if f.To, err = parseOptionalDate("to", q.Get("to")); err != nil {
		return f, err
	}
	return f, nil
}

func parseDate(field, s string) (generic.TimePoint, error) {
	tp, err := generic.ParseDate(s)
	if err != nil {
		return generic.TimePoint{}, &leave.ValidationError{
			Field:   field,
			Message: fmt.Sprintf("%q is not a YYYY-MM-DD date", s),
			Err:     leave.ErrInvalidDate,
		}
	}
	return tp, nil
}

func parseOptionalDate(field, s string) (*generic.TimePoint, error) {
	if s == "" {
		return nil, nil
	}
	tp, err := parseDate(field, s)
	if err != nil {
		return nil, err
	}
	return &tp, nil
}

func parseYear(s string) (int, error) {
	year, err := strconv.Atoi(s)
	if err != nil || year <= 0 {
		return 0, &leave.ValidationError{Field: "year", Message: fmt.Sprintf("%q is not a year", s)}
	}
	return year, nil
}

func parseAmount(field, s string, unit generic.Unit) (generic.Amount, error) {
	a, err := generic.ParseAmount(s, unit)
	if err != nil {
		return generic.Amount{}, &leave.ValidationError{Field: field, Message: fmt.Sprintf("%q is not a number", s)}
	}
	return a, nil
}

// =============================================================================
// RESPONSES
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind leave.Kind) int {
	switch kind {
	case leave.KindValidation, leave.KindInvalidDate:
		return http.StatusBadRequest
	case leave.KindNotFound:
		return http.StatusNotFound
	case leave.KindStageMismatch, leave.KindAlreadyDecided, leave.KindAlreadySet, leave.KindNotEligible:
		return http.StatusConflict
	case leave.KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := leave.KindOf(err)
	status := statusFor(kind)
	resp := ErrorResponse{Error: string(kind), Message: err.Error()}

	var verr *leave.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	if status == http.StatusInternalServerError {
		h.Logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		resp.Message = "internal error"
	}
	writeJSON(w, status, resp)
}
