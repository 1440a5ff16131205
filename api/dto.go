/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes of the REST API. Domain types stay free of wire concerns;
  dates travel as "YYYY-MM-DD", amounts as decimal strings ("1.5") so half
  days never pick up float noise.

NAMING CONVENTION:
  - *DTO:     response types returned to clients
  - *Request: request body types from clients

VALIDATION:
  Only syntax is checked here (dates parse, enums are known). Business rules
  live in package leave and come back as typed errors.

SEE ALSO:
  - handlers.go: uses these types
  - leave/types.go: the domain model
*/
package api

import (
	"time"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// REQUEST BODIES
// =============================================================================

type SubmitRequest struct {
	EmployeeID         string `json:"employeeId"`
	Department         string `json:"department"`
	LeaveType          string `json:"leaveType"`
	StartDate          string `json:"startDate"`
	EndDate            string `json:"endDate,omitempty"`
	HalfDay            bool   `json:"halfDay,omitempty"`
	Reason             string `json:"reason"`
	ActingOfficer      string `json:"actingOfficer,omitempty"`
	SupervisingOfficer string `json:"supervisingOfficer,omitempty"`
	ApprovalOfficer    string `json:"approvalOfficer,omitempty"`
}

type DecisionRequest struct {
	Role      string `json:"role"`
	Decision  string `json:"decision"`
	OfficerID string `json:"officerId"`
	Comment   string `json:"comment,omitempty"`
}

type CancelRequest struct {
	EmployeeID string `json:"employeeId"`
}

type EndDateRequest struct {
	EndDate string `json:"endDate"`
	Comment string `json:"comment,omitempty"`
	ActorID string `json:"actorId"`
}

type EntitlementRequest struct {
	Year    int    `json:"year"`
	Total   string `json:"total"`
	ActorID string `json:"actorId"`
	Reason  string `json:"reason,omitempty"`
}

type BackfillRequest struct {
	Entries []SummaryEntryDTO `json:"entries"`
	Notes   string            `json:"notes,omitempty"`
	ActorID string            `json:"actorId"`
}

type CloseYearRequest struct {
	Year    int    `json:"year"`
	ActorID string `json:"actorId"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type StageDTO struct {
	Role      string  `json:"role"`
	OfficerID string  `json:"officerId,omitempty"`
	Decision  string  `json:"decision,omitempty"`
	Comment   string  `json:"comment,omitempty"`
	DecidedAt *string `json:"decidedAt,omitempty"`
}

type RequestDTO struct {
	ID             string     `json:"id"`
	EmployeeID     string     `json:"employeeId"`
	Department     string     `json:"department,omitempty"`
	LeaveType      string     `json:"leaveType"`
	StartDate      string     `json:"startDate"`
	EndDate        string     `json:"endDate,omitempty"`
	HalfDay        bool       `json:"halfDay,omitempty"`
	Reason         string     `json:"reason"`
	Status         string     `json:"status"`
	PendingRole    string     `json:"pendingRole,omitempty"`
	Stages         []StageDTO `json:"stages"`
	EndDateSetBy   string     `json:"endDateSetBy,omitempty"`
	EndDateComment string     `json:"endDateComment,omitempty"`
	EndDateSetAt   *string    `json:"endDateSetAt,omitempty"`
	CreatedAt      string     `json:"createdAt"`
	UpdatedAt      string     `json:"updatedAt"`
	CancelledAt    *string    `json:"cancelledAt,omitempty"`
}

type AuditDTO struct {
	ID        string            `json:"id"`
	Timestamp string            `json:"timestamp"`
	ActorID   string            `json:"actorId,omitempty"`
	Action    string            `json:"action"`
	Payload   map[string]string `json:"payload,omitempty"`
}

type MonthBucketDTO struct {
	Used  string `json:"used"`
	Total string `json:"total"`
}

type EntryDTO struct {
	LeaveType           string                    `json:"leaveType"`
	Year                int                       `json:"year"`
	Total               string                    `json:"total"`
	Used                string                    `json:"used"`
	Remaining           string                    `json:"remaining"`
	Unit                string                    `json:"unit"`
	AccumulatedHalfDays int                       `json:"accumulatedHalfDays"`
	Capped              bool                      `json:"capped"`
	Frozen              bool                      `json:"frozen"`
	Monthly             map[string]MonthBucketDTO `json:"monthly,omitempty"`
}

type SummaryEntryDTO struct {
	LeaveType           string                    `json:"leaveType"`
	Total               string                    `json:"total"`
	Used                string                    `json:"used"`
	Remaining           string                    `json:"remaining,omitempty"`
	AccumulatedHalfDays int                       `json:"accumulatedHalfDays,omitempty"`
	Monthly             map[string]MonthBucketDTO `json:"monthly,omitempty"`
}

type SummaryDTO struct {
	EmployeeID string            `json:"employeeId"`
	Year       int               `json:"year"`
	Entries    []SummaryEntryDTO `json:"entries"`
	Notes      string            `json:"notes,omitempty"`
	Source     string            `json:"source"`
	CreatedAt  string            `json:"createdAt"`
	UpdatedAt  string            `json:"updatedAt"`
}

type OverviewDTO struct {
	EmployeeID string       `json:"employeeId"`
	Year       int          `json:"year"`
	Balances   []EntryDTO   `json:"balances"`
	History    []SummaryDTO `json:"history"`
	Requests   []RequestDTO `json:"requests"`
}

type DashboardDTO struct {
	Total           int            `json:"total"`
	ByStatus        map[string]int `json:"byStatus"`
	ByType          map[string]int `json:"byType"`
	PendingByStage  map[string]int `json:"pendingByStage"`
	PendingEndDates int            `json:"pendingEndDates"`
}

type ExportDTO struct {
	Rows [][]string `json:"rows"`
}

type CloseYearDTO struct {
	Year     int      `json:"year"`
	Archived []string `json:"archived"`
	Skipped  []string `json:"skipped"`
}

// ErrorResponse is the body of every failed call. Error is a stable kind.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toRequestDTO(r leave.Request) RequestDTO {
	dto := RequestDTO{
		ID:             r.ID,
		EmployeeID:     string(r.EmployeeID),
		Department:     r.Department,
		LeaveType:      string(r.Type),
		StartDate:      r.StartDate.String(),
		HalfDay:        r.HalfDay,
		Reason:         r.Reason,
		Status:         string(r.Status),
		Stages:         make([]StageDTO, 0, len(r.Stages)),
		EndDateSetBy:   r.EndDateSetBy,
		EndDateComment: r.EndDateComment,
		EndDateSetAt:   formatTimePtr(r.EndDateSetAt),
		CreatedAt:      formatTime(r.CreatedAt),
		UpdatedAt:      formatTime(r.UpdatedAt),
		CancelledAt:    formatTimePtr(r.CancelledAt),
	}
	if r.EndDate != nil {
		dto.EndDate = r.EndDate.String()
	}
	if role, ok := r.PendingRole(); ok {
		dto.PendingRole = string(role)
	}
	for _, s := range r.Stages {
		dto.Stages = append(dto.Stages, StageDTO{
			Role:      string(s.Role),
			OfficerID: s.OfficerID,
			Decision:  string(s.Decision),
			Comment:   s.Comment,
			DecidedAt: formatTimePtr(s.DecidedAt),
		})
	}
	return dto
}

func toRequestDTOs(reqs []leave.Request) []RequestDTO {
	out := make([]RequestDTO, len(reqs))
	for i, r := range reqs {
		out[i] = toRequestDTO(r)
	}
	return out
}

func toAuditDTOs(entries []generic.AuditEntry) []AuditDTO {
	out := make([]AuditDTO, len(entries))
	for i, e := range entries {
		out[i] = AuditDTO{
			ID:        e.ID,
			Timestamp: formatTime(e.Timestamp),
			ActorID:   e.ActorID,
			Action:    string(e.Action),
			Payload:   e.Payload,
		}
	}
	return out
}

func toMonthly(m map[string]leave.MonthBucket) map[string]MonthBucketDTO {
	if m == nil {
		return nil
	}
	out := make(map[string]MonthBucketDTO, len(m))
	for k, b := range m {
		out[k] = MonthBucketDTO{Used: b.Used.String(), Total: b.Total.String()}
	}
	return out
}

func toEntryDTO(e leave.Entry) EntryDTO {
	return EntryDTO{
		LeaveType:           string(e.Type),
		Year:                e.Year,
		Total:               e.Total.String(),
		Used:                e.Used.String(),
		Remaining:           e.Remaining.String(),
		Unit:                string(e.Total.Unit),
		AccumulatedHalfDays: e.AccumulatedHalfDays,
		Capped:              e.Capped,
		Frozen:              e.Frozen,
		Monthly:             toMonthly(e.Monthly),
	}
}

func toEntryDTOs(entries []leave.Entry) []EntryDTO {
	out := make([]EntryDTO, len(entries))
	for i, e := range entries {
		out[i] = toEntryDTO(e)
	}
	return out
}

func toSummaryDTO(s leave.Summary) SummaryDTO {
	dto := SummaryDTO{
		EmployeeID: string(s.EmployeeID),
		Year:       s.Year,
		Entries:    make([]SummaryEntryDTO, len(s.Entries)),
		Notes:      s.Notes,
		Source:     string(s.Source),
		CreatedAt:  formatTime(s.CreatedAt),
		UpdatedAt:  formatTime(s.UpdatedAt),
	}
	for i, e := range s.Entries {
		dto.Entries[i] = SummaryEntryDTO{
			LeaveType:           string(e.Type),
			Total:               e.Total.String(),
			Used:                e.Used.String(),
			Remaining:           e.Remaining.String(),
			AccumulatedHalfDays: e.AccumulatedHalfDays,
			Monthly:             toMonthly(e.Monthly),
		}
	}
	return dto
}

func toSummaryDTOs(rows []leave.Summary) []SummaryDTO {
	out := make([]SummaryDTO, len(rows))
	for i, s := range rows {
		out[i] = toSummaryDTO(s)
	}
	return out
}

func toDashboardDTO(d leave.Dashboard) DashboardDTO {
	dto := DashboardDTO{
		Total:           d.Total,
		ByStatus:        make(map[string]int, len(d.ByStatus)),
		ByType:          make(map[string]int, len(d.ByType)),
		PendingByStage:  make(map[string]int, len(d.PendingByStage)),
		PendingEndDates: d.PendingEndDates,
	}
	for k, v := range d.ByStatus {
		dto.ByStatus[string(k)] = v
	}
	for k, v := range d.ByType {
		dto.ByType[string(k)] = v
	}
	for k, v := range d.PendingByStage {
		dto.PendingByStage[string(k)] = v
	}
	return dto
}

func entityIDs(ids []generic.EntityID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
