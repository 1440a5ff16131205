// Package leave implements leave requests on top of the generic balance engine:
// the three-officer approval workflow, per-year entitlements with monthly
// short-leave quotas, the maternity end-date resolver, the historical archive
// and read-only reporting.
package leave

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// LEAVE TYPE
// =============================================================================

// Type is a leave-type code. Implements generic.ResourceType.
type Type string

func (t Type) ResourceID() string     { return string(t) }
func (t Type) ResourceDomain() string { return "leave" }

var _ generic.ResourceType = Type("")

const (
	TypeCasual     Type = "CASUAL"
	TypeSick       Type = "SICK"
	TypeMaternity  Type = "MATERNITY"
	TypeDuty       Type = "DUTY"
	TypeShortLeave Type = "SHORT_LEAVE"
)

func init() {
	for _, t := range []Type{TypeCasual, TypeSick, TypeMaternity, TypeDuty, TypeShortLeave} {
		generic.RegisterResource(t)
	}
}

// NormalizeType upper-cases a label and trims it. Aliases are resolved by the Catalog.
func NormalizeType(label string) Type {
	s := strings.ToUpper(strings.TrimSpace(label))
	s = strings.ReplaceAll(s, " ", "_")
	return Type(s)
}

// PolicyIDFor names the ledger stream of one leave type in one year.
func PolicyIDFor(t Type, year int) generic.PolicyID {
	return generic.PolicyID(fmt.Sprintf("%s-%d", t, year))
}

// ParsePolicyID splits "<TYPE>-<YEAR>".
func ParsePolicyID(id generic.PolicyID) (Type, int, bool) {
	s := string(id)
	i := strings.LastIndex(s, "-")
	if i <= 0 || i == len(s)-1 {
		return "", 0, false
	}
	year, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return "", 0, false
	}
	return Type(s[:i]), year, true
}

// =============================================================================
// STATUS, ROLE, DECISION
// =============================================================================

type Status string

const (
	StatusSubmitted              Status = "SUBMITTED"
	StatusPendingActingOfficer   Status = "PENDING_ACTING_OFFICER"
	StatusPendingSupervising     Status = "PENDING_SUPERVISING_OFFICER"
	StatusPendingApprovalOfficer Status = "PENDING_APPROVAL_OFFICER"
	StatusApproved               Status = "APPROVED"
	StatusRejectedByActing       Status = "REJECTED_BY_ACTING_OFFICER"
	StatusRejectedBySupervising  Status = "REJECTED_BY_SUPERVISING_OFFICER"
	StatusRejectedByApproval     Status = "REJECTED_BY_APPROVAL_OFFICER"
	StatusCancelledByEmployee    Status = "CANCELLED_BY_EMPLOYEE"
)

// AllStatuses in workflow order.
var AllStatuses = []Status{
	StatusSubmitted,
	StatusPendingActingOfficer,
	StatusPendingSupervising,
	StatusPendingApprovalOfficer,
	StatusApproved,
	StatusRejectedByActing,
	StatusRejectedBySupervising,
	StatusRejectedByApproval,
	StatusCancelledByEmployee,
}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejectedByActing, StatusRejectedBySupervising,
		StatusRejectedByApproval, StatusCancelledByEmployee:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

type Role string

const (
	RoleActing      Role = "ACTING"
	RoleSupervising Role = "SUPERVISING"
	RoleApproval    Role = "APPROVAL"
)

// Roles in the order a request passes through them.
var Roles = [3]Role{RoleActing, RoleSupervising, RoleApproval}

// Index is the stage position of the role, or -1.
func (r Role) Index() int {
	for i, v := range Roles {
		if v == r {
			return i
		}
	}
	return -1
}

func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	return r, r.Index() >= 0
}

type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

func ParseDecision(s string) (Decision, bool) {
	d := Decision(strings.ToUpper(strings.TrimSpace(s)))
	return d, d == DecisionApprove || d == DecisionReject
}

// =============================================================================
// REQUEST
// =============================================================================

// StageRecord is one officer stage. Decision and DecidedAt are set only once
// the stage has been decided.
type StageRecord struct {
	Role      Role
	OfficerID string
	Decision  Decision
	Comment   string
	DecidedAt *time.Time
}

func (s StageRecord) Decided() bool { return s.Decision != "" }

type Request struct {
	ID         string
	EmployeeID generic.EntityID
	Department string
	Type       Type
	StartDate  generic.TimePoint
	EndDate    *generic.TimePoint
	HalfDay    bool
	Reason     string
	Status     Status
	Stages     [3]StageRecord

	EndDateSetBy   string
	EndDateComment string
	EndDateSetAt   *time.Time

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CancelledAt *time.Time
}

// Year is the entitlement year the request draws from: its start date's year.
func (r Request) Year() int { return r.StartDate.Year() }

// Stage returns the record of role.
func (r Request) Stage(role Role) StageRecord {
	if i := role.Index(); i >= 0 {
		return r.Stages[i]
	}
	return StageRecord{}
}

// PendingRole is the stage the request is waiting on.
func (r Request) PendingRole() (Role, bool) {
	role, ok := pendingStage[r.Status]
	return role, ok
}

// Duration is the amount to debit: inclusive calendar days, half a day for a
// half-day request, one unit for single-occurrence types. ok is false while
// the end date is still open.
func (r Request) Duration(p Policy) (amount generic.Amount, ok bool) {
	if p.SingleDay {
		return generic.NewAmountFromInt(1, p.Unit()), true
	}
	if r.EndDate == nil {
		return generic.Amount{}, false
	}
	if r.HalfDay {
		return generic.NewAmount(0.5, p.Unit()), true
	}
	return generic.NewAmountFromInt(generic.InclusiveDays(r.StartDate, *r.EndDate), p.Unit()), true
}

// Overlaps reports whether the request's days intersect [from, to]. A nil
// bound is open. An open end date counts as a single day.
func (r Request) Overlaps(from, to *generic.TimePoint) bool {
	end := r.StartDate
	if r.EndDate != nil {
		end = *r.EndDate
	}
	if from != nil && end.Before(*from) {
		return false
	}
	if to != nil && r.StartDate.After(*to) {
		return false
	}
	return true
}

func newStages() [3]StageRecord {
	var s [3]StageRecord
	for i, role := range Roles {
		s[i].Role = role
	}
	return s
}
