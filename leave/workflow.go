/*
workflow.go - Leave request approval state machine

PURPOSE:
  Drives one request from submission to a terminal status through three
  sequential officer stages. The machine is a status enum plus an explicit
  transition table; there is no per-role behaviour beyond the table.

STATES:
  SUBMITTED -> PENDING_ACTING_OFFICER -> PENDING_SUPERVISING_OFFICER
            -> PENDING_APPROVAL_OFFICER -> APPROVED
  Each pending stage can REJECT into REJECTED_BY_<stage>. The owner can
  cancel from any non-terminal status into CANCELLED_BY_EMPLOYEE.
  SUBMITTED is never persisted; Submit moves straight to the acting stage.

FINAL APPROVAL:
  The debit, the APPROVED write and the audit entry share one store
  transaction. If the debit fails nothing is written and the request stays
  at PENDING_APPROVAL_OFFICER. Maternity requests without an end date are
  approved without a debit; see maternity.go.

CONCURRENCY:
  Decide, Cancel and SetEndDate hold a per-request lock for the whole
  read-check-write, so two officers racing on one stage produce one winner
  and one AlreadyDecided. They also enter the request's year gate, which a
  running year close holds exclusively. Submit enters the gate too, so a
  close never misses a request filed while it runs.
*/
package leave

import (
	"context"
	"fmt"
	"strings"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// TRANSITION TABLE
// =============================================================================

type transitionKey struct {
	from     Status
	decision Decision
}

var transitions = map[transitionKey]Status{
	{StatusPendingActingOfficer, DecisionApprove}:   StatusPendingSupervising,
	{StatusPendingActingOfficer, DecisionReject}:    StatusRejectedByActing,
	{StatusPendingSupervising, DecisionApprove}:     StatusPendingApprovalOfficer,
	{StatusPendingSupervising, DecisionReject}:      StatusRejectedBySupervising,
	{StatusPendingApprovalOfficer, DecisionApprove}: StatusApproved,
	{StatusPendingApprovalOfficer, DecisionReject}:  StatusRejectedByApproval,
}

// autoAdvance holds transitions taken without a decision.
var autoAdvance = map[Status]Status{
	StatusSubmitted: StatusPendingActingOfficer,
}

var pendingStage = map[Status]Role{
	StatusPendingActingOfficer:   RoleActing,
	StatusPendingSupervising:     RoleSupervising,
	StatusPendingApprovalOfficer: RoleApproval,
}

// Next returns the status a decision moves from to.
func Next(from Status, d Decision) (Status, bool) {
	to, ok := transitions[transitionKey{from, d}]
	return to, ok
}

// =============================================================================
// INPUTS
// =============================================================================

type SubmitInput struct {
	EmployeeID generic.EntityID
	Department string
	LeaveType  string
	StartDate  generic.TimePoint
	EndDate    *generic.TimePoint
	HalfDay    bool
	Reason     string

	// Officers assigned to each stage. An empty officer lets anyone decide.
	ActingOfficer      string
	SupervisingOfficer string
	ApprovalOfficer    string
}

type DecideInput struct {
	RequestID string
	Role      Role
	Decision  Decision
	OfficerID string
	Comment   string
}

// =============================================================================
// WORKFLOW
// =============================================================================

type Workflow struct {
	*deps
	ledger *EntitlementLedger
}

// Submit validates and stores a new request at PENDING_ACTING_OFFICER.
// Nothing is written when validation fails.
func (w *Workflow) Submit(ctx context.Context, in SubmitInput) (Request, error) {
	defer w.years.Enter(in.StartDate.Year())()

	req, err := w.validateSubmit(ctx, in)
	if err != nil {
		return Request{}, err
	}

	now := w.now().UTC()
	req.ID = w.newID()
	req.CreatedAt = now
	req.UpdatedAt = now
	req.Stages = newStages()
	req.Stages[0].OfficerID = strings.TrimSpace(in.ActingOfficer)
	req.Stages[1].OfficerID = strings.TrimSpace(in.SupervisingOfficer)
	req.Stages[2].OfficerID = strings.TrimSpace(in.ApprovalOfficer)
	req.Status = StatusSubmitted
	if next, ok := autoAdvance[req.Status]; ok {
		req.Status = next
	}

	err = w.repo.WithTx(ctx, func(tx Repository) error {
		if err := tx.SaveRequest(ctx, req); err != nil {
			return fmt.Errorf("save request: %w", err)
		}
		return w.audit(ctx, tx, generic.AuditEntry{
			ActorID:     string(req.EmployeeID),
			Action:      generic.AuditRequestSubmitted,
			EntityID:    req.EmployeeID,
			ReferenceID: req.ID,
			Payload: map[string]string{
				"leaveType": string(req.Type),
				"startDate": req.StartDate.String(),
				"status":    string(req.Status),
			},
		})
	})
	if err != nil {
		return Request{}, err
	}

	w.logger.Info("leave request submitted",
		"request_id", req.ID,
		"employee_id", req.EmployeeID,
		"leave_type", req.Type,
	)
	w.publish(ctx, requestEvent(EventSubmitted, req, string(req.EmployeeID), now))
	return req, nil
}

func (w *Workflow) validateSubmit(ctx context.Context, in SubmitInput) (Request, error) {
	emp := generic.EntityID(strings.TrimSpace(string(in.EmployeeID)))
	if emp == "" {
		return Request{}, invalid("employeeId", "required")
	}
	t, ok := w.catalog.Resolve(in.LeaveType)
	if !ok {
		return Request{}, invalid("leaveType", fmt.Sprintf("unknown leave type %q", in.LeaveType))
	}
	p, err := w.policy(t)
	if err != nil {
		return Request{}, err
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return Request{}, invalid("reason", "required")
	}
	if in.StartDate.IsZero() {
		return Request{}, invalid("startDate", "required")
	}

	end := in.EndDate
	if end == nil && p.SingleDay {
		start := in.StartDate
		end = &start
	}
	if end == nil && !p.DeferredEnd {
		return Request{}, invalid("endDate", "required")
	}
	if end != nil {
		if end.Before(in.StartDate) {
			return Request{}, &ValidationError{Field: "endDate", Message: "before start date", Err: ErrInvalidDate}
		}
		if p.SingleDay && !end.Equal(in.StartDate) {
			return Request{}, invalid("endDate", fmt.Sprintf("%s is a single-day leave", p.Code))
		}
		if p.MaxContinuousDays > 0 && generic.InclusiveDays(in.StartDate, *end) > p.MaxContinuousDays {
			return Request{}, invalid("endDate", fmt.Sprintf("%s allows at most %d continuous days", p.Code, p.MaxContinuousDays))
		}
	}
	if in.HalfDay {
		if p.SingleDay || p.DeferredEnd {
			return Request{}, invalid("halfDay", fmt.Sprintf("%s cannot be taken as a half day", p.Code))
		}
		if !end.Equal(in.StartDate) {
			return Request{}, invalid("halfDay", "a half day must start and end on the same date")
		}
	}

	closed, err := w.yearClosed(ctx, w.repo, in.StartDate.Year())
	if err != nil {
		return Request{}, err
	}
	if closed {
		return Request{}, fmt.Errorf("submit for %d: %w", in.StartDate.Year(), ErrYearClosed)
	}

	return Request{
		EmployeeID: emp,
		Department: strings.TrimSpace(in.Department),
		Type:       t,
		StartDate:  in.StartDate,
		EndDate:    end,
		HalfDay:    in.HalfDay,
		Reason:     reason,
	}, nil
}

// Decide applies one officer decision.
//
// Errors, in the order they are checked: a terminal request is NotEligible;
// a role whose stage already passed is AlreadyDecided; a role ahead of the
// pending stage is StageMismatch; an officer other than the one assigned is
// NotEligible. A failed final debit leaves the request untouched.
func (w *Workflow) Decide(ctx context.Context, in DecideInput) (Request, error) {
	if in.RequestID == "" {
		return Request{}, invalid("requestId", "required")
	}
	if in.Role.Index() < 0 {
		return Request{}, invalid("role", fmt.Sprintf("unknown role %q", in.Role))
	}
	if in.Decision != DecisionApprove && in.Decision != DecisionReject {
		return Request{}, invalid("decision", fmt.Sprintf("unknown decision %q", in.Decision))
	}

	defer w.requests.Lock(in.RequestID)()

	req, err := w.repo.GetRequest(ctx, in.RequestID)
	if err != nil {
		return Request{}, err
	}
	defer w.years.Enter(req.Year())()

	if req.Status.IsTerminal() {
		return Request{}, &NotEligibleError{RequestID: req.ID, Reason: fmt.Sprintf("request is %s", req.Status)}
	}
	pending, ok := req.PendingRole()
	if !ok {
		return Request{}, &NotEligibleError{RequestID: req.ID, Reason: fmt.Sprintf("request is %s", req.Status)}
	}
	switch {
	case in.Role.Index() < pending.Index():
		return Request{}, &AlreadyDecidedError{RequestID: req.ID, Role: in.Role, Status: req.Status}
	case in.Role.Index() > pending.Index():
		return Request{}, &StageMismatchError{RequestID: req.ID, Role: in.Role, Pending: pending}
	}
	stage := req.Stage(in.Role)
	if stage.OfficerID != "" && stage.OfficerID != in.OfficerID {
		return Request{}, &NotEligibleError{RequestID: req.ID, Reason: fmt.Sprintf("%s stage is assigned to another officer", in.Role)}
	}

	next, _ := Next(req.Status, in.Decision)
	now := w.now().UTC()
	updated := req
	i := in.Role.Index()
	updated.Stages[i].OfficerID = in.OfficerID
	updated.Stages[i].Decision = in.Decision
	updated.Stages[i].Comment = in.Comment
	updated.Stages[i].DecidedAt = &now
	updated.Status = next
	updated.UpdatedAt = now

	action := generic.AuditStageApproved
	switch {
	case next == StatusApproved:
		action = generic.AuditRequestApproved
	case in.Decision == DecisionReject:
		action = generic.AuditRequestRejected
	}

	var debited generic.Amount
	err = w.repo.WithTx(ctx, func(tx Repository) error {
		if next == StatusApproved {
			amount, err := w.debitOnApproval(ctx, tx, updated)
			if err != nil {
				return err
			}
			debited = amount
		}
		if err := tx.SaveRequest(ctx, updated); err != nil {
			return fmt.Errorf("save request: %w", err)
		}
		payload := map[string]string{
			"role":     string(in.Role),
			"decision": string(in.Decision),
			"status":   string(next),
		}
		if in.Comment != "" {
			payload["comment"] = in.Comment
		}
		if !debited.Value.IsZero() {
			payload["debited"] = debited.String()
		}
		return w.audit(ctx, tx, generic.AuditEntry{
			Timestamp:   now,
			ActorID:     in.OfficerID,
			Action:      action,
			EntityID:    req.EmployeeID,
			ReferenceID: req.ID,
			Payload:     payload,
		})
	})
	if err != nil {
		w.logger.Info("leave decision refused",
			"request_id", req.ID,
			"role", in.Role,
			"decision", in.Decision,
			"error", err,
		)
		return Request{}, err
	}

	w.logger.Info("leave decision recorded",
		"request_id", req.ID,
		"role", in.Role,
		"decision", in.Decision,
		"status", next,
	)
	event := EventStageAdvanced
	switch {
	case next == StatusApproved:
		event = EventApproved
	case in.Decision == DecisionReject:
		event = EventRejected
	}
	w.publish(ctx, requestEvent(event, updated, in.OfficerID, now))
	return updated, nil
}

// debitOnApproval debits the request's duration. Open-ended maternity
// requests are skipped and debited later by the resolver.
func (w *Workflow) debitOnApproval(ctx context.Context, tx Repository, req Request) (generic.Amount, error) {
	p, err := w.policy(req.Type)
	if err != nil {
		return generic.Amount{}, err
	}
	amount, ok := req.Duration(p)
	if !ok {
		return generic.Amount{}, nil
	}
	res, err := w.ledger.debitIn(ctx, tx, p, DebitInput{
		EmployeeID: req.EmployeeID,
		LeaveType:  p.Code,
		Amount:     amount,
		At:         req.StartDate,
		RequestID:  req.ID,
	})
	if err != nil {
		return generic.Amount{}, err
	}
	return res.Transaction.Delta.Neg(), nil
}

// Cancel withdraws a non-terminal request on behalf of its owner. A debit
// already recorded under the request is credited back in the same transaction.
func (w *Workflow) Cancel(ctx context.Context, requestID string, employeeID generic.EntityID) (Request, error) {
	if requestID == "" {
		return Request{}, invalid("requestId", "required")
	}
	defer w.requests.Lock(requestID)()

	req, err := w.repo.GetRequest(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if req.EmployeeID != employeeID {
		return Request{}, &NotEligibleError{RequestID: req.ID, Reason: "only the requesting employee can cancel"}
	}
	if req.Status.IsTerminal() {
		return Request{}, &NotEligibleError{RequestID: req.ID, Reason: fmt.Sprintf("request is %s", req.Status)}
	}
	defer w.years.Enter(req.Year())()

	now := w.now().UTC()
	updated := req
	updated.Status = StatusCancelledByEmployee
	updated.UpdatedAt = now
	updated.CancelledAt = &now

	err = w.repo.WithTx(ctx, func(tx Repository) error {
		payload := map[string]string{"previous": string(req.Status)}
		has, err := tx.Exists(ctx, debitKey(req.ID))
		if err != nil {
			return fmt.Errorf("lookup debit: %w", err)
		}
		if has {
			res, err := w.ledger.creditIn(ctx, tx, CreditInput{
				RequestID: req.ID,
				ActorID:   string(employeeID),
				Reason:    "request cancelled",
			})
			if err != nil {
				return err
			}
			if res.Applied {
				payload["credited"] = res.Transaction.Delta.String()
			}
		}
		if err := tx.SaveRequest(ctx, updated); err != nil {
			return fmt.Errorf("save request: %w", err)
		}
		return w.audit(ctx, tx, generic.AuditEntry{
			Timestamp:   now,
			ActorID:     string(employeeID),
			Action:      generic.AuditRequestCancelled,
			EntityID:    req.EmployeeID,
			ReferenceID: req.ID,
			Payload:     payload,
		})
	})
	if err != nil {
		return Request{}, err
	}

	w.logger.Info("leave request cancelled", "request_id", req.ID, "employee_id", employeeID)
	w.publish(ctx, requestEvent(EventCancelled, updated, string(employeeID), now))
	return updated, nil
}

// Get returns one request.
func (w *Workflow) Get(ctx context.Context, requestID string) (Request, error) {
	return w.repo.GetRequest(ctx, requestID)
}

// History returns the request's audit trail, oldest first.
func (w *Workflow) History(ctx context.Context, requestID string) ([]generic.AuditEntry, error) {
	if _, err := w.repo.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	return w.repo.QueryAudit(ctx, generic.AuditFilter{ReferenceID: &requestID})
}

// IsPending reports whether a request waits on an officer.
func IsPending(s Status) bool {
	_, ok := pendingStage[s]
	return ok
}
