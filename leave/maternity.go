package leave

import (
	"context"
	"fmt"
	"strings"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// MATERNITY END-DATE RESOLVER
// =============================================================================

// MaternityResolver supplies the end date of an approved, open-ended request
// and performs the debit the approval deferred.
type MaternityResolver struct {
	*deps
	ledger *EntitlementLedger
}

type SetEndDateInput struct {
	RequestID string
	EndDate   generic.TimePoint
	Comment   string
	ActorID   string
}

// SetEndDate records the end date, debits the duration and writes the audit
// entry in one transaction. A second call fails with AlreadySet and never
// debits again.
func (m *MaternityResolver) SetEndDate(ctx context.Context, in SetEndDateInput) (Request, error) {
	if in.RequestID == "" {
		return Request{}, invalid("requestId", "required")
	}
	if in.EndDate.IsZero() {
		return Request{}, invalid("endDate", "required")
	}
	defer m.requests.Lock(in.RequestID)()

	req, err := m.repo.GetRequest(ctx, in.RequestID)
	if err != nil {
		return Request{}, err
	}
	p, err := m.policy(req.Type)
	if err != nil {
		return Request{}, err
	}
	if !p.DeferredEnd {
		return Request{}, &NotEligibleError{RequestID: req.ID, Reason: fmt.Sprintf("%s requests carry their end date", req.Type)}
	}
	if req.Status != StatusApproved {
		return Request{}, &NotEligibleError{RequestID: req.ID, Reason: fmt.Sprintf("request is %s", req.Status)}
	}
	if req.EndDate != nil {
		return Request{}, fmt.Errorf("request %s ends %s: %w", req.ID, req.EndDate, ErrAlreadySet)
	}
	if in.EndDate.Before(req.StartDate) {
		return Request{}, &ValidationError{Field: "endDate", Message: "before start date", Err: ErrInvalidDate}
	}
	if days := generic.InclusiveDays(req.StartDate, in.EndDate); p.MaxContinuousDays > 0 && days > p.MaxContinuousDays {
		return Request{}, invalid("endDate", fmt.Sprintf("%d days exceeds the %d continuous days allowed", days, p.MaxContinuousDays))
	}
	defer m.years.Enter(req.Year())()

	now := m.now().UTC()
	end := in.EndDate
	updated := req
	updated.EndDate = &end
	updated.EndDateSetBy = in.ActorID
	updated.EndDateComment = strings.TrimSpace(in.Comment)
	updated.EndDateSetAt = &now
	updated.UpdatedAt = now

	amount, _ := updated.Duration(p)
	err = m.repo.WithTx(ctx, func(tx Repository) error {
		res, err := m.ledger.debitIn(ctx, tx, p, DebitInput{
			EmployeeID: req.EmployeeID,
			LeaveType:  p.Code,
			Amount:     amount,
			At:         req.StartDate,
			RequestID:  req.ID,
		})
		if err != nil {
			return err
		}
		if err := tx.SaveRequest(ctx, updated); err != nil {
			return fmt.Errorf("save request: %w", err)
		}
		return m.audit(ctx, tx, generic.AuditEntry{
			Timestamp:   now,
			ActorID:     in.ActorID,
			Action:      generic.AuditEndDateSet,
			EntityID:    req.EmployeeID,
			ReferenceID: req.ID,
			Payload: map[string]string{
				"endDate": end.String(),
				"debited": res.Transaction.Delta.Neg().String(),
				"comment": updated.EndDateComment,
			},
		})
	})
	if err != nil {
		return Request{}, err
	}

	m.logger.Info("maternity end date set",
		"request_id", req.ID,
		"end_date", end.String(),
		"days", amount.String(),
	)
	m.publish(ctx, requestEvent(EventEndDateSet, updated, in.ActorID, now))
	return updated, nil
}

// PendingEndDates lists approved deferred-end requests still waiting for an end date.
func (m *MaternityResolver) PendingEndDates(ctx context.Context) ([]Request, error) {
	var out []Request
	for _, p := range m.catalog.List() {
		if !p.DeferredEnd {
			continue
		}
		reqs, err := m.repo.ListRequests(ctx, RequestFilter{Status: StatusApproved, Type: p.Code})
		if err != nil {
			return nil, err
		}
		for _, r := range reqs {
			if r.EndDate == nil {
				out = append(out, r)
			}
		}
	}
	return out, nil
}
