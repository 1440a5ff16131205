package leave

import (
	"context"
	"time"

	"github.com/warp/leave-engine/generic"
)

// EventType names a committed workflow change.
type EventType string

const (
	EventSubmitted     EventType = "leave.submitted"
	EventStageAdvanced EventType = "leave.stage_advanced"
	EventApproved      EventType = "leave.approved"
	EventRejected      EventType = "leave.rejected"
	EventCancelled     EventType = "leave.cancelled"
	EventEndDateSet    EventType = "leave.end_date_set"
	EventYearClosed    EventType = "leave.year_closed"
)

// Event is published after the change it describes has been committed.
type Event struct {
	Type       EventType        `json:"type"`
	RequestID  string           `json:"requestId,omitempty"`
	EmployeeID generic.EntityID `json:"employeeId,omitempty"`
	LeaveType  Type             `json:"leaveType,omitempty"`
	Status     Status           `json:"status,omitempty"`
	Year       int              `json:"year"`
	ActorID    string           `json:"actorId,omitempty"`
	OccurredAt time.Time        `json:"occurredAt"`
}

// Publisher delivers events. Delivery is best effort: a failure is logged
// and never undoes the committed change.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

func requestEvent(t EventType, r Request, actor string, at time.Time) Event {
	return Event{
		Type:       t,
		RequestID:  r.ID,
		EmployeeID: r.EmployeeID,
		LeaveType:  r.Type,
		Status:     r.Status,
		Year:       r.Year(),
		ActorID:    actor,
		OccurredAt: at,
	}
}
