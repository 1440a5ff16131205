package notify_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/logging"
	"github.com/warp/leave-engine/notify"
)

type published struct {
	exchange, key string
	msg           amqp091.Publishing
}

type fakeChannel struct {
	declared   []string
	declareErr error
	publishErr error
	published  []published
	closed     bool
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp091.Table) error {
	c.declared = append(c.declared, name+"/"+kind)
	return c.declareErr
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp091.Publishing) error {
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestAMQPPublisher_Publish(t *testing.T) {
	// GIVEN
	ch := &fakeChannel{}
	p, err := notify.NewAMQPPublisher(ch, "leave.events", logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, []string{"leave.events/topic"}, ch.declared)

	e := leave.Event{
		Type:       leave.EventApproved,
		RequestID:  "req-1",
		EmployeeID: "emp-1",
		LeaveType:  leave.TypeCasual,
		Status:     leave.StatusApproved,
		Year:       2024,
		ActorID:    "officer-3",
		OccurredAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	// WHEN
	require.NoError(t, p.Publish(context.Background(), e))

	// THEN: routed by event type, persistent JSON
	require.Len(t, ch.published, 1)
	got := ch.published[0]
	assert.Equal(t, "leave.events", got.exchange)
	assert.Equal(t, "leave.approved", got.key)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, amqp091.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, "leave.approved:req-1:APPROVED", got.msg.MessageId)

	var body leave.Event
	require.NoError(t, json.Unmarshal(got.msg.Body, &body))
	assert.Equal(t, e.RequestID, body.RequestID)
	assert.Equal(t, e.Status, body.Status)
	assert.True(t, e.OccurredAt.Equal(body.OccurredAt))

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestAMQPPublisher_Errors(t *testing.T) {
	_, err := notify.NewAMQPPublisher(&fakeChannel{declareErr: errors.New("access refused")}, "x", nil)
	assert.ErrorContains(t, err, "declare exchange x")

	p, err := notify.NewAMQPPublisher(&fakeChannel{publishErr: amqp091.ErrClosed}, "x", nil)
	require.NoError(t, err)
	err = p.Publish(context.Background(), leave.Event{Type: leave.EventYearClosed, Year: 2023})
	assert.ErrorIs(t, err, amqp091.ErrClosed)
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := notify.LogPublisher{Logger: logging.NewWithWriter(&buf, "info", "text")}

	require.NoError(t, p.Publish(context.Background(), leave.Event{Type: leave.EventSubmitted, RequestID: "req-9"}))

	assert.Contains(t, buf.String(), "event=leave.submitted")
	assert.Contains(t, buf.String(), "request_id=req-9")
}
