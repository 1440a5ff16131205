/*
Package notify delivers committed leave workflow events.

PUBLISHERS:
  AMQP  JSON messages on a durable topic exchange, routing key = event type
        ("leave.approved", "leave.year_closed", ...). Consumers bind queues
        with patterns such as "leave.#".
  Log   writes each event to the structured log; used when no broker is
        configured.

Delivery is best effort. leave.Engine logs a failed Publish and carries on;
the change it describes is already committed.

SEE ALSO:
  - leave/events.go: Event and Publisher
  - config/config.go: amqp_url, amqp_exchange
*/
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// AMQP PUBLISHER
// =============================================================================

// Channel is the part of *amqp091.Channel the publisher needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  Channel
	exchange string
	timeout  time.Duration
	logger   *slog.Logger
}

// DialAMQP connects to the broker and declares the exchange.
func DialAMQP(url, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	p, err := NewAMQPPublisher(ch, exchange, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// NewAMQPPublisher publishes on an already open channel.
func NewAMQPPublisher(ch Channel, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{
		channel:  ch,
		exchange: exchange,
		timeout:  5 * time.Second,
		logger:   logger,
	}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, e leave.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,     // exchange
		string(e.Type), // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    messageID(e),
			Timestamp:    e.OccurredAt,
			Type:         string(e.Type),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}

	p.logger.DebugContext(ctx, "event published",
		"event", e.Type,
		"request_id", e.RequestID,
		"exchange", p.exchange,
	)
	return nil
}

// Close closes the channel and, for dialed publishers, the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.channel.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// messageID lets consumers drop redeliveries of the same transition.
func messageID(e leave.Event) string {
	if e.RequestID == "" {
		return fmt.Sprintf("%s:%d", e.Type, e.Year)
	}
	return fmt.Sprintf("%s:%s:%s", e.Type, e.RequestID, e.Status)
}

// =============================================================================
// LOG PUBLISHER
// =============================================================================

type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, e leave.Event) error {
	p.Logger.InfoContext(ctx, "leave event",
		"event", e.Type,
		"request_id", e.RequestID,
		"employee_id", e.EmployeeID,
		"leave_type", e.LeaveType,
		"status", e.Status,
		"year", e.Year,
		"actor", e.ActorID,
	)
	return nil
}

var (
	_ leave.Publisher = (*AMQPPublisher)(nil)
	_ leave.Publisher = LogPublisher{}
)
