// Package events publishes grading outcomes to a message broker.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

const (
	TypeEvaluationCompleted = "evaluation.completed"
	TypePlagiarismChecked   = "plagiarism.checked"

	defaultExchange = "grading_events"
)

// Event describes a finished evaluation or plagiarism check.
type Event struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	AssignmentID    string    `json:"assignment_id"`
	StudentID       string    `json:"student_id,omitempty"`
	PeerID          string    `json:"peer_id,omitempty"`
	TotalScore      *float64  `json:"total_score,omitempty"`
	MaxScore        *float64  `json:"max_score,omitempty"`
	PlagiarismScore float64   `json:"plagiarism_score"`
	Flagged         bool      `json:"is_plagiarized"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// NewEvent returns an event of the given type with a fresh ID and timestamp.
func NewEvent(eventType, assignmentID string) Event {
	return Event{
		ID:           uuid.NewString(),
		Type:         eventType,
		AssignmentID: assignmentID,
		OccurredAt:   time.Now().UTC(),
	}
}

// RoutingKey is "assignment.<id>.evaluated" for evaluations and
// "assignment.<id>.checked" for standalone checks.
func (e Event) RoutingKey() string {
	action := "evaluated"
	if e.Type == TypePlagiarismChecked {
		action = "checked"
	}
	return fmt.Sprintf("assignment.%s.%s", e.AssignmentID, action)
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Config configures the AMQP publisher. An empty URL disables publishing.
type Config struct {
	URL      string `mapstructure:"amqp-url"`
	Exchange string `mapstructure:"exchange"`
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

func (Nop) Close() error { return nil }

type amqpChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQP publishes JSON events to a durable topic exchange.
type AMQP struct {
	conn     *amqp.Connection
	exchange string
	logger   *zap.Logger

	mu      sync.Mutex
	channel amqpChannel
}

// New returns an AMQP publisher, or Nop when cfg.URL is empty.
func New(cfg Config, log *zap.Logger) (Publisher, error) {
	if log == nil {
		log = zap.NewNop()
	}

	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		log.Debug("event publishing disabled")
		return Nop{}, nil
	}

	exchange := strings.TrimSpace(cfg.Exchange)
	if exchange == "" {
		exchange = defaultExchange
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to amqp broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	log.Info("event publishing enabled", zap.String("exchange", exchange))

	return &AMQP{conn: conn, exchange: exchange, channel: ch, logger: log}, nil
}

// Publish sends event as a persistent JSON message.
func (p *AMQP) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil {
		return errors.New("amqp publisher is closed")
	}

	err = p.channel.Publish(p.exchange, event.RoutingKey(), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         event.Type,
		Timestamp:    event.OccurredAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}

	p.logger.Debug("event published",
		zap.String("event_id", event.ID),
		zap.String("routing_key", event.RoutingKey()),
	)
	return nil
}

// Close releases the channel and the connection.
func (p *AMQP) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.channel != nil {
		errs = append(errs, p.channel.Close())
		p.channel = nil
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
		p.conn = nil
	}
	return errors.Join(errs...)
}
