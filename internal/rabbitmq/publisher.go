package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"studychat/internal/observability"
	"studychat/internal/telemetry"
)

const appID = "studychat"

var ErrClosed = errors.New("rabbitmq connection closed")

// Publisher publishes audit records and relay lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// NewPublisher dials the broker, or returns a logging noop publisher when AMQP
// is disabled or unreachable so the relay keeps running without it.
func NewPublisher(amqpURL, exchange string) Publisher {
	if amqpURL == "" {
		return noopPublisher{reason: "empty amqp url"}
	}
	p, err := dial(amqpURL, exchange)
	if err != nil {
		log.Printf("rabbitmq disabled, using noop: %v", err)
		return noopPublisher{reason: err.Error()}
	}
	log.Printf("rabbitmq connected exchange=%s", exchange)
	return p
}

func dial(amqpURL, exchange string) (*amqpPublisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	p := &amqpPublisher{conn: conn, ch: ch, exchange: exchange}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if reason, ok := <-closed; ok && reason != nil {
			log.Printf("rabbitmq connection lost: %v", reason)
		}
		p.closed.Store(true)
	}()
	return p, nil
}

type amqpPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	closed   atomic.Bool
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	if p.closed.Load() {
		observability.IncAMQPPublishError()
		return ErrClosed
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %T: %w", event, err)
	}

	id, eventType := describe(event)
	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Type:         eventType,
		AppId:        appID,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		observability.IncAMQPPublishError()
		log.Printf("rabbitmq publish failed routing_key=%s type=%s: %v", routingKey, eventType, err)
	}
	return err
}

func (p *amqpPublisher) Close() error {
	p.closed.Store(true)
	_ = p.ch.Close()
	return p.conn.Close()
}

type noopPublisher struct {
	reason string
}

func (noopPublisher) Publish(_ context.Context, routingKey string, event any) error {
	id, eventType := describe(event)
	log.Printf("rabbitmq noop publish routing_key=%s type=%s id=%s", routingKey, eventType, id)
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// describe extracts the message id and type carried in the AMQP properties.
func describe(event any) (id, eventType string) {
	switch envelope := event.(type) {
	case telemetry.AuditEnvelope:
		return envelope.EventID, envelope.EventType + "." + envelope.Payload.Action
	case observability.EventEnvelope:
		if conn, ok := envelope.Payload.(observability.ConnectionEvent); ok {
			return conn.ConnID + "/" + envelope.EventName, envelope.EventType + "." + envelope.EventName
		}
		return "", envelope.EventType + "." + envelope.EventName
	default:
		return "", fmt.Sprintf("%T", event)
	}
}

// PublisherMode reports the publisher mode for logging.
func PublisherMode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

// PublisherNoopReason explains why the noop publisher was selected.
func PublisherNoopReason(p Publisher) string {
	if publisher, ok := p.(noopPublisher); ok {
		return publisher.reason
	}
	return ""
}
