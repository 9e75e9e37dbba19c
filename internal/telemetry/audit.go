package telemetry

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Audit actions recorded for the message lifecycle.
const (
	ActionSend     = "message.send"
	ActionEdit     = "message.edit"
	ActionDelete   = "message.delete"
	ActionRejected = "request.rejected"
	ActionGroup    = "group.create"
	ActionProbe    = "audit.probe"
)

// AuditRecord is what callers report; the emitter stamps the rest.
type AuditRecord struct {
	Level     string
	Action    string
	Text      string
	RequestID string
	UserID    int64
	GroupID   int64
	MessageID int64
}

// AuditEmitter publishes one AuditEnvelope per record.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	now         func() time.Time
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventID       string       `json:"event_id"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id,omitempty"`
	UserID        int64        `json:"user_id,omitempty"`
	GroupID       int64        `json:"group_id,omitempty"`
	MessageID     int64        `json:"message_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level  string `json:"level"`
	Action string `json:"action"`
	Text   string `json:"text,omitempty"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		now:         time.Now,
	}
}

// Emit publishes rec. A nil emitter is a no-op, and publish failures are
// logged rather than returned: auditing never fails a chat operation.
func (e *AuditEmitter) Emit(ctx context.Context, rec AuditRecord) {
	if e == nil || e.publisher == nil {
		return
	}
	if rec.Level == "" {
		rec.Level = "INFO"
	}

	envelope := AuditEnvelope{
		SchemaVersion: 2,
		EventID:       uuid.NewString(),
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     rec.RequestID,
		UserID:        rec.UserID,
		GroupID:       rec.GroupID,
		MessageID:     rec.MessageID,
		Payload: AuditPayload{
			Level:  rec.Level,
			Action: rec.Action,
			Text:   rec.Text,
		},
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		log.Printf("audit publish failed action=%s event_id=%s: %v", rec.Action, envelope.EventID, err)
	}
}
