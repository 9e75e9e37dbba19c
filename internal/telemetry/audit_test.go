package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	routingKey string
	events     []any
	err        error
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, event any) error {
	p.routingKey = routingKey
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func TestEmitStampsEnvelope(t *testing.T) {
	pub := &recordingPublisher{}
	emitter := NewAuditEmitter(pub, "audit.chat", "studychat", "test")
	emitter.now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }

	emitter.Emit(context.Background(), AuditRecord{Action: ActionEdit, UserID: 1, GroupID: 7, MessageID: 42})

	require.Equal(t, "audit.chat", pub.routingKey)
	require.Len(t, pub.events, 1)
	env := pub.events[0].(AuditEnvelope)
	require.NotEmpty(t, env.EventID)
	require.Equal(t, "audit_log", env.EventType)
	require.Equal(t, "2024-03-01T10:00:00Z", env.OccurredAt)
	require.Equal(t, "INFO", env.Payload.Level)
	require.Equal(t, ActionEdit, env.Payload.Action)
	require.Equal(t, int64(42), env.MessageID)
	require.Equal(t, int64(7), env.GroupID)
}

func TestEmitSwallowsPublishErrors(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker gone")}
	emitter := NewAuditEmitter(pub, "audit.chat", "studychat", "test")
	emitter.Emit(context.Background(), AuditRecord{Action: ActionSend})
	require.Len(t, pub.events, 1)
}

func TestNilEmitterIsNoop(t *testing.T) {
	var emitter *AuditEmitter
	emitter.Emit(context.Background(), AuditRecord{Action: ActionSend})
}
