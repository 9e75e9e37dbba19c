package observability

import "time"

type EventEnvelope struct {
	EventType  string      `json:"event_type"`
	EventName  string      `json:"event_name"`
	OccurredAt string      `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// ConnectionEvent describes a relay connection lifecycle transition.
type ConnectionEvent struct {
	Kind       string `json:"kind"`
	Event      string `json:"event"`
	ConnID     string `json:"conn_id"`
	RemoteAddr string `json:"remote_addr"`
	DurationMS int64  `json:"duration_ms"`
	Reason     string `json:"reason"`
}

// NewConnectionEnvelope wraps a connection event for the event bus.
func NewConnectionEnvelope(ev ConnectionEvent) EventEnvelope {
	return EventEnvelope{
		EventType:  "relay_events",
		EventName:  ev.Event,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:    ev,
	}
}
