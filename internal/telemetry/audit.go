package telemetry

import (
	"context"
	"log"
	"time"
)

// Publisher is the subset of the broker publisher the emitter needs.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// SessionEmitter publishes websocket session lifecycle events for audit
// and analytics consumers.
type SessionEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
}

// SessionEnvelope is the published schema.
type SessionEnvelope struct {
	SchemaVersion int            `json:"schema_version"`
	EventType     string         `json:"event_type"`
	OccurredAt    string         `json:"occurred_at"`
	Service       string         `json:"service"`
	Environment   string         `json:"environment"`
	RequestID     string         `json:"request_id"`
	UserID        *int           `json:"user_id,omitempty"`
	Payload       SessionPayload `json:"payload"`
}

// SessionPayload describes one session lifecycle event.
type SessionPayload struct {
	Room       string `json:"room"`
	Event      string `json:"event"`
	ConnID     string `json:"conn_id"`
	DurationMS int64  `json:"duration_ms"`
	Reason     string `json:"reason,omitempty"`
}

// NewSessionEmitter constructs a SessionEmitter.
func NewSessionEmitter(publisher Publisher, routingKey, service, environment string) *SessionEmitter {
	return &SessionEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
	}
}

// Emit publishes one session event. Emission is best-effort; failures
// are logged and never fail the session.
func (e *SessionEmitter) Emit(ctx context.Context, requestID string, userID *int, payload SessionPayload) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := SessionEnvelope{
		SchemaVersion: 1,
		EventType:     "ws_session",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload:       payload,
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		log.Printf("session event publish failed: %v", err)
	}
}
