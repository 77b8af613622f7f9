package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event type names carried as the Kafka message key and the event_type
// header. Consumers resolve the payload schema from this tag.
const (
	JobCreatedEvent   = "job.created"
	JobUpdatedEvent   = "job.updated"
	JobCompletedEvent = "job.completed"
)

// JobCreatedEventData is the payload for job.created events.
type JobCreatedEventData struct {
	JobID       uuid.UUID `json:"job_id"`
	TenantID    string    `json:"tenant_id"`
	Title       string    `json:"title"`
	AssignedTo  string    `json:"assigned_to"`
	ScheduledAt time.Time `json:"scheduled_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// JobUpdatedEventData is the payload for job.updated events.
type JobUpdatedEventData struct {
	JobID      uuid.UUID `json:"job_id"`
	TenantID   string    `json:"tenant_id"`
	Title      string    `json:"title"`
	Status     string    `json:"status"`
	AssignedTo string    `json:"assigned_to"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// JobCompletedEventData is the payload for job.completed events.
type JobCompletedEventData struct {
	JobID       uuid.UUID `json:"job_id"`
	TenantID    string    `json:"tenant_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// payloadRegistry maps event type names to payload prototypes so the tagged
// payload can be decoded back into its concrete type.
var payloadRegistry = map[string]func() interface{}{
	JobCreatedEvent:   func() interface{} { return &JobCreatedEventData{} },
	JobUpdatedEvent:   func() interface{} { return &JobUpdatedEventData{} },
	JobCompletedEvent: func() interface{} { return &JobCompletedEventData{} },
}

// KnownEventType reports whether the type name has a registered payload schema.
func KnownEventType(eventType string) bool {
	_, ok := payloadRegistry[eventType]
	return ok
}

// DecodePayload decodes an outbox payload into the concrete type registered
// for the event type.
func DecodePayload(eventType string, payload []byte) (interface{}, error) {
	factory, ok := payloadRegistry[eventType]
	if !ok {
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}

	target := factory()
	if err := json.Unmarshal(payload, target); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", eventType, err)
	}
	return target, nil
}

// NewOutboxEvent builds an unpublished outbox row from a typed payload.
// occurredAt is the logical event time set by the business layer.
func NewOutboxEvent(tenantID, eventType string, payload interface{}, occurredAt time.Time) (*OutboxEvent, error) {
	if !KnownEventType(eventType) {
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	return &OutboxEvent{
		EventID:    uuid.New(),
		TenantID:   tenantID,
		EventType:  eventType,
		Payload:    data,
		OccurredAt: occurredAt,
		RetryCount: 0,
	}, nil
}
