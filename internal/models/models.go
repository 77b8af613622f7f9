package models

import (
	"time"

	"github.com/google/uuid"
)

// Job represents the domain entity mutated by the HTTP API.
type Job struct {
	ID          uuid.UUID `json:"id" db:"id"`
	TenantID    string    `json:"tenant_id" db:"tenant_id"`
	Title       string    `json:"title" db:"title"`
	Status      string    `json:"status" db:"status"`
	AssignedTo  string    `json:"assigned_to" db:"assigned_to"`
	ScheduledAt time.Time `json:"scheduled_at" db:"scheduled_at"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Job status constants
const (
	JobStatusScheduled = "SCHEDULED"
	JobStatusActive    = "ACTIVE"
	JobStatusCompleted = "COMPLETED"
)

// OutboxEvent represents an event awaiting delivery to Kafka.
//
// A row is unpublished while published_at is NULL and retry_count is below
// the configured maximum. Once published_at is set the row is terminal and
// never selected or mutated again.
type OutboxEvent struct {
	ID          int64      `json:"id" db:"id"`
	EventID     uuid.UUID  `json:"event_id" db:"event_id"`
	TenantID    string     `json:"tenant_id" db:"tenant_id"`
	EventType   string     `json:"event_type" db:"event_type"`
	Payload     []byte     `json:"payload" db:"payload"`
	OccurredAt  time.Time  `json:"occurred_at" db:"occurred_at"`
	PublishedAt *time.Time `json:"published_at" db:"published_at"`
	RetryCount  int        `json:"retry_count" db:"retry_count"`
	LastError   *string    `json:"last_error" db:"last_error"`
}

// IdempotencyKey stores the first successful response for a
// (tenant_id, key) pair so retried requests replay it verbatim.
type IdempotencyKey struct {
	Key           string    `json:"key" db:"key"`
	TenantID      string    `json:"tenant_id" db:"tenant_id"`
	RequestMethod string    `json:"request_method" db:"request_method"`
	RequestPath   string    `json:"request_path" db:"request_path"`
	StatusCode    int       `json:"status_code" db:"status_code"`
	ResponseBody  []byte    `json:"-" db:"response_body"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	ExpiresAt     time.Time `json:"expires_at" db:"expires_at"`
}

// Expired reports whether the key is past its TTL at the given time.
func (k *IdempotencyKey) Expired(now time.Time) bool {
	return !k.ExpiresAt.After(now)
}

// PublishResult records the outcome of one publish attempt so a whole
// batch's bookkeeping can be persisted in a single transaction.
type PublishResult struct {
	EventID     int64
	Published   bool
	PublishedAt time.Time
	Error       string
}

// OutboxStats summarizes outbox table state for the stats endpoint.
type OutboxStats struct {
	Pending      int64 `json:"pending"`
	Published    int64 `json:"published"`
	DeadLettered int64 `json:"dead_lettered"`
}
