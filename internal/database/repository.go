package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"dispatch/internal/models"
)

// ErrDuplicateKey is returned when an insert violates a uniqueness
// constraint, e.g. two requests racing on the same idempotency key.
var ErrDuplicateKey = errors.New("duplicate key")

const pqUniqueViolation = "23505"

type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Transaction helpers
func (r *Repository) BeginTx() (*sql.Tx, error) {
	return r.db.Begin()
}

// GetDB returns the underlying database connection (for advanced queries)
func (r *Repository) GetDB() *DB {
	return r.db
}

// Job operations
func (r *Repository) CreateJob(tx *sql.Tx, job *models.Job) error {
	query := `
		INSERT INTO jobs (id, tenant_id, title, status, assigned_to, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := tx.Exec(query, job.ID, job.TenantID, job.Title, job.Status,
		job.AssignedTo, job.ScheduledAt, job.CreatedAt, job.UpdatedAt)
	return err
}

func (r *Repository) GetJobByID(id uuid.UUID) (*models.Job, error) {
	query := `
		SELECT id, tenant_id, title, status, assigned_to, scheduled_at, created_at, updated_at
		FROM jobs WHERE id = $1`

	job := &models.Job{}
	err := r.db.QueryRow(query, id).Scan(
		&job.ID, &job.TenantID, &job.Title, &job.Status,
		&job.AssignedTo, &job.ScheduledAt, &job.CreatedAt, &job.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

func (r *Repository) UpdateJob(tx *sql.Tx, job *models.Job) error {
	query := `
		UPDATE jobs
		SET title = $2, status = $3, assigned_to = $4, updated_at = $5
		WHERE id = $1`

	_, err := tx.Exec(query, job.ID, job.Title, job.Status, job.AssignedTo, job.UpdatedAt)
	return err
}

// Outbox operations

// AppendOutboxEvent inserts an unpublished outbox row inside the caller's
// open transaction. The caller's commit or rollback controls atomicity.
func (r *Repository) AppendOutboxEvent(tx *sql.Tx, event *models.OutboxEvent) error {
	query := `
		INSERT INTO outbox_events (event_id, tenant_id, event_type, payload, occurred_at, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	return tx.QueryRow(query,
		event.EventID, event.TenantID, event.EventType,
		event.Payload, event.OccurredAt, event.RetryCount).Scan(&event.ID)
}

// GetUnpublishedEvents selects the active polling window: rows not yet
// published and still under the retry budget, oldest first. Ties on
// occurred_at break on the row id so ordering is stable.
func (r *Repository) GetUnpublishedEvents(limit, maxRetries int) ([]*models.OutboxEvent, error) {
	query := `
		SELECT id, event_id, tenant_id, event_type, payload, occurred_at,
			   published_at, retry_count, last_error
		FROM outbox_events
		WHERE published_at IS NULL AND retry_count < $1
		ORDER BY occurred_at ASC, id ASC
		LIMIT $2`

	rows, err := r.db.Query(query, maxRetries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.OutboxEvent
	for rows.Next() {
		event := &models.OutboxEvent{}
		err := rows.Scan(
			&event.ID, &event.EventID, &event.TenantID, &event.EventType,
			&event.Payload, &event.OccurredAt, &event.PublishedAt,
			&event.RetryCount, &event.LastError)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

// MarkEventPublished sets published_at and clears last_error inside tx.
func (r *Repository) MarkEventPublished(tx *sql.Tx, eventID int64, publishedAt time.Time) error {
	query := `
		UPDATE outbox_events
		SET published_at = $2, last_error = NULL
		WHERE id = $1 AND published_at IS NULL`

	_, err := tx.Exec(query, eventID, publishedAt)
	return err
}

// MarkEventFailed increments retry_count and records the failure inside tx.
func (r *Repository) MarkEventFailed(tx *sql.Tx, eventID int64, errorMsg string) error {
	query := `
		UPDATE outbox_events
		SET retry_count = retry_count + 1, last_error = $2
		WHERE id = $1 AND published_at IS NULL`

	_, err := tx.Exec(query, eventID, errorMsg)
	return err
}

// ApplyPublishResults persists a batch's bookkeeping in one transaction.
// Publish attempts themselves happened per-row before this call; if the
// transaction fails, successfully published rows stay unpublished and are
// re-attempted next poll, which the at-least-once contract permits.
func (r *Repository) ApplyPublishResults(results []models.PublishResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, result := range results {
		if result.Published {
			err = r.MarkEventPublished(tx, result.EventID, result.PublishedAt)
		} else {
			err = r.MarkEventFailed(tx, result.EventID, result.Error)
		}
		if err != nil {
			return fmt.Errorf("failed to record outcome for event %d: %w", result.EventID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch results: %w", err)
	}
	return nil
}

// GetOutboxStats counts rows by lifecycle state. Dead-lettered rows are
// unpublished rows at or over the retry budget.
func (r *Repository) GetOutboxStats(maxRetries int) (*models.OutboxStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE published_at IS NULL AND retry_count < $1),
			COUNT(*) FILTER (WHERE published_at IS NOT NULL),
			COUNT(*) FILTER (WHERE published_at IS NULL AND retry_count >= $1)
		FROM outbox_events`

	stats := &models.OutboxStats{}
	err := r.db.QueryRow(query, maxRetries).Scan(
		&stats.Pending, &stats.Published, &stats.DeadLettered)
	return stats, err
}

// ListDeadLetteredEvents returns rows that exhausted their retry budget.
func (r *Repository) ListDeadLetteredEvents(maxRetries, limit int) ([]*models.OutboxEvent, error) {
	query := `
		SELECT id, event_id, tenant_id, event_type, payload, occurred_at,
			   published_at, retry_count, last_error
		FROM outbox_events
		WHERE published_at IS NULL AND retry_count >= $1
		ORDER BY occurred_at ASC, id ASC
		LIMIT $2`

	rows, err := r.db.Query(query, maxRetries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.OutboxEvent
	for rows.Next() {
		event := &models.OutboxEvent{}
		err := rows.Scan(
			&event.ID, &event.EventID, &event.TenantID, &event.EventType,
			&event.Payload, &event.OccurredAt, &event.PublishedAt,
			&event.RetryCount, &event.LastError)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

// RequeueDeadLetteredEvents resets the retry budget on exhausted rows so the
// publisher picks them up again. Returns the number of rows requeued.
func (r *Repository) RequeueDeadLetteredEvents(maxRetries int, ids []int64) (int64, error) {
	query := `
		UPDATE outbox_events
		SET retry_count = 0, last_error = NULL
		WHERE published_at IS NULL AND retry_count >= $1 AND id = ANY($2)`

	result, err := r.db.Exec(query, maxRetries, pq.Array(ids))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Idempotency operations

// GetIdempotencyKey looks up an unexpired key. Missing or expired rows
// return (nil, nil) so a stale row behaves exactly like a miss.
func (r *Repository) GetIdempotencyKey(tenantID, key string, now time.Time) (*models.IdempotencyKey, error) {
	query := `
		SELECT key, tenant_id, request_method, request_path, status_code,
			   response_body, created_at, expires_at
		FROM idempotency_keys
		WHERE tenant_id = $1 AND key = $2 AND expires_at > $3`

	row := &models.IdempotencyKey{}
	err := r.db.QueryRow(query, tenantID, key, now).Scan(
		&row.Key, &row.TenantID, &row.RequestMethod, &row.RequestPath,
		&row.StatusCode, &row.ResponseBody, &row.CreatedAt, &row.ExpiresAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	return row, err
}

// InsertIdempotencyKey stores the first successful response for a key.
// A (tenant_id, key) uniqueness violation surfaces as ErrDuplicateKey so the
// guard can fold the race into a replay instead of an error.
func (r *Repository) InsertIdempotencyKey(row *models.IdempotencyKey) error {
	query := `
		INSERT INTO idempotency_keys (key, tenant_id, request_method, request_path,
			status_code, response_body, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(query,
		row.Key, row.TenantID, row.RequestMethod, row.RequestPath,
		row.StatusCode, row.ResponseBody, row.CreatedAt, row.ExpiresAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return ErrDuplicateKey
	}
	return err
}

// DeleteExpiredIdempotencyKeys removes rows past their TTL and returns the
// number deleted.
func (r *Repository) DeleteExpiredIdempotencyKeys(now time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM idempotency_keys WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
