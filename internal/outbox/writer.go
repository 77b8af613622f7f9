package outbox

import (
	"database/sql"
	"fmt"

	"dispatch/internal/models"
)

// AppendStore is the slice of the repository the writer needs.
type AppendStore interface {
	AppendOutboxEvent(tx *sql.Tx, event *models.OutboxEvent) error
}

// Writer appends outbox rows inside an already-open business transaction.
// It never commits; if the surrounding transaction rolls back, the row
// vanishes with it, which is the atomicity guarantee of the pattern.
type Writer struct {
	store AppendStore
}

func NewWriter(store AppendStore) *Writer {
	return &Writer{store: store}
}

// Append validates the event and inserts it with published_at unset and a
// zero retry count. The caller's commit makes it visible to the publisher.
func (w *Writer) Append(tx *sql.Tx, event *models.OutboxEvent) error {
	if event.TenantID == "" {
		return fmt.Errorf("outbox event tenant id is required")
	}
	if !models.KnownEventType(event.EventType) {
		return fmt.Errorf("unknown event type: %s", event.EventType)
	}
	if len(event.Payload) == 0 {
		return fmt.Errorf("outbox event payload is required")
	}
	if tx == nil {
		return fmt.Errorf("outbox append requires an open transaction")
	}

	event.PublishedAt = nil
	event.RetryCount = 0

	if err := w.store.AppendOutboxEvent(tx, event); err != nil {
		return fmt.Errorf("failed to append outbox event: %w", err)
	}
	return nil
}
