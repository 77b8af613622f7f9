package idempotency

import (
	"context"
	"fmt"
	"log"
	"time"
)

// SweepStore is the slice of the repository the sweeper needs.
type SweepStore interface {
	DeleteExpiredIdempotencyKeys(now time.Time) (int64, error)
}

// Sweeper deletes expired idempotency rows on a fixed interval. Safe to run
// concurrently with guard lookups: a row disappearing mid-lookup is a miss.
type Sweeper struct {
	store    SweepStore
	interval time.Duration
}

func NewSweeper(store SweepStore, interval time.Duration) *Sweeper {
	return &Sweeper{store: store, interval: interval}
}

// Start runs the cleanup loop until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	log.Println("Starting idempotency sweeper...")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Idempotency sweeper shutting down...")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.SweepOnce(); err != nil {
				log.Printf("Idempotency sweep failed: %v", err)
			}
		}
	}
}

// SweepOnce deletes all rows past their TTL and returns the count.
func (s *Sweeper) SweepOnce() (int64, error) {
	deleted, err := s.store.DeleteExpiredIdempotencyKeys(time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired idempotency keys: %w", err)
	}
	if deleted > 0 {
		log.Printf("Swept %d expired idempotency keys", deleted)
	}
	return deleted, nil
}
