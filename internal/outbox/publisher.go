package outbox

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"dispatch/internal/config"
	"dispatch/internal/models"
)

// Store is the slice of the repository the publisher needs.
type Store interface {
	GetUnpublishedEvents(limit, maxRetries int) ([]*models.OutboxEvent, error)
	ApplyPublishResults(results []models.PublishResult) error
}

// Broker publishes a single event to the message broker. Implemented by
// kafka.Producer.
type Broker interface {
	PublishEvent(event *models.OutboxEvent) error
}

// Publisher drains unpublished outbox rows to the broker.
//
// Delivery is at-least-once: a crash between broker accept and the
// bookkeeping commit re-publishes the row on the next poll, and downstream
// consumers dedup on the event_id header. A single active publisher is
// assumed; running two would double-publish at a higher rate since there is
// no claim/lease on rows.
type Publisher struct {
	store  Store
	broker Broker
	config *config.PublisherConfig

	deadLettered int64
}

func NewPublisher(store Store, broker Broker, cfg *config.PublisherConfig) *Publisher {
	return &Publisher{
		store:  store,
		broker: broker,
		config: cfg,
	}
}

// Start runs the polling loop until ctx is cancelled. A store-level failure
// is not fatal; the loop backs off for the configured duration and resumes.
func (p *Publisher) Start(ctx context.Context) error {
	log.Println("Starting outbox publisher...")

	ticker := time.NewTicker(time.Duration(p.config.PollInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Outbox publisher shutting down...")
			return ctx.Err()
		case <-ticker.C:
			if err := p.ProcessOnce(ctx); err != nil {
				log.Printf("Outbox cycle failed, backing off %ds: %v",
					p.config.ErrorBackoff, err)
				p.sleep(ctx, time.Duration(p.config.ErrorBackoff)*time.Second)
			}
		}
	}
}

// ProcessOnce runs a single poll cycle: select a batch, attempt each publish
// in order, then persist the whole batch's bookkeeping in one transaction.
// Individual publish failures are recorded on their rows and do not fail the
// cycle; only store errors do.
func (p *Publisher) ProcessOnce(ctx context.Context) error {
	events, err := p.store.GetUnpublishedEvents(p.config.BatchSize, p.config.MaxRetries)
	if err != nil {
		return fmt.Errorf("failed to get unpublished events: %w", err)
	}

	if len(events) == 0 {
		return nil
	}

	results := make([]models.PublishResult, 0, len(events))
	for _, event := range events {
		if ctx.Err() != nil {
			// Shutdown mid-batch: persist what was attempted so far.
			break
		}

		if err := p.broker.PublishEvent(event); err != nil {
			results = append(results, models.PublishResult{
				EventID: event.ID,
				Error:   err.Error(),
			})
			if event.RetryCount+1 >= p.config.MaxRetries {
				atomic.AddInt64(&p.deadLettered, 1)
				log.Printf("Event %s exhausted %d retries, dead-lettered: %v",
					event.EventID, p.config.MaxRetries, err)
			} else {
				log.Printf("Failed to publish event %s (attempt %d): %v",
					event.EventID, event.RetryCount+1, err)
			}
			continue
		}

		results = append(results, models.PublishResult{
			EventID:     event.ID,
			Published:   true,
			PublishedAt: time.Now().UTC(),
		})
	}

	if err := p.store.ApplyPublishResults(results); err != nil {
		return fmt.Errorf("failed to persist batch results: %w", err)
	}
	return nil
}

// DeadLetteredCount returns how many rows this publisher has seen exhaust
// their retry budget since it started.
func (p *Publisher) DeadLetteredCount() int64 {
	return atomic.LoadInt64(&p.deadLettered)
}

func (p *Publisher) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
