package integration

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch/internal/config"
	"dispatch/internal/database"
	"dispatch/internal/kafka"
	"dispatch/internal/models"
	"dispatch/internal/outbox"
	"dispatch/internal/service"
)

func setupDatabase(t *testing.T) (*database.DB, *database.Repository) {
	t.Helper()

	cfg := config.Load()
	cfg.Database.DBName = getEnv("TEST_DB_NAME", "dispatch_test_db")

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}

	// Rebuild the schema from the migration files for a clean slate.
	down, err := os.ReadFile("../../migrations/000001_init.down.sql")
	require.NoError(t, err)
	up, err := os.ReadFile("../../migrations/000001_init.up.sql")
	require.NoError(t, err)

	_, err = db.Exec(string(down))
	require.NoError(t, err)
	_, err = db.Exec(string(up))
	require.NoError(t, err)

	return db, database.NewRepository(db)
}

// recordingBroker stands in for Kafka so bookkeeping can be exercised
// against the real store without a broker.
type recordingBroker struct {
	failNext  int
	published []*models.OutboxEvent
}

func (b *recordingBroker) PublishEvent(event *models.OutboxEvent) error {
	if b.failNext > 0 {
		b.failNext--
		return fmt.Errorf("broker unavailable")
	}
	b.published = append(b.published, event)
	return nil
}

func TestOutboxPattern(t *testing.T) {
	db, repo := setupDatabase(t)
	defer db.Close()

	writer := outbox.NewWriter(repo)
	jobService := service.NewJobService(repo, writer)

	pubCfg := &config.PublisherConfig{
		PollInterval: 1,
		BatchSize:    100,
		MaxRetries:   5,
		ErrorBackoff: 1,
	}

	t.Run("TransactionalWrite", func(t *testing.T) {
		job, err := jobService.CreateJob("acme", "Fix boiler", "tech-7", time.Now().UTC())
		require.NoError(t, err)

		retrieved, err := jobService.GetJob(job.ID, "acme")
		require.NoError(t, err)
		assert.Equal(t, job.ID, retrieved.ID)

		events, err := repo.GetUnpublishedEvents(10, pubCfg.MaxRetries)
		require.NoError(t, err)
		require.Len(t, events, 1)

		event := events[0]
		assert.Equal(t, models.JobCreatedEvent, event.EventType)
		assert.Equal(t, "acme", event.TenantID)
		assert.Nil(t, event.PublishedAt)
		assert.Zero(t, event.RetryCount)
	})

	t.Run("RollbackLeavesNoOutboxRow", func(t *testing.T) {
		before, err := repo.GetOutboxStats(pubCfg.MaxRetries)
		require.NoError(t, err)

		tx, err := repo.BeginTx()
		require.NoError(t, err)

		event, err := models.NewOutboxEvent("acme", models.JobUpdatedEvent,
			models.JobUpdatedEventData{TenantID: "acme"}, time.Now().UTC())
		require.NoError(t, err)
		require.NoError(t, writer.Append(tx, event))

		require.NoError(t, tx.Rollback())

		after, err := repo.GetOutboxStats(pubCfg.MaxRetries)
		require.NoError(t, err)
		assert.Equal(t, before.Pending, after.Pending,
			"rolled-back transaction must not leave an outbox row")
	})

	t.Run("PublisherBookkeeping", func(t *testing.T) {
		broker := &recordingBroker{}
		publisher := outbox.NewPublisher(repo, broker, pubCfg)

		require.NoError(t, publisher.ProcessOnce(context.Background()))
		require.NotEmpty(t, broker.published)

		events, err := repo.GetUnpublishedEvents(10, pubCfg.MaxRetries)
		require.NoError(t, err)
		assert.Empty(t, events, "published rows leave the polling window")

		stats, err := repo.GetOutboxStats(pubCfg.MaxRetries)
		require.NoError(t, err)
		assert.Equal(t, int64(len(broker.published)), stats.Published)
	})

	t.Run("FailedPublishIsRetriedNextPoll", func(t *testing.T) {
		_, err := jobService.CreateJob("acme", "Replace filter", "tech-2", time.Now().UTC())
		require.NoError(t, err)

		broker := &recordingBroker{failNext: 1}
		publisher := outbox.NewPublisher(repo, broker, pubCfg)

		require.NoError(t, publisher.ProcessOnce(context.Background()))

		events, err := repo.GetUnpublishedEvents(10, pubCfg.MaxRetries)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, 1, events[0].RetryCount)
		require.NotNil(t, events[0].LastError)
		assert.Contains(t, *events[0].LastError, "broker unavailable")

		require.NoError(t, publisher.ProcessOnce(context.Background()))

		events, err = repo.GetUnpublishedEvents(10, pubCfg.MaxRetries)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("DeadLetterRequeue", func(t *testing.T) {
		_, err := jobService.CreateJob("acme", "Inspect roof", "tech-9", time.Now().UTC())
		require.NoError(t, err)

		broker := &recordingBroker{failNext: pubCfg.MaxRetries}
		publisher := outbox.NewPublisher(repo, broker, pubCfg)
		for i := 0; i < pubCfg.MaxRetries; i++ {
			require.NoError(t, publisher.ProcessOnce(context.Background()))
		}

		deadLettered, err := repo.ListDeadLetteredEvents(pubCfg.MaxRetries, 10)
		require.NoError(t, err)
		require.Len(t, deadLettered, 1)
		assert.Equal(t, int64(1), publisher.DeadLetteredCount())

		events, err := repo.GetUnpublishedEvents(10, pubCfg.MaxRetries)
		require.NoError(t, err)
		assert.Empty(t, events, "dead-lettered rows are excluded from polling")

		requeued, err := repo.RequeueDeadLetteredEvents(pubCfg.MaxRetries,
			[]int64{deadLettered[0].ID})
		require.NoError(t, err)
		assert.Equal(t, int64(1), requeued)

		require.NoError(t, publisher.ProcessOnce(context.Background()))
		events, err = repo.GetUnpublishedEvents(10, pubCfg.MaxRetries)
		require.NoError(t, err)
		assert.Empty(t, events, "requeued row published once the broker recovered")
	})
}

func TestIdempotencyStore(t *testing.T) {
	db, repo := setupDatabase(t)
	defer db.Close()

	now := time.Now().UTC()
	row := &models.IdempotencyKey{
		Key:           "key-1",
		TenantID:      "acme",
		RequestMethod: "POST",
		RequestPath:   "/api/jobs",
		StatusCode:    201,
		ResponseBody:  []byte(`{"id":"abc"}`),
		CreatedAt:     now,
		ExpiresAt:     now.Add(24 * time.Hour),
	}

	require.NoError(t, repo.InsertIdempotencyKey(row))

	t.Run("LookupHit", func(t *testing.T) {
		found, err := repo.GetIdempotencyKey("acme", "key-1", now)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, row.StatusCode, found.StatusCode)
		assert.Equal(t, row.ResponseBody, found.ResponseBody)
	})

	t.Run("DuplicateInsertConflicts", func(t *testing.T) {
		err := repo.InsertIdempotencyKey(row)
		assert.ErrorIs(t, err, database.ErrDuplicateKey)
	})

	t.Run("OtherTenantMisses", func(t *testing.T) {
		found, err := repo.GetIdempotencyKey("globex", "key-1", now)
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("ExpiredLookupMisses", func(t *testing.T) {
		found, err := repo.GetIdempotencyKey("acme", "key-1", now.Add(25*time.Hour))
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("SweepRemovesExpiredRows", func(t *testing.T) {
		deleted, err := repo.DeleteExpiredIdempotencyKeys(now.Add(25 * time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		found, err := repo.GetIdempotencyKey("acme", "key-1", now)
		require.NoError(t, err)
		assert.Nil(t, found)
	})
}

func TestKafkaPublish(t *testing.T) {
	cfg := config.Load()

	producer, err := kafka.NewProducer(&kafka.ProducerConfig{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.Topic,
		ClientID: "dispatch-integration-test",
	})
	if err != nil {
		t.Skipf("Kafka not available: %v", err)
	}
	defer producer.Close()

	if err := producer.HealthCheck(); err != nil {
		t.Skip("Kafka not available for integration test")
	}

	event, err := models.NewOutboxEvent("acme", models.JobCreatedEvent,
		models.JobCreatedEventData{TenantID: "acme", Title: "Kafka smoke test"},
		time.Now().UTC())
	require.NoError(t, err)
	event.ID = 1

	require.NoError(t, producer.PublishEvent(event))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
