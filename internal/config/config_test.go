package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 5, cfg.Publisher.PollInterval)
	assert.Equal(t, 100, cfg.Publisher.BatchSize)
	assert.Equal(t, 5, cfg.Publisher.MaxRetries)
	assert.Equal(t, 24, cfg.Idempotency.TTLHours)
	assert.Equal(t, 1, cfg.Idempotency.CleanupIntervalHours)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("OUTBOX_POLL_INTERVAL", "1")
	t.Setenv("OUTBOX_MAX_RETRIES", "7")
	t.Setenv("IDEMPOTENCY_TTL_HOURS", "48")
	t.Setenv("DB_NAME", "dispatch_test_db")

	cfg := Load()

	assert.Equal(t, 1, cfg.Publisher.PollInterval)
	assert.Equal(t, 7, cfg.Publisher.MaxRetries)
	assert.Equal(t, 48, cfg.Idempotency.TTLHours)
	assert.Contains(t, cfg.Database.ConnectionString(), "dbname=dispatch_test_db")
}

func TestLoad_InvalidIntFallsBackToDefault(t *testing.T) {
	t.Setenv("OUTBOX_BATCH_SIZE", "not-a-number")

	cfg := Load()
	assert.Equal(t, 100, cfg.Publisher.BatchSize)
}
