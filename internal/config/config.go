package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	HTTP        HTTPConfig
	Database    DatabaseConfig
	Kafka       KafkaConfig
	Redis       RedisConfig
	Publisher   PublisherConfig
	Idempotency IdempotencyConfig
}

type HTTPConfig struct {
	Port string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PublisherConfig struct {
	PollInterval int // seconds
	BatchSize    int
	MaxRetries   int
	ErrorBackoff int // seconds, extra sleep after a store-level failure
}

type IdempotencyConfig struct {
	TTLHours             int
	CleanupIntervalHours int
}

func Load() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port: getEnv("PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "dispatch_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Kafka: KafkaConfig{
			Brokers: []string{getEnv("KAFKA_BROKERS", "localhost:9092")},
			Topic:   getEnv("KAFKA_TOPIC", "dispatch-events"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Publisher: PublisherConfig{
			PollInterval: getEnvInt("OUTBOX_POLL_INTERVAL", 5),
			BatchSize:    getEnvInt("OUTBOX_BATCH_SIZE", 100),
			MaxRetries:   getEnvInt("OUTBOX_MAX_RETRIES", 5),
			ErrorBackoff: getEnvInt("OUTBOX_ERROR_BACKOFF", 30),
		},
		Idempotency: IdempotencyConfig{
			TTLHours:             getEnvInt("IDEMPOTENCY_TTL_HOURS", 24),
			CleanupIntervalHours: getEnvInt("IDEMPOTENCY_CLEANUP_INTERVAL_HOURS", 1),
		},
	}
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
