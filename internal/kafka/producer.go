package kafka

import (
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"

	"dispatch/internal/models"
)

type Producer struct {
	producer sarama.SyncProducer
	brokers  []string
	topic    string
}

type ProducerConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	config := sarama.NewConfig()

	// Producer settings for reliability
	config.Producer.RequiredAcks = sarama.WaitForAll // Wait for all replicas
	config.Producer.Retry.Max = 5
	config.Producer.Retry.Backoff = 100 * time.Millisecond
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	// Enable idempotent producer
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	// Compression
	config.Producer.Compression = sarama.CompressionSnappy

	// Timeout settings
	config.Net.DialTimeout = 30 * time.Second
	config.Net.ReadTimeout = 30 * time.Second
	config.Net.WriteTimeout = 30 * time.Second

	if cfg.ClientID != "" {
		config.ClientID = cfg.ClientID
	} else {
		config.ClientID = "dispatch-outbox-publisher"
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return &Producer{
		producer: producer,
		brokers:  cfg.Brokers,
		topic:    cfg.Topic,
	}, nil
}

// PublishEvent publishes an outbox event to Kafka. The event type is the
// message key, so events of one type land on one partition in order.
func (p *Producer) PublishEvent(event *models.OutboxEvent) error {
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.EventType),
		Value: sarama.ByteEncoder(event.Payload),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("event_id"),
				Value: []byte(event.EventID.String()),
			},
			{
				Key:   []byte("tenant_id"),
				Value: []byte(event.TenantID),
			},
			{
				Key:   []byte("event_type"),
				Value: []byte(event.EventType),
			},
			{
				Key:   []byte("occurred_at"),
				Value: []byte(event.OccurredAt.Format(time.RFC3339)),
			},
		},
		Timestamp: event.OccurredAt,
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to publish message to Kafka: %w", err)
	}

	log.Printf("Published event %s to topic %s (partition: %d, offset: %d)",
		event.EventID, p.topic, partition, offset)

	return nil
}

// Close closes the producer
func (p *Producer) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// HealthCheck verifies the producer can connect to Kafka
func (p *Producer) HealthCheck() error {
	config := sarama.NewConfig()
	config.Net.DialTimeout = 5 * time.Second

	client, err := sarama.NewClient(p.brokers, config)
	if err != nil {
		return fmt.Errorf("failed to connect to Kafka brokers: %w", err)
	}
	defer client.Close()

	brokers := client.Brokers()
	if len(brokers) == 0 {
		return fmt.Errorf("no Kafka brokers available")
	}

	return nil
}
