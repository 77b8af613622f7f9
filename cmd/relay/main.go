package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dispatch/internal/config"
	"dispatch/internal/database"
	"dispatch/internal/idempotency"
	"dispatch/internal/kafka"
	"dispatch/internal/outbox"
)

func main() {
	log.Println("Starting outbox relay worker...")

	cfg := config.Load()

	// Connect to database
	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	repo := database.NewRepository(db)

	// Create Kafka producer
	producer, err := kafka.NewProducer(&kafka.ProducerConfig{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.Topic,
		ClientID: "dispatch-outbox-relay",
	})
	if err != nil {
		log.Fatalf("Failed to create Kafka producer: %v", err)
	}
	defer producer.Close()

	if err := producer.HealthCheck(); err != nil {
		log.Fatalf("Kafka health check failed: %v", err)
	}

	publisher := outbox.NewPublisher(repo, producer, &cfg.Publisher)
	sweeper := idempotency.NewSweeper(repo,
		time.Duration(cfg.Idempotency.CleanupIntervalHours)*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := publisher.Start(ctx); err != nil && err != context.Canceled {
			log.Printf("Outbox publisher error: %v", err)
		}
	}()

	go func() {
		if err := sweeper.Start(ctx); err != nil && err != context.Canceled {
			log.Printf("Idempotency sweeper error: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Println("Received shutdown signal, gracefully shutting down...")

	cancel()

	log.Println("Relay worker stopped")
}
