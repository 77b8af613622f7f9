package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"dispatch/internal/config"
	"dispatch/internal/database"
)

func main() {
	var (
		list    = flag.Bool("list", false, "List dead-lettered outbox events")
		requeue = flag.String("requeue", "", "Comma-separated outbox row ids to requeue")
		dryRun  = flag.Bool("dry-run", false, "Show what would be requeued without changing anything")
		limit   = flag.Int("limit", 100, "Maximum number of events to list")
		help    = flag.Bool("help", false, "Show help message")
	)

	flag.Parse()

	if *help || (!*list && *requeue == "") {
		printHelp()
		return
	}

	cfg := config.Load()

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	repo := database.NewRepository(db)

	if *list {
		listDeadLettered(repo, cfg.Publisher.MaxRetries, *limit)
		return
	}

	ids, err := parseIDs(*requeue)
	if err != nil {
		log.Fatalf("Invalid -requeue value: %v", err)
	}

	if *dryRun {
		log.Printf("Dry run: would requeue %d events: %v", len(ids), ids)
		return
	}

	requeued, err := repo.RequeueDeadLetteredEvents(cfg.Publisher.MaxRetries, ids)
	if err != nil {
		log.Fatalf("Requeue failed: %v", err)
	}
	log.Printf("Requeued %d of %d requested events", requeued, len(ids))
}

func listDeadLettered(repo *database.Repository, maxRetries, limit int) {
	events, err := repo.ListDeadLetteredEvents(maxRetries, limit)
	if err != nil {
		log.Fatalf("Failed to list dead-lettered events: %v", err)
	}

	if len(events) == 0 {
		fmt.Println("No dead-lettered events")
		return
	}

	fmt.Printf("%-8s %-38s %-12s %-20s %-6s %s\n",
		"ID", "EVENT_ID", "TENANT", "TYPE", "TRIES", "LAST_ERROR")
	for _, event := range events {
		lastError := ""
		if event.LastError != nil {
			lastError = *event.LastError
		}
		fmt.Printf("%-8d %-38s %-12s %-20s %-6d %s\n",
			event.ID, event.EventID, event.TenantID, event.EventType,
			event.RetryCount, lastError)
	}
	fmt.Printf("\n%d dead-lettered events (oldest occurred_at: %s)\n",
		len(events), events[0].OccurredAt.Format(time.RFC3339))
}

func parseIDs(raw string) ([]int64, error) {
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("not a row id: %q", part)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no ids given")
	}
	return ids, nil
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `deadletter - inspect and requeue outbox events that exhausted their retries

Usage:
  deadletter -list [-limit N]
  deadletter -requeue 1,2,3 [-dry-run]

Requeueing resets retry_count to zero so the publisher picks the rows up on
its next poll.
`)
}
