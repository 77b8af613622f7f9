package main

import (
	"flag"
	"log"

	"dispatch/internal/config"
	"dispatch/internal/database"
)

func main() {
	var direction string
	flag.StringVar(&direction, "direction", "up", "Migration direction (up or down)")
	flag.Parse()

	if len(flag.Args()) > 0 {
		direction = flag.Args()[0]
	}

	if direction != "up" && direction != "down" {
		log.Fatal("Direction must be 'up' or 'down'")
	}

	cfg := config.Load()

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	log.Printf("Running database migrations (%s)...", direction)

	if err := db.Migrate(direction); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	log.Println("Migration completed successfully")
}
