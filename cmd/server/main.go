package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"dispatch/internal/config"
	"dispatch/internal/database"
	"dispatch/internal/handler"
	"dispatch/internal/idempotency"
	"dispatch/internal/middleware"
	"dispatch/internal/outbox"
	"dispatch/internal/service"
)

func main() {
	log.Println("Starting dispatch API server...")

	cfg := config.Load()

	// Connect to database
	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	repo := database.NewRepository(db)
	writer := outbox.NewWriter(repo)
	jobService := service.NewJobService(repo, writer)

	guard := idempotency.NewGuard(repo, time.Duration(cfg.Idempotency.TTLHours)*time.Hour)

	rateLimiter, err := middleware.NewRateLimiter(&cfg.Redis, nil)
	if err != nil {
		log.Fatalf("Failed to initialize rate limiter: %v", err)
	}
	defer rateLimiter.Close()

	h := handler.NewHandler(jobService, repo, cfg.Publisher.MaxRetries)

	// Setup routes
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.Use(rateLimiter.Handler)
	api.Use(guard.Middleware)
	api.HandleFunc("/jobs", h.CreateJob).Methods("POST")
	api.HandleFunc("/jobs/{id}", h.GetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}", h.UpdateJob).Methods("PUT")
	api.HandleFunc("/outbox/stats", h.OutboxStats).Methods("GET")

	r.HandleFunc("/health", h.Health).Methods("GET")

	srv := &http.Server{
		Addr:    ":" + cfg.HTTP.Port,
		Handler: r,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server listening on port %s", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}
