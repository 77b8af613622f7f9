package handler

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"dispatch/internal/database"
	"dispatch/internal/idempotency"
	"dispatch/internal/service"
)

// Handler contains the HTTP handlers for the job API.
type Handler struct {
	jobs       *service.JobService
	repo       *database.Repository
	maxRetries int
}

func NewHandler(jobs *service.JobService, repo *database.Repository, maxRetries int) *Handler {
	return &Handler{
		jobs:       jobs,
		repo:       repo,
		maxRetries: maxRetries,
	}
}

type CreateJobRequest struct {
	Title       string    `json:"title"`
	AssignedTo  string    `json:"assigned_to"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

type UpdateJobRequest struct {
	Title      string `json:"title"`
	Status     string `json:"status"`
	AssignedTo string `json:"assigned_to"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (h *Handler) writeErrorResponse(w http.ResponseWriter, statusCode int, err string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   err,
		Message: message,
	})
}

func (h *Handler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// CreateJob handles POST /api/jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_json", "Request body must be valid JSON")
		return
	}

	if req.Title == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, "missing_title", "Title is required")
		return
	}
	if req.ScheduledAt.IsZero() {
		req.ScheduledAt = time.Now().UTC()
	}

	tenantID := r.Header.Get(idempotency.TenantHeader)

	job, err := h.jobs.CreateJob(tenantID, req.Title, req.AssignedTo, req.ScheduledAt)
	if err != nil {
		log.Printf("Error creating job: %v", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, "create_failed", "Failed to create job")
		return
	}

	h.writeJSONResponse(w, http.StatusCreated, job)
}

// GetJob handles GET /api/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_id", "Job ID must be a UUID")
		return
	}

	tenantID := r.Header.Get(idempotency.TenantHeader)

	job, err := h.jobs.GetJob(jobID, tenantID)
	if err != nil {
		h.writeErrorResponse(w, http.StatusNotFound, "not_found", fmt.Sprintf("Job %s not found", jobID))
		return
	}

	h.writeJSONResponse(w, http.StatusOK, job)
}

// UpdateJob handles PUT /api/jobs/{id}
func (h *Handler) UpdateJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_id", "Job ID must be a UUID")
		return
	}

	var req UpdateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_json", "Request body must be valid JSON")
		return
	}

	if req.Title == "" || req.Status == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, "missing_fields", "Title and status are required")
		return
	}

	tenantID := r.Header.Get(idempotency.TenantHeader)

	job, err := h.jobs.UpdateJob(jobID, tenantID, req.Title, req.Status, req.AssignedTo)
	if err != nil {
		log.Printf("Error updating job: %v", err)
		h.writeErrorResponse(w, http.StatusNotFound, "update_failed", "Failed to update job")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, job)
}

// OutboxStats handles GET /api/outbox/stats - the operator-visible view of
// pending, published, and dead-lettered rows.
func (h *Handler) OutboxStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repo.GetOutboxStats(h.maxRetries)
	if err != nil {
		log.Printf("Error getting outbox stats: %v", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, "stats_failed", "Failed to query outbox stats")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, stats)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"service":   "dispatch",
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}
