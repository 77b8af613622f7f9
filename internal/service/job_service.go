package service

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/database"
	"dispatch/internal/models"
	"dispatch/internal/outbox"
)

type JobService struct {
	repo   *database.Repository
	writer *outbox.Writer
}

func NewJobService(repo *database.Repository, writer *outbox.Writer) *JobService {
	return &JobService{
		repo:   repo,
		writer: writer,
	}
}

// CreateJob creates a job and appends a job.created outbox event in a single
// transaction. Either both rows commit or neither does.
func (s *JobService) CreateJob(tenantID, title, assignedTo string, scheduledAt time.Time) (*models.Job, error) {
	tx, err := s.repo.BeginTx()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	job := &models.Job{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Title:       title,
		Status:      models.JobStatusScheduled,
		AssignedTo:  assignedTo,
		ScheduledAt: scheduledAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err = s.repo.CreateJob(tx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	event, err := models.NewOutboxEvent(tenantID, models.JobCreatedEvent, models.JobCreatedEventData{
		JobID:       job.ID,
		TenantID:    job.TenantID,
		Title:       job.Title,
		AssignedTo:  job.AssignedTo,
		ScheduledAt: job.ScheduledAt,
		CreatedAt:   job.CreatedAt,
	}, now)
	if err != nil {
		return nil, fmt.Errorf("failed to build outbox event: %w", err)
	}

	if err = s.writer.Append(tx, event); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return job, nil
}

// UpdateJob updates a job and appends the matching outbox event in a single
// transaction. A transition to COMPLETED emits job.completed, any other
// change emits job.updated.
func (s *JobService) UpdateJob(jobID uuid.UUID, tenantID, title, status, assignedTo string) (*models.Job, error) {
	existing, err := s.repo.GetJobByID(jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	if existing == nil || existing.TenantID != tenantID {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}

	tx, err := s.repo.BeginTx()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	job := &models.Job{
		ID:          jobID,
		TenantID:    existing.TenantID,
		Title:       title,
		Status:      status,
		AssignedTo:  assignedTo,
		ScheduledAt: existing.ScheduledAt,
		CreatedAt:   existing.CreatedAt,
		UpdatedAt:   now,
	}

	if err = s.repo.UpdateJob(tx, job); err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}

	var event *models.OutboxEvent
	if status == models.JobStatusCompleted && existing.Status != models.JobStatusCompleted {
		event, err = models.NewOutboxEvent(tenantID, models.JobCompletedEvent, models.JobCompletedEventData{
			JobID:       job.ID,
			TenantID:    job.TenantID,
			CompletedAt: now,
		}, now)
	} else {
		event, err = models.NewOutboxEvent(tenantID, models.JobUpdatedEvent, models.JobUpdatedEventData{
			JobID:      job.ID,
			TenantID:   job.TenantID,
			Title:      job.Title,
			Status:     job.Status,
			AssignedTo: job.AssignedTo,
			UpdatedAt:  now,
		}, now)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build outbox event: %w", err)
	}

	if err = s.writer.Append(tx, event); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return job, nil
}

// GetJob retrieves a job scoped to a tenant.
func (s *JobService) GetJob(jobID uuid.UUID, tenantID string) (*models.Job, error) {
	job, err := s.repo.GetJobByID(jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	if job == nil || job.TenantID != tenantID {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	return job, nil
}
