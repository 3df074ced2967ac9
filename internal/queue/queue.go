// Package queue persists generation jobs and provides atomic claim-and-execute
// semantics over them. A job is executed by at most one worker at a time: the
// claim is a single conditional update, so concurrent workers (in one process or
// many) never receive the same pending job.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuongbtq/contentgen-be/internal/domain"
)

// Handler runs a claimed job and returns its result
type Handler func(ctx context.Context, job *domain.Job) (map[string]any, error)

// Queue is the contract the worker runtime consumes
type Queue interface {
	// ProcessNextJob claims the oldest pending job of jobType, runs handler on it and
	// persists the outcome. It returns (nil, nil) when no job is pending. A handler
	// failure is recorded on the returned job; only storage failures are returned as errors.
	ProcessNextJob(ctx context.Context, jobType domain.JobType, handler Handler) (*domain.Job, error)

	// ProcessJob claims the job with the given id if it is still pending and runs handler on it.
	ProcessJob(ctx context.Context, jobID string, handler Handler) (*domain.Job, error)

	// GetJob fetches a job by id, returning domain.ErrJobNotFound if absent.
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
}

// Store is the producer-side view used by the API
type Store interface {
	Enqueue(ctx context.Context, payload domain.Payload) (*domain.Job, error)
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error)
}

// JobFilter narrows ListJobs results
type JobFilter struct {
	UserID   string
	JobType  domain.JobType
	Status   domain.JobStatus
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is a keyset pagination position (created_at DESC, id DESC)
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// encodeResult marshals a handler result. A result that cannot be encoded is
// reported as a handler failure so the job still reaches a terminal status.
func encodeResult(result map[string]any) (json.RawMessage, error) {
	if result == nil {
		return nil, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return data, nil
}
