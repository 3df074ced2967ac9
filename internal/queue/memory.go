package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/contentgen-be/internal/domain"
	"github.com/google/uuid"
)

// MemoryQueue is an in-process Queue and Store. Safe for concurrent use;
// intended for tests and single-instance development.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
	now  func() time.Time
}

var (
	_ Queue = (*MemoryQueue)(nil)
	_ Store = (*MemoryQueue)(nil)
)

// NewMemoryQueue returns an empty MemoryQueue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		jobs: make(map[string]*domain.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue stores a new pending job
func (q *MemoryQueue) Enqueue(_ context.Context, payload domain.Payload) (*domain.Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	job := &domain.Job{
		ID:        uuid.NewString(),
		Type:      payload.JobType(),
		Status:    domain.JobStatusPending,
		UserID:    payload.OwnerID(),
		Payload:   body,
		CreatedAt: q.now(),
	}
	q.jobs[job.ID] = job
	return copyJob(job), nil
}

// GetJob returns a copy of the job with the given id
func (q *MemoryQueue) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return copyJob(job), nil
}

// ProcessNextJob claims the oldest pending job of jobType and executes it
func (q *MemoryQueue) ProcessNextJob(ctx context.Context, jobType domain.JobType, handler Handler) (*domain.Job, error) {
	q.mu.Lock()
	var next *domain.Job
	for _, job := range q.jobs {
		if job.Type != jobType || job.Status != domain.JobStatusPending {
			continue
		}
		if next == nil || job.CreatedAt.Before(next.CreatedAt) ||
			(job.CreatedAt.Equal(next.CreatedAt) && job.ID < next.ID) {
			next = job
		}
	}
	if next == nil {
		q.mu.Unlock()
		return nil, nil
	}
	claimed := q.claimLocked(next)
	q.mu.Unlock()

	return q.execute(ctx, claimed, handler)
}

// ProcessJob claims a specific pending job and executes it
func (q *MemoryQueue) ProcessJob(ctx context.Context, jobID string, handler Handler) (*domain.Job, error) {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return nil, domain.ErrJobNotFound
	}
	if job.Status != domain.JobStatusPending {
		q.mu.Unlock()
		return nil, domain.ErrJobAlreadyClaimed
	}
	claimed := q.claimLocked(job)
	q.mu.Unlock()

	return q.execute(ctx, claimed, handler)
}

func (q *MemoryQueue) claimLocked(job *domain.Job) *domain.Job {
	started := q.now()
	job.Status = domain.JobStatusProcessing
	job.StartedAt = &started
	return copyJob(job)
}

func (q *MemoryQueue) execute(ctx context.Context, job *domain.Job, handler Handler) (*domain.Job, error) {
	result, handlerErr := handler(ctx, job)

	var resultJSON json.RawMessage
	if handlerErr == nil {
		resultJSON, handlerErr = encodeResult(result)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	stored := q.jobs[job.ID]
	completed := q.now()
	stored.CompletedAt = &completed
	if handlerErr != nil {
		msg := domain.FailureMessage(handlerErr)
		stored.Status = domain.JobStatusFailed
		stored.Error = &msg
	} else {
		stored.Status = domain.JobStatusCompleted
		stored.Result = resultJSON
	}
	return copyJob(stored), nil
}

// ListJobs returns jobs newest first, PageSize+1 at most
func (q *MemoryQueue) ListJobs(_ context.Context, filter JobFilter) ([]domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]domain.Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		if filter.UserID != "" && job.UserID != filter.UserID {
			continue
		}
		if filter.JobType != "" && job.Type != filter.JobType {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if c := filter.Cursor; c != nil {
			if job.CreatedAt.After(c.CreatedAt) ||
				(job.CreatedAt.Equal(c.CreatedAt) && job.ID >= c.JobID) {
				continue
			}
		}
		jobs = append(jobs, *copyJob(job))
	}

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID > jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	if limit := filter.PageSize + 1; filter.PageSize > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func copyJob(job *domain.Job) *domain.Job {
	c := *job
	return &c
}
