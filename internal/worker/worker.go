package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/contentgen-be/internal/domain"
	"github.com/cuongbtq/contentgen-be/internal/queue"
	"github.com/google/uuid"
)

// Worker defaults
const (
	DefaultPollInterval    = 2 * time.Second
	DefaultIdleLogInterval = 60 * time.Second
)

// Config holds worker configuration
type Config struct {
	Name            string
	Logger          *slog.Logger
	Queue           queue.Queue
	Dispatcher      *Dispatcher
	Hook            CompletionHook
	JobTypes        []domain.JobType
	PollInterval    time.Duration
	IdleLogInterval time.Duration
	Retry           RetryPolicy
}

// Worker polls the queue for the configured job types and runs one job at a time.
// Job types are tried in declared order every cycle.
type Worker struct {
	name         string
	logger       *slog.Logger
	queue        queue.Queue
	handler      queue.Handler
	hook         CompletionHook
	jobTypes     []domain.JobType
	pollInterval time.Duration
	idleLogEvery int64
	retry        RetryPolicy

	stop       *Signal
	done       chan struct{}
	started    atomic.Bool
	idleCycles atomic.Int64
}

// NewWorker creates a new worker instance, filling unset intervals with defaults
func NewWorker(cfg *Config) (*Worker, error) {
	if cfg.Queue == nil {
		return nil, errors.New("worker queue is required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("worker dispatcher is required")
	}
	if len(cfg.JobTypes) == 0 {
		return nil, errors.New("worker needs at least one job type")
	}
	for _, jt := range cfg.JobTypes {
		if !jt.Valid() {
			return nil, fmt.Errorf("%w: %q", domain.ErrUnknownJobType, jt)
		}
	}

	name := cfg.Name
	if name == "" {
		name = "worker-" + uuid.NewString()[:8]
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	idleLogInterval := cfg.IdleLogInterval
	if idleLogInterval <= 0 {
		idleLogInterval = DefaultIdleLogInterval
	}

	retry := cfg.Retry
	defaults := DefaultRetryPolicy()
	if retry.BaseInterval <= 0 {
		retry.BaseInterval = defaults.BaseInterval
	}
	if retry.MaxInterval <= 0 {
		retry.MaxInterval = defaults.MaxInterval
	}
	if retry.MaxConsecutiveErrors <= 0 {
		retry.MaxConsecutiveErrors = defaults.MaxConsecutiveErrors
	}

	hook := cfg.Hook
	if hook == nil {
		hook = CompletionHookFunc(func(context.Context, *domain.Job) {})
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("worker", name))

	return &Worker{
		name:         name,
		logger:       logger,
		queue:        cfg.Queue,
		handler:      cfg.Dispatcher.Handle,
		hook:         hook,
		jobTypes:     append([]domain.JobType(nil), cfg.JobTypes...),
		pollInterval: pollInterval,
		idleLogEvery: idleCyclesPerLog(idleLogInterval, pollInterval),
		retry:        retry,
		stop:         NewSignal(),
		done:         make(chan struct{}),
	}, nil
}

// idleCyclesPerLog is ceil(idleLogInterval / pollInterval), at least 1
func idleCyclesPerLog(idleLogInterval, pollInterval time.Duration) int64 {
	n := int64((idleLogInterval + pollInterval - 1) / pollInterval)
	if n < 1 {
		return 1
	}
	return n
}

// Name returns the worker name used in logs
func (w *Worker) Name() string {
	return w.name
}

// JobTypes returns the job types this worker polls, in polling order
func (w *Worker) JobTypes() []domain.JobType {
	return append([]domain.JobType(nil), w.jobTypes...)
}

// IdleCycles returns the number of consecutive cycles that found no job
func (w *Worker) IdleCycles() int64 {
	return w.idleCycles.Load()
}

// Start runs the poll loop until Stop is called or ctx is done, returning nil.
// If the poll cycle fails MaxConsecutiveErrors times in a row it returns an
// error wrapping ErrRetryBudgetExhausted.
func (w *Worker) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("worker already started")
	}
	defer close(w.done)

	w.logger.Info("Starting worker",
		slog.Any("job_types", w.jobTypes),
		slog.Duration("poll_interval", w.pollInterval),
		slog.Int("max_consecutive_errors", w.retry.MaxConsecutiveErrors),
	)

	state := retryState{policy: w.retry}
	for {
		if w.stop.Fired() || ctx.Err() != nil {
			w.logger.Info("Worker stopped")
			return nil
		}

		wait := w.pollInterval
		if _, err := w.runCycle(ctx); err != nil {
			delay, fatal := state.failure(err)
			if fatal != nil {
				w.logger.Error("Worker retry budget exhausted", slog.Any("error", fatal))
				return fatal
			}
			w.logger.Warn("Poll cycle failed, retrying",
				slog.Int("consecutive_errors", state.consecutive),
				slog.Duration("retry_after", delay),
				slog.Any("error", err),
			)
			wait = delay
		} else {
			state.success()
		}

		if !w.sleep(ctx, wait) {
			w.logger.Info("Worker stopped")
			return nil
		}
	}
}

// sleep waits for d and reports false if the stop signal or ctx ended it early
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-w.stop.Done():
		return false
	case <-ctx.Done():
		return false
	}
}

// Stop asks the loop to exit and waits until it has. A job already running is
// allowed to finish. Stop returns immediately if Start was never called or has
// already returned.
func (w *Worker) Stop() {
	w.stop.Fire()
	if !w.started.Load() {
		return
	}
	<-w.done
}

// runCycle tries each job type in order until one yields a job. Queue errors and
// panics are returned as infrastructure failures.
func (w *Worker) runCycle(ctx context.Context) (found bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			found = false
			err = fmt.Errorf("poll cycle panic: %v", r)
		}
	}()

	for _, jobType := range w.jobTypes {
		job, err := w.queue.ProcessNextJob(ctx, jobType, w.handler)
		if err != nil {
			return false, fmt.Errorf("failed to process next %s job: %w", jobType, err)
		}
		if job != nil {
			w.idleCycles.Store(0)
			w.finish(ctx, job)
			return true, nil
		}
	}

	w.onIdle()
	return false, nil
}

func (w *Worker) onIdle() {
	n := w.idleCycles.Add(1)
	w.logger.Debug("No pending jobs", slog.Int64("idle_cycles", n))

	if n%w.idleLogEvery == 0 {
		w.logger.Info("Worker idle",
			slog.Int64("idle_cycles", n),
			slog.Duration("idle_for", time.Duration(n)*w.pollInterval),
		)
	}
}

// ProcessJobByID runs one pending job outside the poll loop and fires the
// completion hook for it
func (w *Worker) ProcessJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := w.queue.ProcessJob(ctx, jobID, w.handler)
	if err != nil {
		return nil, err
	}
	w.finish(ctx, job)
	return job, nil
}

func (w *Worker) finish(ctx context.Context, job *domain.Job) {
	attrs := []any{
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
		slog.String("user_id", job.UserID),
		slog.String("status", string(job.Status)),
	}
	if job.StartedAt != nil && job.CompletedAt != nil {
		attrs = append(attrs, slog.Duration("duration", job.CompletedAt.Sub(*job.StartedAt)))
	}

	if job.Status == domain.JobStatusFailed {
		w.logger.Warn("Job failed", append(attrs, slog.String("error", job.ErrorMessage()))...)
	} else {
		w.logger.Info("Job completed successfully", attrs...)
	}

	w.hook.OnJobFinished(ctx, job)
}
