package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/contentgen-be/internal/domain"
	"github.com/cuongbtq/contentgen-be/internal/queue"
	"golang.org/x/sync/errgroup"
)

// Pool runs several workers in one process, typically each specialized on a
// subset of job types. The first worker to fail fatally stops the others.
type Pool struct {
	workers []*Worker
	queue   queue.Queue
	logger  *slog.Logger
}

// NewPool creates a pool; q is used to route ProcessJobByID to the right worker
func NewPool(workers []*Worker, q queue.Queue, logger *slog.Logger) (*Pool, error) {
	if len(workers) == 0 {
		return nil, errors.New("pool needs at least one worker")
	}
	return &Pool{
		workers: workers,
		queue:   q,
		logger:  logger,
	}, nil
}

// Workers returns the pooled workers
func (p *Pool) Workers() []*Worker {
	return p.workers
}

// Start runs every worker and blocks until all have exited. It returns the
// first fatal worker error, if any.
func (p *Pool) Start(ctx context.Context) error {
	p.logger.Info("Spawning worker pool", slog.Int("worker_count", len(p.workers)))

	var g errgroup.Group
	for _, w := range p.workers {
		g.Go(func() error {
			if err := w.Start(ctx); err != nil {
				p.logger.Error("Worker exited with fatal error",
					slog.String("worker", w.Name()),
					slog.Any("error", err),
				)
				p.Stop()
				return fmt.Errorf("worker %s: %w", w.Name(), err)
			}
			return nil
		})
	}

	return g.Wait()
}

// Stop signals every worker, then waits for each to exit
func (p *Pool) Stop() {
	for _, w := range p.workers {
		w.stop.Fire()
	}
	for _, w := range p.workers {
		w.Stop()
	}
}

// ProcessJobByID runs a job on the first worker configured for its type. It
// returns domain.ErrNoWorkerForJobType when no pooled worker services that type.
func (p *Pool) ProcessJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := p.queue.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	w := p.workerFor(job.Type)
	if w == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoWorkerForJobType, job.Type)
	}
	return w.ProcessJobByID(ctx, jobID)
}

func (p *Pool) workerFor(jobType domain.JobType) *Worker {
	for _, w := range p.workers {
		for _, jt := range w.jobTypes {
			if jt == jobType {
				return w
			}
		}
	}
	return nil
}
