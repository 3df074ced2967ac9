package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/contentgen-be/internal/domain"
	"github.com/cuongbtq/contentgen-be/internal/events"
	"github.com/cuongbtq/contentgen-be/internal/queue"
)

// JobRunner executes a pending job immediately instead of waiting for a poll
type JobRunner interface {
	ProcessJobByID(ctx context.Context, jobID string) (*domain.Job, error)
}

// HealthChecker reports whether a dependency is usable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger  *slog.Logger
	Store   queue.Store
	Runner  JobRunner
	Bus     *events.Bus
	Checks  map[string]HealthChecker
	Service string

	// KeepAlive is the interval between SSE comment frames
	KeepAlive time.Duration
	// SinkBuffer is the per-connection frame buffer; a client that falls
	// further behind loses frames
	SinkBuffer int
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	store  queue.Store
	runner JobRunner
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		store:  deps.Store,
		runner: deps.Runner,
	}
}

// EventHandler streams bus events to connected clients
type EventHandler struct {
	logger     *slog.Logger
	bus        *events.Bus
	keepAlive  time.Duration
	sinkBuffer int
}

// NewEventHandler creates a new EventHandler instance
func NewEventHandler(deps *Dependencies) *EventHandler {
	sinkBuffer := deps.SinkBuffer
	if sinkBuffer <= 0 {
		sinkBuffer = 64
	}
	return &EventHandler{
		logger:     deps.Logger,
		bus:        deps.Bus,
		keepAlive:  deps.KeepAlive,
		sinkBuffer: sinkBuffer,
	}
}
