package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/contentgen-be/internal/domain"
)

// Handlers runs the generation routine for each job type. Every call receives the
// identity of the user the job runs for; implementations must scope all
// downstream calls to that user and must not retain it after returning.
type Handlers interface {
	GenerateScript(ctx context.Context, user domain.User, payload *domain.ScriptPayload) (map[string]any, error)
	GenerateAudio(ctx context.Context, user domain.User, payload *domain.AudioPayload) (map[string]any, error)
	GenerateImage(ctx context.Context, user domain.User, payload *domain.ImagePayload) (map[string]any, error)
	GenerateVoiceover(ctx context.Context, user domain.User, payload *domain.VoiceoverPayload) (map[string]any, error)
	ProcessURL(ctx context.Context, user domain.User, payload *domain.ProcessURLPayload) (map[string]any, error)
}

// EntityStatusUpdater marks the domain entity behind a failed job as failed so the
// client shows a retry option instead of a stuck "processing" state
type EntityStatusUpdater interface {
	MarkFailed(ctx context.Context, user domain.User, entity domain.EntityRef, reason string) error
}

// Dispatcher routes a claimed job to its handler and normalizes every failure
// into a *domain.JobProcessingError
type Dispatcher struct {
	handlers Handlers
	entities EntityStatusUpdater
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher. entities may be nil.
func NewDispatcher(handlers Handlers, entities EntityStatusUpdater, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: handlers,
		entities: entities,
		logger:   logger,
	}
}

// Handle satisfies queue.Handler
func (d *Dispatcher) Handle(ctx context.Context, job *domain.Job) (map[string]any, error) {
	payload, err := job.DecodedPayload()
	if err != nil {
		return nil, domain.NewJobProcessingError(job.ID, err)
	}

	user := domain.NewJobUser(payload.OwnerID())

	result, err := d.run(ctx, user, payload)
	if err == nil {
		err = checkEncodable(result)
	}
	if err != nil {
		jpe := domain.NewJobProcessingError(job.ID, err)
		if jpe.JobID == "" {
			tagged := *jpe
			tagged.JobID = job.ID
			jpe = &tagged
		}
		d.markFailed(ctx, job, user, payload.Entity(), jpe.Message)
		return nil, jpe
	}
	return result, nil
}

// checkEncodable rejects a result the queue could not persist
func checkEncodable(result map[string]any) error {
	if _, err := json.Marshal(result); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return nil
}

// run invokes the handler for payload and converts a panic into an error
func (d *Dispatcher) run(ctx context.Context, user domain.User, payload domain.Payload) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	switch p := payload.(type) {
	case *domain.ScriptPayload:
		return d.handlers.GenerateScript(ctx, user, p)
	case *domain.AudioPayload:
		return d.handlers.GenerateAudio(ctx, user, p)
	case *domain.ImagePayload:
		return d.handlers.GenerateImage(ctx, user, p)
	case *domain.VoiceoverPayload:
		return d.handlers.GenerateVoiceover(ctx, user, p)
	case *domain.ProcessURLPayload:
		return d.handlers.ProcessURL(ctx, user, p)
	default:
		return nil, fmt.Errorf("%w: no handler for %T", domain.ErrUnknownJobType, payload)
	}
}

func (d *Dispatcher) markFailed(ctx context.Context, job *domain.Job, user domain.User, entity domain.EntityRef, reason string) {
	if d.entities == nil || entity.ID == "" {
		return
	}
	if err := d.entities.MarkFailed(ctx, user, entity, reason); err != nil {
		d.logger.Error("Failed to mark entity as failed",
			slog.String("job_id", job.ID),
			slog.String("entity_type", entity.Type),
			slog.String("entity_id", entity.ID),
			slog.Any("error", err),
		)
	}
}
