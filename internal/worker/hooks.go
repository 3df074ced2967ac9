package worker

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/contentgen-be/internal/domain"
	"github.com/cuongbtq/contentgen-be/internal/events"
)

// CompletionHook is called once for every job the worker finishes, whatever its status
type CompletionHook interface {
	OnJobFinished(ctx context.Context, job *domain.Job)
}

// CompletionHookFunc adapts a function to CompletionHook
type CompletionHookFunc func(ctx context.Context, job *domain.Job)

func (f CompletionHookFunc) OnJobFinished(ctx context.Context, job *domain.Job) {
	f(ctx, job)
}

// Notifier publishes events to a user's connections
type Notifier interface {
	PublishToUser(ctx context.Context, userID string, event events.Event) error
}

// NotificationHook tells the job owner that the job finished and that its entity changed
type NotificationHook struct {
	notifier Notifier
	logger   *slog.Logger
}

var _ CompletionHook = (*NotificationHook)(nil)

// NewNotificationHook creates a NotificationHook
func NewNotificationHook(notifier Notifier, logger *slog.Logger) *NotificationHook {
	return &NotificationHook{
		notifier: notifier,
		logger:   logger,
	}
}

// OnJobFinished publishes one job completion event and, when the job targets a
// known entity, one entity change event. Publish failures are logged only.
func (h *NotificationHook) OnJobFinished(ctx context.Context, job *domain.Job) {
	userID := job.UserID

	var entity domain.EntityRef
	if payload, err := job.DecodedPayload(); err == nil {
		entity = payload.Entity()
		if userID == "" {
			userID = payload.OwnerID()
		}
	}

	if userID == "" {
		h.logger.Warn("Finished job has no owner, skipping notifications",
			slog.String("job_id", job.ID),
		)
		return
	}

	h.publish(ctx, job, userID, events.NewJobCompletionEvent(job, entity))

	if entity.ID != "" {
		h.publish(ctx, job, userID, events.EntityChangeEvent{
			EntityType: entity.Type,
			EntityID:   entity.ID,
			ChangeType: events.ChangeUpdate,
		})
	}
}

func (h *NotificationHook) publish(ctx context.Context, job *domain.Job, userID string, event events.Event) {
	if err := h.notifier.PublishToUser(ctx, userID, event); err != nil {
		h.logger.Error("Failed to publish job notification",
			slog.String("job_id", job.ID),
			slog.String("user_id", userID),
			slog.String("event_type", event.EventType()),
			slog.Any("error", err),
		)
	}
}
