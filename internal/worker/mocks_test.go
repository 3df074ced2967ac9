package worker

import (
	"context"
	"sync"

	"github.com/cuongbtq/contentgen-be/internal/domain"
	"github.com/cuongbtq/contentgen-be/internal/events"
	"github.com/cuongbtq/contentgen-be/internal/queue"
	"github.com/stretchr/testify/mock"
)

type MockQueue struct{ mock.Mock }

func (m *MockQueue) ProcessNextJob(ctx context.Context, jobType domain.JobType, handler queue.Handler) (*domain.Job, error) {
	args := m.Called(ctx, jobType, handler)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Job), args.Error(1)
}

func (m *MockQueue) ProcessJob(ctx context.Context, jobID string, handler queue.Handler) (*domain.Job, error) {
	args := m.Called(ctx, jobID, handler)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Job), args.Error(1)
}

func (m *MockQueue) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Job), args.Error(1)
}

type MockHandlers struct{ mock.Mock }

func (m *MockHandlers) result(args mock.Arguments) (map[string]any, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]any), args.Error(1)
}

func (m *MockHandlers) GenerateScript(ctx context.Context, user domain.User, p *domain.ScriptPayload) (map[string]any, error) {
	return m.result(m.Called(ctx, user, p))
}

func (m *MockHandlers) GenerateAudio(ctx context.Context, user domain.User, p *domain.AudioPayload) (map[string]any, error) {
	return m.result(m.Called(ctx, user, p))
}

func (m *MockHandlers) GenerateImage(ctx context.Context, user domain.User, p *domain.ImagePayload) (map[string]any, error) {
	return m.result(m.Called(ctx, user, p))
}

func (m *MockHandlers) GenerateVoiceover(ctx context.Context, user domain.User, p *domain.VoiceoverPayload) (map[string]any, error) {
	return m.result(m.Called(ctx, user, p))
}

func (m *MockHandlers) ProcessURL(ctx context.Context, user domain.User, p *domain.ProcessURLPayload) (map[string]any, error) {
	return m.result(m.Called(ctx, user, p))
}

type MockEntityUpdater struct{ mock.Mock }

func (m *MockEntityUpdater) MarkFailed(ctx context.Context, user domain.User, entity domain.EntityRef, reason string) error {
	args := m.Called(ctx, user, entity, reason)
	return args.Error(0)
}

type MockNotifier struct{ mock.Mock }

func (m *MockNotifier) PublishToUser(ctx context.Context, userID string, event events.Event) error {
	args := m.Called(ctx, userID, event)
	return args.Error(0)
}

// recordingHook keeps every job passed to OnJobFinished
type recordingHook struct {
	mu   sync.Mutex
	jobs []*domain.Job
}

func (h *recordingHook) OnJobFinished(_ context.Context, job *domain.Job) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobs = append(h.jobs, job)
}

func (h *recordingHook) finished() []*domain.Job {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*domain.Job(nil), h.jobs...)
}
