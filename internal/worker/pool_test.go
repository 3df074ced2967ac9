package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuongbtq/contentgen-be/internal/domain"
	"github.com/cuongbtq/contentgen-be/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestNewPool_RequiresWorkers(t *testing.T) {
	p, err := NewPool(nil, queue.NewMemoryQueue(), discardLogger())
	assert.Error(t, err)
	assert.Nil(t, p)
}

func TestPool_FatalWorkerStopsOthers(t *testing.T) {
	broken := new(MockQueue)
	broken.On("ProcessNextJob", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	healthy := newTestWorker(t, Config{
		Name:         "audio",
		Queue:        queue.NewMemoryQueue(),
		JobTypes:     []domain.JobType{domain.JobTypeGenerateAudio},
		PollInterval: time.Hour,
	})
	failing := newTestWorker(t, Config{
		Name:     "script",
		Queue:    broken,
		JobTypes: []domain.JobType{domain.JobTypeGenerateScript},
		Retry:    fastRetry(2),
	})

	pool, err := NewPool([]*Worker{healthy, failing}, queue.NewMemoryQueue(), discardLogger())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- pool.Start(context.Background()) }()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRetryBudgetExhausted)
		assert.Contains(t, err.Error(), "worker script")
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not exit after a fatal worker error")
	}
	assert.True(t, healthy.stop.Fired())
}

func TestPool_StopEndsAllWorkers(t *testing.T) {
	q := queue.NewMemoryQueue()
	a := newTestWorker(t, Config{Name: "a", Queue: q, PollInterval: time.Hour})
	b := newTestWorker(t, Config{Name: "b", Queue: q, PollInterval: time.Hour})

	pool, err := NewPool([]*Worker{a, b}, q, discardLogger())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- pool.Start(context.Background()) }()

	require.Eventually(t, func() bool { return a.IdleCycles() > 0 && b.IdleCycles() > 0 }, time.Second, time.Millisecond)
	pool.Stop()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestPool_ProcessJobByIDRoutesByType(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue()
	job, err := q.Enqueue(ctx, &domain.ProcessURLPayload{UserID: "u1", DocumentID: "d1", URL: "https://example.com/a"})
	require.NoError(t, err)

	scriptHook, urlHook := &recordingHook{}, &recordingHook{}

	urlHandlers := new(MockHandlers)
	urlHandlers.On("ProcessURL", mock.Anything, mock.Anything, mock.Anything).Return(map[string]any{"chunks": 3}, nil)

	scriptWorker := newTestWorker(t, Config{Name: "scripts", Queue: q, Hook: scriptHook, JobTypes: []domain.JobType{domain.JobTypeGenerateScript}})
	urlWorker := newTestWorker(t, Config{
		Name:       "urls",
		Queue:      q,
		Hook:       urlHook,
		Dispatcher: NewDispatcher(urlHandlers, nil, discardLogger()),
		JobTypes:   []domain.JobType{domain.JobTypeProcessURL},
	})

	pool, err := NewPool([]*Worker{scriptWorker, urlWorker}, q, discardLogger())
	require.NoError(t, err)

	finished, err := pool.ProcessJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, finished.Status)
	assert.Empty(t, scriptHook.finished())
	assert.Len(t, urlHook.finished(), 1)

	_, err = pool.ProcessJobByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestPool_ProcessJobByIDWithoutMatchingWorker(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue()
	job, err := q.Enqueue(ctx, &domain.ImagePayload{UserID: "u1", PodcastID: "p1"})
	require.NoError(t, err)

	handlers := new(MockHandlers)
	hook := &recordingHook{}
	scriptWorker := newTestWorker(t, Config{
		Name:       "scripts",
		Queue:      q,
		Hook:       hook,
		Dispatcher: NewDispatcher(handlers, nil, discardLogger()),
		JobTypes:   []domain.JobType{domain.JobTypeGenerateScript},
	})

	pool, err := NewPool([]*Worker{scriptWorker}, q, discardLogger())
	require.NoError(t, err)

	_, err = pool.ProcessJobByID(ctx, job.ID)
	assert.ErrorIs(t, err, domain.ErrNoWorkerForJobType)
	assert.Contains(t, err.Error(), string(domain.JobTypeGenerateImage))

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, stored.Status)
	assert.Empty(t, hook.finished())
	handlers.AssertNotCalled(t, "GenerateImage", mock.Anything, mock.Anything, mock.Anything)
}
