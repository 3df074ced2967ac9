package queue

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/contentgen-be/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// steppedClock returns a clock that advances one second per call
func steppedClock() func() time.Time {
	var mu sync.Mutex
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func newTestMemoryQueue() *MemoryQueue {
	q := NewMemoryQueue()
	q.now = steppedClock()
	return q
}

func noopHandler(context.Context, *domain.Job) (map[string]any, error) {
	return map[string]any{"ok": true}, nil
}

func TestMemoryQueue_ProcessNextJob_OldestFirst(t *testing.T) {
	q := newTestMemoryQueue()
	ctx := context.Background()

	first, err := q.Enqueue(ctx, &domain.ImagePayload{UserID: "u1", PodcastID: "p1"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, &domain.ImagePayload{UserID: "u1", PodcastID: "p2"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, &domain.AudioPayload{UserID: "u1", PodcastID: "p3"})
	require.NoError(t, err)

	job, err := q.ProcessNextJob(ctx, domain.JobTypeGenerateImage, noopHandler)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, first.ID, job.ID)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.JSONEq(t, `{"ok":true}`, string(job.Result))
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.CompletedAt)
}

func TestMemoryQueue_ProcessNextJob_Empty(t *testing.T) {
	q := newTestMemoryQueue()

	job, err := q.ProcessNextJob(context.Background(), domain.JobTypeGenerateScript, noopHandler)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestMemoryQueue_HandlerFailure(t *testing.T) {
	q := newTestMemoryQueue()
	ctx := context.Background()

	enqueued, err := q.Enqueue(ctx, &domain.ScriptPayload{UserID: "u1", PodcastID: "p1"})
	require.NoError(t, err)

	job, err := q.ProcessNextJob(ctx, domain.JobTypeGenerateScript,
		func(context.Context, *domain.Job) (map[string]any, error) {
			return nil, errors.New("model timeout")
		})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, "model timeout", job.ErrorMessage())
	assert.Nil(t, job.Result)

	stored, err := q.GetJob(ctx, enqueued.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
}

func TestMemoryQueue_UnencodableResultFailsJob(t *testing.T) {
	q := newTestMemoryQueue()
	ctx := context.Background()

	enqueued, err := q.Enqueue(ctx, &domain.VoiceoverPayload{UserID: "u1", VoiceoverID: "v1"})
	require.NoError(t, err)

	job, err := q.ProcessNextJob(ctx, domain.JobTypeGenerateVoiceover,
		func(context.Context, *domain.Job) (map[string]any, error) {
			return map[string]any{"score": math.NaN()}, nil
		})
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage(), "failed to encode result")

	stored, err := q.GetJob(ctx, enqueued.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.NotNil(t, stored.CompletedAt)
}

func TestMemoryQueue_ProcessJob(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		setup   func(q *MemoryQueue) string
		wantErr error
	}{
		{
			name: "pending job runs",
			setup: func(q *MemoryQueue) string {
				job, _ := q.Enqueue(ctx, &domain.VoiceoverPayload{UserID: "u1", VoiceoverID: "v1"})
				return job.ID
			},
		},
		{
			name:    "missing job",
			setup:   func(*MemoryQueue) string { return "does-not-exist" },
			wantErr: domain.ErrJobNotFound,
		},
		{
			name: "completed job is not rerun",
			setup: func(q *MemoryQueue) string {
				job, _ := q.Enqueue(ctx, &domain.VoiceoverPayload{UserID: "u1", VoiceoverID: "v1"})
				_, _ = q.ProcessJob(ctx, job.ID, noopHandler)
				return job.ID
			},
			wantErr: domain.ErrJobAlreadyClaimed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newTestMemoryQueue()
			id := tt.setup(q)

			job, err := q.ProcessJob(ctx, id, noopHandler)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, domain.JobStatusCompleted, job.Status)
		})
	}
}

func TestMemoryQueue_ConcurrentClaimsRunOnce(t *testing.T) {
	q := newTestMemoryQueue()
	ctx := context.Background()

	const jobs = 20
	for i := 0; i < jobs; i++ {
		_, err := q.Enqueue(ctx, &domain.AudioPayload{UserID: "u1", PodcastID: "p"})
		require.NoError(t, err)
	}

	var runs atomic.Int32
	seen := sync.Map{}
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := q.ProcessNextJob(ctx, domain.JobTypeGenerateAudio,
					func(_ context.Context, j *domain.Job) (map[string]any, error) {
						if _, dup := seen.LoadOrStore(j.ID, true); dup {
							t.Errorf("job %s executed twice", j.ID)
						}
						runs.Add(1)
						return nil, nil
					})
				if err != nil || job == nil {
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(jobs), runs.Load())
}

func TestMemoryQueue_ListJobs(t *testing.T) {
	q := newTestMemoryQueue()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		job, err := q.Enqueue(ctx, &domain.ScriptPayload{UserID: "owner", PodcastID: "p"})
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	_, err := q.Enqueue(ctx, &domain.ScriptPayload{UserID: "someone-else", PodcastID: "p"})
	require.NoError(t, err)

	page, err := q.ListJobs(ctx, JobFilter{UserID: "owner", PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, ids[4], page[0].ID)
	assert.Equal(t, ids[3], page[1].ID)

	last := page[1]
	next, err := q.ListJobs(ctx, JobFilter{
		UserID:   "owner",
		PageSize: 2,
		Cursor:   &JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID},
	})
	require.NoError(t, err)
	require.Len(t, next, 3)
	assert.Equal(t, ids[2], next[0].ID)

	failedOnly, err := q.ListJobs(ctx, JobFilter{UserID: "owner", Status: domain.JobStatusFailed, PageSize: 10})
	require.NoError(t, err)
	assert.Empty(t, failedOnly)
}
