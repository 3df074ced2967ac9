package router

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/contentgen-be/internal/api/dto"
	"github.com/cuongbtq/contentgen-be/internal/api/handler"
	"github.com/cuongbtq/contentgen-be/internal/auth"
	"github.com/cuongbtq/contentgen-be/internal/domain"
	"github.com/cuongbtq/contentgen-be/internal/events"
	"github.com/cuongbtq/contentgen-be/internal/queue"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// queueRunner runs jobs straight on the queue; serves limits the job types it accepts
type queueRunner struct {
	q      *queue.MemoryQueue
	serves []domain.JobType
}

func (r *queueRunner) ProcessJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	if len(r.serves) > 0 {
		job, err := r.q.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(r.serves, job.Type) {
			return nil, domain.ErrNoWorkerForJobType
		}
	}
	return r.q.ProcessJob(ctx, jobID, func(context.Context, *domain.Job) (map[string]any, error) {
		return map[string]any{"done": true}, nil
	})
}

type failingCheck struct{}

func (failingCheck) HealthCheck(context.Context) error { return errors.New("db down") }

type testServer struct {
	engine *gin.Engine
	store  *queue.MemoryQueue
	bus    *events.Bus
	jwt    *auth.JWT
	runner *queueRunner
}

func newTestServer(t *testing.T, withRunner bool) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := queue.NewMemoryQueue()
	bus := events.NewBus(events.NewLocalTransport(), events.DefaultChannel, logger)
	require.NoError(t, bus.Start())
	t.Cleanup(func() { _ = bus.Close() })

	deps := &handler.Dependencies{
		Logger:     logger,
		Store:      store,
		Bus:        bus,
		Service:    "api-service",
		KeepAlive:  time.Hour,
		SinkBuffer: 8,
	}
	runner := &queueRunner{q: store}
	if withRunner {
		deps.Runner = runner
	}

	jwt := auth.NewJWT("test-secret", time.Hour)
	return &testServer{
		engine: SetupRouter(deps, jwt),
		store:  store,
		bus:    bus,
		jwt:    jwt,
		runner: runner,
	}
}

func (s *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := s.jwt.Sign(domain.NewJobUser(userID))
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(t, userID))
	}

	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decodeJob(t *testing.T, w *httptest.ResponseRecorder) dto.JobDTO {
	t.Helper()
	var job dto.JobDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	return job
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy"`)
}

func TestHealth_Unhealthy(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := SetupRouter(&handler.Dependencies{
		Logger: logger,
		Checks: map[string]handler.HealthChecker{"postgres": failingCheck{}},
	}, auth.NewJWT("s", time.Hour))

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "db down")
}

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer(t, false)

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{name: "missing token", want: http.StatusUnauthorized},
		{name: "malformed header", header: "Token abc", want: http.StatusUnauthorized},
		{name: "invalid token", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "valid header", header: "Bearer " + s.token(t, "u1"), want: http.StatusOK},
		{name: "valid query token", query: "?token=" + s.token(t, "u1"), want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			s.engine.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestCreateJob(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		wantStatus int
	}{
		{
			name:       "voiceover",
			body:       gin.H{"type": "generate-voiceover", "payload": gin.H{"voiceoverId": "vo-1"}},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "unknown type",
			body:       gin.H{"type": "transcode", "payload": gin.H{}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing entity id",
			body:       gin.H{"type": "generate-audio", "payload": gin.H{}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "payload not an object",
			body:       gin.H{"type": "generate-audio", "payload": "podcast"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "non http url",
			body:       gin.H{"type": "process-url", "payload": gin.H{"documentId": "d1", "url": "ftp://x"}},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, false)
			w := s.do(t, http.MethodPost, "/api/v1/jobs", "user-1", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
}

func TestCreateJob_OwnerComesFromToken(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(t, http.MethodPost, "/api/v1/jobs", "user-1", gin.H{
		"type":    "generate-image",
		"payload": gin.H{"userId": "someone-else", "podcastId": "p1"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	job := decodeJob(t, w)
	assert.Equal(t, "user-1", job.UserID)
	assert.Equal(t, "pending", job.Status)
	assert.JSONEq(t, `{"userId":"user-1","podcastId":"p1"}`, string(job.Payload))
}

func TestGetJob(t *testing.T) {
	s := newTestServer(t, false)
	job, err := s.store.Enqueue(context.Background(), &domain.AudioPayload{UserID: "owner", PodcastID: "p1"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		user   string
		status int
	}{
		{name: "owner", path: "/api/v1/jobs/" + job.ID, user: "owner", status: http.StatusOK},
		{name: "other user", path: "/api/v1/jobs/" + job.ID, user: "intruder", status: http.StatusNotFound},
		{name: "unknown id", path: "/api/v1/jobs/6f1c2a52-8a34-4e53-9a55-2f2b2f0f0a11", user: "owner", status: http.StatusNotFound},
		{name: "bad id", path: "/api/v1/jobs/not-a-uuid", user: "owner", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodGet, tt.path, tt.user, nil)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestListJobs_Pagination(t *testing.T) {
	s := newTestServer(t, false)
	for i := 0; i < 5; i++ {
		_, err := s.store.Enqueue(context.Background(), &domain.ScriptPayload{UserID: "owner", PodcastID: "p"})
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}
	_, err := s.store.Enqueue(context.Background(), &domain.ScriptPayload{UserID: "other", PodcastID: "p"})
	require.NoError(t, err)

	var seen []string
	path := "/api/v1/jobs?page_size=2"
	for pages := 0; pages < 5; pages++ {
		w := s.do(t, http.MethodGet, path, "owner", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.ListJobsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		for _, j := range resp.Jobs {
			assert.Equal(t, "owner", j.UserID)
			seen = append(seen, j.JobID)
		}
		if resp.NextCursor == "" {
			break
		}
		path = "/api/v1/jobs?page_size=2&cursor=" + resp.NextCursor
	}

	assert.Len(t, seen, 5)
}

func TestListJobs_InvalidParams(t *testing.T) {
	s := newTestServer(t, false)

	for _, path := range []string{
		"/api/v1/jobs?cursor=bm90LWEtY3Vyc29y",
		"/api/v1/jobs?job_type=bogus",
		"/api/v1/jobs?status=cancelled",
	} {
		w := s.do(t, http.MethodGet, path, "owner", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestRunJob(t *testing.T) {
	t.Run("runs pending job", func(t *testing.T) {
		s := newTestServer(t, true)
		job, err := s.store.Enqueue(context.Background(), &domain.VoiceoverPayload{UserID: "owner", VoiceoverID: "v"})
		require.NoError(t, err)

		w := s.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/run", "owner", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "completed", decodeJob(t, w).Status)

		again := s.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/run", "owner", nil)
		assert.Equal(t, http.StatusConflict, again.Code)
	})

	t.Run("no worker for job type", func(t *testing.T) {
		s := newTestServer(t, true)
		s.runner.serves = []domain.JobType{domain.JobTypeGenerateScript}
		job, err := s.store.Enqueue(context.Background(), &domain.VoiceoverPayload{UserID: "owner", VoiceoverID: "v"})
		require.NoError(t, err)

		w := s.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/run", "owner", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		stored, err := s.store.GetJob(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusPending, stored.Status)
	})

	t.Run("no worker", func(t *testing.T) {
		s := newTestServer(t, false)
		job, err := s.store.Enqueue(context.Background(), &domain.VoiceoverPayload{UserID: "owner", VoiceoverID: "v"})
		require.NoError(t, err)

		w := s.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/run", "owner", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestStreamEvents(t *testing.T) {
	s := newTestServer(t, false)
	server := httptest.NewServer(s.engine)
	t.Cleanup(server.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/v1/events?token="+s.token(t, "user-1"), nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool {
		return s.bus.Registry().Connections("user-1") == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.bus.PublishToUser(context.Background(), "user-2", events.EntityChangeEvent{
		EntityType: domain.EntityPodcast, EntityID: "not-mine", ChangeType: events.ChangeUpdate,
	}))
	require.NoError(t, s.bus.PublishToUser(context.Background(), "user-1", events.EntityChangeEvent{
		EntityType: domain.EntityPodcast, EntityID: "p1", ChangeType: events.ChangeUpdate,
	}))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "), line)
	assert.JSONEq(t,
		`{"type":"entity_change","data":{"entityType":"podcast","entityId":"p1","changeType":"update"}}`,
		strings.TrimSuffix(strings.TrimPrefix(line, "data: "), "\n"))

	blank, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "\n", blank)

	cancel()
	assert.Eventually(t, func() bool {
		return s.bus.Registry().Connections("user-1") == 0
	}, 2*time.Second, 10*time.Millisecond)
}
