// Package generation calls the external generation service that writes scripts,
// synthesizes audio and images, and scrapes URLs. Every request carries the
// identity of the user the job runs for.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/contentgen-be/internal/domain"
	"github.com/cuongbtq/contentgen-be/internal/worker"
)

// Identity headers sent with every request
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// Config holds generation service settings
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is an HTTP client for the generation service
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

var (
	_ worker.Handlers            = (*Client)(nil)
	_ worker.EntityStatusUpdater = (*Client)(nil)
)

// NewClient creates a generation client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("generation service error %d: %s", e.StatusCode, e.Message)
}

func (c *Client) GenerateScript(ctx context.Context, user domain.User, payload *domain.ScriptPayload) (map[string]any, error) {
	return c.run(ctx, user, payload)
}

func (c *Client) GenerateAudio(ctx context.Context, user domain.User, payload *domain.AudioPayload) (map[string]any, error) {
	return c.run(ctx, user, payload)
}

func (c *Client) GenerateImage(ctx context.Context, user domain.User, payload *domain.ImagePayload) (map[string]any, error) {
	return c.run(ctx, user, payload)
}

func (c *Client) GenerateVoiceover(ctx context.Context, user domain.User, payload *domain.VoiceoverPayload) (map[string]any, error) {
	return c.run(ctx, user, payload)
}

func (c *Client) ProcessURL(ctx context.Context, user domain.User, payload *domain.ProcessURLPayload) (map[string]any, error) {
	return c.run(ctx, user, payload)
}

// MarkFailed sets the entity status to failed so the client offers a retry
func (c *Client) MarkFailed(ctx context.Context, user domain.User, entity domain.EntityRef, reason string) error {
	path := fmt.Sprintf("/v1/entities/%s/%s/fail", entity.Type, entity.ID)
	_, err := c.post(ctx, user, path, map[string]string{"reason": reason})
	return err
}

func (c *Client) run(ctx context.Context, user domain.User, payload domain.Payload) (map[string]any, error) {
	start := time.Now()
	result, err := c.post(ctx, user, "/v1/"+string(payload.JobType()), payload)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Generation request completed",
		slog.String("job_type", string(payload.JobType())),
		slog.String("user_id", user.ID),
		slog.Duration("duration", time.Since(start)),
	)
	return result, nil
}

func (c *Client) post(ctx context.Context, user domain.User, path string, body any) (map[string]any, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderUserID, user.ID)
	req.Header.Set(HeaderUserRole, user.Role)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
	}

	if resp.StatusCode == http.StatusNoContent {
		return map[string]any{}, nil
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		if err == io.EOF {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result, nil
}

// errorMessage extracts {"error": "..."} from a failed response, falling back to the raw body
func errorMessage(body io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(body, 4096))

	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	if msg := strings.TrimSpace(string(raw)); msg != "" {
		return msg
	}
	return "empty response"
}
