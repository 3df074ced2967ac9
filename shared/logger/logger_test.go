package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, output *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(output.Bytes(), &entry))
	return entry
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		config    *Config
		checkFunc func(t *testing.T, logger *Logger, output *bytes.Buffer)
	}{
		{
			name:   "json format with debug level",
			config: &Config{Level: "debug", Format: "json"},
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Debug("Polling queue", slog.String("job_type", "generate_script"))

				entry := decodeLine(t, output)
				assert.Equal(t, "DEBUG", entry["level"])
				assert.Equal(t, "Polling queue", entry["msg"])
				assert.Equal(t, "generate_script", entry["job_type"])
				assert.Contains(t, entry, "time")
			},
		},
		{
			name:   "info level drops debug records",
			config: &Config{Level: "info", Format: "json"},
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Debug("hidden")
				assert.Empty(t, output.String())

				logger.Info("Job completed")
				assert.Contains(t, output.String(), "Job completed")
			},
		},
		{
			name:   "console format",
			config: &Config{Level: "info", Format: "console", NoColor: true, TimeFormat: time.Kitchen},
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Warn("Worker idle", slog.String("worker", "media"))

				line := output.String()
				assert.Contains(t, line, "WRN")
				assert.Contains(t, line, "Worker idle")
				assert.Contains(t, line, "worker=media")
			},
		},
		{
			name:   "unknown format falls back to json",
			config: &Config{Format: "xml"},
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Info("fallback")
				assert.Equal(t, "fallback", decodeLine(t, output)["msg"])
			},
		},
		{
			name:   "service identity on every record",
			config: &Config{Format: "json", Service: "worker-service", Instance: "host-1a2b3c4d"},
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Info("Starting")

				entry := decodeLine(t, output)
				assert.Equal(t, "worker-service", entry["service"])
				assert.Equal(t, "host-1a2b3c4d", entry["instance_id"])
			},
		},
		{
			name:   "redacted keys",
			config: &Config{Format: "json", RedactKeys: []string{"api_key", "token"}},
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Info("Calling generation service",
					slog.String("api_key", "sk-live"),
					slog.String("token", "eyJhbGciOi"),
					slog.String("job_id", "job-1"),
				)

				entry := decodeLine(t, output)
				assert.Equal(t, Redacted, entry["api_key"])
				assert.Equal(t, Redacted, entry["token"])
				assert.Equal(t, "job-1", entry["job_id"])
				assert.NotContains(t, output.String(), "sk-live")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := &bytes.Buffer{}
			tt.config.writer = output

			logger, err := New(tt.config)
			require.NoError(t, err)
			require.NotNil(t, logger)

			tt.checkFunc(t, logger, output)
		})
	}
}

func TestLogger_Component(t *testing.T) {
	output := &bytes.Buffer{}
	logger, err := New(&Config{Format: "json", Service: "api-service", writer: output})
	require.NoError(t, err)

	logger.Component("events").Info("Event bus started")

	entry := decodeLine(t, output)
	assert.Equal(t, "events", entry["component"])
	assert.Equal(t, "api-service", entry["service"])
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.log")

	logger, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info("written to file", slog.String("job_id", "job-1"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"job_id":"job-1"`)
}

func TestNew_InvalidFileOutput(t *testing.T) {
	logger, err := New(&Config{Output: filepath.Join(t.TempDir(), "missing", "dir", "app.log")})
	require.Error(t, err)
	assert.Nil(t, logger)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelInfo}, // case-sensitive
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.level))
		})
	}
}
