package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Redacted replaces the value of any attribute listed in Config.RedactKeys
const Redacted = "[REDACTED]"

// Config holds logger configuration
type Config struct {
	Level        string   // debug, info, warn, error
	Format       string   // json, console
	Output       string   // stdout, stderr, or file path
	EnableSource bool     // Enable source code location
	TimeFormat   string   // Time format for console output
	NoColor      bool     // Disable colors in console output
	Service      string   // attached to every record as "service"
	Instance     string   // attached to every record as "instance_id"
	RedactKeys   []string // attribute keys whose values are never written

	writer io.Writer // overrides Output when set
}

// Logger wraps slog.Logger with the service identity already attached
type Logger struct {
	*slog.Logger
}

// New creates a new logger instance
func New(config *Config) (*Logger, error) {
	level := parseLevel(config.Level)

	writer, err := openOutput(config)
	if err != nil {
		return nil, err
	}

	replace := redactor(config.RedactKeys)

	var handler slog.Handler
	switch config.Format {
	case "console", "":
		timeFormat := config.TimeFormat
		if timeFormat == "" {
			timeFormat = time.RFC3339
		}

		handler = tint.NewHandler(writer, &tint.Options{
			Level:       level,
			AddSource:   config.EnableSource,
			TimeFormat:  timeFormat,
			NoColor:     config.NoColor,
			ReplaceAttr: replace,
		})
	default:
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{
			Level:       level,
			AddSource:   config.EnableSource,
			ReplaceAttr: replace,
		})
	}

	logger := slog.New(handler)
	if config.Service != "" {
		logger = logger.With(slog.String("service", config.Service))
	}
	if config.Instance != "" {
		logger = logger.With(slog.String("instance_id", config.Instance))
	}

	return &Logger{Logger: logger}, nil
}

// Component returns a child logger tagged with the subsystem name
func (l *Logger) Component(name string) *slog.Logger {
	return l.Logger.With(slog.String("component", name))
}

func redactor(keys []string) func([]string, slog.Attr) slog.Attr {
	if len(keys) == 0 {
		return nil
	}
	redact := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		redact[k] = struct{}{}
	}
	return func(_ []string, a slog.Attr) slog.Attr {
		if _, ok := redact[a.Key]; ok {
			return slog.String(a.Key, Redacted)
		}
		return a
	}
}

// openOutput resolves the configured output to a writer; any value other than
// stdout or stderr is treated as a file path opened for appending
func openOutput(config *Config) (io.Writer, error) {
	if config.writer != nil {
		return config.writer, nil
	}

	switch config.Output {
	case "stderr":
		return os.Stderr, nil
	case "stdout", "":
		return os.Stdout, nil
	default:
		f, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log output %s: %w", config.Output, err)
		}
		return f, nil
	}
}

// parseLevel converts string level to slog.Level
func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
