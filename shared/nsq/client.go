package nsq

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	gonsq "github.com/nsqio/go-nsq"
)

// Config holds NSQ connection configuration
type Config struct {
	NSQDAddress      string
	LookupdAddresses []string
	MaxInFlight      int
	DialTimeout      time.Duration
}

func (c *Config) nsqConfig() *gonsq.Config {
	cfg := gonsq.NewConfig()
	if c.MaxInFlight > 0 {
		cfg.MaxInFlight = c.MaxInFlight
	}
	if c.DialTimeout > 0 {
		cfg.DialTimeout = c.DialTimeout
	}
	return cfg
}

// NewProducer creates a producer for the configured nsqd and pings it
func NewProducer(config *Config, logger *slog.Logger) (*gonsq.Producer, error) {
	producer, err := gonsq.NewProducer(config.NSQDAddress, config.nsqConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create NSQ producer: %w", err)
	}
	producer.SetLogger(NewLogger(logger), gonsq.LogLevelWarning)

	if err := producer.Ping(); err != nil {
		producer.Stop()
		return nil, fmt.Errorf("failed to ping nsqd %s: %w", config.NSQDAddress, err)
	}

	logger.Info("Successfully connected to NSQ", slog.String("nsqd", config.NSQDAddress))
	return producer, nil
}

// ConsumerFactory returns a function that starts consumers connected through
// nsqlookupd when lookupd addresses are configured, or straight to nsqd otherwise
func ConsumerFactory(config *Config, logger *slog.Logger) func(topic, channel string, handler gonsq.Handler) (*gonsq.Consumer, error) {
	return func(topic, channel string, handler gonsq.Handler) (*gonsq.Consumer, error) {
		consumer, err := gonsq.NewConsumer(topic, channel, config.nsqConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create NSQ consumer: %w", err)
		}
		consumer.SetLogger(NewLogger(logger), gonsq.LogLevelWarning)
		consumer.AddHandler(handler)

		if len(config.LookupdAddresses) > 0 {
			err = consumer.ConnectToNSQLookupds(config.LookupdAddresses)
		} else {
			err = consumer.ConnectToNSQD(config.NSQDAddress)
		}
		if err != nil {
			consumer.Stop()
			return nil, fmt.Errorf("failed to connect NSQ consumer: %w", err)
		}
		return consumer, nil
	}
}

// Logger adapts slog to the go-nsq logger interface
type Logger struct {
	logger *slog.Logger
}

// NewLogger wraps logger for go-nsq
func NewLogger(logger *slog.Logger) *Logger {
	return &Logger{logger: logger.With(slog.String("component", "nsq"))}
}

// Output implements the go-nsq logger interface
func (l *Logger) Output(_ int, s string) error {
	msg := strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(msg, "ERR"):
		l.logger.Error(msg)
	case strings.HasPrefix(msg, "WRN"):
		l.logger.Warn(msg)
	default:
		l.logger.Debug(msg)
	}
	return nil
}
