// Package app wires configuration into the runtime components shared by the
// API and worker services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cuongbtq/contentgen-be/internal/api/handler"
	"github.com/cuongbtq/contentgen-be/internal/config"
	"github.com/cuongbtq/contentgen-be/internal/domain"
	"github.com/cuongbtq/contentgen-be/internal/events"
	"github.com/cuongbtq/contentgen-be/internal/generation"
	"github.com/cuongbtq/contentgen-be/internal/queue"
	"github.com/cuongbtq/contentgen-be/internal/worker"
	"github.com/cuongbtq/contentgen-be/shared/logger"
	nsqclient "github.com/cuongbtq/contentgen-be/shared/nsq"
	"github.com/cuongbtq/contentgen-be/shared/postgresql"
	"github.com/cuongbtq/contentgen-be/shared/rabbitmq"
	"github.com/cuongbtq/contentgen-be/shared/redis"
	"github.com/google/uuid"
)

// Queue is the full job store both services use
type Queue interface {
	queue.Queue
	queue.Store
}

// Resources tracks what a service opened so it can be closed in reverse order
type Resources struct {
	closers []func() error
	checks  map[string]handler.HealthChecker
}

func (r *Resources) onClose(fn func() error) {
	r.closers = append(r.closers, fn)
}

// checkFunc adapts a ping function to handler.HealthChecker
type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func (r *Resources) addCheck(name string, check handler.HealthChecker) {
	if r.checks == nil {
		r.checks = make(map[string]handler.HealthChecker)
	}
	r.checks[name] = check
}

// Checks returns the health checks of opened dependencies
func (r *Resources) Checks() map[string]handler.HealthChecker {
	return r.checks
}

// Close releases everything in reverse order of opening
func (r *Resources) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// secretKeys are attribute keys never written to logs
var secretKeys = []string{"api_key", "password", "secret", "token", "authorization"}

// NewLogger builds the service logger from the logging section
func NewLogger(cfg *config.LoggingConfig, service, instanceID string) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		NoColor:      cfg.NoColor,
		Service:      service,
		Instance:     instanceID,
		RedactKeys:   secretKeys,
	})
}

// InstanceID returns the configured instance id or a generated one
func InstanceID(cfg *config.AppConfig) string {
	if cfg.InstanceID != "" {
		return cfg.InstanceID
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "instance"
	}
	return host + "-" + uuid.NewString()[:8]
}

// OpenQueue opens the configured job queue, running migrations when enabled
func OpenQueue(cfg *config.Config, res *Resources, logger *slog.Logger) (Queue, error) {
	if cfg.Queue.Driver == config.QueueDriverMemory {
		logger.Warn("Using in-memory job queue; jobs are lost on restart")
		return queue.NewMemoryQueue(), nil
	}

	dbClient, err := postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		RetryAttempts:   cfg.Database.RetryAttempts,
		RetryInterval:   cfg.Database.RetryInterval,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	res.onClose(dbClient.Close)
	res.addCheck("postgres", dbClient)

	if cfg.Database.Migrate {
		if err := queue.Migrate(dbClient.GetDB().DB); err != nil {
			return nil, err
		}
		logger.Info("Database migrations applied")
	}

	return queue.NewPostgresQueue(dbClient.GetDB(), logger), nil
}

// NewTransport connects the configured events transport
func NewTransport(cfg *config.Config, instanceID string, res *Resources, logger *slog.Logger) (events.Transport, error) {
	switch cfg.Events.Transport {
	case config.TransportLocal:
		return events.NewLocalTransport(), nil

	case config.TransportRabbitMQ:
		client, err := rabbitmq.NewClient(&rabbitmq.Config{
			Host:               cfg.RabbitMQ.Host,
			Port:               cfg.RabbitMQ.Port,
			User:               cfg.RabbitMQ.User,
			Password:           cfg.RabbitMQ.Password,
			VHost:              cfg.RabbitMQ.VHost,
			ExchangeDurable:    cfg.RabbitMQ.ExchangeDurable,
			PrefetchCount:      cfg.RabbitMQ.PrefetchCount,
			RetryAttempts:      cfg.RabbitMQ.Connection.RetryAttempts,
			RetryInterval:      cfg.RabbitMQ.Connection.RetryInterval,
			Heartbeat:          cfg.RabbitMQ.Connection.Heartbeat,
			PublishRetries:     cfg.RabbitMQ.Publish.RetryAttempts,
			PublishRetryDelay:  cfg.RabbitMQ.Publish.RetryInterval,
			PublishBackoffMult: cfg.RabbitMQ.Publish.BackoffMultiplier,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		res.addCheck("rabbitmq", client)
		return events.NewRabbitMQTransport(client, instanceID, logger), nil

	case config.TransportRedis:
		client, err := redis.NewClient(&redis.Config{
			Addr:          cfg.Redis.Addr,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			PoolSize:      cfg.Redis.PoolSize,
			DialTimeout:   cfg.Redis.DialTimeout,
			RetryAttempts: cfg.Redis.RetryAttempts,
			RetryInterval: cfg.Redis.RetryInterval,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
		res.onClose(client.Close)
		res.addCheck("redis", checkFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
		return events.NewRedisTransport(client, logger), nil

	case config.TransportNSQ:
		nsqConfig := &nsqclient.Config{
			NSQDAddress:      cfg.NSQ.NSQDAddress,
			LookupdAddresses: cfg.NSQ.LookupdAddresses,
			MaxInFlight:      cfg.NSQ.MaxInFlight,
			DialTimeout:      cfg.NSQ.DialTimeout,
		}
		producer, err := nsqclient.NewProducer(nsqConfig, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize NSQ: %w", err)
		}
		res.addCheck("nsq", checkFunc(func(context.Context) error {
			return producer.Ping()
		}))
		return events.NewNSQTransport(producer, nsqclient.ConsumerFactory(nsqConfig, logger), instanceID, logger), nil
	}

	return nil, fmt.Errorf("unknown events transport: %q", cfg.Events.Transport)
}

// NewBus connects the transport and starts a bus on the configured channel
func NewBus(cfg *config.Config, instanceID string, res *Resources, logger *slog.Logger) (*events.Bus, error) {
	transport, err := NewTransport(cfg, instanceID, res, logger)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(transport, cfg.Events.Channel, logger)
	res.onClose(bus.Close)

	if err := bus.Start(); err != nil {
		return nil, fmt.Errorf("failed to start event bus: %w", err)
	}

	logger.Info("Event bus started",
		slog.String("transport", cfg.Events.Transport),
		slog.String("channel", cfg.Events.Channel),
		slog.String("instance_id", instanceID),
	)
	return bus, nil
}

// NewWorkerPool builds one worker per declared spec, all sharing the generation
// client and a completion hook that publishes to bus
func NewWorkerPool(cfg *config.Config, q queue.Queue, bus worker.Notifier, logger *slog.Logger) (*worker.Pool, error) {
	gen := generation.NewClient(generation.Config{
		BaseURL: cfg.Generation.BaseURL,
		APIKey:  cfg.Generation.APIKey,
		Timeout: cfg.Generation.Timeout,
	}, logger)

	dispatcher := worker.NewDispatcher(gen, gen, logger)
	hook := worker.NewNotificationHook(bus, logger)
	retry := worker.RetryPolicy{
		BaseInterval:         cfg.Worker.Retry.BaseInterval,
		MaxInterval:          cfg.Worker.Retry.MaxInterval,
		MaxConsecutiveErrors: cfg.Worker.Retry.MaxConsecutiveErrors,
	}

	specs := cfg.Worker.WorkerSpecs()
	workers := make([]*worker.Worker, 0, len(specs))
	for _, spec := range specs {
		jobTypes := make([]domain.JobType, len(spec.JobTypes))
		for i, jt := range spec.JobTypes {
			jobTypes[i] = domain.JobType(jt)
		}

		w, err := worker.NewWorker(&worker.Config{
			Name:            spec.Name,
			Logger:          logger,
			Queue:           q,
			Dispatcher:      dispatcher,
			Hook:            hook,
			JobTypes:        jobTypes,
			PollInterval:    cfg.Worker.PollInterval,
			IdleLogInterval: cfg.Worker.IdleLogInterval,
			Retry:           retry,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create worker: %w", err)
		}
		workers = append(workers, w)
	}

	return worker.NewPool(workers, q, logger)
}

// StopPool stops the pool, giving in-flight jobs up to timeout to finish.
// It reports whether the pool stopped in time.
func StopPool(pool *worker.Pool, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
