package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration
type Config struct {
	Addr          string
	Password      string
	DB            int
	PoolSize      int
	DialTimeout   time.Duration
	RetryAttempts int
	RetryInterval time.Duration
}

// NewClient connects to Redis and verifies the connection with PING
func NewClient(config *Config, logger *slog.Logger) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        config.Addr,
		Password:    config.Password,
		DB:          config.DB,
		PoolSize:    config.PoolSize,
		DialTimeout: config.DialTimeout,
	})

	attempts := config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		logger.Info("Connecting to Redis",
			slog.String("addr", config.Addr),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = client.Ping(ctx).Err()
		cancel()
		if err == nil {
			logger.Info("Successfully connected to Redis")
			return client, nil
		}

		logger.Error("Failed to connect to Redis",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)
		if attempt < attempts {
			time.Sleep(config.RetryInterval)
		}
	}

	client.Close()
	return nil, fmt.Errorf("failed to connect to Redis after %d attempts: %w", attempts, err)
}
