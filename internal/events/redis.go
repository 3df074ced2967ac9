package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisSubscribeTimeout = 5 * time.Second

// RedisTransport uses Redis PUBLISH/SUBSCRIBE. Every instance subscribed to a
// channel receives each message published on it.
type RedisTransport struct {
	client redis.UniversalClient
	logger *slog.Logger

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
	wg     sync.WaitGroup
}

var _ Transport = (*RedisTransport)(nil)

// NewRedisTransport creates a transport on client. The client stays owned by the caller.
func NewRedisTransport(client redis.UniversalClient, logger *slog.Logger) *RedisTransport {
	return &RedisTransport{
		client: client,
		logger: logger,
	}
}

func (t *RedisTransport) Publish(ctx context.Context, channel string, data []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrTransportClosed
	}

	if err := t.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis channel %s: %w", channel, err)
	}
	return nil
}

func (t *RedisTransport) Subscribe(channel string, handler MessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTransportClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisSubscribeTimeout)
	defer cancel()

	pubsub := t.client.Subscribe(ctx, channel)
	// wait for the subscription to be confirmed so no message published after
	// Subscribe returns is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to redis channel %s: %w", channel, err)
	}
	t.subs = append(t.subs, pubsub)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for msg := range pubsub.Channel() {
			handler([]byte(msg.Payload))
		}
		t.logger.Info("Redis notification subscriber stopped", slog.String("channel", channel))
	}()

	return nil
}

func (t *RedisTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()

	var firstErr error
	for _, s := range subs {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.wg.Wait()
	return firstErr
}
