package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPClient is the part of the RabbitMQ client the transport uses
type AMQPClient interface {
	DeclareFanout(exchange string) error
	PublishWithRetry(ctx context.Context, exchange, routingKey string, body []byte, contentType string) error
	ConsumeEphemeral(exchange, consumerTag string) (<-chan amqp.Delivery, error)
	Close() error
}

const (
	defaultResubscribeInterval = time.Second
	maxResubscribeInterval     = 30 * time.Second
)

// RabbitMQTransport maps each channel to a fanout exchange. Every instance
// consumes through its own exclusive, auto-delete queue bound to the exchange,
// so each published message reaches every running instance once. When the
// broker drops a consumer, the transport declares and consumes again until it
// succeeds or is closed.
type RabbitMQTransport struct {
	client     AMQPClient
	instanceID string
	logger     *slog.Logger

	resubscribeInterval time.Duration

	mu       sync.Mutex
	declared map[string]bool
	closed   bool
	stop     chan struct{}
	wg       sync.WaitGroup
}

var _ Transport = (*RabbitMQTransport)(nil)

// NewRabbitMQTransport creates a transport; instanceID names this instance's consumers
func NewRabbitMQTransport(client AMQPClient, instanceID string, logger *slog.Logger) *RabbitMQTransport {
	return &RabbitMQTransport{
		client:              client,
		instanceID:          instanceID,
		logger:              logger,
		resubscribeInterval: defaultResubscribeInterval,
		declared:            make(map[string]bool),
		stop:                make(chan struct{}),
	}
}

func (t *RabbitMQTransport) ensureExchange(channel string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTransportClosed
	}
	if t.declared[channel] {
		return nil
	}
	if err := t.client.DeclareFanout(channel); err != nil {
		return err
	}
	t.declared[channel] = true
	return nil
}

func (t *RabbitMQTransport) Publish(ctx context.Context, channel string, data []byte) error {
	if err := t.ensureExchange(channel); err != nil {
		return err
	}
	if err := t.client.PublishWithRetry(ctx, channel, "", data, "application/json"); err != nil {
		// the exchange may be gone after a broker restart
		t.forgetExchange(channel)
		return err
	}
	return nil
}

func (t *RabbitMQTransport) Subscribe(channel string, handler MessageHandler) error {
	deliveries, err := t.consume(channel)
	if err != nil {
		return err
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			for d := range deliveries {
				handler(d.Body)
			}

			t.logger.Warn("RabbitMQ notification consumer stopped", slog.String("exchange", channel))
			var ok bool
			if deliveries, ok = t.resubscribe(channel); !ok {
				return
			}
		}
	}()

	return nil
}

func (t *RabbitMQTransport) consume(channel string) (<-chan amqp.Delivery, error) {
	if err := t.ensureExchange(channel); err != nil {
		return nil, err
	}
	deliveries, err := t.client.ConsumeEphemeral(channel, fmt.Sprintf("%s-%s", channel, t.instanceID))
	if err != nil {
		return nil, fmt.Errorf("failed to consume %s: %w", channel, err)
	}
	return deliveries, nil
}

// resubscribe retries consume with backoff. It reports false once the transport is closed.
func (t *RabbitMQTransport) resubscribe(channel string) (<-chan amqp.Delivery, bool) {
	delay := t.resubscribeInterval
	for attempt := 1; ; attempt++ {
		select {
		case <-t.stop:
			return nil, false
		default:
		}

		t.forgetExchange(channel)
		deliveries, err := t.consume(channel)
		if err == nil {
			t.logger.Info("RabbitMQ notification consumer resubscribed",
				slog.String("exchange", channel),
				slog.Int("attempt", attempt),
			)
			return deliveries, true
		}

		t.logger.Warn("Failed to resubscribe to RabbitMQ",
			slog.String("exchange", channel),
			slog.Int("attempt", attempt),
			slog.Duration("retry_after", delay),
			slog.Any("error", err),
		)

		select {
		case <-t.stop:
			return nil, false
		case <-time.After(delay):
		}
		delay = min(delay*2, maxResubscribeInterval)
	}
}

func (t *RabbitMQTransport) forgetExchange(channel string) {
	t.mu.Lock()
	delete(t.declared, channel)
	t.mu.Unlock()
}

// Close closes the client, which ends every consumer, and waits for them
func (t *RabbitMQTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.stop)
	t.mu.Unlock()

	err := t.client.Close()
	t.wg.Wait()
	return err
}
