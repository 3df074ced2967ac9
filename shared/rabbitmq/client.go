package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNotConnected is returned when the client has no open channel
var ErrNotConnected = errors.New("not connected to RabbitMQ")

// Config holds RabbitMQ connection configuration
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ExchangeDurable    bool
	PrefetchCount      int
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
}

// DSN returns the AMQP connection URL
func (c *Config) DSN() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.VHost,
	)
}

// maxReconnectInterval caps the backoff between reconnect attempts
const maxReconnectInterval = 30 * time.Second

// Client represents a RabbitMQ client. After an unexpected close it keeps
// reconnecting in the background until Close is called.
type Client struct {
	config *Config
	logger *slog.Logger

	mu          sync.RWMutex
	conn        *amqp.Connection
	channel     *amqp.Channel
	isConnected bool
	closing     bool
	done        chan struct{}
}

// NewClient creates a new RabbitMQ client
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{
		config: config,
		logger: logger,
		done:   make(chan struct{}),
	}

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

// connect establishes connection to RabbitMQ with retry logic
func (c *Client) connect() error {
	attempts := c.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		if err = c.dial(); err == nil {
			c.logger.Info("Successfully connected to RabbitMQ")
			return nil
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < attempts {
			time.Sleep(c.config.RetryInterval)
		}
	}

	return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
}

// dial opens a connection and channel and starts watching them for closure
func (c *Client) dial() error {
	conn, err := amqp.DialConfig(c.config.DSN(), amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	})
	if err != nil {
		return err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if c.config.PrefetchCount > 0 {
		if err := channel.Qos(c.config.PrefetchCount, 0, false); err != nil {
			channel.Close()
			conn.Close()
			return fmt.Errorf("failed to set QoS: %w", err)
		}
	}

	closeChan := channel.NotifyClose(make(chan *amqp.Error, 1))

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		channel.Close()
		conn.Close()
		return ErrNotConnected
	}
	c.conn = conn
	c.channel = channel
	c.isConnected = true
	c.mu.Unlock()

	go c.watchClose(conn, closeChan)

	return nil
}

// watchClose marks the client disconnected when the broker closes the channel
// and reconnects unless Close was called
func (c *Client) watchClose(conn *amqp.Connection, closeChan <-chan *amqp.Error) {
	amqpErr, ok := <-closeChan

	c.mu.Lock()
	c.isConnected = false
	closing := c.closing
	c.mu.Unlock()

	if closing {
		return
	}

	if ok && amqpErr != nil {
		c.logger.Error("RabbitMQ channel closed",
			slog.Int("code", amqpErr.Code),
			slog.String("reason", amqpErr.Reason),
		)
	} else {
		c.logger.Error("RabbitMQ channel closed unexpectedly")
	}

	if !conn.IsClosed() {
		conn.Close()
	}
	c.reconnect()
}

// reconnect dials with exponential backoff until it succeeds or Close is called
func (c *Client) reconnect() {
	delay := c.config.RetryInterval
	if delay <= 0 {
		delay = time.Second
	}

	for attempt := 1; ; attempt++ {
		select {
		case <-c.done:
			return
		case <-time.After(delay):
		}

		err := c.dial()
		if err == nil {
			c.logger.Info("Reconnected to RabbitMQ", slog.Int("attempt", attempt))
			return
		}

		c.logger.Warn("Failed to reconnect to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Duration("retry_after", delay),
			slog.Any("error", err),
		)
		delay = min(delay*2, maxReconnectInterval)
	}
}

func (c *Client) getChannel() (*amqp.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isConnected || c.channel == nil {
		return nil, ErrNotConnected
	}
	return c.channel, nil
}

// DeclareFanout declares a fanout exchange named exchange
func (c *Client) DeclareFanout(exchange string) error {
	channel, err := c.getChannel()
	if err != nil {
		return err
	}

	err = channel.ExchangeDeclare(
		exchange,                 // name
		amqp.ExchangeFanout,      // type
		c.config.ExchangeDurable, // durable
		false,                    // auto-deleted
		false,                    // internal
		false,                    // no-wait
		nil,                      // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return nil
}

// ConsumeEphemeral declares a server-named, exclusive, auto-delete queue bound to
// exchange and consumes it with auto-ack. The queue disappears with the connection.
func (c *Client) ConsumeEphemeral(exchange, consumerTag string) (<-chan amqp.Delivery, error) {
	channel, err := c.getChannel()
	if err != nil {
		return nil, err
	}

	queue, err := channel.QueueDeclare(
		"",    // name, generated by the server
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := channel.QueueBind(queue.Name, "", exchange, false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind queue %s to %s: %w", queue.Name, exchange, err)
	}

	messages, err := channel.Consume(
		queue.Name,  // queue
		consumerTag, // consumer tag
		true,        // auto-ack
		true,        // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("exchange", exchange),
		slog.String("queue", queue.Name),
		slog.String("consumer_tag", consumerTag),
	)

	return messages, nil
}

// PublishWithRetry publishes a transient message with retry logic and exponential backoff
func (c *Client) PublishWithRetry(ctx context.Context, exchange, routingKey string, body []byte, contentType string) error {
	maxRetries := c.config.PublishRetries
	if maxRetries <= 0 {
		maxRetries = 3 // default
	}

	baseDelay := c.config.PublishRetryDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond // default
	}

	backoffMult := c.config.PublishBackoffMult
	if backoffMult <= 0 {
		backoffMult = 2.0 // default
	}

	var lastErr error
	delay := baseDelay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		channel, err := c.getChannel()
		if err == nil {
			err = channel.PublishWithContext(
				ctx,
				exchange,   // exchange
				routingKey, // routing key
				false,      // mandatory
				false,      // immediate
				amqp.Publishing{
					ContentType:  contentType,
					Body:         body,
					DeliveryMode: amqp.Transient,
					Timestamp:    time.Now(),
				},
			)
		}

		if err == nil {
			if attempt > 0 {
				c.logger.Info("Successfully published message to RabbitMQ after retry",
					slog.Int("attempt", attempt+1),
					slog.Int("body_size", len(body)),
				)
			} else {
				c.logger.Debug("Message published to RabbitMQ",
					slog.String("exchange", exchange),
					slog.Int("body_size", len(body)),
				)
			}
			return nil
		}

		lastErr = err

		if attempt < maxRetries {
			c.logger.Warn("Failed to publish message to RabbitMQ, retrying...",
				slog.Int("attempt", attempt+1),
				slog.Int("max_retries", maxRetries),
				slog.Duration("retry_after", delay),
				slog.Any("error", err),
			)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("failed to publish message: %w", ctx.Err())
			}
			delay = time.Duration(float64(delay) * backoffMult)
		}
	}

	c.logger.Error("Failed to publish message to RabbitMQ after all retries",
		slog.Int("attempts", maxRetries+1),
		slog.Any("error", lastErr),
	)
	return fmt.Errorf("failed to publish message after %d attempts: %w", maxRetries+1, lastErr)
}

// Close closes the RabbitMQ connection and stops reconnecting
func (c *Client) Close() error {
	c.logger.Info("Closing RabbitMQ connection")

	c.mu.Lock()
	if !c.closing && c.done != nil {
		close(c.done)
	}
	c.closing = true
	c.isConnected = false
	channel, conn := c.channel, c.conn
	c.mu.Unlock()

	if channel != nil {
		if err := channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Error("Failed to close RabbitMQ channel",
				slog.Any("error", err),
			)
		}
	}

	if conn != nil && !conn.IsClosed() {
		if err := conn.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ connection",
				slog.Any("error", err),
			)
			return err
		}
	}

	c.logger.Info("RabbitMQ connection closed successfully")
	return nil
}

// HealthCheck reports ErrNotConnected while the client is disconnected
func (c *Client) HealthCheck(_ context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected && c.conn != nil && !c.conn.IsClosed()
}
