package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nsqio/go-nsq"
)

// NSQPublisher is satisfied by *nsq.Producer
type NSQPublisher interface {
	Publish(topic string, body []byte) error
	Stop()
}

// NSQConsumerFactory starts a consumer of topic/channel delivering to handler
type NSQConsumerFactory func(topic, channel string, handler nsq.Handler) (*nsq.Consumer, error)

// NSQTransport maps each channel to an NSQ topic. Every instance reads the topic
// through its own ephemeral NSQ channel, so every instance gets every message and
// nsqd discards the channel when the instance goes away.
type NSQTransport struct {
	producer    NSQPublisher
	newConsumer NSQConsumerFactory
	instanceID  string
	logger      *slog.Logger

	mu        sync.Mutex
	consumers []*nsq.Consumer
	closed    bool
}

var _ Transport = (*NSQTransport)(nil)

// NewNSQTransport creates a transport; instanceID names this instance's NSQ channel
func NewNSQTransport(producer NSQPublisher, newConsumer NSQConsumerFactory, instanceID string, logger *slog.Logger) *NSQTransport {
	return &NSQTransport{
		producer:    producer,
		newConsumer: newConsumer,
		instanceID:  instanceID,
		logger:      logger,
	}
}

// EphemeralChannel returns the NSQ channel name used by instanceID
func EphemeralChannel(instanceID string) string {
	return fmt.Sprintf("events-%s#ephemeral", instanceID)
}

func (t *NSQTransport) Publish(_ context.Context, channel string, data []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrTransportClosed
	}

	if err := t.producer.Publish(channel, data); err != nil {
		return fmt.Errorf("failed to publish to nsq topic %s: %w", channel, err)
	}
	return nil
}

func (t *NSQTransport) Subscribe(channel string, handler MessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTransportClosed
	}

	consumer, err := t.newConsumer(channel, EphemeralChannel(t.instanceID), nsq.HandlerFunc(func(m *nsq.Message) error {
		handler(m.Body)
		return nil
	}))
	if err != nil {
		return fmt.Errorf("failed to consume nsq topic %s: %w", channel, err)
	}
	t.consumers = append(t.consumers, consumer)

	t.logger.Info("NSQ notification consumer started",
		slog.String("topic", channel),
		slog.String("channel", EphemeralChannel(t.instanceID)),
	)
	return nil
}

func (t *NSQTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	consumers := t.consumers
	t.consumers = nil
	t.mu.Unlock()

	for _, c := range consumers {
		c.Stop()
		<-c.StopChan
	}
	t.producer.Stop()
	return nil
}
