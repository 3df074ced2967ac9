package events

import (
	"context"
	"errors"
	"sync"
)

// ErrTransportClosed is returned when publishing or subscribing after Close
var ErrTransportClosed = errors.New("transport closed")

// MessageHandler receives raw messages delivered on a channel
type MessageHandler func(data []byte)

// Transport fans messages out to every subscriber of a channel. Cross-instance
// transports deliver to subscribers in every process attached to the broker.
type Transport interface {
	Publish(ctx context.Context, channel string, data []byte) error
	Subscribe(channel string, handler MessageHandler) error
	Close() error
}

// LocalTransport delivers messages to subscribers in the same process
type LocalTransport struct {
	mu       sync.RWMutex
	handlers map[string][]MessageHandler
	closed   bool
}

var _ Transport = (*LocalTransport)(nil)

// NewLocalTransport creates a LocalTransport
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{handlers: make(map[string][]MessageHandler)}
}

// Publish calls every handler subscribed to channel synchronously
func (t *LocalTransport) Publish(_ context.Context, channel string, data []byte) error {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return ErrTransportClosed
	}
	handlers := append([]MessageHandler(nil), t.handlers[channel]...)
	t.mu.RUnlock()

	for _, h := range handlers {
		h(data)
	}
	return nil
}

func (t *LocalTransport) Subscribe(channel string, handler MessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTransportClosed
	}
	t.handlers[channel] = append(t.handlers[channel], handler)
	return nil
}

func (t *LocalTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	t.handlers = make(map[string][]MessageHandler)
	return nil
}
