package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// DefaultChannel is the transport channel notifications travel on
const DefaultChannel = "contentgen.notifications"

// Bus publishes notifications through a Transport and delivers the messages it
// receives back from the transport to matching local connections
type Bus struct {
	transport Transport
	channel   string
	registry  *Registry
	logger    *slog.Logger
}

// NewBus creates a Bus. Call Start before expecting deliveries.
func NewBus(transport Transport, channel string, logger *slog.Logger) *Bus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Bus{
		transport: transport,
		channel:   channel,
		registry:  NewRegistry(),
		logger:    logger,
	}
}

// Start subscribes the bus to its transport channel
func (b *Bus) Start() error {
	if err := b.transport.Subscribe(b.channel, b.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}
	b.logger.Info("Event bus started", slog.String("channel", b.channel))
	return nil
}

// Close releases the transport
func (b *Bus) Close() error {
	return b.transport.Close()
}

// PublishToUser sends event to every connection of userID on every instance
func (b *Bus) PublishToUser(ctx context.Context, userID string, event Event) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	return b.publish(ctx, Message{UserID: userID}, event)
}

// Broadcast sends event to every connection on every instance
func (b *Bus) Broadcast(ctx context.Context, event Event) error {
	return b.publish(ctx, Message{Broadcast: true}, event)
}

func (b *Bus) publish(ctx context.Context, msg Message, event Event) error {
	encoded, err := Encode(event)
	if err != nil {
		return err
	}
	msg.Event = encoded

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := b.transport.Publish(ctx, b.channel, data); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.EventType(), err)
	}
	return nil
}

// Subscribe registers sink as a connection of userID
func (b *Bus) Subscribe(userID string, sink Sink) Connection {
	conn := b.registry.Add(userID, sink)
	b.logger.Debug("Client connected",
		slog.String("user_id", userID),
		slog.String("connection_id", conn.ID),
	)
	return conn
}

// Unsubscribe removes a connection. Safe to call more than once.
func (b *Bus) Unsubscribe(conn Connection) {
	b.registry.Remove(conn)
	b.logger.Debug("Client disconnected",
		slog.String("user_id", conn.UserID),
		slog.String("connection_id", conn.ID),
	)
}

// Registry exposes the local connection registry
func (b *Bus) Registry() *Registry {
	return b.registry
}

func (b *Bus) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		b.logger.Warn("Dropping malformed notification message", slog.Any("error", err))
		return
	}

	target := msg.UserID
	if msg.Broadcast {
		target = ""
	} else if target == "" {
		return
	}

	for _, sink := range b.registry.sinksFor(target) {
		// a failed sink belongs to a connection that is going away
		if err := sink.Send(msg.Event); err != nil {
			b.logger.Debug("Dropped event for client",
				slog.String("user_id", msg.UserID),
				slog.Any("error", err),
			)
		}
	}
}
