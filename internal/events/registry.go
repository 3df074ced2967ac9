package events

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrSinkFull is returned by ChannelSink when the client is not keeping up
var ErrSinkFull = errors.New("sink buffer full")

// Sink receives encoded events for one client connection. Send must not block.
type Sink interface {
	Send(data []byte) error
}

// ChannelSink is a Sink backed by a buffered channel. An event that does not fit
// in the buffer is dropped for this sink only.
type ChannelSink struct {
	ch chan []byte
}

// NewChannelSink creates a ChannelSink holding up to size pending events
func NewChannelSink(size int) *ChannelSink {
	if size < 1 {
		size = 1
	}
	return &ChannelSink{ch: make(chan []byte, size)}
}

func (s *ChannelSink) Send(data []byte) error {
	select {
	case s.ch <- data:
		return nil
	default:
		return ErrSinkFull
	}
}

// C returns the channel events are delivered on
func (s *ChannelSink) C() <-chan []byte {
	return s.ch
}

// Connection is one registered client connection
type Connection struct {
	ID     string
	UserID string
	Sink   Sink
}

// Registry maps user ids to their local connections
type Registry struct {
	mu    sync.RWMutex
	conns map[string]map[string]Sink
}

// NewRegistry returns an empty Registry
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]map[string]Sink)}
}

// Add registers sink for userID
func (r *Registry) Add(userID string, sink Sink) Connection {
	conn := Connection{ID: uuid.NewString(), UserID: userID, Sink: sink}

	r.mu.Lock()
	defer r.mu.Unlock()

	sinks, ok := r.conns[userID]
	if !ok {
		sinks = make(map[string]Sink)
		r.conns[userID] = sinks
	}
	sinks[conn.ID] = sink
	return conn
}

// Remove unregisters a connection. Removing an unknown connection is a no-op;
// removing a user's last connection drops the user entry.
func (r *Registry) Remove(conn Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sinks, ok := r.conns[conn.UserID]
	if !ok {
		return
	}
	delete(sinks, conn.ID)
	if len(sinks) == 0 {
		delete(r.conns, conn.UserID)
	}
}

// sinksFor snapshots the sinks of userID, or of every user when userID is empty
func (r *Registry) sinksFor(userID string) []Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Sink
	if userID != "" {
		for _, s := range r.conns[userID] {
			out = append(out, s)
		}
		return out
	}
	for _, sinks := range r.conns {
		for _, s := range sinks {
			out = append(out, s)
		}
	}
	return out
}

// Users returns the number of users with at least one connection
func (r *Registry) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Connections returns the number of connections registered for userID
func (r *Registry) Connections(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID])
}
