package worker

import "sync"

// Signal is a single-fire notification. Fire may be called any number of times;
// only the first call has an effect. Done can be awaited by any number of goroutines.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

// NewSignal returns an unfired Signal
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Fire sets the signal
func (s *Signal) Fire() {
	s.once.Do(func() { close(s.ch) })
}

// Done returns a channel that is closed once the signal fires
func (s *Signal) Done() <-chan struct{} {
	return s.ch
}

// Fired reports whether Fire has been called
func (s *Signal) Fired() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}
