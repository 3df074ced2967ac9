package events

import (
	"context"
	"fmt"
	"io"
	"time"
)

// DefaultKeepAliveInterval is how often an idle stream gets a keep-alive comment
const DefaultKeepAliveInterval = 30 * time.Second

var keepAliveFrame = []byte(": keep-alive\n\n")

// WriteEvent writes one event frame: "data: <json>\n\n"
func WriteEvent(w io.Writer, data []byte) error {
	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, '\n', '\n')
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write event frame: %w", err)
	}
	return nil
}

// WriteKeepAlive writes a comment frame that carries no event
func WriteKeepAlive(w io.Writer) error {
	if _, err := w.Write(keepAliveFrame); err != nil {
		return fmt.Errorf("failed to write keep-alive frame: %w", err)
	}
	return nil
}

// Stream copies frames from events to w until ctx is done or a write fails.
// A keep-alive frame is written every keepAlive regardless of event traffic.
// flush is called after each frame and may be nil.
func Stream(ctx context.Context, w io.Writer, flush func(), events <-chan []byte, keepAlive time.Duration) error {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAliveInterval
	}
	if flush == nil {
		flush = func() {}
	}

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-events:
			if !ok {
				return nil
			}
			if err := WriteEvent(w, data); err != nil {
				return err
			}
			flush()
		case <-ticker.C:
			if err := WriteKeepAlive(w); err != nil {
				return err
			}
			flush()
		}
	}
}
