package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/contentgen-be/internal/events"
	"github.com/gin-gonic/gin"
)

// StreamEvents handles GET /api/v1/events
// Holds a server-sent event stream open for the caller until they disconnect
func (h *EventHandler) StreamEvents(c *gin.Context) {
	user := CurrentUser(c)

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	sink := events.NewChannelSink(h.sinkBuffer)
	conn := h.bus.Subscribe(user.ID, sink)
	defer h.bus.Unsubscribe(conn)

	logger := h.logger.With(
		slog.String("user_id", user.ID),
		slog.String("connection_id", conn.ID),
	)
	logger.Info("Event stream opened")

	err := events.Stream(c.Request.Context(), c.Writer, c.Writer.Flush, sink.C(), h.keepAlive)
	if err != nil {
		logger.Debug("Event stream write failed", slog.Any("error", err))
	}

	logger.Info("Event stream closed")
}
