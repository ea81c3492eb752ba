package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is open as well
	},
}

// WebSocketHandler streams job status until the job is terminal.
type WebSocketHandler struct {
	queue    JobQueue
	interval time.Duration
	logger   *zap.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler polling every interval.
func NewWebSocketHandler(queue JobQueue, interval time.Duration, logger *zap.Logger) *WebSocketHandler {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &WebSocketHandler{queue: queue, interval: interval, logger: logger}
}

// Stream handles GET /api/v1/jobs/:id/stream (WebSocket upgrade)
func (h *WebSocketHandler) Stream(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// The read loop only notices the client going away.
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	log := h.logger.With(zap.String("job_id", id.String()))
	log.Debug("WebSocket connection opened")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		status, err := h.queue.GetStatus(ctx, id)
		if err != nil {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteJSON(gin.H{"error": "Status temporarily unavailable"})
			return
		}

		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(status); err != nil {
			log.Debug("WebSocket write failed (client disconnected)", zap.Error(err))
			return
		}
		if status.Status.IsTerminal() {
			log.Debug("Job reached terminal state, closing WebSocket")
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(status.Status)),
				time.Now().Add(writeWait))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
