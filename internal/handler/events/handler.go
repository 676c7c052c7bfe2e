package events

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/rx-api/internal/middleware"
	"github.com/jwalitptl/rx-api/internal/service/notification"
	"github.com/jwalitptl/rx-api/pkg/httputil"
)

// Handler streams refresh notifications as server-sent events. Streams end
// with the request deadline; EventSource clients reconnect on their own.
type Handler struct {
	hub       *notification.Hub
	keepAlive time.Duration
}

// NewHandler accepts a nil hub when no subscriber is configured.
func NewHandler(hub *notification.Hub, keepAlive time.Duration) *Handler {
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	return &Handler{hub: hub, keepAlive: keepAlive}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, _ *middleware.AuthMiddleware) {
	r.GET("/events", middleware.NoStore(), h.Stream)
}

func (h *Handler) Stream(c *gin.Context) {
	if h.hub == nil {
		httputil.Abort(c, http.StatusServiceUnavailable, "live updates are not configured")
		return
	}

	notifications, stop, err := h.hub.Listen(middleware.IdentityFrom(c))
	if err != nil {
		httputil.Abort(c, http.StatusServiceUnavailable, "live updates are unavailable")
		return
	}
	defer stop()

	c.Header("Content-Type", "text/event-stream;charset=utf-8")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case n, ok := <-notifications:
			if !ok {
				return false
			}
			c.SSEvent(n.Type, n)
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
