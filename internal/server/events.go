package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// keepaliveEvery is the SSE comment interval that keeps idle connections
// from being cut by proxies.
const keepaliveEvery = 15 * time.Second

// handleEvents streams manager events as server-sent events until the client
// disconnects or the manager shuts down. ?service= narrows the stream to one
// service. Events the client is too slow to drain are dropped by the bus,
// never buffered without bound.
func (r *Router) handleEvents(c *gin.Context) {
	sub, cancel := r.mgr.Subscribe()
	defer cancel()

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	service := c.Query("service")
	keepalive := time.NewTicker(keepaliveEvery)
	defer keepalive.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := io.WriteString(c.Writer, ": keepalive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		case e, ok := <-sub:
			if !ok {
				return
			}
			if service != "" && e.ServiceID != service {
				continue
			}
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
