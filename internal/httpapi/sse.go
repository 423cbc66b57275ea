package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// streamEvents is the long-lived kiosk event stream. The kiosk subscribes to
// its own bus channel; no history is replayed, a reconnecting client sees
// only events published after it attached.
//
// Frame protocol: an initial reconnect hint, then JSON data frames and
// periodic heartbeat comments.
func (r *Runner) streamEvents(c *gin.Context) {
	principal := principalFrom(c)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	fmt.Fprintf(c.Writer, "retry: %d\n\n", r.retryMillis)
	flusher.Flush()

	sub := r.bus.Subscribe(principal.KioskID)
	defer sub.Close()
	r.logger.Info("sse stream opened", "kiosk_id", principal.KioskID)

	heartbeat := time.NewTicker(r.pingInterval)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("sse stream closed", "kiosk_id", principal.KioskID)
			return

		case evt, open := <-sub.C():
			if !open {
				// Bus shut down; end the stream with EOF.
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				r.logger.Error("unserializable bus event dropped",
					"kiosk_id", principal.KioskID, "error", err)
				continue
			}
			fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
			flusher.Flush()

		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": ping\n\n")
			flusher.Flush()
		}
	}
}
