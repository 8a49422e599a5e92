package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/YallaPapi/i2v-sub001/logger"
)

const keepAliveInterval = 25 * time.Second

// streamEvents streams step and pipeline status updates for one pipeline
// over Server-Sent Events until the client disconnects.
func (h *Handler) streamEvents(c *gin.Context) {
	id, ok := h.pipelineID(c)
	if !ok {
		return
	}
	if _, err := h.store.GetPipeline(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}

	w := c.Writer
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.respondError(c, fmt.Errorf("streaming not supported"))
		return
	}

	// SSE connections outlive the server's write timeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.log.Warn("could not disable write deadline", logger.Fields(
			logger.FieldPipelineID, id,
			"error", err.Error(),
		))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch, cancel := h.hub.Subscribe(id)
	defer cancel()

	fmt.Fprintf(w, "event: connected\ndata: {\"pipeline_id\":%q}\n\n", id)
	flusher.Flush()

	h.log.Debug("event stream opened", logger.Fields(
		logger.FieldPipelineID, id,
		"client", c.ClientIP(),
	))

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			h.log.Debug("event stream closed", logger.Fields(logger.FieldPipelineID, id))
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: step_update\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
