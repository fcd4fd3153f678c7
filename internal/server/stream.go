package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/taskconsole/internal/metrics"
)

type streamMessage struct {
	Update bool   `json:"update"`
	Output string `json:"output"`
}

// handleStream pushes {update, output} events every stream interval. The
// first event is sent at once. The stream ends when the client goes away,
// a write fails or the process leaves the registry.
//
// The change snapshot belongs to the process, not to the connection: with
// several streams open on one process, only the first to poll after a
// change gets update:true. Clients that need the full text use
// get_output.
func (r *Router) handleStream(c *gin.Context) {
	id, ok := processID(c)
	if !ok {
		return
	}
	if _, found := r.mgr.Get(id); !found {
		writeError(c, http.StatusNotFound, "No process found with id "+id)
		return
	}

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	metrics.IncStreams()
	defer metrics.DecStreams()
	logger := r.logger.With("process_id", id)
	logger.Debug("Stream opened")

	ctx := c.Request.Context()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		p, found := r.mgr.Get(id)
		if !found {
			logger.Debug("Stream closed, process gone")
			return
		}
		out := p.Capture().Update()
		if err := writeEvent(w, streamMessage{Update: out != "", Output: out}); err != nil {
			logger.Debug("Stream closed, client disconnected", "error", err)
			return
		}
		w.Flush()

		select {
		case <-ctx.Done():
			logger.Debug("Stream closed")
			return
		case <-ticker.C:
		}
	}
}

func writeEvent(w http.ResponseWriter, msg streamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
