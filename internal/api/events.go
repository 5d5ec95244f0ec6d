package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"studyreel/internal/progress"
)

const sseHeartbeatInterval = 15 * time.Second

// handleJobEvents streams progress over SSE. The first event is a snapshot of
// the current job record so late subscribers never start blind; the job
// record itself remains the poll fallback. The stream ends when the job
// reaches a terminal state or the subscriber is evicted.
func (s *Server) handleJobEvents(c *gin.Context) {
	job, ok := s.lookupJob(c)
	if !ok {
		return
	}

	flusher, canFlush := c.Writer.(http.Flusher)
	if !canFlush {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	snapshot := progress.Event{
		JobID:       job.ID,
		Stage:       job.CurrentStage,
		ProgressPct: job.ProgressPercent,
		Status:      job.Status,
		Timestamp:   time.Now().UTC(),
	}
	writeSSE(c.Writer, snapshot)
	flusher.Flush()
	if job.IsTerminal() {
		return
	}

	sub := s.hub.Subscribe(job.ID)
	defer s.hub.Unsubscribe(sub)
	s.metrics.SubscriberConnected()
	defer s.metrics.SubscriberDisconnected()

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": heartbeat\n\n")
			flusher.Flush()
		case evt, open := <-sub.Events():
			if !open {
				return
			}
			writeSSE(c.Writer, evt)
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, evt progress.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
}
