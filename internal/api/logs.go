package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	defaultLogTailLimit = 200
	maxLogTailLimit     = 1000
)

// handleLogTail serves the most recent daemon log lines from the in-memory
// stream. It is only routed when the daemon provides a stream.
func (s *Server) handleLogTail(c *gin.Context) {
	limit := defaultLogTailLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	if limit > maxLogTailLimit {
		limit = maxLogTailLimit
	}
	c.JSON(http.StatusOK, gin.H{"lines": s.logStream.Tail(limit)})
}
