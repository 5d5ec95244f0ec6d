package api

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"studyreel/internal/admission"
)

// requireAuth enforces the configured bearer token. An empty token leaves the
// API open, which suits localhost deployments.
func (s *Server) requireAuth() gin.HandlerFunc {
	token := strings.TrimSpace(s.cfg.Paths.APIToken)
	expected := []byte("Bearer " + token)
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		header := []byte(c.GetHeader("Authorization"))
		if subtle.ConstantTimeCompare(header, expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// admit applies one sliding-window ceiling to the request's client key.
func (s *Server) admit(limiter *admission.Limiter, kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision := limiter.Allow(clientKey(c))
		if decision.Allowed {
			c.Next()
			return
		}
		s.metrics.AdmissionRejected(kind)
		retryAfter := int(decision.RetryAfter.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":           kind + " rate limit exceeded",
			"limit_per_hour":  decision.Limit,
			"retry_after_sec": retryAfter,
		})
	}
}

// clientKey identifies the caller for rate limiting: the presented token
// when there is one, the remote address otherwise.
func clientKey(c *gin.Context) string {
	if auth := strings.TrimSpace(c.GetHeader("Authorization")); auth != "" {
		return auth
	}
	return c.ClientIP()
}
