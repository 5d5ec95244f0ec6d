// Package api exposes the daemon's HTTP surface: job submission and
// inspection, live progress streaming, artifact downloads, asset catalogs,
// health, and metrics. Requests are authenticated with the configured bearer
// token and rate limited per client before they reach the queue.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"studyreel/internal/admission"
	"studyreel/internal/config"
	"studyreel/internal/logging"
	"studyreel/internal/metrics"
	"studyreel/internal/progress"
	"studyreel/internal/queue"
)

// Server serves the HTTP API.
type Server struct {
	cfg       *config.Config
	store     *queue.Store
	hub       *progress.Hub
	metrics   *metrics.Metrics
	jobLimit  *admission.Limiter
	downLimit *admission.Limiter
	logStream *logging.StreamHub
	log       *slog.Logger
	engine    *gin.Engine

	listener net.Listener
	server   *http.Server
}

// NewServer wires the routes over the given store and hub. A non-nil
// logStream enables the daemon log tail endpoint.
func NewServer(cfg *config.Config, store *queue.Store, hub *progress.Hub, m *metrics.Metrics, logStream *logging.StreamHub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		cfg:       cfg,
		store:     store,
		hub:       hub,
		metrics:   m,
		jobLimit:  admission.NewLimiter(cfg.Admission.JobsPerHour),
		downLimit: admission.NewLimiter(cfg.Admission.DownloadsPerHour),
		logStream: logStream,
		log:       logging.NewComponentLogger(logger, "api"),
		engine:    engine,
	}
	s.routes()
	return s
}

// Handler returns the underlying HTTP handler, used directly by tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	e := s.engine
	e.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		e.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	authed := e.Group("/", s.requireAuth())
	authed.POST("/jobs", s.admit(s.jobLimit, "job"), s.handleCreateJob)
	authed.GET("/jobs", s.handleListJobs)
	authed.GET("/jobs/:id", s.handleGetJob)
	authed.GET("/jobs/:id/events", s.handleJobEvents)
	authed.DELETE("/jobs/:id", s.handleDeleteJob)

	download := s.admit(s.downLimit, "download")
	authed.GET("/jobs/:id/download", download, s.handleDownload("final.mp4"))
	authed.GET("/jobs/:id/download/srt", download, s.handleDownload("captions.srt"))
	authed.GET("/jobs/:id/download/notes", download, s.handleDownload("notes.md"))
	authed.GET("/jobs/:id/download/anki", download, s.handleDownload("anki.csv"))
	authed.GET("/jobs/:id/download/quiz", download, s.handleDownload("quiz.json"))

	authed.GET("/assets/:kind", s.handleAssetCatalog)
	if s.logStream != nil {
		authed.GET("/logs", s.handleLogTail)
	}
}

// Start binds the configured address and serves until the context ends.
func (s *Server) Start(ctx context.Context) error {
	bind := strings.TrimSpace(s.cfg.Paths.APIBind)
	if bind == "" {
		return errors.New("api bind address is empty")
	}
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("api server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.log.Info("api server listening", "address", listener.Addr().String())
	return nil
}

// Addr returns the bound listen address, valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, draining in-flight requests briefly.
func (s *Server) Stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		s.server = nil
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	summary, err := s.store.Health(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"queue": gin.H{
			"total":     summary.Total,
			"queued":    summary.Queued,
			"running":   summary.Running,
			"succeeded": summary.Succeeded,
			"failed":    summary.Failed,
			"cancelled": summary.Cancelled,
		},
	})
}
