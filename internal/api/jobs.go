package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"studyreel/internal/queue"
	"studyreel/internal/storage"
)

const maxUploadBytes = 25 << 20

var documentExtensions = map[string]struct{}{
	".pdf": {},
	".txt": {},
	".md":  {},
}

type jobOptions struct {
	DurationClass string `json:"duration_class" form:"duration_class"`
	Pacing        string `json:"pacing" form:"pacing"`
	Personality   string `json:"personality" form:"personality"`
	CaptionStyle  string `json:"caption_style" form:"caption_style"`
	ExportExtras  bool   `json:"export_extras" form:"export_extras"`
}

type createJobRequest struct {
	Topic   string     `json:"topic"`
	Options jobOptions `json:"options"`
}

type stageView struct {
	Stage      string     `json:"stage"`
	Status     string     `json:"status"`
	Attempt    int        `json:"attempt,omitempty"`
	Detail     string     `json:"detail,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type jobView struct {
	ID              string          `json:"id"`
	InputKind       string          `json:"input_kind"`
	Topic           string          `json:"topic,omitempty"`
	Status          string          `json:"status"`
	CurrentStage    string          `json:"current_stage,omitempty"`
	ProgressPct     float64         `json:"progress_pct"`
	ProgressMessage string          `json:"progress_message,omitempty"`
	ErrorStage      string          `json:"error_stage,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	Config          queue.JobConfig `json:"config"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Stages          []stageView     `json:"stages,omitempty"`
}

func viewOf(job *queue.Job, records []*queue.StageRecord) jobView {
	view := jobView{
		ID:              job.ID,
		InputKind:       string(job.InputKind),
		Topic:           job.Topic,
		Status:          string(job.Status),
		CurrentStage:    job.CurrentStage,
		ProgressPct:     job.ProgressPercent,
		ProgressMessage: job.ProgressMessage,
		ErrorStage:      job.ErrorStage,
		ErrorMessage:    job.ErrorMessage,
		Config:          job.Config(),
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
	}
	for _, rec := range records {
		view.Stages = append(view.Stages, stageView{
			Stage:      rec.Stage,
			Status:     string(rec.Status),
			Attempt:    rec.Attempt,
			Detail:     rec.LogTail,
			StartedAt:  rec.StartedAt,
			FinishedAt: rec.FinishedAt,
		})
	}
	return view
}

// buildJobConfig validates the enum options; caption style is free-form with
// "none" reserved for disabling captions.
func buildJobConfig(opts jobOptions) (queue.JobConfig, error) {
	cfg := queue.JobConfig{
		DurationClass: strings.ToLower(strings.TrimSpace(opts.DurationClass)),
		CaptionStyle:  strings.ToLower(strings.TrimSpace(opts.CaptionStyle)),
		ExportExtras:  opts.ExportExtras,
	}
	if opts.Pacing != "" {
		pacing, ok := queue.ParsePacing(opts.Pacing)
		if !ok {
			return cfg, fmt.Errorf("unknown pacing %q", opts.Pacing)
		}
		cfg.Pacing = pacing
	}
	if opts.Personality != "" {
		personality, ok := queue.ParsePersonality(opts.Personality)
		if !ok {
			return cfg, fmt.Errorf("unknown personality %q", opts.Personality)
		}
		cfg.Personality = personality
	}
	switch cfg.DurationClass {
	case "", "short", "standard", "long":
	default:
		return cfg, fmt.Errorf("unknown duration class %q", opts.DurationClass)
	}
	cfg.Normalize()
	return cfg, nil
}

func (s *Server) handleCreateJob(c *gin.Context) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		s.createDocumentJob(c)
		return
	}
	s.createTopicJob(c)
}

func (s *Server) createTopicJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "topic is required"})
		return
	}
	jobCfg, err := buildJobConfig(req.Options)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := s.store.NewJob(c.Request.Context(), queue.NewJobParams{
		InputKind: queue.InputTopic,
		Topic:     topic,
		Config:    jobCfg,
		ClientID:  clientKey(c),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.log.Info("job created", "job_id", job.ID, "input_kind", job.InputKind)
	c.JSON(http.StatusCreated, viewOf(job, nil))
}

func (s *Server) createDocumentJob(c *gin.Context) {
	header, err := c.FormFile("document")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "document file is required"})
		return
	}
	if header.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "document exceeds the upload limit"})
		return
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if _, ok := documentExtensions[ext]; !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported document type %q", ext)})
		return
	}

	var opts jobOptions
	if err := c.ShouldBind(&opts); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid options: " + err.Error()})
		return
	}
	jobCfg, err := buildJobConfig(opts)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// The upload lands in a staging path first; the job id does not exist
	// until the record is inserted.
	staging := filepath.Join(s.cfg.JobsRoot(), "incoming", uuid.NewString()+ext)
	if err := os.MkdirAll(filepath.Dir(staging), 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "prepare staging dir: " + err.Error()})
		return
	}
	if err := c.SaveUploadedFile(header, staging); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store upload: " + err.Error()})
		return
	}

	job, err := s.store.NewJob(c.Request.Context(), queue.NewJobParams{
		InputKind:    queue.InputDocument,
		DocumentPath: staging,
		Config:       jobCfg,
		ClientID:     clientKey(c),
	})
	if err != nil {
		_ = os.Remove(staging)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if moved, err := s.moveIntoTree(job, staging, header.Filename); err != nil {
		// The staging path stays valid, so extract can still read the upload.
		s.log.Warn("move upload into job tree", "job_id", job.ID, "error", err)
	} else if err := s.store.SetDocumentPath(c.Request.Context(), job.ID, moved); err != nil {
		s.log.Warn("persist document path", "job_id", job.ID, "error", err)
	} else {
		job.DocumentPath = moved
	}

	s.log.Info("job created", "job_id", job.ID, "input_kind", job.InputKind, "document", header.Filename)
	c.JSON(http.StatusCreated, viewOf(job, nil))
}

func (s *Server) moveIntoTree(job *queue.Job, staging, filename string) (string, error) {
	tree := storage.NewJobTree(s.cfg.JobsRoot(), job.ID)
	if err := tree.Ensure(); err != nil {
		return "", err
	}
	dest := filepath.Join(tree.InputDir(), filepath.Base(filename))
	if err := os.Rename(staging, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func (s *Server) handleListJobs(c *gin.Context) {
	var statuses []queue.Status
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := queue.Status(strings.ToLower(strings.TrimSpace(part)))
			if !knownStatus(status) {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown status %q", part)})
				return
			}
			statuses = append(statuses, status)
		}
	}

	jobs, err := s.store.List(c.Request.Context(), statuses...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, viewOf(job, nil))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": views})
}

func (s *Server) handleGetJob(c *gin.Context) {
	job, ok := s.lookupJob(c)
	if !ok {
		return
	}
	records, err := s.store.StageRecords(c.Request.Context(), job.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, viewOf(job, records))
}

// handleDeleteJob cancels a live job; a terminal job is removed along with
// its storage tree.
func (s *Server) handleDeleteJob(c *gin.Context) {
	job, ok := s.lookupJob(c)
	if !ok {
		return
	}

	if !job.IsTerminal() {
		status, _, err := s.store.RequestCancel(c.Request.Context(), job.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		s.log.Info("cancel requested", "job_id", job.ID, "status", status)
		c.JSON(http.StatusAccepted, gin.H{"id": job.ID, "status": status, "cancel_requested": true})
		return
	}

	tree := storage.NewJobTree(s.cfg.JobsRoot(), job.ID)
	if err := tree.Remove(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "remove job tree: " + err.Error()})
		return
	}
	if _, err := s.store.Remove(c.Request.Context(), job.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.log.Info("job removed", "job_id", job.ID)
	c.Status(http.StatusNoContent)
}

func (s *Server) lookupJob(c *gin.Context) (*queue.Job, bool) {
	job, err := s.store.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return nil, false
	}
	return job, true
}

func knownStatus(status queue.Status) bool {
	for _, known := range queue.AllStatuses() {
		if status == known {
			return true
		}
	}
	return false
}
