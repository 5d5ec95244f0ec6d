package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// StageStatus represents the lifecycle of one stage execution within a job.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// InputKind distinguishes document uploads from free-form topics.
type InputKind string

const (
	InputDocument InputKind = "document"
	InputTopic    InputKind = "topic"
)

// CancelReason is the error message recorded when a job is cancelled by request.
const CancelReason = "cancelled by user"

// ShutdownReason is the error message recorded when jobs are interrupted by daemon shutdown.
const ShutdownReason = "daemon stopped"

var allStatuses = []Status{
	StatusQueued,
	StatusRunning,
	StatusSucceeded,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var terminalStatuses = map[Status]struct{}{
	StatusSucceeded: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// Job represents a pipeline job persisted in SQLite.
type Job struct {
	ID              string
	InputKind       InputKind
	Topic           string
	DocumentPath    string
	ConfigJSON      string
	ClientID        string
	Status          Status
	CurrentStage    string
	ProgressPercent float64
	ProgressMessage string
	ErrorStage      string
	ErrorMessage    string
	CancelRequested bool
	LeaseOwner      string
	LeaseExpiresAt  *time.Time
	LastHeartbeat   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StageRecord captures one stage execution within a job.
type StageRecord struct {
	JobID       string
	Stage       string
	Status      StageStatus
	Attempt     int
	Fingerprint string
	LogTail     string
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

// Artifact is one manifest entry produced by a stage.
type Artifact struct {
	ID          int64
	JobID       string
	Stage       string
	Name        string
	Path        string
	Kind        string
	Final       bool
	Fingerprint string
	SizeBytes   int64
	CreatedAt   time.Time
}

// HealthSummary describes aggregated job counts per key lifecycle states.
type HealthSummary struct {
	Total     int
	Queued    int
	Running   int
	Succeeded int
	Failed    int
	Cancelled int
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status is final. Terminal jobs are immutable
// apart from deletion.
func (s Status) IsTerminal() bool {
	_, ok := terminalStatuses[s]
	return ok
}

// IsTerminal reports whether the job has reached a final state.
func (j Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// SetProgress updates the progress fields together. The runner persists the
// job afterwards; progress never decreases for a live job.
func (j *Job) SetProgress(stage, message string, percent float64) {
	j.CurrentStage = stage
	j.ProgressMessage = message
	if percent > j.ProgressPercent {
		j.ProgressPercent = percent
	}
}

// SetFailed marks the job as failed at the given stage.
func (j *Job) SetFailed(stage, message string) {
	j.Status = StatusFailed
	j.ErrorStage = stage
	j.ErrorMessage = message
	j.ProgressMessage = message
	j.LastHeartbeat = nil
	j.LeaseOwner = ""
	j.LeaseExpiresAt = nil
}

// SetSucceeded marks the job as completed.
func (j *Job) SetSucceeded() {
	j.Status = StatusSucceeded
	j.ProgressPercent = 100
	j.ProgressMessage = "completed"
	j.ErrorStage = ""
	j.ErrorMessage = ""
	j.LastHeartbeat = nil
	j.LeaseOwner = ""
	j.LeaseExpiresAt = nil
}
