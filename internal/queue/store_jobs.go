package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewJobParams collects the fields required to enqueue a job.
type NewJobParams struct {
	InputKind    InputKind
	Topic        string
	DocumentPath string
	Config       JobConfig
	ClientID     string
}

// NewJob inserts a queued job and returns the persisted record.
func (s *Store) NewJob(ctx context.Context, params NewJobParams) (*Job, error) {
	switch params.InputKind {
	case InputDocument:
		if params.DocumentPath == "" {
			return nil, errors.New("document jobs require a document path")
		}
	case InputTopic:
		if params.Topic == "" {
			return nil, errors.New("topic jobs require a topic")
		}
	default:
		return nil, fmt.Errorf("unknown input kind %q", params.InputKind)
	}

	params.Config.Normalize()

	id := uuid.NewString()
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO jobs (
            id, input_kind, topic, document_path, config_json, client_id,
            status, progress_percent, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		string(params.InputKind),
		nullableString(params.Topic),
		nullableString(params.DocumentPath),
		params.Config.JSON(),
		nullableString(params.ClientID),
		StatusQueued,
		0.0,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches a job by identifier. Returns nil when no job exists.
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Update persists the runner-owned fields of an existing job: status, stage,
// progress, and error columns. Cancellation flags and lease columns are only
// written by their dedicated statements, so a concurrent RequestCancel or
// RenewLease is never lost to a progress write. Terminal jobs are immutable;
// updates against them are silently dropped so a racing cancellation always
// wins over late runner writes.
func (s *Store) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()
	err := s.execWithoutResultRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, current_stage = ?, progress_percent = ?, progress_message = ?,
             error_stage = ?, error_message = ?, updated_at = ?
         WHERE id = ? AND status NOT IN (?, ?, ?)`,
		job.Status,
		nullableString(job.CurrentStage),
		job.ProgressPercent,
		nullableString(job.ProgressMessage),
		nullableString(job.ErrorStage),
		nullableString(job.ErrorMessage),
		job.UpdatedAt.Format(time.RFC3339Nano),
		job.ID,
		StatusSucceeded,
		StatusFailed,
		StatusCancelled,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// SetDocumentPath records the document's final location after intake moves
// the upload into the job tree.
func (s *Store) SetDocumentPath(ctx context.Context, id, path string) error {
	err := s.execWithoutResultRetry(
		ctx,
		`UPDATE jobs SET document_path = ?, updated_at = ? WHERE id = ?`,
		nullableString(path),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("set document path: %w", err)
	}
	return nil
}

// List returns jobs filtered by status set (or all jobs when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates job state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusQueued:
			health.Queued += count
		case StatusRunning:
			health.Running += count
		case StatusSucceeded:
			health.Succeeded += count
		case StatusFailed:
			health.Failed += count
		case StatusCancelled:
			health.Cancelled += count
		}
	}
	return health, nil
}

// Remove deletes a job by identifier. Stage records and artifacts cascade.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Clear removes all jobs.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs`)
	if err != nil {
		return 0, fmt.Errorf("clear jobs: %w", err)
	}
	return res.RowsAffected()
}
