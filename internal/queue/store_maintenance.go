package queue

import (
	"context"
	"fmt"
	"time"
)

// JobsOlderThan returns jobs whose records predate the cutoff, regardless of
// status. The retention sweeper deletes these along with their storage trees.
func (s *Store) JobsOlderThan(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE created_at < ? ORDER BY created_at`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("query old jobs: %w", err)
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

// FailInterrupted marks queued and running jobs as failed with the shutdown
// reason. Used when the daemon stops without draining the queue.
func (s *Store) FailInterrupted(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, error_message = ?, lease_owner = NULL, lease_expires_at = NULL,
             last_heartbeat = NULL, updated_at = ?
         WHERE status = ?`,
		StatusFailed,
		ShutdownReason,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted jobs: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailed returns failed and cancelled jobs to the queue, clearing their
// error state. Stage records and artifacts are left in place so unchanged
// stages resume from cache. Without ids every failed job is requeued.
func (s *Store) RetryFailed(ctx context.Context, ids ...string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	if len(ids) == 0 {
		res, err := s.execWithRetry(
			ctx,
			`UPDATE jobs
             SET status = ?, error_stage = NULL, error_message = NULL,
                 progress_message = 'retry requested', cancel_requested = 0,
                 lease_owner = NULL, lease_expires_at = NULL, last_heartbeat = NULL,
                 updated_at = ?
             WHERE status = ?`,
			StatusQueued,
			now,
			StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed jobs: %w", err)
		}
		return res.RowsAffected()
	}

	args := make([]any, 0, len(ids)+4)
	args = append(args, StatusQueued, now, StatusFailed, StatusCancelled)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, error_stage = NULL, error_message = NULL,
             progress_message = 'retry requested', cancel_requested = 0,
             lease_owner = NULL, lease_expires_at = NULL, last_heartbeat = NULL,
             updated_at = ?
         WHERE status IN (?, ?) AND id IN (`+makePlaceholders(len(ids))+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("retry jobs: %w", err)
	}
	return res.RowsAffected()
}
