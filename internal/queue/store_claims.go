package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ClaimNext atomically moves the oldest queued job to running and leases it to
// the named worker. Returns nil when no job is claimable.
func (s *Store) ClaimNext(ctx context.Context, owner string, leaseTTL time.Duration) (*Job, error) {
	if owner == "" {
		return nil, errors.New("claim requires a worker identity")
	}

	ctx = ensureContext(ctx)
	var claimedID string

	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin claim tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx,
			`SELECT id FROM jobs WHERE status = ? AND cancel_requested = 0 ORDER BY created_at LIMIT 1`,
			StatusQueued,
		)
		var id string
		if err := row.Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				claimedID = ""
				return nil
			}
			return fmt.Errorf("select claimable job: %w", err)
		}

		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx,
			`UPDATE jobs
             SET status = ?, lease_owner = ?, lease_expires_at = ?, last_heartbeat = ?, updated_at = ?
             WHERE id = ? AND status = ?`,
			StatusRunning,
			owner,
			now.Add(leaseTTL).Format(time.RFC3339Nano),
			now.Format(time.RFC3339Nano),
			now.Format(time.RFC3339Nano),
			id,
			StatusQueued,
		)
		if err != nil {
			return fmt.Errorf("claim job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("claim rows affected: %w", err)
		}
		if affected == 0 {
			// Lost the race to another worker; treat as no job available.
			claimedID = ""
			return nil
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit claim: %w", err)
		}
		claimedID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	if claimedID == "" {
		return nil, nil
	}
	return s.GetByID(ctx, claimedID)
}

// RenewLease extends the lease and records a heartbeat for a job held by the
// named worker. Returns false when the lease is no longer held (reclaimed or
// the job reached a terminal state).
func (s *Store) RenewLease(ctx context.Context, id, owner string, leaseTTL time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET lease_expires_at = ?, last_heartbeat = ?, updated_at = ?
         WHERE id = ? AND lease_owner = ? AND status = ?`,
		now.Add(leaseTTL).Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		id,
		owner,
		StatusRunning,
	)
	if err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("renew rows affected: %w", err)
	}
	return affected > 0, nil
}

// ReclaimExpiredLeases returns running jobs with expired leases to the queue
// so another worker can resume them. Stage records and cached artifacts
// survive, so the resuming worker skips completed work.
func (s *Store) ReclaimExpiredLeases(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, lease_owner = NULL, lease_expires_at = NULL, last_heartbeat = NULL,
             progress_message = 'reclaimed after worker loss', updated_at = ?
         WHERE status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?`,
		StatusQueued,
		now.Format(time.RFC3339Nano),
		StatusRunning,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim expired leases: %w", err)
	}
	return res.RowsAffected()
}

// ResetOrphanedRunning returns all running jobs to the queue regardless of
// lease age. Called once at daemon startup, before any worker holds a lease.
func (s *Store) ResetOrphanedRunning(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, lease_owner = NULL, lease_expires_at = NULL, last_heartbeat = NULL,
             progress_message = 'requeued after restart', updated_at = ?
         WHERE status = ?`,
		StatusQueued,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("reset orphaned jobs: %w", err)
	}
	return res.RowsAffected()
}

// RequestCancel flags a job for cancellation. Queued jobs transition to
// cancelled immediately; running jobs are flagged and the runner observes the
// flag at its next checkpoint. Returns the resulting status and whether the
// job exists.
func (s *Store) RequestCancel(ctx context.Context, id string) (Status, bool, error) {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return "", false, err
	}
	if job == nil {
		return "", false, nil
	}
	if job.IsTerminal() {
		return job.Status, true, nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if job.Status == StatusQueued {
		err := s.execWithoutResultRetry(
			ctx,
			`UPDATE jobs
             SET status = ?, cancel_requested = 1, error_message = ?, updated_at = ?
             WHERE id = ? AND status = ?`,
			StatusCancelled,
			CancelReason,
			now,
			id,
			StatusQueued,
		)
		if err != nil {
			return "", false, fmt.Errorf("cancel queued job: %w", err)
		}
	} else {
		err := s.execWithoutResultRetry(
			ctx,
			`UPDATE jobs SET cancel_requested = 1, updated_at = ? WHERE id = ? AND status = ?`,
			now,
			id,
			StatusRunning,
		)
		if err != nil {
			return "", false, fmt.Errorf("flag cancellation: %w", err)
		}
	}

	updated, err := s.GetByID(ctx, id)
	if err != nil {
		return "", false, err
	}
	if updated == nil {
		return "", false, nil
	}
	return updated.Status, true, nil
}

// CancelRequested reports whether cancellation has been requested for a job.
func (s *Store) CancelRequested(ctx context.Context, id string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT cancel_requested FROM jobs WHERE id = ?`, id)
	var flag int
	if err := row.Scan(&flag); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return flag != 0, nil
}

// MarkCancelled records the cancelled terminal state for a running job.
func (s *Store) MarkCancelled(ctx context.Context, id string) error {
	err := s.execWithoutResultRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, error_message = ?, lease_owner = NULL, lease_expires_at = NULL,
             last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		StatusCancelled,
		CancelReason,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusQueued,
		StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("mark cancelled: %w", err)
	}
	return nil
}
