package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RegisterArtifacts records a stage's outputs and marks its execution record
// succeeded in a single transaction. A stage's success is only visible once
// its artifacts are durably in the manifest.
func (s *Store) RegisterArtifacts(ctx context.Context, rec *StageRecord, artifacts []Artifact) error {
	if rec == nil {
		return errors.New("stage record is nil")
	}
	ctx = ensureContext(ctx)
	now := time.Now().UTC()

	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin manifest tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		// Replace any artifacts from a prior attempt of this stage.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM artifacts WHERE job_id = ? AND stage = ?`,
			rec.JobID, rec.Stage,
		); err != nil {
			return fmt.Errorf("clear stage artifacts: %w", err)
		}

		for _, artifact := range artifacts {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO artifacts (job_id, stage, name, path, kind, final, fingerprint, size_bytes, created_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				rec.JobID,
				rec.Stage,
				artifact.Name,
				artifact.Path,
				nullableString(artifact.Kind),
				boolToInt(artifact.Final),
				nullableString(rec.Fingerprint),
				artifact.SizeBytes,
				now.Format(time.RFC3339Nano),
			); err != nil {
				return fmt.Errorf("insert artifact %s: %w", artifact.Name, err)
			}
		}

		finished := now
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stage_records (job_id, stage, status, attempt, fingerprint, log_tail, started_at, finished_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)
             ON CONFLICT (job_id, stage) DO UPDATE SET
                 status = excluded.status,
                 attempt = excluded.attempt,
                 fingerprint = excluded.fingerprint,
                 log_tail = excluded.log_tail,
                 started_at = COALESCE(stage_records.started_at, excluded.started_at),
                 finished_at = excluded.finished_at`,
			rec.JobID,
			rec.Stage,
			StageSucceeded,
			rec.Attempt,
			nullableString(rec.Fingerprint),
			nullableString(rec.LogTail),
			nullableTime(rec.StartedAt),
			nullableTime(&finished),
		); err != nil {
			return fmt.Errorf("record stage success: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit manifest: %w", err)
		}
		return nil
	})
}

// CachedArtifacts returns a stage's artifacts when the stage previously
// succeeded with the same input fingerprint. The boolean reports a cache hit.
func (s *Store) CachedArtifacts(ctx context.Context, jobID, stage, fingerprint string) ([]Artifact, bool, error) {
	if fingerprint == "" {
		return nil, false, nil
	}
	rec, err := s.StageRecordFor(ctx, jobID, stage)
	if err != nil {
		return nil, false, err
	}
	if rec == nil || rec.Status != StageSucceeded || rec.Fingerprint != fingerprint {
		return nil, false, nil
	}
	artifacts, err := s.ArtifactsForStage(ctx, jobID, stage)
	if err != nil {
		return nil, false, err
	}
	return artifacts, true, nil
}

// ArtifactsForStage returns the manifest entries one stage produced.
func (s *Store) ArtifactsForStage(ctx context.Context, jobID, stage string) ([]Artifact, error) {
	return s.queryArtifacts(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE job_id = ? AND stage = ? ORDER BY id`,
		jobID, stage)
}

// Manifest returns every manifest entry for a job in insertion order.
func (s *Store) Manifest(ctx context.Context, jobID string) ([]Artifact, error) {
	return s.queryArtifacts(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE job_id = ? ORDER BY id`,
		jobID)
}

// FinalArtifacts returns the manifest entries flagged as part of the job's
// final output set.
func (s *Store) FinalArtifacts(ctx context.Context, jobID string) ([]Artifact, error) {
	return s.queryArtifacts(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE job_id = ? AND final = 1 ORDER BY id`,
		jobID)
}

// FindArtifact looks up a single manifest entry by name.
func (s *Store) FindArtifact(ctx context.Context, jobID, name string) (*Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE job_id = ? AND name = ? ORDER BY id LIMIT 1`,
		jobID, name)
	artifact, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find artifact: %w", err)
	}
	return &artifact, nil
}

// PruneIntermediate removes non-final manifest entries for a job and returns
// the paths of the removed artifacts so callers can delete the files.
func (s *Store) PruneIntermediate(ctx context.Context, jobID string) ([]string, error) {
	artifacts, err := s.queryArtifacts(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE job_id = ? AND final = 0 ORDER BY id`,
		jobID)
	if err != nil {
		return nil, err
	}
	if len(artifacts) == 0 {
		return nil, nil
	}
	if err := s.execWithoutResultRetry(ctx,
		`DELETE FROM artifacts WHERE job_id = ? AND final = 0`, jobID); err != nil {
		return nil, fmt.Errorf("prune artifacts: %w", err)
	}
	paths := make([]string, 0, len(artifacts))
	for _, artifact := range artifacts {
		paths = append(paths, artifact.Path)
	}
	return paths, nil
}

func (s *Store) queryArtifacts(ctx context.Context, query string, args ...any) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, rows.Err()
}

const artifactColumns = "id, job_id, stage, name, path, kind, final, fingerprint, size_bytes, created_at"

func scanArtifact(scanner interface{ Scan(dest ...any) error }) (Artifact, error) {
	var (
		id          int64
		jobID       string
		stage       string
		name        string
		path        string
		kind        sql.NullString
		final       sql.NullInt64
		fingerprint sql.NullString
		sizeBytes   sql.NullInt64
		createdRaw  sql.NullString
	)
	if err := scanner.Scan(&id, &jobID, &stage, &name, &path, &kind, &final, &fingerprint, &sizeBytes, &createdRaw); err != nil {
		return Artifact{}, err
	}
	artifact := Artifact{
		ID:          id,
		JobID:       jobID,
		Stage:       stage,
		Name:        name,
		Path:        path,
		Kind:        kind.String,
		Fingerprint: fingerprint.String,
		SizeBytes:   sizeBytes.Int64,
	}
	if final.Valid {
		artifact.Final = final.Int64 != 0
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		artifact.CreatedAt = created
	}
	return artifact, nil
}
