package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertStageRecord inserts or replaces the execution record for one stage of
// a job.
func (s *Store) UpsertStageRecord(ctx context.Context, rec *StageRecord) error {
	if rec == nil {
		return errors.New("stage record is nil")
	}
	if rec.JobID == "" || rec.Stage == "" {
		return errors.New("stage record requires job id and stage")
	}
	err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO stage_records (job_id, stage, status, attempt, fingerprint, log_tail, started_at, finished_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT (job_id, stage) DO UPDATE SET
             status = excluded.status,
             attempt = excluded.attempt,
             fingerprint = excluded.fingerprint,
             log_tail = excluded.log_tail,
             started_at = excluded.started_at,
             finished_at = excluded.finished_at`,
		rec.JobID,
		rec.Stage,
		rec.Status,
		rec.Attempt,
		nullableString(rec.Fingerprint),
		nullableString(rec.LogTail),
		nullableTime(rec.StartedAt),
		nullableTime(rec.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert stage record: %w", err)
	}
	return nil
}

// StageRecordFor fetches one stage's execution record. Returns nil when the
// stage has not run.
func (s *Store) StageRecordFor(ctx context.Context, jobID, stage string) (*StageRecord, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+stageColumns+` FROM stage_records WHERE job_id = ? AND stage = ?`,
		jobID,
		stage,
	)
	rec, err := scanStageRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stage record: %w", err)
	}
	return rec, nil
}

// StageRecords returns all stage records for a job ordered by start time.
func (s *Store) StageRecords(ctx context.Context, jobID string) ([]*StageRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+stageColumns+` FROM stage_records WHERE job_id = ? ORDER BY started_at`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("list stage records: %w", err)
	}
	defer rows.Close()

	var records []*StageRecord
	for rows.Next() {
		rec, err := scanStageRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

const stageColumns = "job_id, stage, status, attempt, fingerprint, log_tail, started_at, finished_at"

func scanStageRecord(scanner interface{ Scan(dest ...any) error }) (*StageRecord, error) {
	var (
		jobID       string
		stage       string
		statusStr   string
		attempt     int
		fingerprint sql.NullString
		logTail     sql.NullString
		startedRaw  sql.NullString
		finishedRaw sql.NullString
	)
	if err := scanner.Scan(&jobID, &stage, &statusStr, &attempt, &fingerprint, &logTail, &startedRaw, &finishedRaw); err != nil {
		return nil, err
	}

	rec := &StageRecord{
		JobID:       jobID,
		Stage:       stage,
		Status:      StageStatus(statusStr),
		Attempt:     attempt,
		Fingerprint: fingerprint.String,
		LogTail:     logTail.String,
	}
	if startedRaw.Valid {
		if started, err := parseTimeString(startedRaw.String); err == nil {
			rec.StartedAt = &started
		}
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			rec.FinishedAt = &finished
		}
	}
	return rec, nil
}
