package queue

import (
	"database/sql"
	"errors"
	"time"
)

const jobColumns = "id, input_kind, topic, document_path, config_json, client_id, status, current_stage, progress_percent, progress_message, error_stage, error_message, cancel_requested, lease_owner, lease_expires_at, last_heartbeat, created_at, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id              string
		inputKind       string
		topic           sql.NullString
		documentPath    sql.NullString
		configJSON      sql.NullString
		clientID        sql.NullString
		statusStr       string
		currentStage    sql.NullString
		progressPercent sql.NullFloat64
		progressMessage sql.NullString
		errorStage      sql.NullString
		errorMessage    sql.NullString
		cancelRequested sql.NullInt64
		leaseOwner      sql.NullString
		leaseExpiresRaw sql.NullString
		heartbeatRaw    sql.NullString
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&inputKind,
		&topic,
		&documentPath,
		&configJSON,
		&clientID,
		&statusStr,
		&currentStage,
		&progressPercent,
		&progressMessage,
		&errorStage,
		&errorMessage,
		&cancelRequested,
		&leaseOwner,
		&leaseExpiresRaw,
		&heartbeatRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:              id,
		InputKind:       InputKind(inputKind),
		Topic:           topic.String,
		DocumentPath:    documentPath.String,
		ConfigJSON:      configJSON.String,
		ClientID:        clientID.String,
		Status:          Status(statusStr),
		CurrentStage:    currentStage.String,
		ProgressPercent: progressPercent.Float64,
		ProgressMessage: progressMessage.String,
		ErrorStage:      errorStage.String,
		ErrorMessage:    errorMessage.String,
		LeaseOwner:      leaseOwner.String,
	}
	if cancelRequested.Valid {
		job.CancelRequested = cancelRequested.Int64 != 0
	}
	if leaseExpiresRaw.Valid {
		if expires, err := parseTimeString(leaseExpiresRaw.String); err == nil {
			job.LeaseExpiresAt = &expires
		}
	}
	if heartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(heartbeatRaw.String); err == nil {
			job.LastHeartbeat = &heartbeat
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
