package core

import (
	"context"
	"fmt"

	"github.com/edvin/jobrunner/internal/model"
)

type JobLogService struct {
	db DB
}

func NewJobLogService(db DB) *JobLogService {
	return &JobLogService{db: db}
}

// Append adds one log line. Entries are append-only; there is no update
// or delete path.
func (s *JobLogService) Append(ctx context.Context, e *model.JobLogEntry) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO job_log_entries (job_result_id, level, message, object_type, object_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 RETURNING id, created_at`,
		e.JobResultID, e.Level, e.Message, e.ObjectType, e.ObjectID,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append job log entry: %w", err)
	}
	return nil
}

// ListByResult returns entries for a result with id greater than afterID,
// oldest first. Pollers pass the last id they saw to tail a running task.
func (s *JobLogService) ListByResult(ctx context.Context, resultID string, afterID int64) ([]model.JobLogEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, job_result_id, level, message, object_type, object_id, created_at
		 FROM job_log_entries
		 WHERE job_result_id = $1 AND id > $2
		 ORDER BY id`, resultID, afterID)
	if err != nil {
		return nil, fmt.Errorf("list log entries for result %s: %w", resultID, err)
	}
	defer rows.Close()

	var entries []model.JobLogEntry
	for rows.Next() {
		var e model.JobLogEntry
		if err := rows.Scan(&e.ID, &e.JobResultID, &e.Level, &e.Message,
			&e.ObjectType, &e.ObjectID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log entries: %w", err)
	}
	return entries, nil
}
