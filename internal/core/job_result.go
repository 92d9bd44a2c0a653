package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edvin/jobrunner/internal/model"
)

const jobResultColumns = `id, job_id, scheduled_run_id, requested_by, queue_name, arguments,
	status, output, failure, dry_run, created_at, started_at, completed_at`

type JobResultService struct {
	db DB
}

func NewJobResultService(db DB) *JobResultService {
	return &JobResultService{db: db}
}

func scanJobResult(row interface{ Scan(dest ...any) error }, r *model.JobResult) error {
	return row.Scan(&r.ID, &r.JobID, &r.ScheduledRunID, &r.RequestedBy, &r.QueueName,
		&r.Arguments, &r.Status, &r.Output, &r.Failure, &r.DryRun,
		&r.CreatedAt, &r.StartedAt, &r.CompletedAt)
}

// Create inserts the result in status pending. The executing backend owns
// every later mutation.
func (s *JobResultService) Create(ctx context.Context, r *model.JobResult) error {
	r.Status = model.StatusPending
	_, err := s.db.Exec(ctx,
		`INSERT INTO job_results
		   (id, job_id, scheduled_run_id, requested_by, queue_name, arguments, status, dry_run, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
		r.ID, r.JobID, r.ScheduledRunID, r.RequestedBy, r.QueueName, r.Arguments,
		r.Status, r.DryRun)
	if err != nil {
		return fmt.Errorf("insert job result: %w", err)
	}
	return nil
}

func (s *JobResultService) GetByID(ctx context.Context, id string) (*model.JobResult, error) {
	var r model.JobResult
	row := s.db.QueryRow(ctx,
		`SELECT `+jobResultColumns+` FROM job_results WHERE id = $1`, id)
	if err := scanJobResult(row, &r); err != nil {
		return nil, notFound(err, "get job result %s", id)
	}
	return &r, nil
}

func (s *JobResultService) ListByJob(ctx context.Context, jobID string, limit int, cursor string) ([]model.JobResult, bool, error) {
	query := `SELECT ` + jobResultColumns + ` FROM job_results WHERE job_id = $1`
	args := []any{jobID}
	if cursor != "" {
		query += ` AND id > $2`
		args = append(args, cursor)
	}
	query += fmt.Sprintf(` ORDER BY id LIMIT $%d`, len(args)+1)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list job results for %s: %w", jobID, err)
	}
	defer rows.Close()

	var results []model.JobResult
	for rows.Next() {
		var r model.JobResult
		if err := scanJobResult(rows, &r); err != nil {
			return nil, false, fmt.Errorf("scan job result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate job results: %w", err)
	}

	hasMore := len(results) > limit
	if hasMore {
		results = results[:limit]
	}
	return results, hasMore, nil
}

// MarkRunning performs the guarded pending→running transition. The bool
// reports whether this call won the transition; a redelivered broker
// message loses and may still re-execute (at-least-once contract).
func (s *JobResultService) MarkRunning(ctx context.Context, id string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE job_results SET status = $1, started_at = now()
		 WHERE id = $2 AND status = $3`,
		model.StatusRunning, id, model.StatusPending)
	if err != nil {
		return false, fmt.Errorf("mark job result %s running: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Complete performs the guarded transition to completed with the return
// payload. The bool reports whether the transition happened; callers use
// it to publish the terminal event exactly once.
func (s *JobResultService) Complete(ctx context.Context, id string, output json.RawMessage) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE job_results SET status = $1, output = $2, completed_at = now()
		 WHERE id = $3 AND status IN ($4, $5)`,
		model.StatusCompleted, output, id, model.StatusPending, model.StatusRunning)
	if err != nil {
		return false, fmt.Errorf("complete job result %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Fail performs the guarded transition to errored with the captured
// failure detail.
func (s *JobResultService) Fail(ctx context.Context, id, failure string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE job_results SET status = $1, failure = $2, completed_at = now()
		 WHERE id = $3 AND status IN ($4, $5)`,
		model.StatusErrored, failure, id, model.StatusPending, model.StatusRunning)
	if err != nil {
		return false, fmt.Errorf("fail job result %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// StaleRunning returns results stuck in running longer than cutoff,
// i.e. a worker died holding the late-ack delivery. The scheduler's
// stale sweep fails them over.
func (s *JobResultService) StaleRunning(ctx context.Context, cutoff time.Time) ([]model.JobResult, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+jobResultColumns+` FROM job_results
		 WHERE status = $1 AND started_at < $2 ORDER BY started_at`,
		model.StatusRunning, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale running results: %w", err)
	}
	defer rows.Close()

	var results []model.JobResult
	for rows.Next() {
		var r model.JobResult
		if err := scanJobResult(rows, &r); err != nil {
			return nil, fmt.Errorf("scan stale result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale results: %w", err)
	}
	return results, nil
}
