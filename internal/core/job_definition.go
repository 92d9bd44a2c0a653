package core

import (
	"context"
	"fmt"

	"github.com/edvin/jobrunner/internal/model"
)

const jobDefinitionColumns = `id, name, description, installed, enabled, is_singleton,
	has_sensitive_variables, approval_required, dryrun_default,
	soft_time_limit_seconds, hard_time_limit_seconds, default_queue_id,
	created_at, updated_at`

type JobDefinitionService struct {
	db DB
}

func NewJobDefinitionService(db DB) *JobDefinitionService {
	return &JobDefinitionService{db: db}
}

func scanJobDefinition(row interface{ Scan(dest ...any) error }, j *model.JobDefinition) error {
	return row.Scan(&j.ID, &j.Name, &j.Description, &j.Installed, &j.Enabled,
		&j.IsSingleton, &j.HasSensitiveVariables, &j.ApprovalRequired, &j.DryRunDefault,
		&j.SoftTimeLimitSeconds, &j.HardTimeLimitSeconds, &j.DefaultQueueID,
		&j.CreatedAt, &j.UpdatedAt)
}

func (s *JobDefinitionService) GetByID(ctx context.Context, id string) (*model.JobDefinition, error) {
	var j model.JobDefinition
	row := s.db.QueryRow(ctx,
		`SELECT `+jobDefinitionColumns+` FROM job_definitions WHERE id = $1`, id)
	if err := scanJobDefinition(row, &j); err != nil {
		return nil, notFound(err, "get job definition %s", id)
	}
	return &j, nil
}

func (s *JobDefinitionService) List(ctx context.Context, limit int, cursor string) ([]model.JobDefinition, bool, error) {
	query := `SELECT ` + jobDefinitionColumns + ` FROM job_definitions`
	args := []any{}
	if cursor != "" {
		query += ` WHERE id > $1`
		args = append(args, cursor)
	}
	query += fmt.Sprintf(` ORDER BY id LIMIT $%d`, len(args)+1)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list job definitions: %w", err)
	}
	defer rows.Close()

	var defs []model.JobDefinition
	for rows.Next() {
		var j model.JobDefinition
		if err := scanJobDefinition(rows, &j); err != nil {
			return nil, false, fmt.Errorf("scan job definition: %w", err)
		}
		defs = append(defs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate job definitions: %w", err)
	}

	hasMore := len(defs) > limit
	if hasMore {
		defs = defs[:limit]
	}
	return defs, hasMore, nil
}

// Sync upserts one definition discovered in code. On first discovery the
// row is inserted disabled; on refresh the execution metadata follows the
// code while enabled and the display fields keep their stored values.
func (s *JobDefinitionService) Sync(ctx context.Context, j *model.JobDefinition) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO job_definitions
		   (id, name, description, installed, enabled, is_singleton, has_sensitive_variables,
		    approval_required, dryrun_default, soft_time_limit_seconds, hard_time_limit_seconds,
		    created_at, updated_at)
		 VALUES ($1, $2, $3, true, false, $4, $5, $6, $7, $8, $9, now(), now())
		 ON CONFLICT (id) DO UPDATE SET
		   installed = true,
		   is_singleton = EXCLUDED.is_singleton,
		   has_sensitive_variables = EXCLUDED.has_sensitive_variables,
		   approval_required = EXCLUDED.approval_required,
		   dryrun_default = EXCLUDED.dryrun_default,
		   soft_time_limit_seconds = EXCLUDED.soft_time_limit_seconds,
		   hard_time_limit_seconds = EXCLUDED.hard_time_limit_seconds,
		   updated_at = now()`,
		j.ID, j.Name, j.Description, j.IsSingleton, j.HasSensitiveVariables,
		j.ApprovalRequired, j.DryRunDefault, j.SoftTimeLimitSeconds, j.HardTimeLimitSeconds,
	)
	if err != nil {
		return fmt.Errorf("sync job definition %s: %w", j.ID, err)
	}
	return nil
}

// MarkNotInstalled flags every definition whose id is absent from the
// registered set. Rows are never deleted so historical results keep a
// valid job reference.
func (s *JobDefinitionService) MarkNotInstalled(ctx context.Context, registeredIDs []string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE job_definitions SET installed = false, updated_at = now()
		 WHERE NOT (id = ANY($1))`, registeredIDs)
	if err != nil {
		return fmt.Errorf("mark job definitions not installed: %w", err)
	}
	return nil
}

func (s *JobDefinitionService) SetEnabled(ctx context.Context, id string, enabled bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE job_definitions SET enabled = $1, updated_at = now() WHERE id = $2`,
		enabled, id)
	if err != nil {
		return fmt.Errorf("set job %s enabled=%t: %w", id, enabled, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job definition %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateDisplay overrides the display fields without touching the
// code-derived execution metadata.
func (s *JobDefinitionService) UpdateDisplay(ctx context.Context, id, name, description string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE job_definitions SET name = $1, description = $2, updated_at = now() WHERE id = $3`,
		name, description, id)
	if err != nil {
		return fmt.Errorf("update job %s display: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job definition %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *JobDefinitionService) SetDefaultQueue(ctx context.Context, id string, queueID *string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE job_definitions SET default_queue_id = $1, updated_at = now() WHERE id = $2`,
		queueID, id)
	if err != nil {
		return fmt.Errorf("set job %s default queue: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job definition %s: %w", id, ErrNotFound)
	}
	return nil
}
