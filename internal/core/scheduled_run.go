package core

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/edvin/jobrunner/internal/model"
	"github.com/edvin/jobrunner/internal/platform"
)

const scheduledRunColumns = `id, job_id, name, requested_by, queue_id, arguments, interval,
	start_time, crontab, time_zone, enabled, dry_run, last_run_at, total_run_count,
	approval_required, approval_state, approved_at, created_at, updated_at`

type ScheduledRunService struct {
	db DB
}

func NewScheduledRunService(db DB) *ScheduledRunService {
	return &ScheduledRunService{db: db}
}

func scanScheduledRun(row interface{ Scan(dest ...any) error }, r *model.ScheduledRun) error {
	return row.Scan(&r.ID, &r.JobID, &r.Name, &r.RequestedBy, &r.QueueID, &r.Arguments,
		&r.Interval, &r.StartTime, &r.Crontab, &r.TimeZone, &r.Enabled, &r.DryRun,
		&r.LastRunAt, &r.TotalRunCount, &r.ApprovalRequired, &r.ApprovalState,
		&r.ApprovedAt, &r.CreatedAt, &r.UpdatedAt)
}

// ValidateSchedule checks the schedule invariants for a run against its
// job definition before anything is persisted.
func ValidateSchedule(job *model.JobDefinition, run *model.ScheduledRun) error {
	if !job.Enabled {
		return Validationf("job %q is disabled", job.ID)
	}
	if !model.ValidInterval(run.Interval) {
		return Validationf("unknown schedule interval %q", run.Interval)
	}
	if job.HasSensitiveVariables && run.Interval != model.IntervalImmediate {
		return Validationf("job %q has sensitive variables and cannot be scheduled, only run immediately", job.ID)
	}
	if run.Interval == model.IntervalCustom {
		if run.Crontab == "" {
			return Validationf("interval %q requires a crontab expression", model.IntervalCustom)
		}
		if _, err := cron.ParseStandard(run.Crontab); err != nil {
			return Validationf("invalid crontab %q: %v", run.Crontab, err)
		}
	} else if run.Crontab != "" {
		return Validationf("crontab is only valid with interval %q", model.IntervalCustom)
	}
	if run.StartTime == nil && run.Interval != model.IntervalCustom && run.Interval != model.IntervalImmediate {
		return Validationf("interval %q requires a start time", run.Interval)
	}
	if run.TimeZone != "" {
		if _, err := time.LoadLocation(run.TimeZone); err != nil {
			return Validationf("unknown time zone %q", run.TimeZone)
		}
	}
	return nil
}

// Create persists the run and, when the job requires approval, its
// workflow and stages in the same transaction. The run is created
// enabled; approval-gated runs stay invisible to the scheduler until the
// final stage approves.
func (s *ScheduledRunService) Create(ctx context.Context, run *model.ScheduledRun, job *model.JobDefinition, approverGroups []string) error {
	if err := ValidateSchedule(job, run); err != nil {
		return err
	}

	run.ApprovalRequired = job.ApprovalRequired
	if run.ApprovalRequired {
		run.ApprovalState = model.ApprovalPending
		if len(approverGroups) == 0 {
			return Validationf("job %q requires approval but no approver groups are configured", job.ID)
		}
	}

	return inTx(ctx, s.db, func(q DB) error {
		_, err := q.Exec(ctx,
			`INSERT INTO scheduled_runs
			   (id, job_id, name, requested_by, queue_id, arguments, interval, start_time,
			    crontab, time_zone, enabled, dry_run, total_run_count,
			    approval_required, approval_state, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, true, $11, 0, $12, $13, now(), now())`,
			run.ID, run.JobID, run.Name, run.RequestedBy, run.QueueID, run.Arguments,
			run.Interval, run.StartTime, run.Crontab, run.TimeZone, run.DryRun,
			run.ApprovalRequired, run.ApprovalState)
		if err != nil {
			return fmt.Errorf("insert scheduled run: %w", err)
		}

		if !run.ApprovalRequired {
			return nil
		}

		workflowID := platform.NewID()
		_, err = q.Exec(ctx,
			`INSERT INTO approval_workflows (id, scheduled_run_id, state, created_at, updated_at)
			 VALUES ($1, $2, $3, now(), now())`,
			workflowID, run.ID, model.ApprovalPending)
		if err != nil {
			return fmt.Errorf("insert approval workflow: %w", err)
		}

		for i, group := range approverGroups {
			_, err = q.Exec(ctx,
				`INSERT INTO approval_stages (id, workflow_id, position, approver_group, state, created_at)
				 VALUES ($1, $2, $3, $4, $5, now())`,
				platform.NewID(), workflowID, i+1, group, model.ApprovalPending)
			if err != nil {
				return fmt.Errorf("insert approval stage %d: %w", i+1, err)
			}
		}
		return nil
	})
}

func (s *ScheduledRunService) GetByID(ctx context.Context, id string) (*model.ScheduledRun, error) {
	var r model.ScheduledRun
	row := s.db.QueryRow(ctx,
		`SELECT `+scheduledRunColumns+` FROM scheduled_runs WHERE id = $1`, id)
	if err := scanScheduledRun(row, &r); err != nil {
		return nil, notFound(err, "get scheduled run %s", id)
	}
	return &r, nil
}

func (s *ScheduledRunService) List(ctx context.Context, limit int, cursor string) ([]model.ScheduledRun, bool, error) {
	query := `SELECT ` + scheduledRunColumns + ` FROM scheduled_runs`
	args := []any{}
	if cursor != "" {
		query += ` WHERE id > $1`
		args = append(args, cursor)
	}
	query += fmt.Sprintf(` ORDER BY id LIMIT $%d`, len(args)+1)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list scheduled runs: %w", err)
	}
	defer rows.Close()

	var runs []model.ScheduledRun
	for rows.Next() {
		var r model.ScheduledRun
		if err := scanScheduledRun(rows, &r); err != nil {
			return nil, false, fmt.Errorf("scan scheduled run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate scheduled runs: %w", err)
	}

	hasMore := len(runs) > limit
	if hasMore {
		runs = runs[:limit]
	}
	return runs, hasMore, nil
}

// ListEligible returns the runs the scheduler loop should evaluate:
// enabled, and either approval-free or fully approved. Denied runs are
// excluded permanently.
func (s *ScheduledRunService) ListEligible(ctx context.Context) ([]model.ScheduledRun, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+scheduledRunColumns+` FROM scheduled_runs
		 WHERE enabled
		   AND (NOT approval_required OR approved_at IS NOT NULL)
		   AND approval_state <> $1
		 ORDER BY created_at`, model.ApprovalDenied)
	if err != nil {
		return nil, fmt.Errorf("list eligible scheduled runs: %w", err)
	}
	defer rows.Close()

	var runs []model.ScheduledRun
	for rows.Next() {
		var r model.ScheduledRun
		if err := scanScheduledRun(rows, &r); err != nil {
			return nil, fmt.Errorf("scan eligible run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate eligible runs: %w", err)
	}
	return runs, nil
}

// MarkFired records one firing. last_run_at is set to the computed
// occurrence time, not the wall clock, so a delayed tick does not drift
// subsequent occurrences. One-shot runs are disabled after firing. The
// guarded WHERE makes a concurrent double fire a no-op.
func (s *ScheduledRunService) MarkFired(ctx context.Context, id string, occurredAt time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE scheduled_runs SET
		   last_run_at = $2,
		   total_run_count = total_run_count + 1,
		   enabled = CASE WHEN interval IN ($3, $4) THEN false ELSE enabled END,
		   updated_at = now()
		 WHERE id = $1 AND enabled
		   AND (last_run_at IS NULL OR last_run_at < $2)`,
		id, occurredAt, model.IntervalImmediate, model.IntervalFuture)
	if err != nil {
		return false, fmt.Errorf("mark scheduled run %s fired: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *ScheduledRunService) SetEnabled(ctx context.Context, id string, enabled bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE scheduled_runs SET enabled = $1, updated_at = now() WHERE id = $2`,
		enabled, id)
	if err != nil {
		return fmt.Errorf("set scheduled run %s enabled=%t: %w", id, enabled, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("scheduled run %s: %w", id, ErrNotFound)
	}
	return nil
}

// Delete removes the run. The workflow and stages cascade in the schema;
// future firings are cancelled because the row is gone.
func (s *ScheduledRunService) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM scheduled_runs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete scheduled run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("scheduled run %s: %w", id, ErrNotFound)
	}
	return nil
}
