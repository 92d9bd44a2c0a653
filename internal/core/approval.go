package core

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/edvin/jobrunner/internal/events"
	"github.com/edvin/jobrunner/internal/model"
	"github.com/edvin/jobrunner/internal/platform"
)

// Approver identifies the authenticated caller of an approval action.
type Approver struct {
	Name   string
	Groups []string
}

// EventPublisher is the slice of the event fan-out the services need.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload map[string]any)
}

type ApprovalService struct {
	db     DB
	events EventPublisher
	now    func() time.Time
}

func NewApprovalService(db DB, events EventPublisher) *ApprovalService {
	return &ApprovalService{db: db, events: events, now: time.Now}
}

// stageContext is the joined view of a stage, its workflow, and the run
// the workflow gates.
type stageContext struct {
	Stage    model.ApprovalStage
	Workflow model.ApprovalWorkflow
	Run      model.ScheduledRun
}

func (s *ApprovalService) getStageContext(ctx context.Context, stageID string) (*stageContext, error) {
	var sc stageContext
	err := s.db.QueryRow(ctx,
		`SELECT st.id, st.workflow_id, st.position, st.approver_group, st.state, st.decided_by, st.decided_at,
		        w.id, w.scheduled_run_id, w.state,
		        r.id, r.job_id, r.requested_by, r.start_time, r.interval
		 FROM approval_stages st
		 JOIN approval_workflows w ON w.id = st.workflow_id
		 JOIN scheduled_runs r ON r.id = w.scheduled_run_id
		 WHERE st.id = $1`, stageID,
	).Scan(&sc.Stage.ID, &sc.Stage.WorkflowID, &sc.Stage.Position, &sc.Stage.ApproverGroup,
		&sc.Stage.State, &sc.Stage.DecidedBy, &sc.Stage.DecidedAt,
		&sc.Workflow.ID, &sc.Workflow.ScheduledRunID, &sc.Workflow.State,
		&sc.Run.ID, &sc.Run.JobID, &sc.Run.RequestedBy, &sc.Run.StartTime, &sc.Run.Interval)
	if err != nil {
		return nil, notFound(err, "get approval stage %s", stageID)
	}
	return &sc, nil
}

func (s *ApprovalService) checkActionable(ctx context.Context, sc *stageContext, approver Approver) error {
	if sc.Workflow.State == model.ApprovalDenied {
		return fmt.Errorf("stage %s: %w", sc.Stage.ID, ErrApprovalDenied)
	}
	if sc.Stage.State != model.ApprovalPending {
		return Validationf("stage %s is already %s", sc.Stage.ID, sc.Stage.State)
	}
	if !slices.Contains(approver.Groups, sc.Stage.ApproverGroup) {
		return Permissionf("approver %q is not a member of group %q", approver.Name, sc.Stage.ApproverGroup)
	}
	if approver.Name == sc.Run.RequestedBy {
		return Permissionf("approver %q cannot decide their own request", approver.Name)
	}

	var undecided int
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM approval_stages
		 WHERE workflow_id = $1 AND position < $2 AND state <> $3`,
		sc.Stage.WorkflowID, sc.Stage.Position, model.ApprovalApproved,
	).Scan(&undecided)
	if err != nil {
		return fmt.Errorf("count prior stages: %w", err)
	}
	if undecided > 0 {
		return Validationf("stage %d cannot be decided before all prior stages are approved", sc.Stage.Position)
	}
	return nil
}

// Approve transitions the stage to approved. Approving the last stage
// approves the workflow, stamps the run's approved_at, and makes it
// visible to the scheduler. A run whose start time has already passed
// requires confirm=true (stale-schedule guard) rather than firing
// silently.
func (s *ApprovalService) Approve(ctx context.Context, stageID string, approver Approver, comment string, confirm bool) error {
	sc, err := s.getStageContext(ctx, stageID)
	if err != nil {
		return err
	}
	if err := s.checkActionable(ctx, sc, approver); err != nil {
		return err
	}

	now := s.now()
	if sc.Run.StartTime != nil && sc.Run.StartTime.Before(now) &&
		sc.Run.Interval == model.IntervalFuture && !confirm {
		return ErrConfirmRequired
	}

	var remaining int
	err = inTx(ctx, s.db, func(q DB) error {
		tag, err := q.Exec(ctx,
			`UPDATE approval_stages SET state = $1, decided_by = $2, decided_at = $3
			 WHERE id = $4 AND state = $5`,
			model.ApprovalApproved, approver.Name, now, stageID, model.ApprovalPending)
		if err != nil {
			return fmt.Errorf("approve stage %s: %w", stageID, err)
		}
		if tag.RowsAffected() == 0 {
			return Validationf("stage %s was decided concurrently", stageID)
		}

		if comment != "" {
			if err := s.insertComment(ctx, q, stageID, approver.Name, comment); err != nil {
				return err
			}
		}

		err = q.QueryRow(ctx,
			`SELECT count(*) FROM approval_stages WHERE workflow_id = $1 AND state <> $2`,
			sc.Stage.WorkflowID, model.ApprovalApproved,
		).Scan(&remaining)
		if err != nil {
			return fmt.Errorf("count remaining stages: %w", err)
		}
		if remaining > 0 {
			return nil
		}

		_, err = q.Exec(ctx,
			`UPDATE approval_workflows SET state = $1, updated_at = now() WHERE id = $2`,
			model.ApprovalApproved, sc.Stage.WorkflowID)
		if err != nil {
			return fmt.Errorf("approve workflow %s: %w", sc.Stage.WorkflowID, err)
		}
		_, err = q.Exec(ctx,
			`UPDATE scheduled_runs SET approval_state = $1, approved_at = $2, updated_at = now()
			 WHERE id = $3`,
			model.ApprovalApproved, now, sc.Run.ID)
		if err != nil {
			return fmt.Errorf("approve scheduled run %s: %w", sc.Run.ID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if remaining == 0 {
		s.events.Publish(ctx, events.TopicApprovalApproved, map[string]any{
			"scheduled_run_id": sc.Run.ID,
			"job_id":           sc.Run.JobID,
			"approved_by":      approver.Name,
		})
	}
	return nil
}

// Deny marks the stage, the workflow, and the run denied. Denial is
// terminal: the run is excluded from every future scheduler tick.
func (s *ApprovalService) Deny(ctx context.Context, stageID string, approver Approver, comment string) error {
	sc, err := s.getStageContext(ctx, stageID)
	if err != nil {
		return err
	}
	if err := s.checkActionable(ctx, sc, approver); err != nil {
		return err
	}

	now := s.now()
	err = inTx(ctx, s.db, func(q DB) error {
		tag, err := q.Exec(ctx,
			`UPDATE approval_stages SET state = $1, decided_by = $2, decided_at = $3
			 WHERE id = $4 AND state = $5`,
			model.ApprovalDenied, approver.Name, now, stageID, model.ApprovalPending)
		if err != nil {
			return fmt.Errorf("deny stage %s: %w", stageID, err)
		}
		if tag.RowsAffected() == 0 {
			return Validationf("stage %s was decided concurrently", stageID)
		}

		if comment != "" {
			if err := s.insertComment(ctx, q, stageID, approver.Name, comment); err != nil {
				return err
			}
		}

		_, err = q.Exec(ctx,
			`UPDATE approval_workflows SET state = $1, updated_at = now() WHERE id = $2`,
			model.ApprovalDenied, sc.Stage.WorkflowID)
		if err != nil {
			return fmt.Errorf("deny workflow %s: %w", sc.Stage.WorkflowID, err)
		}
		_, err = q.Exec(ctx,
			`UPDATE scheduled_runs SET approval_state = $1, updated_at = now() WHERE id = $2`,
			model.ApprovalDenied, sc.Run.ID)
		if err != nil {
			return fmt.Errorf("deny scheduled run %s: %w", sc.Run.ID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.events.Publish(ctx, events.TopicApprovalDenied, map[string]any{
		"scheduled_run_id": sc.Run.ID,
		"job_id":           sc.Run.JobID,
		"denied_by":        approver.Name,
	})
	return nil
}

// Comment attaches an informational note to a stage without altering
// workflow state.
func (s *ApprovalService) Comment(ctx context.Context, stageID, author, text string) error {
	if text == "" {
		return Validationf("comment text is required")
	}
	if _, err := s.getStageContext(ctx, stageID); err != nil {
		return err
	}
	return s.insertComment(ctx, s.db, stageID, author, text)
}

func (s *ApprovalService) insertComment(ctx context.Context, q DB, stageID, author, text string) error {
	_, err := q.Exec(ctx,
		`INSERT INTO approval_comments (id, stage_id, author, text, created_at)
		 VALUES ($1, $2, $3, $4, now())`,
		platform.NewID(), stageID, author, text)
	if err != nil {
		return fmt.Errorf("insert approval comment: %w", err)
	}
	return nil
}

// ListStages returns the ordered stages of the workflow gating a run.
func (s *ApprovalService) ListStages(ctx context.Context, runID string) ([]model.ApprovalStage, error) {
	rows, err := s.db.Query(ctx,
		`SELECT st.id, st.workflow_id, st.position, st.approver_group, st.state,
		        st.decided_by, st.decided_at, st.created_at
		 FROM approval_stages st
		 JOIN approval_workflows w ON w.id = st.workflow_id
		 WHERE w.scheduled_run_id = $1
		 ORDER BY st.position`, runID)
	if err != nil {
		return nil, fmt.Errorf("list stages for run %s: %w", runID, err)
	}
	defer rows.Close()
	return collectStages(rows)
}

// ListForApprover returns the stages visible to the calling approver's
// groups. With pendingOnly, only stages the approver can act on right
// now are returned: pending, with every prior stage approved.
func (s *ApprovalService) ListForApprover(ctx context.Context, approver Approver, pendingOnly bool) ([]model.ApprovalStage, error) {
	query := `SELECT st.id, st.workflow_id, st.position, st.approver_group, st.state,
	                 st.decided_by, st.decided_at, st.created_at
	          FROM approval_stages st
	          JOIN approval_workflows w ON w.id = st.workflow_id
	          WHERE st.approver_group = ANY($1)`
	if pendingOnly {
		query += ` AND st.state = 'pending' AND w.state = 'pending'
		           AND NOT EXISTS (
		             SELECT 1 FROM approval_stages prior
		             WHERE prior.workflow_id = st.workflow_id
		               AND prior.position < st.position
		               AND prior.state <> 'approved')`
	}
	query += ` ORDER BY st.created_at, st.position`

	rows, err := s.db.Query(ctx, query, approver.Groups)
	if err != nil {
		return nil, fmt.Errorf("list stages for approver %s: %w", approver.Name, err)
	}
	defer rows.Close()
	return collectStages(rows)
}

func collectStages(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]model.ApprovalStage, error) {
	var stages []model.ApprovalStage
	for rows.Next() {
		var st model.ApprovalStage
		if err := rows.Scan(&st.ID, &st.WorkflowID, &st.Position, &st.ApproverGroup,
			&st.State, &st.DecidedBy, &st.DecidedAt, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan approval stage: %w", err)
		}
		stages = append(stages, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approval stages: %w", err)
	}
	return stages, nil
}
