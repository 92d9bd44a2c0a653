package core

import (
	"context"
	"fmt"

	"github.com/edvin/jobrunner/internal/model"
	"github.com/edvin/jobrunner/internal/platform"
)

type QueueService struct {
	db DB
}

func NewQueueService(db DB) *QueueService {
	return &QueueService{db: db}
}

func (s *QueueService) Create(ctx context.Context, q *model.Queue) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO queues (id, name, backend_type, tenant_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, now(), now())`,
		q.ID, q.Name, q.BackendType, q.TenantID)
	if err != nil {
		if uniqueViolation(err) {
			return Validationf("queue %q already exists", q.Name)
		}
		return fmt.Errorf("create queue %s: %w", q.Name, err)
	}
	return nil
}

func (s *QueueService) GetByID(ctx context.Context, id string) (*model.Queue, error) {
	var q model.Queue
	err := s.db.QueryRow(ctx,
		`SELECT id, name, backend_type, tenant_id, created_at, updated_at
		 FROM queues WHERE id = $1`, id,
	).Scan(&q.ID, &q.Name, &q.BackendType, &q.TenantID, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "get queue %s", id)
	}
	return &q, nil
}

func (s *QueueService) GetByName(ctx context.Context, name string) (*model.Queue, error) {
	var q model.Queue
	err := s.db.QueryRow(ctx,
		`SELECT id, name, backend_type, tenant_id, created_at, updated_at
		 FROM queues WHERE name = $1`, name,
	).Scan(&q.ID, &q.Name, &q.BackendType, &q.TenantID, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "get queue %q", name)
	}
	return &q, nil
}

func (s *QueueService) List(ctx context.Context) ([]model.Queue, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, name, backend_type, tenant_id, created_at, updated_at
		 FROM queues ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	defer rows.Close()

	var queues []model.Queue
	for rows.Next() {
		var q model.Queue
		if err := rows.Scan(&q.ID, &q.Name, &q.BackendType, &q.TenantID, &q.CreatedAt, &q.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan queue: %w", err)
		}
		queues = append(queues, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queues: %w", err)
	}
	return queues, nil
}

// EligibleQueues returns the queues a job may run on, via the join table.
func (s *QueueService) EligibleQueues(ctx context.Context, jobID string) ([]model.Queue, error) {
	rows, err := s.db.Query(ctx,
		`SELECT q.id, q.name, q.backend_type, q.tenant_id, q.created_at, q.updated_at
		 FROM queues q
		 JOIN job_queue_assignments a ON a.queue_id = q.id
		 WHERE a.job_id = $1
		 ORDER BY q.name`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list eligible queues for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var queues []model.Queue
	for rows.Next() {
		var q model.Queue
		if err := rows.Scan(&q.ID, &q.Name, &q.BackendType, &q.TenantID, &q.CreatedAt, &q.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan eligible queue: %w", err)
		}
		queues = append(queues, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate eligible queues: %w", err)
	}
	return queues, nil
}

// Resolve picks the queue a dispatch should target. An empty requested
// name falls back to the job's default queue; a requested queue outside
// the eligible set is a validation failure.
func (s *QueueService) Resolve(ctx context.Context, job *model.JobDefinition, requested string) (*model.Queue, error) {
	if requested == "" {
		if job.DefaultQueueID == nil {
			return nil, Validationf("job %q has no default queue and no queue was requested", job.ID)
		}
		return s.GetByID(ctx, *job.DefaultQueueID)
	}

	eligible, err := s.EligibleQueues(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	for i := range eligible {
		if eligible[i].Name == requested {
			return &eligible[i], nil
		}
	}
	return nil, Validationf("queue %q is not eligible for job %q", requested, job.ID)
}

// Assign adds a (job, queue) pair. The pair is unique; duplicates fail.
func (s *QueueService) Assign(ctx context.Context, jobID, queueID string) (*model.JobQueueAssignment, error) {
	a := &model.JobQueueAssignment{ID: platform.NewID(), JobID: jobID, QueueID: queueID}
	err := s.db.QueryRow(ctx,
		`INSERT INTO job_queue_assignments (id, job_id, queue_id, created_at)
		 VALUES ($1, $2, $3, now()) RETURNING created_at`,
		a.ID, jobID, queueID,
	).Scan(&a.CreatedAt)
	if err != nil {
		if uniqueViolation(err) {
			return nil, Validationf("job %s is already assigned to queue %s", jobID, queueID)
		}
		return nil, fmt.Errorf("assign job %s to queue %s: %w", jobID, queueID, err)
	}
	return a, nil
}

func (s *QueueService) Unassign(ctx context.Context, jobID, queueID string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM job_queue_assignments WHERE job_id = $1 AND queue_id = $2`,
		jobID, queueID)
	if err != nil {
		return fmt.Errorf("unassign job %s from queue %s: %w", jobID, queueID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("assignment (%s, %s): %w", jobID, queueID, ErrNotFound)
	}
	return nil
}
