package model

import "time"

// Queue is a named routing target tagged with the backend type that
// executes tasks submitted to it.
type Queue struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	BackendType string    `json:"backend_type"`
	TenantID    *string   `json:"tenant_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// JobQueueAssignment links a job to a queue it may run on. The pair
// (job, queue) is unique.
type JobQueueAssignment struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id"`
	QueueID   string    `json:"queue_id"`
	CreatedAt time.Time `json:"created_at"`
}
