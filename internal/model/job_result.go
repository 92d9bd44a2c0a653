package model

import (
	"encoding/json"
	"time"
)

// JobResult is the durable record of one task execution. It is created at
// dispatch time with status pending and mutated only by the executing
// backend until it reaches a terminal status.
type JobResult struct {
	ID             string          `json:"id"`
	JobID          string          `json:"job_id"`
	ScheduledRunID *string         `json:"scheduled_run_id,omitempty"`
	RequestedBy    string          `json:"requested_by"`
	QueueName      string          `json:"queue_name"`
	Arguments      json.RawMessage `json:"arguments"`
	Status         string          `json:"status"`
	Output         json.RawMessage `json:"output,omitempty"`
	Failure        *string         `json:"failure,omitempty"`
	DryRun         bool            `json:"dry_run"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}
