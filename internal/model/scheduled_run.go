package model

import (
	"encoding/json"
	"time"
)

// ScheduledRun is a persisted request to execute a job once or repeatedly
// at computed times. ApprovalState is empty when the job does not require
// approval; otherwise it mirrors the workflow state so the scheduler can
// exclude pending and denied runs without joining the workflow tables.
type ScheduledRun struct {
	ID               string          `json:"id"`
	JobID            string          `json:"job_id"`
	Name             string          `json:"name"`
	RequestedBy      string          `json:"requested_by"`
	QueueID          *string         `json:"queue_id,omitempty"`
	Arguments        json.RawMessage `json:"arguments"`
	Interval         string          `json:"interval"`
	StartTime        *time.Time      `json:"start_time,omitempty"`
	Crontab          string          `json:"crontab,omitempty"`
	TimeZone         string          `json:"time_zone"`
	Enabled          bool            `json:"enabled"`
	DryRun           bool            `json:"dry_run"`
	LastRunAt        *time.Time      `json:"last_run_at,omitempty"`
	TotalRunCount    int             `json:"total_run_count"`
	ApprovalRequired bool            `json:"approval_required"`
	ApprovalState    string          `json:"approval_state,omitempty"`
	ApprovedAt       *time.Time      `json:"approved_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Dispatchable reports whether the run may be considered by the scheduler:
// enabled and not blocked by a pending or denied approval workflow.
func (r *ScheduledRun) Dispatchable() bool {
	if !r.Enabled {
		return false
	}
	if r.ApprovalRequired && r.ApprovedAt == nil {
		return false
	}
	return r.ApprovalState != ApprovalDenied
}
