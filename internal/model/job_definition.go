package model

import "time"

// JobDefinition is the persisted record for a registered job. The row is
// created on first discovery of the job's code (disabled by default) and
// refreshed on process start. When the code disappears the row is only
// flagged not-installed so historical results keep a valid reference.
type JobDefinition struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	Description           string    `json:"description"`
	Installed             bool      `json:"installed"`
	Enabled               bool      `json:"enabled"`
	IsSingleton           bool      `json:"is_singleton"`
	HasSensitiveVariables bool      `json:"has_sensitive_variables"`
	ApprovalRequired      bool      `json:"approval_required"`
	DryRunDefault         bool      `json:"dryrun_default"`
	SoftTimeLimitSeconds  int       `json:"soft_time_limit_seconds"`
	HardTimeLimitSeconds  int       `json:"hard_time_limit_seconds"`
	DefaultQueueID        *string   `json:"default_queue_id,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// SoftTimeLimit returns the soft limit as a duration, zero when unset.
func (j *JobDefinition) SoftTimeLimit() time.Duration {
	return time.Duration(j.SoftTimeLimitSeconds) * time.Second
}

// HardTimeLimit returns the hard limit as a duration, zero when unset.
func (j *JobDefinition) HardTimeLimit() time.Duration {
	return time.Duration(j.HardTimeLimitSeconds) * time.Second
}
