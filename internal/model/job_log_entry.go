package model

import "time"

// JobLogEntry is one append-only structured log line produced by a running
// task. Entries are queryable while the task is still running.
type JobLogEntry struct {
	ID          int64     `json:"id"`
	JobResultID string    `json:"job_result_id"`
	Level       string    `json:"level"`
	Message     string    `json:"message"`
	ObjectType  *string   `json:"object_type,omitempty"`
	ObjectID    *string   `json:"object_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Log levels for job log entries.
const (
	LogDebug   = "debug"
	LogInfo    = "info"
	LogSuccess = "success"
	LogWarning = "warning"
	LogError   = "error"
)
