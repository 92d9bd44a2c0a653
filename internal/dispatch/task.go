package dispatch

// Task is the wire envelope describing one execution. The broker backend
// serializes it as JSON onto the queue; the pod backend injects it into
// the compute object's environment.
type Task struct {
	ResultID             string         `json:"result_id"`
	JobID                string         `json:"job_id"`
	JobName              string         `json:"job_name"`
	Queue                string         `json:"queue"`
	Args                 map[string]any `json:"args"`
	RequestedBy          string         `json:"requested_by"`
	DryRun               bool           `json:"dry_run"`
	SoftTimeLimitSeconds int            `json:"soft_time_limit_seconds"`
	HardTimeLimitSeconds int            `json:"hard_time_limit_seconds"`
	LockToken            string         `json:"lock_token,omitempty"`
}
