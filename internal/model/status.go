package model

// JobResult lifecycle statuses. A result is created as pending, moves to
// running when a backend picks it up, and ends in exactly one of the
// terminal statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusErrored   = "errored"
)

// TerminalStatus reports whether a job result status is final.
func TerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusErrored
}

// Approval workflow and stage states.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalDenied   = "denied"
)

// Queue backend types.
const (
	BackendWorkerPool = "worker-pool"
	BackendPodPerTask = "pod-per-task"
)

// Schedule interval kinds. Immediate fires once at creation time and
// bypasses the scheduler loop unless it is gated behind an approval
// workflow. Future fires once at start_time. The recurring kinds fire
// repeatedly; custom carries an explicit crontab expression.
const (
	IntervalImmediate = "immediate"
	IntervalFuture    = "future"
	IntervalHourly    = "hourly"
	IntervalDaily     = "daily"
	IntervalWeekly    = "weekly"
	IntervalCustom    = "custom"
)

// ValidInterval reports whether s names a known schedule interval.
func ValidInterval(s string) bool {
	switch s {
	case IntervalImmediate, IntervalFuture, IntervalHourly, IntervalDaily, IntervalWeekly, IntervalCustom:
		return true
	}
	return false
}

// RecurringInterval reports whether s is a repeating schedule kind.
func RecurringInterval(s string) bool {
	switch s {
	case IntervalHourly, IntervalDaily, IntervalWeekly, IntervalCustom:
		return true
	}
	return false
}
