package core

// Services bundles the DB-backed services so binaries can wire them once.
type Services struct {
	JobDefinition *JobDefinitionService
	Queue         *QueueService
	ScheduledRun  *ScheduledRunService
	Approval      *ApprovalService
	JobResult     *JobResultService
	JobLog        *JobLogService
	ObjectRef     *ObjectRefService
	APIKey        *APIKeyService
}

func NewServices(db DB, events EventPublisher) *Services {
	return &Services{
		JobDefinition: NewJobDefinitionService(db),
		Queue:         NewQueueService(db),
		ScheduledRun:  NewScheduledRunService(db),
		Approval:      NewApprovalService(db, events),
		JobResult:     NewJobResultService(db),
		JobLog:        NewJobLogService(db),
		ObjectRef:     NewObjectRefService(db),
		APIKey:        NewAPIKeyService(db),
	}
}
