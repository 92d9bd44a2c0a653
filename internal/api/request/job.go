package request

// UpdateJob holds the editable display fields of a job definition.
type UpdateJob struct {
	Name        string `json:"name" validate:"required,min=1,max=255"`
	Description string `json:"description" validate:"max=4096"`
}

// SetDefaultQueue assigns or clears a job's default queue.
type SetDefaultQueue struct {
	QueueID *string `json:"queue_id"`
}

// AssignQueue links a job to an eligible queue.
type AssignQueue struct {
	QueueID string `json:"queue_id" validate:"required"`
}
