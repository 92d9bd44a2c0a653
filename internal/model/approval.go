package model

import "time"

// ApprovalWorkflow is the linear human gate attached to a scheduled run.
// It is created atomically with the run and holds an ordered sequence of
// stages. A single denial at any stage is terminal for the whole workflow.
type ApprovalWorkflow struct {
	ID             string    `json:"id"`
	ScheduledRunID string    `json:"scheduled_run_id"`
	State          string    `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ApprovalStage is one step of a workflow. Stage n+1 stays pending until
// stage n is approved.
type ApprovalStage struct {
	ID            string     `json:"id"`
	WorkflowID    string     `json:"workflow_id"`
	Position      int        `json:"position"`
	ApproverGroup string     `json:"approver_group"`
	State         string     `json:"state"`
	DecidedBy     *string    `json:"decided_by,omitempty"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ApprovalComment is an informational note on a stage. Comments never
// alter workflow state.
type ApprovalComment struct {
	ID        string    `json:"id"`
	StageID   string    `json:"stage_id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
