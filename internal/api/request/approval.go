package request

// ApprovalAction holds the body of an approve or deny call. Confirm must
// be set when approving a run whose start time has already passed.
type ApprovalAction struct {
	Comment string `json:"comment,omitempty" validate:"max=4096"`
	Confirm bool   `json:"confirm,omitempty"`
}

// ApprovalComment records a note on a stage without changing its state.
type ApprovalComment struct {
	Text string `json:"text" validate:"required,min=1,max=4096"`
}
