package model

import "time"

// APIKey authenticates API callers. Groups carries the approver-group
// memberships used to authorize approval actions.
type APIKey struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	UserName  string     `json:"user_name"`
	KeyPrefix string     `json:"key_prefix"`
	Groups    []string   `json:"groups"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}
