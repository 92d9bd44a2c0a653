package request

// CreateQueue holds the request body for creating a queue.
type CreateQueue struct {
	Name        string  `json:"name" validate:"required,slug"`
	BackendType string  `json:"backend_type" validate:"required,oneof=worker-pool pod-per-task"`
	TenantID    *string `json:"tenant_id,omitempty"`
}
