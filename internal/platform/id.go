package platform

import "github.com/google/uuid"

// NewID returns a new random identifier for persisted records.
func NewID() string {
	return uuid.New().String()
}
