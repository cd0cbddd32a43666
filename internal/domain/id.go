package domain

import "github.com/google/uuid"

// NewID generates a UUIDv4 string for server-assigned object ids.
func NewID() string {
	return uuid.NewString()
}
