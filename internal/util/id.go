package util

import "github.com/google/uuid"

// NewID returns a random UUIDv4 string used for every row id.
func NewID() string {
	return uuid.NewString()
}
