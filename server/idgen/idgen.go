// Package idgen generates identifiers for sessions and transfers.
package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random (version 4) UUID in canonical form.
func New() string {
	return uuid.NewString()
}

// Short returns the first group of a new UUID, for log-friendly names.
func Short() string {
	id, _, _ := strings.Cut(New(), "-")
	return id
}

// Valid reports whether id parses as a UUID.
func Valid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
