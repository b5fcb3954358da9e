// Package uuid provides UUID v4 generation for record and action identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// New generates a new UUID v4 string.
func New() string {
	return uuid.New().String()
}

// Validate returns an error if the string is not a parseable UUID.
func Validate(s string) error {
	if _, err := uuid.Parse(s); err != nil {
		return fmt.Errorf("invalid UUID %q: %w", s, err)
	}
	return nil
}

// IsValid reports whether the string is a parseable UUID.
func IsValid(s string) bool {
	return Validate(s) == nil
}
