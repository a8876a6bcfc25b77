// Package uuid generates run identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUIDv7 run IDs, so rows from consecutive
// runs sort by start time in the Postgres sink.
type Generator struct{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id.String(), nil
}

// Valid reports whether id parses as a UUID, for run IDs supplied on the
// command line.
func Valid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
