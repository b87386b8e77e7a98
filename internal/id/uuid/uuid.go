// Package uuid provides the frontier's entry id generator.
package uuid

import (
	"github.com/google/uuid"
)

// Generator mints UUID strings for frontier entries. V7 ids keep
// insertion order roughly sortable, which helps when eyeballing
// persisted progress records.
type Generator struct{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID string, preferring v7 and falling back to v4 if
// the system entropy source misbehaves.
func (Generator) NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
