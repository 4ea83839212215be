// Package uuid generates build run IDs.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/antonlok/aggregator-threadpool/internal/news"
)

// Generator creates time-ordered UUID v7 strings, so run IDs sort by start
// time in listings and object paths.
type Generator struct{}

var _ news.IDGenerator = Generator{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
