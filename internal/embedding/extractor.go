// Package embedding defines the boundary to the external embedding extractor.
package embedding

import (
	"context"
	"errors"
)

// ErrExtraction marks every failure reported by an extractor. Callers surface
// these errors unchanged and never retry them.
var ErrExtraction = errors.New("embedding extraction failed")

// Extractor turns the raw bytes of an item into a fixed-length vector.
// Implementations are expected to be deterministic for the same input.
type Extractor interface {
	Extract(ctx context.Context, name string, data []byte) ([]float32, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, name string, data []byte) ([]float32, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, name string, data []byte) ([]float32, error) {
	return f(ctx, name, data)
}
