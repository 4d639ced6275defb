// Package blob stores the original uploaded files that items were embedded from.
package blob

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations return an error that satisfies errors.Is(err, ErrNotFound).
var ErrNotFound = os.ErrNotExist

// ErrInvalidKey is returned for keys that are empty or would escape the store.
var ErrInvalidKey = errors.New("invalid blob key")

// Store is a flat key/value store for uploaded file contents.
type Store interface {
	// Put writes a blob, replacing any existing blob with the same key.
	Put(ctx context.Context, key string, data []byte) error
	// Open opens a blob for reading.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Exists reports whether the blob is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, key string) error
	// List returns every key in sorted order.
	List(ctx context.Context) ([]string, error)
}

// ValidateKey rejects keys that are empty, contain a path separator or
// refer to a parent directory.
func ValidateKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return ErrInvalidKey
	}
	return nil
}

// Clear deletes every blob in the store.
func Clear(ctx context.Context, s Store) error {
	keys, err := s.List(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
