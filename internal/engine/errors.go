package engine

import (
	"errors"
	"fmt"

	"github.com/thebtf/clusterlens/internal/db/gorm"
	"github.com/thebtf/clusterlens/pkg/similarity"
)

// Error taxonomy. Match with errors.Is.
var (
	// ErrInsufficientItems is reported through Result.Err when fewer than two
	// items exist. Recluster itself treats it as a normal outcome.
	ErrInsufficientItems = errors.New("need at least 2 items for clustering")
	// ErrClusterNotFound is returned for a label with no committed members.
	ErrClusterNotFound = gorm.ErrClusterNotFound
	// ErrItemNotFound is returned for an unknown item id or blob key.
	ErrItemNotFound = gorm.ErrItemNotFound
	// ErrDimensionMismatch is returned when embeddings differ in length.
	ErrDimensionMismatch = similarity.ErrDimensionMismatch
	// ErrStorage wraps any persistence failure. The prior committed state
	// remains intact.
	ErrStorage = errors.New("storage failure")
	// ErrInvalidParams is returned for eps <= 0, min_samples < 1 or an
	// empty item.
	ErrInvalidParams = errors.New("invalid parameters")
)

// storageErr wraps err as a storage failure unless it is already a
// not-found sentinel the caller should see directly.
func storageErr(op string, err error) error {
	if errors.Is(err, ErrItemNotFound) || errors.Is(err, ErrClusterNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
