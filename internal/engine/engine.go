// Package engine is the clustering core exposed to the HTTP layer: item
// ingestion, adaptive reclustering, coherence stats and cluster export.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/thebtf/clusterlens/internal/blob"
	"github.com/thebtf/clusterlens/internal/clustering"
	"github.com/thebtf/clusterlens/internal/db/gorm"
	"github.com/thebtf/clusterlens/internal/embedding"
	"github.com/thebtf/clusterlens/internal/metrics"
	"github.com/thebtf/clusterlens/pkg/models"
)

// Event types published to the Notifier.
const (
	EventItemIngested       = "item_ingested"
	EventItemDeleted        = "item_deleted"
	EventClusteringComplete = "clustering_completed"
	EventDataCleared        = "data_cleared"
)

// DefaultMaxConcurrentIngest bounds concurrent extractions when unset.
const DefaultMaxConcurrentIngest = 4

// Notifier receives engine events. Implementations must not block.
type Notifier interface {
	Publish(eventType string, payload interface{})
}

// Options configures an Engine. Only the store passed to New is required.
type Options struct {
	Blobs               blob.Store
	Extractor           embedding.Extractor
	Metrics             *metrics.Recorder
	Notifier            Notifier
	Defaults            clustering.Params
	Seed                uint64
	MaxConcurrentIngest int
	ExportManifest      bool
}

// Engine owns the vector store and cluster registry. Computing a labeling
// and committing it happen under one lock, so overlapping runs cannot
// interleave their commits. Item inserts do not take that lock; they hold
// writeMu shared from file write to row insert, and ClearAll holds it
// exclusively.
type Engine struct {
	items        *gorm.ItemStore
	registry     *gorm.Registry
	blobs        blob.Store
	extractor    embedding.Extractor
	orchestrator *clustering.Orchestrator
	metrics      *metrics.Recorder
	notifier     Notifier
	ingestSem    *semaphore.Weighted
	manifest     bool

	defaultsMu sync.RWMutex
	defaults   clustering.Params

	mu sync.Mutex

	writeMu sync.RWMutex
	// insertMu makes the dimension check and the insert one step.
	insertMu sync.Mutex
}

// New creates an Engine over an open store.
func New(store *gorm.Store, opts Options) *Engine {
	if opts.Defaults.Eps <= 0 {
		opts.Defaults.Eps = clustering.DefaultEps
	}
	if opts.Defaults.MinSamples < 1 {
		opts.Defaults.MinSamples = clustering.DefaultMinSamples
	}
	if opts.MaxConcurrentIngest < 1 {
		opts.MaxConcurrentIngest = DefaultMaxConcurrentIngest
	}
	seed := opts.Seed
	if seed == 0 {
		seed = clustering.DefaultSeed
	}

	return &Engine{
		items:        gorm.NewItemStore(store),
		registry:     gorm.NewRegistry(store),
		blobs:        opts.Blobs,
		extractor:    opts.Extractor,
		orchestrator: clustering.NewOrchestrator(seed),
		metrics:      opts.Metrics,
		notifier:     opts.Notifier,
		ingestSem:    semaphore.NewWeighted(int64(opts.MaxConcurrentIngest)),
		defaults:     opts.Defaults,
		manifest:     opts.ExportManifest,
	}
}

// Defaults returns the density parameters used when a caller omits them.
func (e *Engine) Defaults() clustering.Params {
	e.defaultsMu.RLock()
	defer e.defaultsMu.RUnlock()
	return e.defaults
}

// SetDefaults replaces the default density parameters.
func (e *Engine) SetDefaults(p clustering.Params) error {
	if err := validateParams(p); err != nil {
		return err
	}
	e.defaultsMu.Lock()
	e.defaults = p
	e.defaultsMu.Unlock()
	return nil
}

func (e *Engine) publish(eventType string, payload interface{}) {
	if e.notifier != nil {
		e.notifier.Publish(eventType, payload)
	}
}

// ListItems returns every item with its committed label, ordered by id.
func (e *Engine) ListItems(ctx context.Context) ([]*models.Item, error) {
	items, err := e.items.ListItems(ctx)
	if err != nil {
		return nil, storageErr("list items", err)
	}
	return items, nil
}

// CountItems returns the number of stored items.
func (e *Engine) CountItems(ctx context.Context) (int64, error) {
	n, err := e.items.CountItems(ctx)
	if err != nil {
		return 0, storageErr("count items", err)
	}
	return n, nil
}

// LatestRun returns the last committed run, or nil if none exists.
func (e *Engine) LatestRun(ctx context.Context) (*models.ClusterRun, error) {
	run, err := e.registry.LatestRun(ctx)
	if err != nil {
		return nil, storageErr("latest run", err)
	}
	return run, nil
}

// OpenBlob opens the stored file behind an item.
func (e *Engine) OpenBlob(ctx context.Context, key string) (io.ReadCloser, error) {
	if e.blobs == nil || blob.ValidateKey(key) != nil {
		return nil, ErrItemNotFound
	}
	r, err := e.blobs.Open(ctx, key)
	if err != nil {
		if isMissingBlob(err) {
			return nil, ErrItemNotFound
		}
		return nil, storageErr("open blob", err)
	}
	return r, nil
}

// DeleteItem removes an item, drops it from its cluster and deletes its file.
func (e *Engine) DeleteItem(ctx context.Context, id int64) (*models.Item, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	item, err := e.registry.DeleteItem(ctx, id)
	if err != nil {
		return nil, storageErr("delete item", err)
	}

	if item.HasBlob() && e.blobs != nil {
		if err := e.blobs.Delete(ctx, item.BlobKey); err != nil {
			log.Warn().Err(err).Int64("id", id).Str("blobKey", item.BlobKey).Msg("Failed to delete item file")
		}
	}

	log.Info().Int64("id", id).Str("name", item.Name).Msg("Item deleted")
	e.publish(EventItemDeleted, map[string]interface{}{"id": id})
	return item, nil
}

// ClearAll destroys every item, cluster, run record and stored file.
// Rows go first. If removing files then fails the error wraps ErrStorage,
// the database is already empty, and calling ClearAll again removes the
// files left behind.
func (e *Engine) ClearAll(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := e.registry.ClearAll(ctx); err != nil {
		return storageErr("clear database", err)
	}
	if e.blobs != nil {
		if err := blob.Clear(ctx, e.blobs); err != nil {
			log.Error().Err(err).Msg("Database cleared but some files remain")
			return storageErr("clear files", err)
		}
	}

	log.Info().Msg("All data cleared")
	e.publish(EventDataCleared, nil)
	return nil
}

func isMissingBlob(err error) bool {
	return err != nil && (errors.Is(err, blob.ErrNotFound) || errors.Is(err, blob.ErrInvalidKey))
}

func validateParams(p clustering.Params) error {
	if !(p.Eps > 0) {
		return fmt.Errorf("%w: eps must be positive, got %v", ErrInvalidParams, p.Eps)
	}
	if p.MinSamples < 1 {
		return fmt.Errorf("%w: min_samples must be at least 1, got %d", ErrInvalidParams, p.MinSamples)
	}
	return nil
}
