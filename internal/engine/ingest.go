package engine

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/clusterlens/internal/embedding"
	"github.com/thebtf/clusterlens/pkg/models"
)

// Ingest appends an item with a precomputed embedding. The item starts
// unassigned and joins a cluster on the next Recluster.
func (e *Engine) Ingest(ctx context.Context, name string, vec []float32) (item *models.Item, err error) {
	defer func() { e.metrics.RecordIngest(ctx, err) }()
	e.writeMu.RLock()
	defer e.writeMu.RUnlock()
	return e.insert(ctx, name, "", vec)
}

// Upload stores a file, extracts its embedding and appends the item.
// Extractor errors are returned unchanged and the stored file is removed.
func (e *Engine) Upload(ctx context.Context, filename string, data []byte) (item *models.Item, err error) {
	defer func() { e.metrics.RecordIngest(ctx, err) }()

	name := displayName(filename)
	if name == "" {
		return nil, fmt.Errorf("%w: filename is required", ErrInvalidParams)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrInvalidParams, name)
	}
	if e.extractor == nil {
		return nil, fmt.Errorf("%w: no extractor configured", embedding.ErrExtraction)
	}
	if e.blobs == nil {
		return nil, fmt.Errorf("%w: no file storage configured", ErrStorage)
	}

	if err := e.ingestSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.ingestSem.Release(1)

	// Held until the row exists so ClearAll cannot remove the file in between.
	e.writeMu.RLock()
	defer e.writeMu.RUnlock()

	key := uuid.NewString() + strings.ToLower(filepath.Ext(name))
	if err := e.blobs.Put(ctx, key, data); err != nil {
		return nil, storageErr("store file", err)
	}

	log.Debug().Str("name", name).Str("blobKey", key).Int("bytes", len(data)).Msg("Extracting embedding")

	vec, err := e.extractor.Extract(ctx, name, data)
	if err != nil {
		e.discardBlob(key)
		log.Warn().Err(err).Str("name", name).Msg("Embedding extraction failed")
		return nil, err
	}

	item, err = e.insert(ctx, name, key, vec)
	if err != nil {
		e.discardBlob(key)
		return nil, err
	}
	return item, nil
}

func (e *Engine) insert(ctx context.Context, name, blobKey string, vec []float32) (*models.Item, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidParams)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: embedding is empty", ErrInvalidParams)
	}
	for i, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("%w: embedding value %d is not finite", ErrInvalidParams, i)
		}
	}

	item, err := e.insertChecked(ctx, name, blobKey, vec)
	if err != nil {
		return nil, err
	}

	log.Info().Int64("id", item.ID).Str("name", name).Int("dimensions", len(vec)).Msg("Item ingested")
	e.publish(EventItemIngested, map[string]interface{}{"id": item.ID, "filename": item.Name})
	return item, nil
}

// insertChecked rejects vec unless it matches the stored dimension, then
// inserts it. Without insertMu two first inserts of different lengths could
// both see an empty store.
func (e *Engine) insertChecked(ctx context.Context, name, blobKey string, vec []float32) (*models.Item, error) {
	e.insertMu.Lock()
	defer e.insertMu.Unlock()

	dims, err := e.items.Dimensions(ctx)
	if err != nil {
		return nil, storageErr("read dimensions", err)
	}
	if dims != 0 && dims != len(vec) {
		return nil, fmt.Errorf("%w: stored items have %d dimensions, got %d", ErrDimensionMismatch, dims, len(vec))
	}

	item, err := e.items.InsertItem(ctx, name, blobKey, models.Embedding(vec))
	if err != nil {
		return nil, storageErr("insert item", err)
	}
	return item, nil
}

// discardBlob removes a file whose item was never created. The caller's
// context may already be cancelled, so a fresh one is used.
func (e *Engine) discardBlob(key string) {
	if err := e.blobs.Delete(context.Background(), key); err != nil {
		log.Warn().Err(err).Str("blobKey", key).Msg("Failed to remove orphaned file")
	}
}

func displayName(filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	if name == "." || name == "/" {
		return ""
	}
	return strings.TrimSpace(name)
}
