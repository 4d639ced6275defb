package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/clusterlens/internal/clustering"
	"github.com/thebtf/clusterlens/pkg/models"
)

// Status is the outcome class of a Recluster call.
type Status string

const (
	StatusOK                Status = "ok"
	StatusInsufficientItems Status = "insufficient_items"
)

// Group is a committed cluster with its member items.
type Group struct {
	Items []*models.Item `json:"items"`
	Label int            `json:"label"`
}

// Result describes one committed clustering run.
type Result struct {
	Run      *models.ClusterRun
	Status   Status
	Strategy models.Strategy
	Stage    clustering.Stage
	// Labeling holds one label per item in id order, -1 for noise.
	Labeling []int
	Groups   []Group
	Noise    []*models.Item
	Params   clustering.Params
	Density  clustering.DensityOutcome
	K        int
}

// Err returns ErrInsufficientItems when the run had fewer than two items.
func (r *Result) Err() error {
	if r.Status == StatusInsufficientItems {
		return ErrInsufficientItems
	}
	return nil
}

// Recluster clusters every stored item from scratch and atomically replaces
// the committed registry. With fewer than two items the registry is emptied
// and the result has StatusInsufficientItems.
func (e *Engine) Recluster(ctx context.Context, p clustering.Params) (*Result, error) {
	if err := validateParams(p); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()

	items, err := e.items.ListItems(ctx)
	if err != nil {
		return nil, storageErr("list items", err)
	}

	ids := make([]int64, len(items))
	vectors := make([][]float64, len(items))
	for i, item := range items {
		ids[i] = item.ID
		vectors[i] = item.Embedding.Float64()
	}

	out, err := e.orchestrator.Run(vectors, p)
	if err != nil {
		return nil, fmt.Errorf("recluster: %w", err)
	}

	run := &models.ClusterRun{
		ID:              uuid.NewString(),
		Strategy:        out.Strategy,
		Eps:             p.Eps,
		MinSamples:      p.MinSamples,
		ItemCount:       len(items),
		ClusterCount:    out.Labeling.ClusterCount(),
		NoiseCount:      out.Labeling.NoiseCount(),
		DensityClusters: out.Density.Clusters,
		DensityNoise:    out.Density.Noise,
	}

	clusters, err := e.registry.Replace(ctx, ids, out.Labeling, run)
	if err != nil {
		return nil, storageErr("commit clusters", err)
	}

	res := &Result{
		Run:      run,
		Status:   StatusOK,
		Strategy: out.Strategy,
		Stage:    out.Stage,
		Labeling: out.Labeling.Ints(),
		Params:   p,
		Density:  out.Density,
		K:        out.K,
	}
	if out.Stage == clustering.StageInsufficient {
		res.Status = StatusInsufficientItems
	}

	byID := make(map[int64]*models.Item, len(items))
	for i, item := range items {
		item.ClusterLabel = nil
		if label, ok := out.Labeling[i].Label(); ok {
			l := label
			item.ClusterLabel = &l
		}
		byID[item.ID] = item
		if out.Labeling[i].IsNoise() {
			res.Noise = append(res.Noise, item)
		}
	}
	for _, c := range clusters {
		g := Group{Label: c.Label, Items: make([]*models.Item, 0, c.Size())}
		for _, id := range c.MemberIDs {
			g.Items = append(g.Items, byID[id])
		}
		res.Groups = append(res.Groups, g)
	}

	elapsed := time.Since(start)
	e.metrics.RecordRun(ctx, string(out.Strategy), run.ClusterCount, elapsed)

	log.Info().
		Str("runId", run.ID).
		Str("strategy", string(out.Strategy)).
		Int("items", len(items)).
		Int("clusters", run.ClusterCount).
		Int("noise", run.NoiseCount).
		Dur("elapsed", elapsed).
		Msg("Clustering committed")

	e.publish(EventClusteringComplete, map[string]interface{}{
		"run_id":       run.ID,
		"strategy":     out.Strategy,
		"num_clusters": run.ClusterCount,
		"noise":        run.NoiseCount,
	})
	return res, nil
}
