package clustering

import (
	"github.com/rs/zerolog/log"

	"github.com/thebtf/clusterlens/pkg/models"
	"github.com/thebtf/clusterlens/pkg/similarity"
)

// Decision thresholds.
const (
	// MaxDensityClusters is the largest density result kept as-is; above it
	// the density result is discarded in favour of hierarchical clustering.
	MaxDensityClusters = 6
	// MinDensityClusters is the smallest density result kept as-is; below it
	// the partition fallback runs.
	MinDensityClusters = 2
)

// Params are the caller-supplied density parameters.
type Params struct {
	Eps        float64
	MinSamples int
}

// DefaultParams returns eps=0.25, min_samples=2.
func DefaultParams() Params {
	return Params{Eps: DefaultEps, MinSamples: DefaultMinSamples}
}

// Stage is the orchestrator state a run ended in.
type Stage string

const (
	StageInsufficient Stage = "insufficient_items"
	StageDensity      Stage = "use_density"
	StageHierarchical Stage = "tried_hierarchical"
	StagePartition    Stage = "tried_partition"
)

// DensityOutcome is the intermediate density result the decision branches on.
type DensityOutcome struct {
	Clusters int
	Noise    int
}

// OverSegmented reports whether the density result has too many clusters.
func (d DensityOutcome) OverSegmented() bool {
	return d.Clusters > MaxDensityClusters
}

// UnderSegmented reports whether the density result failed to separate anything.
func (d DensityOutcome) UnderSegmented() bool {
	return d.Clusters < MinDensityClusters
}

// Result is the orchestrator's final labeling plus how it was reached.
type Result struct {
	Labeling  models.Labeling
	Strategy  models.Strategy
	Stage     Stage
	Params    Params
	Density   DensityOutcome
	K         int // target_k or k passed to the fallback; 0 when density is kept
	ItemCount int
}

// Orchestrator runs density clustering first and falls back to hierarchical
// clustering on over-segmentation or to k-means on under-segmentation.
type Orchestrator struct {
	Seed uint64
}

// NewOrchestrator returns an Orchestrator whose k-means fallback uses seed.
func NewOrchestrator(seed uint64) *Orchestrator {
	return &Orchestrator{Seed: seed}
}

// HierarchicalK returns clamp(n/4, 3, 5) for the original item count n.
func HierarchicalK(n int) int {
	return clampInt(n/4, 3, 5)
}

// PartitionK returns clamp(n/4, 2, 5) for the original item count n.
func PartitionK(n int) int {
	return clampInt(n/4, 2, 5)
}

// Run clusters vectors. Fewer than two vectors yield an all-noise labeling
// without invoking any strategy.
func (o *Orchestrator) Run(vectors [][]float64, p Params) (*Result, error) {
	n := len(vectors)
	if n < 2 {
		return &Result{
			Labeling:  models.AllNoise(n),
			Strategy:  models.StrategyNone,
			Stage:     StageInsufficient,
			Params:    p,
			ItemCount: n,
		}, nil
	}

	if _, err := similarity.Validate(vectors); err != nil {
		return nil, err
	}

	density, err := NewDBSCAN(p.Eps, p.MinSamples).Cluster(vectors)
	if err != nil {
		return nil, err
	}
	outcome := DensityOutcome{Clusters: density.ClusterCount(), Noise: density.NoiseCount()}

	log.Debug().
		Int("items", n).
		Float64("eps", p.Eps).
		Int("minSamples", p.MinSamples).
		Int("clusters", outcome.Clusters).
		Int("noise", outcome.Noise).
		Msg("Density clustering finished")

	result := &Result{Params: p, Density: outcome, ItemCount: n}

	switch {
	case outcome.OverSegmented():
		k := HierarchicalK(n)
		log.Debug().Int("clusters", outcome.Clusters).Int("targetK", k).Msg("Too many clusters, using hierarchical clustering")
		result.Labeling, err = NewAgglomerative(k).Cluster(vectors)
		result.Strategy = models.StrategyHierarchical
		result.Stage = StageHierarchical
		result.K = k

	case !outcome.UnderSegmented():
		result.Labeling = density
		result.Strategy = models.StrategyDensity
		result.Stage = StageDensity

	default:
		k := PartitionK(n)
		log.Debug().Int("clusters", outcome.Clusters).Int("k", k).Msg("Density clustering failed, using k-means")
		result.Labeling, err = NewKMeans(k, o.Seed).Cluster(vectors)
		result.Strategy = models.StrategyPartition
		result.Stage = StagePartition
		result.K = k
	}
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("strategy", string(result.Strategy)).
		Int("clusters", result.Labeling.ClusterCount()).
		Msg("Clustering decision made")

	return result, nil
}
