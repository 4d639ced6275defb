package clustering

import "github.com/thebtf/clusterlens/pkg/models"

// Density defaults.
const (
	DefaultEps        = 0.25
	DefaultMinSamples = 2
)

// DBSCAN is density-based clustering over cosine distance.
// A point is a core point when at least MinSamples points (itself included)
// lie within Eps. Clusters grow transitively from core points; points never
// reached are noise.
type DBSCAN struct {
	Eps        float64
	MinSamples int
}

// NewDBSCAN returns a DBSCAN strategy with the given parameters.
func NewDBSCAN(eps float64, minSamples int) *DBSCAN {
	return &DBSCAN{Eps: eps, MinSamples: minSamples}
}

// Name implements Strategy.
func (d *DBSCAN) Name() models.Strategy {
	return models.StrategyDensity
}

// Cluster implements Strategy. Output labels are canonical: clusters are
// numbered in order of their lowest-index core point.
func (d *DBSCAN) Cluster(vectors [][]float64) (models.Labeling, error) {
	n := len(vectors)
	if n < 2 {
		return models.AllNoise(n), nil
	}

	dist, err := distances(vectors)
	if err != nil {
		return nil, err
	}

	minSamples := d.MinSamples
	if minSamples < 1 {
		minSamples = 1
	}

	neighbors := make([][]int, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if dist[i][j] <= d.Eps {
				neighbors[i] = append(neighbors[i], j)
			}
		}
	}

	core := make([]bool, n)
	for i := range neighbors {
		core[i] = len(neighbors[i]) >= minSamples
	}

	labels := make([]int, n)
	for i := range labels {
		labels[i] = models.NoiseLabel
	}

	next := 0
	for i := 0; i < n; i++ {
		if labels[i] != models.NoiseLabel || !core[i] {
			continue
		}

		labels[i] = next
		stack := []int{i}
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !core[p] {
				continue
			}
			for _, q := range neighbors[p] {
				if labels[q] == models.NoiseLabel {
					labels[q] = next
					stack = append(stack, q)
				}
			}
		}
		next++
	}

	return models.LabelingFromInts(labels), nil
}
