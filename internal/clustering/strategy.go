// Package clustering provides the clustering strategies and the adaptive
// orchestrator that chooses between them.
package clustering

import (
	"github.com/thebtf/clusterlens/pkg/models"
	"github.com/thebtf/clusterlens/pkg/similarity"
)

// Strategy partitions a set of equal-length vectors into a Labeling with one
// entry per input vector, in input order.
type Strategy interface {
	Name() models.Strategy
	Cluster(vectors [][]float64) (models.Labeling, error)
}

// distances normalizes vectors and returns their cosine distance matrix.
func distances(vectors [][]float64) (similarity.Matrix, error) {
	return similarity.PairwiseDistance(vectors)
}

// clampInt bounds v to [lo, hi].
func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// effectiveK reduces a requested cluster count to what n items can support.
func effectiveK(k, n int) int {
	if k > n {
		k = n
	}
	if k < 1 {
		k = 1
	}
	return k
}
