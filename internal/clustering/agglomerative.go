package clustering

import (
	"math"

	"github.com/thebtf/clusterlens/pkg/models"
)

// Agglomerative is bottom-up hierarchical clustering with average linkage on
// cosine distance. Every item is assigned; no noise is produced.
type Agglomerative struct {
	TargetK int
}

// NewAgglomerative returns an Agglomerative strategy that stops at targetK clusters.
func NewAgglomerative(targetK int) *Agglomerative {
	return &Agglomerative{TargetK: targetK}
}

// Name implements Strategy.
func (a *Agglomerative) Name() models.Strategy {
	return models.StrategyHierarchical
}

// Cluster implements Strategy. TargetK larger than the item count is reduced
// to the item count. Ties on linkage distance merge the lowest index pair.
func (a *Agglomerative) Cluster(vectors [][]float64) (models.Labeling, error) {
	n := len(vectors)
	if n == 0 {
		return models.Labeling{}, nil
	}

	dist, err := distances(vectors)
	if err != nil {
		return nil, err
	}

	k := effectiveK(a.TargetK, n)

	// linkage[i][j] holds the average distance between active clusters i and j.
	linkage := make([][]float64, n)
	for i := range linkage {
		linkage[i] = make([]float64, n)
		copy(linkage[i], dist[i])
	}
	size := make([]int, n)
	owner := make([]int, n)
	active := make([]bool, n)
	for i := 0; i < n; i++ {
		size[i] = 1
		owner[i] = i
		active[i] = true
	}

	for remaining := n; remaining > k; remaining-- {
		bi, bj := -1, -1
		best := math.Inf(1)
		for i := 0; i < n; i++ {
			if !active[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if active[j] && linkage[i][j] < best {
					best = linkage[i][j]
					bi, bj = i, j
				}
			}
		}

		// Merge bj into bi (Lance-Williams update for average linkage).
		for m := 0; m < n; m++ {
			if !active[m] || m == bi || m == bj {
				continue
			}
			merged := (float64(size[bi])*linkage[bi][m] + float64(size[bj])*linkage[bj][m]) / float64(size[bi]+size[bj])
			linkage[bi][m] = merged
			linkage[m][bi] = merged
		}
		size[bi] += size[bj]
		active[bj] = false
		for p := range owner {
			if owner[p] == bj {
				owner[p] = bi
			}
		}
	}

	return models.LabelingFromInts(owner).Canonical(), nil
}
