package clustering

import (
	"math"
	"math/rand/v2"

	"github.com/thebtf/clusterlens/pkg/models"
	"github.com/thebtf/clusterlens/pkg/similarity"
)

// Partition defaults.
const (
	DefaultSeed     = 42
	DefaultRestarts = 10
	DefaultMaxIter  = 300
	defaultTol      = 1e-4
)

// KMeans is Lloyd's algorithm with k-means++ seeding on L2-normalized vectors.
// It runs Restarts independent initializations from one seeded generator and
// keeps the solution with the lowest inertia. No noise is produced.
type KMeans struct {
	K        int
	Seed     uint64
	Restarts int
	MaxIter  int
}

// NewKMeans returns a KMeans strategy with default restarts and iterations.
func NewKMeans(k int, seed uint64) *KMeans {
	return &KMeans{K: k, Seed: seed, Restarts: DefaultRestarts, MaxIter: DefaultMaxIter}
}

// Name implements Strategy.
func (km *KMeans) Name() models.Strategy {
	return models.StrategyPartition
}

// Cluster implements Strategy. K larger than the item count is reduced to the
// item count.
func (km *KMeans) Cluster(vectors [][]float64) (models.Labeling, error) {
	labels, _, err := km.Fit(vectors)
	if err != nil {
		return nil, err
	}
	return labels, nil
}

// Fit clusters vectors and also returns the inertia of the chosen solution:
// the sum of squared Euclidean distances from each normalized vector to its centroid.
func (km *KMeans) Fit(vectors [][]float64) (models.Labeling, float64, error) {
	n := len(vectors)
	if n == 0 {
		return models.Labeling{}, 0, nil
	}

	points, err := similarity.NormalizeAll(vectors)
	if err != nil {
		return nil, 0, err
	}

	k := effectiveK(km.K, n)
	restarts := km.Restarts
	if restarts < 1 {
		restarts = DefaultRestarts
	}
	maxIter := km.MaxIter
	if maxIter < 1 {
		maxIter = DefaultMaxIter
	}

	rng := rand.New(rand.NewPCG(km.Seed, km.Seed^0x9e3779b97f4a7c15))

	var bestLabels []int
	bestInertia := math.Inf(1)
	for r := 0; r < restarts; r++ {
		labels, inertia := lloyd(points, seedPlusPlus(points, k, rng), maxIter)
		if inertia < bestInertia {
			bestInertia = inertia
			bestLabels = labels
		}
	}

	return models.LabelingFromInts(bestLabels).Canonical(), bestInertia, nil
}

// seedPlusPlus picks k initial centroids with k-means++ D^2 weighting.
func seedPlusPlus(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(points)
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, clone(points[rng.IntN(n)]))

	closest := make([]float64, n)
	for i, p := range points {
		closest[i] = sqDist(p, centroids[0])
	}

	for len(centroids) < k {
		var total float64
		for _, d := range closest {
			total += d
		}

		pick := -1
		if total > 0 {
			target := rng.Float64() * total
			var acc float64
			for i, d := range closest {
				acc += d
				if acc >= target && d > 0 {
					pick = i
					break
				}
			}
		}
		if pick < 0 {
			// All points coincide with a centroid; fall back to a uniform pick.
			pick = rng.IntN(n)
		}

		c := clone(points[pick])
		centroids = append(centroids, c)
		for i, p := range points {
			if d := sqDist(p, c); d < closest[i] {
				closest[i] = d
			}
		}
	}
	return centroids
}

// lloyd iterates assignment and update steps until centroid movement drops
// below tolerance or maxIter is reached. Returns labels and inertia.
func lloyd(points, centroids [][]float64, maxIter int) ([]int, float64) {
	n, k := len(points), len(centroids)
	dim := len(points[0])
	labels := make([]int, n)

	for iter := 0; iter < maxIter; iter++ {
		assign(points, centroids, labels)
		repairEmpty(points, centroids, labels)

		next := make([][]float64, k)
		counts := make([]int, k)
		for c := range next {
			next[c] = make([]float64, dim)
		}
		for i, p := range points {
			c := labels[i]
			counts[c]++
			for d, x := range p {
				next[c][d] += x
			}
		}

		var shift float64
		for c := range next {
			if counts[c] == 0 {
				copy(next[c], centroids[c])
				continue
			}
			for d := range next[c] {
				next[c][d] /= float64(counts[c])
			}
			shift += sqDist(next[c], centroids[c])
		}
		centroids = next

		if shift <= defaultTol*defaultTol {
			break
		}
	}

	assign(points, centroids, labels)
	repairEmpty(points, centroids, labels)

	var inertia float64
	for i, p := range points {
		inertia += sqDist(p, centroids[labels[i]])
	}
	return labels, inertia
}

// assign labels each point with its nearest centroid (lowest index on ties).
func assign(points, centroids [][]float64, labels []int) {
	for i, p := range points {
		best, bestD := 0, math.Inf(1)
		for c, centroid := range centroids {
			if d := sqDist(p, centroid); d < bestD {
				best, bestD = c, d
			}
		}
		labels[i] = best
	}
}

// repairEmpty moves the point farthest from its centroid into each empty
// cluster, taking only from clusters with more than one member, so every
// cluster ends up non-empty whenever there are at least k points.
func repairEmpty(points, centroids [][]float64, labels []int) {
	k := len(centroids)
	counts := make([]int, k)
	for _, l := range labels {
		counts[l]++
	}

	for c := 0; c < k; c++ {
		if counts[c] > 0 {
			continue
		}
		far, farD := -1, -1.0
		for i, p := range points {
			if counts[labels[i]] <= 1 {
				continue
			}
			if d := sqDist(p, centroids[labels[i]]); d > farD {
				far, farD = i, d
			}
		}
		if far < 0 {
			return
		}
		counts[labels[far]]--
		labels[far] = c
		counts[c]++
		centroids[c] = clone(points[far])
	}
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

func clone(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
