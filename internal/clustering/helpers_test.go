package clustering

import "math/rand/v2"

// axis returns a dim-length vector with 1 at position i and eps at position j.
func axis(dim, i, j int, eps float64) []float64 {
	v := make([]float64, dim)
	v[i] = 1
	if j >= 0 {
		v[j] += eps
	}
	return v
}

// tightPairs returns `pairs` groups of two nearly identical vectors, each
// group along its own axis.
func tightPairs(pairs int) [][]float64 {
	out := make([][]float64, 0, pairs*2)
	for p := 0; p < pairs; p++ {
		out = append(out, axis(pairs, p, -1, 0))
		out = append(out, axis(pairs, p, (p+1)%pairs, 0.05))
	}
	return out
}

// twoGroupsAndOutlier is 5 vectors: two tight pairs and one outlier.
func twoGroupsAndOutlier() [][]float64 {
	return [][]float64{
		{1, 0, 0},
		{0.99, 0.05, 0},
		{0, 1, 0},
		{0.05, 0.99, 0},
		{0, 0, 1},
	}
}

// noise returns n Gaussian vectors of dimension dim with no structure.
func noise(n, dim int, seed uint64) [][]float64 {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, dim)
		for d := range out[i] {
			out[i][d] = rng.NormFloat64()
		}
	}
	return out
}

func distinct(labels []int) map[int]int {
	counts := make(map[int]int)
	for _, l := range labels {
		counts[l]++
	}
	return counts
}
