// Package similarity provides cosine similarity and coherence utilities over embeddings.
package similarity

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when vectors in one operation have different lengths.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// ErrEmpty is returned when an operation needs at least one vector.
var ErrEmpty = errors.New("no vectors")

// Validate checks that vectors is non-empty and every vector has the same length.
// Returns that length.
func Validate(vectors [][]float64) (int, error) {
	if len(vectors) == 0 {
		return 0, ErrEmpty
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return 0, fmt.Errorf("%w: vector %d has %d dimensions, expected %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return dim, nil
}

// Normalize returns an L2-normalized copy of v.
// A zero vector stays zero.
func Normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// NormalizeAll validates vectors and returns L2-normalized copies.
func NormalizeAll(vectors [][]float64) ([][]float64, error) {
	if _, err := Validate(vectors); err != nil {
		return nil, err
	}
	out := make([][]float64, len(vectors))
	for i, v := range vectors {
		out[i] = Normalize(v)
	}
	return out, nil
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns a value in [-1, 1]. If either vector is zero the similarity is 0,
// which maps to the neutral distance 1.0.
func CosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return clamp(dot/(math.Sqrt(normA)*math.Sqrt(normB)), -1, 1), nil
}

// CosineDistance returns 1 - CosineSimilarity(a, b).
func CosineDistance(a, b []float64) (float64, error) {
	sim, err := CosineSimilarity(a, b)
	if err != nil {
		return 0, err
	}
	return 1 - sim, nil
}

// unitDistance is the cosine distance between two unit (or zero) vectors.
func unitDistance(a, b []float64) float64 {
	var dot float64
	zeroA, zeroB := true, true
	for i := range a {
		dot += a[i] * b[i]
		if a[i] != 0 {
			zeroA = false
		}
		if b[i] != 0 {
			zeroB = false
		}
	}
	if zeroA || zeroB {
		return 1
	}
	return 1 - clamp(dot, -1, 1)
}

// Matrix is a dense symmetric n x n matrix.
type Matrix [][]float64

// Len returns the matrix dimension.
func (m Matrix) Len() int {
	return len(m)
}

// PairwiseDistance returns the cosine distance matrix of vectors after
// L2-normalizing each one. The diagonal is always 0, zero vectors included.
func PairwiseDistance(vectors [][]float64) (Matrix, error) {
	normalized, err := NormalizeAll(vectors)
	if err != nil {
		return nil, err
	}
	return pairwiseUnitDistance(normalized), nil
}

// PairwiseSimilarity returns the cosine similarity matrix (1 - distance).
func PairwiseSimilarity(vectors [][]float64) (Matrix, error) {
	dist, err := PairwiseDistance(vectors)
	if err != nil {
		return nil, err
	}
	for i := range dist {
		for j := range dist[i] {
			dist[i][j] = 1 - dist[i][j]
		}
	}
	return dist, nil
}

func pairwiseUnitDistance(normalized [][]float64) Matrix {
	n := len(normalized)
	m := make(Matrix, n)
	for i := range m {
		m[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		// A point is always its own neighbor.
		m[i][i] = 0
		for j := i + 1; j < n; j++ {
			d := unitDistance(normalized[i], normalized[j])
			m[i][j] = d
			m[j][i] = d
		}
	}
	return m
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
