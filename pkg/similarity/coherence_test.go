package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/clusterlens/pkg/models"
)

func TestCoherence_Singleton(t *testing.T) {
	score, err := Coherence([][]float64{{0.3, 0.1}})
	require.NoError(t, err)
	assert.Equal(t, models.CoherenceScore{AvgSimilarity: 1.0, Band: models.BandPerfect}, score)

	score, err = Coherence(nil)
	require.NoError(t, err)
	assert.Equal(t, models.BandPerfect, score.Band)
}

func TestCoherence_IdenticalMembers(t *testing.T) {
	v := []float64{0.2, 0.4, 0.9}
	score, err := Coherence([][]float64{v, v, v})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score.AvgSimilarity, 1e-9)
	assert.Equal(t, models.BandExcellent, score.Band, "perfect is reserved for singletons")
}

func TestCoherence_UpperTriangleMean(t *testing.T) {
	// Pairs: (a,b)=0, (a,c)=1, (b,c)=0 -> mean 1/3.
	members := [][]float64{
		{1, 0},
		{0, 1},
		{1, 0},
	}
	score, err := Coherence(members)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3.0, score.AvgSimilarity, 1e-9)
	assert.Equal(t, models.BandLoose, score.Band)
}

func TestCoherence_DimensionMismatch(t *testing.T) {
	_, err := Coherence([][]float64{{1, 0}, {1}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestBandFor(t *testing.T) {
	tests := []struct {
		avg      float64
		expected models.Band
	}{
		{avg: 1.0, expected: models.BandExcellent},
		{avg: 0.85, expected: models.BandExcellent},
		{avg: 0.8499, expected: models.BandGood},
		{avg: 0.75, expected: models.BandGood},
		{avg: 0.70, expected: models.BandModerate},
		{avg: 0.65, expected: models.BandModerate},
		{avg: 0.6499, expected: models.BandLoose},
		{avg: -1.0, expected: models.BandLoose},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, BandFor(tt.avg), "avg=%v", tt.avg)
	}
}
