package similarity

import "github.com/thebtf/clusterlens/pkg/models"

// Coherence band thresholds on the mean pairwise similarity.
const (
	ExcellentThreshold = 0.85
	GoodThreshold      = 0.75
	ModerateThreshold  = 0.65
)

// Coherence scores a cluster by the mean cosine similarity over every
// unordered pair of members. Fewer than two members are perfect by definition.
func Coherence(members [][]float64) (models.CoherenceScore, error) {
	if len(members) < 2 {
		return models.CoherenceScore{AvgSimilarity: 1.0, Band: models.BandPerfect}, nil
	}

	sim, err := PairwiseSimilarity(members)
	if err != nil {
		return models.CoherenceScore{}, err
	}

	var sum float64
	pairs := 0
	for i := 0; i < sim.Len(); i++ {
		for j := i + 1; j < sim.Len(); j++ {
			sum += sim[i][j]
			pairs++
		}
	}
	avg := sum / float64(pairs)

	return models.CoherenceScore{AvgSimilarity: avg, Band: BandFor(avg)}, nil
}

// BandFor maps a mean similarity to its band. BandPerfect is never returned;
// it is reserved for singleton clusters.
func BandFor(avg float64) models.Band {
	switch {
	case avg >= ExcellentThreshold:
		return models.BandExcellent
	case avg >= GoodThreshold:
		return models.BandGood
	case avg >= ModerateThreshold:
		return models.BandModerate
	default:
		return models.BandLoose
	}
}
