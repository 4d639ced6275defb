package models

// Cluster is a committed group of items sharing one label.
// A cluster never has an empty member set.
type Cluster struct {
	RunID     string  `json:"run_id"`
	MemberIDs []int64 `json:"member_ids"`
	Label     int     `json:"label"`
}

// Size returns the number of members.
func (c *Cluster) Size() int {
	return len(c.MemberIDs)
}

// Strategy names the clustering algorithm that produced a labeling.
type Strategy string

const (
	StrategyNone         Strategy = "none"
	StrategyDensity      Strategy = "dbscan"
	StrategyHierarchical Strategy = "agglomerative"
	StrategyPartition    Strategy = "kmeans"
)

// ClusterRun records one committed orchestration run. Seq increases by one
// with every commit.
type ClusterRun struct {
	ID              string   `json:"id"`
	Strategy        Strategy `json:"strategy"`
	CreatedAt       string   `json:"created_at"`
	Eps             float64  `json:"eps"`
	MinSamples      int      `json:"min_samples"`
	ItemCount       int      `json:"item_count"`
	ClusterCount    int      `json:"cluster_count"`
	NoiseCount      int      `json:"noise_count"`
	DensityClusters int      `json:"density_clusters"`
	DensityNoise    int      `json:"density_noise"`
	CreatedAtEpoch  int64    `json:"created_at_epoch"`
	Seq             int64    `json:"seq"`
}

// Band is a qualitative coherence level.
type Band string

const (
	BandPerfect   Band = "perfect"
	BandExcellent Band = "excellent"
	BandGood      Band = "good"
	BandModerate  Band = "moderate"
	BandLoose     Band = "loose"
)

// CoherenceScore summarizes how tightly related a cluster's members are.
type CoherenceScore struct {
	Band          Band    `json:"coherence"`
	AvgSimilarity float64 `json:"avg_similarity"`
}
