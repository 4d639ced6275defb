package engine

import (
	"context"
	"fmt"

	"github.com/thebtf/clusterlens/pkg/models"
	"github.com/thebtf/clusterlens/pkg/similarity"
)

// Stats is the coherence summary of one committed cluster.
type Stats struct {
	Score models.CoherenceScore
	Label int
	Size  int
}

// ClusterStats scores the committed cluster with the given label.
func (e *Engine) ClusterStats(ctx context.Context, label int) (*Stats, error) {
	_, members, err := e.clusterMembers(ctx, label)
	if err != nil {
		return nil, err
	}
	score, err := coherenceOf(members)
	if err != nil {
		return nil, err
	}
	return &Stats{Label: label, Size: len(members), Score: score}, nil
}

func (e *Engine) clusterMembers(ctx context.Context, label int) (*models.Cluster, []*models.Item, error) {
	cluster, err := e.registry.GetCluster(ctx, label)
	if err != nil {
		return nil, nil, storageErr("get cluster", err)
	}
	members, err := e.items.GetItemsByIDs(ctx, cluster.MemberIDs)
	if err != nil {
		return nil, nil, storageErr("get members", err)
	}
	if len(members) == 0 {
		return nil, nil, ErrClusterNotFound
	}
	return cluster, members, nil
}

func coherenceOf(members []*models.Item) (models.CoherenceScore, error) {
	vectors := make([][]float64, len(members))
	for i, m := range members {
		vectors[i] = m.Embedding.Float64()
	}
	score, err := similarity.Coherence(vectors)
	if err != nil {
		return models.CoherenceScore{}, fmt.Errorf("score cluster: %w", err)
	}
	return score, nil
}
