package gorm

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"github.com/thebtf/clusterlens/pkg/models"
)

// ErrClusterNotFound is returned when no committed cluster has the label.
var ErrClusterNotFound = errors.New("cluster not found")

// Registry persists the cluster assignment. Every write keeps
// Item.ClusterLabel and the clusters table in agreement by running in a
// single transaction.
type Registry struct {
	db *gorm.DB
}

// NewRegistry creates a new cluster registry.
func NewRegistry(store *Store) *Registry {
	return &Registry{db: store.DB}
}

// Replace atomically discards every prior cluster and label, then commits
// labeling, where labeling[i] is the assignment of itemIDs[i]. Noise items
// keep a NULL label. If anything fails the previous state is left intact.
func (r *Registry) Replace(ctx context.Context, itemIDs []int64, labeling models.Labeling, run *models.ClusterRun) ([]models.Cluster, error) {
	if len(itemIDs) != len(labeling) {
		return nil, fmt.Errorf("replace clusters: %d items but %d labels", len(itemIDs), len(labeling))
	}

	members := make(map[int][]int64)
	for i, a := range labeling {
		if label, ok := a.Label(); ok {
			members[label] = append(members[label], itemIDs[i])
		}
	}
	labels := make([]int, 0, len(members))
	for label := range members {
		labels = append(labels, label)
	}
	sort.Ints(labels)

	runID := ""
	if run != nil {
		runID = run.ID
	}

	committed := make([]models.Cluster, 0, len(labels))
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Item{}).Where("cluster_label IS NOT NULL").Update("cluster_label", nil).Error; err != nil {
			return fmt.Errorf("clear labels: %w", err)
		}
		if err := tx.Where("1 = 1").Delete(&Cluster{}).Error; err != nil {
			return fmt.Errorf("clear clusters: %w", err)
		}

		for _, label := range labels {
			ids := members[label]
			res := tx.Model(&Item{}).Where("id IN ?", ids).Update("cluster_label", label)
			if res.Error != nil {
				return fmt.Errorf("assign cluster %d: %w", label, res.Error)
			}
			if res.RowsAffected != int64(len(ids)) {
				return fmt.Errorf("%w: cluster %d expected %d items, updated %d", ErrStaleLabeling, label, len(ids), res.RowsAffected)
			}

			row := &Cluster{Label: label, MemberIDs: models.JSONInt64Array(ids), RunID: runID}
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("insert cluster %d: %w", label, err)
			}
			committed = append(committed, toModelCluster(row))
		}

		if run != nil {
			var last int64
			if err := tx.Model(&ClusterRun{}).Select("COALESCE(MAX(seq), 0)").Scan(&last).Error; err != nil {
				return fmt.Errorf("read run sequence: %w", err)
			}
			row := &ClusterRun{
				ID:              run.ID,
				Seq:             last + 1,
				Strategy:        string(run.Strategy),
				Eps:             run.Eps,
				MinSamples:      run.MinSamples,
				ItemCount:       run.ItemCount,
				ClusterCount:    run.ClusterCount,
				NoiseCount:      run.NoiseCount,
				DensityClusters: run.DensityClusters,
				DensityNoise:    run.DensityNoise,
			}
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("insert run: %w", err)
			}
			run.Seq = row.Seq
			run.CreatedAt = row.CreatedAt
			run.CreatedAtEpoch = row.CreatedAtEpoch
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// ListClusters returns every committed cluster ordered by label.
func (r *Registry) ListClusters(ctx context.Context) ([]models.Cluster, error) {
	var rows []Cluster
	if err := r.db.WithContext(ctx).Order("label ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Cluster, len(rows))
	for i := range rows {
		out[i] = toModelCluster(&rows[i])
	}
	return out, nil
}

// GetCluster returns the committed cluster with the label, or ErrClusterNotFound.
func (r *Registry) GetCluster(ctx context.Context, label int) (*models.Cluster, error) {
	var row Cluster
	err := r.db.WithContext(ctx).Where("label = ?", label).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrClusterNotFound
	}
	if err != nil {
		return nil, err
	}
	c := toModelCluster(&row)
	return &c, nil
}

// ClusterFor returns the committed assignment of an item.
func (r *Registry) ClusterFor(ctx context.Context, itemID int64) (models.Assignment, error) {
	var row Item
	err := r.db.WithContext(ctx).Select("id", "cluster_label").First(&row, itemID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Noise(), ErrItemNotFound
	}
	if err != nil {
		return models.Noise(), err
	}
	if !row.ClusterLabel.Valid {
		return models.Noise(), nil
	}
	return models.Assigned(int(row.ClusterLabel.Int64)), nil
}

// LatestRun returns the most recent committed run, or nil if none exists.
// Epochs have millisecond resolution, so the commit sequence decides.
func (r *Registry) LatestRun(ctx context.Context) (*models.ClusterRun, error) {
	var rows []ClusterRun
	err := r.db.WithContext(ctx).Order("seq DESC").Order("created_at_epoch DESC").Limit(1).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return toModelRun(&rows[0]), nil
}

// DeleteItem removes an item and drops it from its cluster; a cluster left
// empty is deleted. Returns the deleted item or ErrItemNotFound.
func (r *Registry) DeleteItem(ctx context.Context, id int64) (*models.Item, error) {
	var deleted *models.Item
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Item
		err := tx.First(&row, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrItemNotFound
		}
		if err != nil {
			return err
		}

		if row.ClusterLabel.Valid {
			var cluster Cluster
			err := tx.Where("label = ?", row.ClusterLabel.Int64).First(&cluster).Error
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			if err == nil {
				remaining := make(models.JSONInt64Array, 0, len(cluster.MemberIDs))
				for _, m := range cluster.MemberIDs {
					if m != id {
						remaining = append(remaining, m)
					}
				}
				if len(remaining) == 0 {
					err = tx.Delete(&Cluster{}, cluster.ID).Error
				} else {
					err = tx.Model(&Cluster{}).Where("id = ?", cluster.ID).
						Updates(map[string]interface{}{"member_ids": remaining, "size": len(remaining)}).Error
				}
				if err != nil {
					return fmt.Errorf("update cluster %d: %w", cluster.Label, err)
				}
			}
		}

		if err := tx.Delete(&Item{}, id).Error; err != nil {
			return err
		}
		deleted = toModelItem(&row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// ClearAll deletes every item, cluster and run record.
func (r *Registry) ClearAll(ctx context.Context) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{&Cluster{}, &ClusterRun{}, &Item{}} {
			if err := tx.Where("1 = 1").Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
