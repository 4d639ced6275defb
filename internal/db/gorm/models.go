package gorm

import (
	"database/sql"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/clusterlens/pkg/models"
)

// GORM Models

// Item is a stored item with its embedding and committed cluster label.
// AUTOINCREMENT keeps ids from ever being reused, even after deletion.
type Item struct {
	ID             int64            `gorm:"primaryKey;autoIncrement"`
	Name           string           `gorm:"type:text;not null"`
	BlobKey        sql.NullString   `gorm:"type:text;uniqueIndex"`
	Embedding      models.Embedding `gorm:"type:text;not null"` // JSON array
	Dimensions     int              `gorm:"not null"`
	ClusterLabel   sql.NullInt64    `gorm:"index"`
	CreatedAt      string           `gorm:"not null"`
	CreatedAtEpoch int64            `gorm:"index:idx_items_created;not null"`
}

func (Item) TableName() string { return "items" }

// BeforeCreate hook to ensure timestamps and dimensions are set.
func (i *Item) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if i.CreatedAtEpoch == 0 {
		i.CreatedAtEpoch = now.UnixMilli()
	}
	if i.CreatedAt == "" {
		i.CreatedAt = now.Format(time.RFC3339)
	}
	if i.Dimensions == 0 {
		i.Dimensions = len(i.Embedding)
	}
	return nil
}

// Cluster is a committed cluster. Membership is mirrored in Item.ClusterLabel
// and both are only ever written together inside one transaction.
type Cluster struct {
	ID             int64                 `gorm:"primaryKey;autoIncrement"`
	Label          int                   `gorm:"uniqueIndex;not null"`
	MemberIDs      models.JSONInt64Array `gorm:"type:text;not null"` // JSON array
	Size           int                   `gorm:"not null"`
	RunID          string                `gorm:"type:text;index"`
	CreatedAt      string                `gorm:"not null"`
	CreatedAtEpoch int64                 `gorm:"not null"`
}

func (Cluster) TableName() string { return "clusters" }

// BeforeCreate hook to ensure timestamps are set.
func (c *Cluster) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if c.CreatedAtEpoch == 0 {
		c.CreatedAtEpoch = now.UnixMilli()
	}
	if c.CreatedAt == "" {
		c.CreatedAt = now.Format(time.RFC3339)
	}
	c.Size = len(c.MemberIDs)
	return nil
}

// ClusterRun records one committed orchestration run.
type ClusterRun struct {
	ID              string  `gorm:"primaryKey;type:text"`
	Seq             int64   `gorm:"index:idx_cluster_runs_seq,sort:desc;not null;default:0"`
	Strategy        string  `gorm:"type:text;check:strategy IN ('none', 'dbscan', 'agglomerative', 'kmeans');not null"`
	Eps             float64 `gorm:"type:real;not null"`
	MinSamples      int     `gorm:"not null"`
	ItemCount       int     `gorm:"not null"`
	ClusterCount    int     `gorm:"not null"`
	NoiseCount      int     `gorm:"not null"`
	DensityClusters int     `gorm:"not null"`
	DensityNoise    int     `gorm:"not null"`
	CreatedAt       string  `gorm:"not null"`
	CreatedAtEpoch  int64   `gorm:"index:idx_cluster_runs_created,sort:desc;not null"`
}

func (ClusterRun) TableName() string { return "cluster_runs" }

// BeforeCreate hook to ensure timestamps are set.
func (r *ClusterRun) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if r.CreatedAtEpoch == 0 {
		r.CreatedAtEpoch = now.UnixMilli()
	}
	if r.CreatedAt == "" {
		r.CreatedAt = now.Format(time.RFC3339)
	}
	return nil
}

func toModelItem(i *Item) *models.Item {
	item := &models.Item{
		ID:             i.ID,
		Name:           i.Name,
		BlobKey:        i.BlobKey.String,
		Embedding:      i.Embedding,
		CreatedAt:      i.CreatedAt,
		CreatedAtEpoch: i.CreatedAtEpoch,
	}
	if i.ClusterLabel.Valid {
		label := int(i.ClusterLabel.Int64)
		item.ClusterLabel = &label
	}
	return item
}

func toModelItems(rows []Item) []*models.Item {
	out := make([]*models.Item, len(rows))
	for i := range rows {
		out[i] = toModelItem(&rows[i])
	}
	return out
}

func toModelCluster(c *Cluster) models.Cluster {
	return models.Cluster{
		Label:     c.Label,
		MemberIDs: []int64(c.MemberIDs),
		RunID:     c.RunID,
	}
}

func toModelRun(r *ClusterRun) *models.ClusterRun {
	return &models.ClusterRun{
		ID:              r.ID,
		Seq:             r.Seq,
		Strategy:        models.Strategy(r.Strategy),
		Eps:             r.Eps,
		MinSamples:      r.MinSamples,
		ItemCount:       r.ItemCount,
		ClusterCount:    r.ClusterCount,
		NoiseCount:      r.NoiseCount,
		DensityClusters: r.DensityClusters,
		DensityNoise:    r.DensityNoise,
		CreatedAt:       r.CreatedAt,
		CreatedAtEpoch:  r.CreatedAtEpoch,
	}
}
