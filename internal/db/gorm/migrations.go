package gorm

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: Items (vector store)
		{
			ID: "001_items",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&Item{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("items")
			},
		},

		// Migration 002: Cluster registry
		{
			ID: "002_clusters",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&Cluster{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("clusters")
			},
		},

		// Migration 003: Run history
		{
			ID: "003_cluster_runs",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&ClusterRun{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("cluster_runs")
			},
		},

		// Migration 004: Commit order of runs. Databases created before the
		// column existed number their runs by creation time.
		{
			ID: "004_cluster_runs_seq",
			Migrate: func(tx *gorm.DB) error {
				if !tx.Migrator().HasColumn(&ClusterRun{}, "Seq") {
					if err := tx.Migrator().AddColumn(&ClusterRun{}, "Seq"); err != nil {
						return err
					}
					var ids []string
					if err := tx.Model(&ClusterRun{}).Order("created_at_epoch ASC").Pluck("id", &ids).Error; err != nil {
						return err
					}
					for i, id := range ids {
						if err := tx.Model(&ClusterRun{}).Where("id = ?", id).Update("seq", i+1).Error; err != nil {
							return err
						}
					}
				}
				if !tx.Migrator().HasIndex(&ClusterRun{}, "idx_cluster_runs_seq") {
					return tx.Migrator().CreateIndex(&ClusterRun{}, "idx_cluster_runs_seq")
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropColumn(&ClusterRun{}, "Seq")
			},
		},
	})

	if err := m.Migrate(); err != nil {
		return fmt.Errorf("run gormigrate migrations: %w", err)
	}

	return nil
}
