package postgres

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations brings the schema up to date using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "001_results_and_runs",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&resultModel{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&runModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("affinity_results", "affinity_runs")
			},
		},
		{
			ID: "002_engagement",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&engagementModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("engagement")
			},
		},
		{
			ID: "003_sweeps",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&sweepModel{}, &sweepRowModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("affinity_sweep_rows", "affinity_sweeps")
			},
		},
	})
	return m.Migrate()
}
