package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/clinicref/backend/internal/queue"
)

func createJobsTableMigration() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_jobs_table",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&queue.Job{}); err != nil {
				return err
			}
			// The resignal sweep only ever scans pending jobs.
			return tx.Exec(`
				CREATE INDEX IF NOT EXISTS idx_jobs_pending
				ON jobs (updated_at)
				WHERE status = 'pending'
			`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec("DROP TABLE IF EXISTS jobs").Error
		},
	}
}

func init() {
	migrationsList = append(migrationsList, createJobsTableMigration())
}
