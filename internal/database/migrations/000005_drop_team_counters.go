package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func dropTeamCountersMigration() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_drop_team_counters",
		Migrate: func(tx *gorm.DB) error {
			// Team totals are summed from member counters; stored team rows went stale on team changes.
			if err := tx.Exec(`DELETE FROM unit_counters WHERE scope = 'team'`).Error; err != nil {
				return err
			}
			return tx.Exec(`
				ALTER TABLE unit_counters
				DROP CONSTRAINT IF EXISTS chk_unit_counters_scope,
				ADD CONSTRAINT chk_unit_counters_scope CHECK (scope = 'user')
			`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec(`ALTER TABLE unit_counters DROP CONSTRAINT IF EXISTS chk_unit_counters_scope`).Error
		},
	}
}

func init() {
	migrationsList = append(migrationsList, dropTeamCountersMigration())
}
