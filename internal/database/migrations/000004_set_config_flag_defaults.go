package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func setConfigFlagDefaultsMigration() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_set_config_flag_defaults",
		Migrate: func(tx *gorm.DB) error {
			statements := []string{
				`ALTER TABLE establishment_commission_configs ALTER COLUMN consultant_bonus_enabled SET DEFAULT true`,
				`ALTER TABLE establishment_commission_configs ALTER COLUMN manager_bonus_enabled SET DEFAULT true`,
			}
			for _, stmt := range statements {
				if err := tx.Exec(stmt).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			statements := []string{
				`ALTER TABLE establishment_commission_configs ALTER COLUMN consultant_bonus_enabled DROP DEFAULT`,
				`ALTER TABLE establishment_commission_configs ALTER COLUMN manager_bonus_enabled DROP DEFAULT`,
			}
			for _, stmt := range statements {
				if err := tx.Exec(stmt).Error; err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func init() {
	migrationsList = append(migrationsList, setConfigFlagDefaultsMigration())
}
