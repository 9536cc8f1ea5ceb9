package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addLedgerIndexesMigration() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_add_ledger_indexes",
		Migrate: func(tx *gorm.DB) error {
			statements := []string{
				// Counter seeding and reconciliation sum converted units per seller.
				`CREATE INDEX IF NOT EXISTS idx_leads_converted_units
				 ON leads (consultant_id, establishment_code)
				 INCLUDE (units_sold)
				 WHERE status = 'converted' AND deleted_at IS NULL`,
				`ALTER TABLE commission_records
				 DROP CONSTRAINT IF EXISTS chk_commission_amounts,
				 ADD CONSTRAINT chk_commission_amounts
				 CHECK (base_amount >= 0 AND bonus_amount >= 0 AND total_amount = base_amount + bonus_amount)`,
				`ALTER TABLE leads
				 DROP CONSTRAINT IF EXISTS chk_leads_units_sold,
				 ADD CONSTRAINT chk_leads_units_sold
				 CHECK (status <> 'converted' OR units_sold IN (1, 2))`,
				`ALTER TABLE unit_counters
				 DROP CONSTRAINT IF EXISTS chk_unit_counters_units,
				 ADD CONSTRAINT chk_unit_counters_units CHECK (units >= 0)`,
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
				`DROP INDEX IF EXISTS idx_leads_converted_units`,
				`ALTER TABLE commission_records DROP CONSTRAINT IF EXISTS chk_commission_amounts`,
				`ALTER TABLE leads DROP CONSTRAINT IF EXISTS chk_leads_units_sold`,
				`ALTER TABLE unit_counters DROP CONSTRAINT IF EXISTS chk_unit_counters_units`,
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
	migrationsList = append(migrationsList, addLedgerIndexesMigration())
}
