package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/clinicref/backend/internal/models"
)

func createCommissionTablesMigration() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_commission_tables",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.Exec(`CREATE EXTENSION IF NOT EXISTS pgcrypto`).Error; err != nil {
				return err
			}
			return tx.AutoMigrate(
				&models.Lead{},
				&models.Referral{},
				&models.EstablishmentCommissionConfig{},
				&models.TeamMembership{},
				&models.CommissionRecord{},
				&models.UnitCounter{},
				&models.AuditLog{},
			)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&models.AuditLog{},
				&models.UnitCounter{},
				&models.CommissionRecord{},
				&models.TeamMembership{},
				&models.EstablishmentCommissionConfig{},
				&models.Referral{},
				&models.Lead{},
			)
		},
	}
}

func init() {
	migrationsList = append(migrationsList, createCommissionTablesMigration())
}
