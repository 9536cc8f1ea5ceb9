package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/clinicref/backend/internal/models"
	"github.com/clinicref/backend/internal/services/commission"
)

// Store is the postgres-backed commission ledger
type Store struct {
	db *gorm.DB
}

// NewStore creates a new ledger store
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// RunInTx runs fn in one database transaction, committing only when fn succeeds
func (s *Store) RunInTx(ctx context.Context, fn func(tx commission.LedgerTx) error) error {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(&ledgerTx{db: tx}); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Snapshot returns a lock-free reader for previews
func (s *Store) Snapshot() commission.UnitLedger {
	return &snapshot{db: s.db}
}

func counterQuery(db *gorm.DB, ownerID uuid.UUID, establishmentCode string) *gorm.DB {
	return db.Model(&models.UnitCounter{}).
		Where("scope = ? AND owner_id = ? AND establishment_code = ?", models.CounterScopeUser, ownerID, establishmentCode)
}

// sumLeadUnits adds up converted units sold by consultantIDs at an establishment
func sumLeadUnits(db *gorm.DB, establishmentCode string, consultantIDs []uuid.UUID, exclude *uuid.UUID) (int, error) {
	if len(consultantIDs) == 0 {
		return 0, nil
	}
	q := db.Model(&models.Lead{}).
		Select("COALESCE(SUM(units_sold), 0)").
		Where("status = ? AND establishment_code = ? AND consultant_id IN ?", models.LeadStatusConverted, establishmentCode, consultantIDs)
	if exclude != nil {
		q = q.Where("id <> ?", *exclude)
	}

	var total int64
	if err := q.Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("failed to sum converted units: %w", err)
	}
	return int(total), nil
}

// snapshot reads counters without locking and never seeds them
type snapshot struct {
	db *gorm.DB
}

func (s *snapshot) SumConvertedUnits(ctx context.Context, userID uuid.UUID, establishmentCode string, excludeLeadID *uuid.UUID) (int, error) {
	db := s.db.WithContext(ctx)

	var counter models.UnitCounter
	err := counterQuery(db, userID, establishmentCode).First(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sumLeadUnits(db, establishmentCode, []uuid.UUID{userID}, excludeLeadID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read unit counter: %w", err)
	}
	if excludeLeadID == nil {
		return counter.Units, nil
	}

	// The counter already includes the excluded lead if it was converted earlier.
	var excluded int64
	if err := db.Model(&models.Lead{}).
		Select("COALESCE(SUM(units_sold), 0)").
		Where("id = ? AND consultant_id = ? AND establishment_code = ? AND status = ?",
			*excludeLeadID, userID, establishmentCode, models.LeadStatusConverted).
		Scan(&excluded).Error; err != nil {
		return 0, fmt.Errorf("failed to read excluded lead: %w", err)
	}
	return counter.Units - int(excluded), nil
}

func (s *snapshot) SumTeamConvertedUnits(ctx context.Context, teamUserIDs []uuid.UUID, establishmentCode string, excludeLeadID *uuid.UUID) (int, error) {
	total := 0
	for _, id := range lockOrder(teamUserIDs) {
		units, err := s.SumConvertedUnits(ctx, id, establishmentCode, excludeLeadID)
		if err != nil {
			return 0, err
		}
		total += units
	}
	return total, nil
}

var _ commission.Store = (*Store)(nil)
