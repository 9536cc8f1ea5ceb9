package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clinicref/backend/internal/models"
	"github.com/clinicref/backend/internal/services/commission"
)

var (
	// ErrInvalidAssignment indicates a team assignment that would break the single-level hierarchy
	ErrInvalidAssignment = errors.New("hierarchy: invalid team assignment")
	// ErrNotAssigned indicates the consultant is not on the manager's team
	ErrNotAssigned = errors.New("hierarchy: consultant is not on this team")
)

// assignmentLockKey serializes team changes so the hierarchy checks see a stable graph
const assignmentLockKey = 7301

// Service resolves and maintains the one-level manager hierarchy
type Service struct {
	db *gorm.DB
}

var _ commission.HierarchyResolver = (*Service)(nil)

// NewService creates a new hierarchy service
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// ManagerOf returns the consultant's manager, or nil when there is none
func (s *Service) ManagerOf(ctx context.Context, consultantID uuid.UUID) (*uuid.UUID, error) {
	var membership models.TeamMembership
	err := s.db.WithContext(ctx).Where("consultant_id = ?", consultantID).First(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error finding manager: %w", err)
	}
	managerID := membership.ManagerID
	return &managerID, nil
}

// TeamOf returns the consultants managed by managerID, excluding the manager
func (s *Service) TeamOf(ctx context.Context, managerID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := s.db.WithContext(ctx).Model(&models.TeamMembership{}).
		Where("manager_id = ?", managerID).
		Order("created_at asc").
		Pluck("consultant_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("error finding team: %w", err)
	}
	return ids, nil
}

// Assign places consultantID on managerID's team, replacing any previous manager
func (s *Service) Assign(ctx context.Context, managerID, consultantID uuid.UUID) (*models.TeamMembership, error) {
	if managerID == uuid.Nil || consultantID == uuid.Nil {
		return nil, fmt.Errorf("%w: manager and consultant are required", ErrInvalidAssignment)
	}
	if managerID == consultantID {
		return nil, fmt.Errorf("%w: a consultant cannot manage themselves", ErrInvalidAssignment)
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("error starting transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", assignmentLockKey).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("error locking hierarchy: %w", err)
	}

	var count int64
	if err := tx.Model(&models.TeamMembership{}).Where("consultant_id = ?", managerID).Count(&count).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("error checking manager: %w", err)
	}
	if count > 0 {
		tx.Rollback()
		return nil, fmt.Errorf("%w: manager %s already reports to a manager", ErrInvalidAssignment, managerID)
	}

	if err := tx.Model(&models.TeamMembership{}).Where("manager_id = ?", consultantID).Count(&count).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("error checking consultant team: %w", err)
	}
	if count > 0 {
		tx.Rollback()
		return nil, fmt.Errorf("%w: consultant %s manages a team", ErrInvalidAssignment, consultantID)
	}

	now := time.Now().UTC()
	membership := models.TeamMembership{
		Base:         models.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		ManagerID:    managerID,
		ConsultantID: consultantID,
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "consultant_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"manager_id": managerID,
			"updated_at": now,
			"deleted_at": nil,
		}),
	}).Create(&membership).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("error saving team membership: %w", err)
	}

	// on conflict the stored row keeps its own id
	var saved models.TeamMembership
	if err := tx.Where("consultant_id = ?", consultantID).First(&saved).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("error reloading team membership: %w", err)
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("error committing transaction: %w", err)
	}
	return &saved, nil
}

// Unassign removes consultantID from managerID's team
func (s *Service) Unassign(ctx context.Context, managerID, consultantID uuid.UUID) error {
	result := s.db.WithContext(ctx).Unscoped().
		Where("manager_id = ? AND consultant_id = ?", managerID, consultantID).
		Delete(&models.TeamMembership{})
	if result.Error != nil {
		return fmt.Errorf("error removing team membership: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotAssigned
	}
	return nil
}
