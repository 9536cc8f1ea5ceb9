package lead

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clinicref/backend/internal/models"
	"github.com/clinicref/backend/internal/services/commission"
)

// ErrInvalidLead indicates a lead that cannot be created as requested
var ErrInvalidLead = errors.New("lead: invalid lead")

// CreateLeadRequest holds the fields of a new lead
type CreateLeadRequest struct {
	ConsultantID      uuid.UUID         `json:"consultant_id" binding:"required"`
	EstablishmentCode string            `json:"establishment_code" binding:"required"`
	CustomerName      string            `json:"customer_name"`
	CustomerPhone     string            `json:"customer_phone"`
	OriginType        models.OriginType `json:"origin_type"`
	OriginLeadID      *uuid.UUID        `json:"origin_lead_id"`
}

// ListFilter narrows a lead listing
type ListFilter struct {
	ConsultantID      uuid.UUID
	EstablishmentCode string
	Status            models.LeadStatus
	Limit             int
	Offset            int
}

// Service manages leads up to, but not including, conversion
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService creates a new lead service
func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, logger: logger}
}

// Create stores a new lead in status new
func (s *Service) Create(ctx context.Context, req CreateLeadRequest) (*models.Lead, error) {
	lead, err := buildLead(req)
	if err != nil {
		return nil, err
	}

	if lead.OriginLeadID != nil {
		if _, err := s.Get(ctx, *lead.OriginLeadID); err != nil {
			if errors.Is(err, commission.ErrLeadNotFound) {
				return nil, fmt.Errorf("%w: %s", commission.ErrOriginLeadNotFound, *lead.OriginLeadID)
			}
			return nil, err
		}
	}

	if err := s.db.WithContext(ctx).Create(lead).Error; err != nil {
		return nil, fmt.Errorf("failed to create lead: %w", err)
	}

	s.logger.Info("lead created",
		zap.String("lead_id", lead.ID.String()),
		zap.String("consultant_id", lead.ConsultantID.String()),
		zap.String("origin_type", string(lead.OriginType)))
	return lead, nil
}

func buildLead(req CreateLeadRequest) (*models.Lead, error) {
	if req.ConsultantID == uuid.Nil {
		return nil, fmt.Errorf("%w: consultant is required", ErrInvalidLead)
	}
	code := strings.TrimSpace(req.EstablishmentCode)
	if code == "" {
		return nil, fmt.Errorf("%w: establishment code is required", ErrInvalidLead)
	}

	origin := req.OriginType
	if origin == "" {
		origin = models.OriginDirect
	}
	switch origin {
	case models.OriginDirect:
		if req.OriginLeadID != nil {
			return nil, fmt.Errorf("%w: direct leads have no origin lead", ErrInvalidLead)
		}
	case models.OriginReferral:
		if req.OriginLeadID == nil || *req.OriginLeadID == uuid.Nil {
			return nil, fmt.Errorf("%w: referral leads need an origin lead", ErrInvalidLead)
		}
	default:
		return nil, fmt.Errorf("%w: unknown origin type %q", ErrInvalidLead, origin)
	}

	return &models.Lead{
		Base:              models.Base{ID: uuid.New()},
		ConsultantID:      req.ConsultantID,
		EstablishmentCode: code,
		Status:            models.LeadStatusNew,
		CustomerName:      strings.TrimSpace(req.CustomerName),
		CustomerPhone:     strings.TrimSpace(req.CustomerPhone),
		OriginType:        origin,
		OriginLeadID:      req.OriginLeadID,
	}, nil
}

// Get returns a lead by id
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Lead, error) {
	var lead models.Lead
	err := s.db.WithContext(ctx).First(&lead, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", commission.ErrLeadNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}
	return &lead, nil
}

// List returns leads newest first
func (s *Service) List(ctx context.Context, filter ListFilter) ([]models.Lead, error) {
	q := s.db.WithContext(ctx).Model(&models.Lead{})
	if filter.ConsultantID != uuid.Nil {
		q = q.Where("consultant_id = ?", filter.ConsultantID)
	}
	if filter.EstablishmentCode != "" {
		q = q.Where("establishment_code = ?", filter.EstablishmentCode)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var leads []models.Lead
	if err := q.Order("created_at desc").Limit(limit).Offset(filter.Offset).Find(&leads).Error; err != nil {
		return nil, fmt.Errorf("failed to list leads: %w", err)
	}
	return leads, nil
}

// CheckTransition validates a manual status change. Conversion is not a manual change.
func CheckTransition(current, next models.LeadStatus) error {
	if !next.IsValid() {
		return fmt.Errorf("%w: unknown status %q", commission.ErrInvalidTransition, next)
	}
	if next == models.LeadStatusConverted {
		return fmt.Errorf("%w: leads are converted through the conversion endpoint", commission.ErrInvalidTransition)
	}
	if current == models.LeadStatusConverted {
		return fmt.Errorf("%w: lead already converted", commission.ErrLeadAlreadyConverted)
	}
	if !current.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", commission.ErrInvalidTransition, current, next)
	}
	return nil
}

// Transition moves a lead to a non-terminal status or to lost
func (s *Service) Transition(ctx context.Context, id uuid.UUID, next models.LeadStatus, reason string) (*models.Lead, error) {
	var lead models.Lead

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&lead, "id = ?", id).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", commission.ErrLeadNotFound, id)
		}
		return nil, fmt.Errorf("failed to lock lead: %w", err)
	}

	if err := CheckTransition(lead.Status, next); err != nil {
		tx.Rollback()
		return nil, err
	}

	updates := map[string]interface{}{
		"status":     next,
		"updated_at": time.Now().UTC(),
	}
	if next == models.LeadStatusLost {
		updates["lost_reason"] = strings.TrimSpace(reason)
	}
	if err := tx.Model(&lead).Updates(updates).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to update lead status: %w", err)
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	lead.Status = next

	s.logger.Info("lead status changed",
		zap.String("lead_id", lead.ID.String()),
		zap.String("status", string(next)))
	return &lead, nil
}
