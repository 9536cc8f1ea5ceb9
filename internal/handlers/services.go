package handlers

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinicref/backend/internal/models"
	"github.com/clinicref/backend/internal/services/commission"
	"github.com/clinicref/backend/internal/services/lead"
	"github.com/clinicref/backend/internal/services/ledger"
)

// ConversionService converts leads and previews commissions
type ConversionService interface {
	ProcessConversion(ctx context.Context, event commission.ConversionEvent) (*commission.ConversionResult, error)
	Preview(ctx context.Context, event commission.ConversionEvent) (*commission.ConsultantCommission, *commission.ManagerCommission, error)
}

// LeadService manages leads before conversion
type LeadService interface {
	Create(ctx context.Context, req lead.CreateLeadRequest) (*models.Lead, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Lead, error)
	List(ctx context.Context, filter lead.ListFilter) ([]models.Lead, error)
	Transition(ctx context.Context, id uuid.UUID, next models.LeadStatus, reason string) (*models.Lead, error)
}

// CommissionQueries reads the commission ledger
type CommissionQueries interface {
	ListCommissions(ctx context.Context, filter ledger.CommissionFilter) ([]models.CommissionRecord, int64, error)
	SummarizeCommissions(ctx context.Context, beneficiaryID uuid.UUID) ([]ledger.CommissionSummary, error)
}

// ConfigReader resolves the config used for calculations, defaults applied
type ConfigReader interface {
	EffectiveConfig(ctx context.Context, establishmentCode string) (*models.EstablishmentCommissionConfig, error)
}

// ConfigWriter stores an establishment's config
type ConfigWriter interface {
	SaveConfig(ctx context.Context, cfg *models.EstablishmentCommissionConfig) error
}

// TeamService reads and changes manager teams
type TeamService interface {
	TeamOf(ctx context.Context, managerID uuid.UUID) ([]uuid.UUID, error)
	Assign(ctx context.Context, managerID, consultantID uuid.UUID) (*models.TeamMembership, error)
	Unassign(ctx context.Context, managerID, consultantID uuid.UUID) error
}
