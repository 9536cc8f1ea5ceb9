package commission

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinicref/backend/internal/models"
)

// ConsultantCommission is the outcome of a consultant computation
type ConsultantCommission struct {
	BaseAmount      float64 `json:"base_amount"`
	BonusAmount     float64 `json:"bonus_amount"`
	CrossedTiers    int     `json:"crossed_tiers"`
	PriorCumulative int     `json:"prior_cumulative"`
	NewCumulative   int     `json:"new_cumulative"`
}

// Total returns base plus bonus
func (c ConsultantCommission) Total() float64 {
	return models.RoundMoney(c.BaseAmount + c.BonusAmount)
}

// ManagerCommission is the outcome of a manager computation
type ManagerCommission struct {
	BaseAmount          float64 `json:"base_amount"`
	BonusAmount         float64 `json:"bonus_amount"`
	PriorTeamCumulative int     `json:"prior_team_cumulative"`
	NewTeamCumulative   int     `json:"new_team_cumulative"`
	MilestonesCrossed   []int   `json:"milestones_crossed,omitempty"`
}

// Total returns base plus bonus
func (c ManagerCommission) Total() float64 {
	return models.RoundMoney(c.BaseAmount + c.BonusAmount)
}

// Calculator turns rates, tier crossings and the hierarchy into commission amounts
type Calculator struct {
	configs   ConfigStore
	hierarchy HierarchyResolver
	defaults  Defaults
}

// NewCalculator creates a calculator. A nil config store means every establishment uses defaults.
func NewCalculator(configs ConfigStore, hierarchy HierarchyResolver, defaults Defaults) (*Calculator, error) {
	if hierarchy == nil {
		return nil, errors.New("commission calculator: hierarchy resolver is required")
	}
	if err := defaults.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{
		configs:   configs,
		hierarchy: hierarchy,
		defaults:  defaults,
	}, nil
}

// EffectiveConfig returns the establishment's configuration with defaults applied
func (c *Calculator) EffectiveConfig(ctx context.Context, establishmentCode string) (*models.EstablishmentCommissionConfig, error) {
	var stored *models.EstablishmentCommissionConfig
	if c.configs != nil {
		cfg, err := c.configs.GetConfig(ctx, establishmentCode)
		if err != nil {
			return nil, fmt.Errorf("failed to load commission config for %s: %w", establishmentCode, err)
		}
		stored = cfg
	}
	return c.defaults.effectiveConfig(establishmentCode, stored)
}

// Plan is what one conversion is priced against. It is resolved once so the consultant
// and the manager are priced under the same parameters.
type Plan struct {
	Config    *models.EstablishmentCommissionConfig
	ManagerID *uuid.UUID
	// Team is the manager followed by the manager's consultants. It stays empty without
	// a manager or when manager bonuses are disabled, since only milestones need it.
	Team []uuid.UUID
}

// CounterOwners returns everyone whose cumulative the conversion reads
func (p *Plan) CounterOwners(consultantID uuid.UUID) []uuid.UUID {
	return append([]uuid.UUID{consultantID}, p.Team...)
}

// PlanConversion resolves the effective config, the consultant's manager and that manager's team
func (c *Calculator) PlanConversion(ctx context.Context, consultantID uuid.UUID, establishmentCode string) (*Plan, error) {
	cfg, err := c.EffectiveConfig(ctx, establishmentCode)
	if err != nil {
		return nil, err
	}
	plan := &Plan{Config: cfg}

	plan.ManagerID, err = c.ManagerOf(ctx, consultantID)
	if err != nil {
		return nil, err
	}
	if plan.ManagerID == nil || !cfg.ManagerBonusEnabled {
		return plan, nil
	}
	plan.Team, err = c.teamMembers(ctx, *plan.ManagerID)
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// ComputeConsultantCommission prices one conversion for the selling consultant.
// The prior cumulative excludes excludeLeadID.
func (c *Calculator) ComputeConsultantCommission(ctx context.Context, ledger UnitLedger, consultantID uuid.UUID, establishmentCode string, excludeLeadID *uuid.UUID, unitsSold int) (*ConsultantCommission, error) {
	if err := validateUnits(unitsSold); err != nil {
		return nil, err
	}
	cfg, err := c.EffectiveConfig(ctx, establishmentCode)
	if err != nil {
		return nil, err
	}
	return priceConsultant(ctx, ledger, cfg, consultantID, excludeLeadID, unitsSold)
}

// ComputeManagerCommission prices the manager's override and team milestones for one conversion.
func (c *Calculator) ComputeManagerCommission(ctx context.Context, ledger UnitLedger, managerID uuid.UUID, establishmentCode string, unitsSold int) (*ManagerCommission, error) {
	if err := validateUnits(unitsSold); err != nil {
		return nil, err
	}
	cfg, err := c.EffectiveConfig(ctx, establishmentCode)
	if err != nil {
		return nil, err
	}
	plan := &Plan{Config: cfg, ManagerID: &managerID}
	if cfg.ManagerBonusEnabled {
		if plan.Team, err = c.teamMembers(ctx, managerID); err != nil {
			return nil, err
		}
	}
	return priceManager(ctx, ledger, plan, nil, unitsSold)
}

// ManagerOf resolves the consultant's manager
func (c *Calculator) ManagerOf(ctx context.Context, consultantID uuid.UUID) (*uuid.UUID, error) {
	managerID, err := c.hierarchy.ManagerOf(ctx, consultantID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve manager of %s: %w", consultantID, err)
	}
	return managerID, nil
}

func (c *Calculator) teamMembers(ctx context.Context, managerID uuid.UUID) ([]uuid.UUID, error) {
	team, err := c.hierarchy.TeamOf(ctx, managerID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve team of manager %s: %w", managerID, err)
	}
	return append([]uuid.UUID{managerID}, team...), nil
}

func priceConsultant(ctx context.Context, ledger UnitLedger, cfg *models.EstablishmentCommissionConfig, consultantID uuid.UUID, excludeLeadID *uuid.UUID, unitsSold int) (*ConsultantCommission, error) {
	prior, err := ledger.SumConvertedUnits(ctx, consultantID, cfg.EstablishmentCode, excludeLeadID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum converted units for consultant %s: %w", consultantID, err)
	}
	return consultantCommission(cfg, prior, unitsSold), nil
}

func priceManager(ctx context.Context, ledger UnitLedger, plan *Plan, excludeLeadID *uuid.UUID, unitsSold int) (*ManagerCommission, error) {
	cfg := plan.Config
	result := &ManagerCommission{
		BaseAmount: models.RoundMoney(float64(unitsSold) * cfg.ConsultantUnitRate),
	}
	if !cfg.ManagerBonusEnabled {
		return result, nil
	}

	prior, err := ledger.SumTeamConvertedUnits(ctx, plan.Team, cfg.EstablishmentCode, excludeLeadID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum team units for manager %s: %w", *plan.ManagerID, err)
	}
	applyMilestones(result, cfg, prior, unitsSold)
	return result, nil
}

// ComputeReferralSplit returns percentage percent of the consultant's total
func ComputeReferralSplit(consultantTotalAmount, percentage float64) (float64, error) {
	if percentage < 0 || percentage > 100 {
		return 0, fmt.Errorf("%w: split percentage %.2f outside 0..100", ErrInvalidReferral, percentage)
	}
	if consultantTotalAmount <= 0 {
		return 0, nil
	}
	split := models.RoundMoney(consultantTotalAmount * percentage / 100)
	if split > consultantTotalAmount {
		split = consultantTotalAmount
	}
	return split, nil
}

func consultantCommission(cfg *models.EstablishmentCommissionConfig, prior, unitsSold int) *ConsultantCommission {
	result := &ConsultantCommission{
		BaseAmount:      models.RoundMoney(float64(unitsSold) * cfg.ConsultantUnitRate),
		PriorCumulative: prior,
		NewCumulative:   prior + unitsSold,
	}
	if cfg.ConsultantBonusEnabled {
		result.CrossedTiers = CrossedTiers(prior, unitsSold, cfg.ConsultantBonusInterval)
		result.BonusAmount = models.RoundMoney(float64(result.CrossedTiers) * cfg.ConsultantBonusValue)
	}
	return result
}

func applyMilestones(result *ManagerCommission, cfg *models.EstablishmentCommissionConfig, prior, unitsSold int) {
	result.PriorTeamCumulative = prior
	result.NewTeamCumulative = prior + unitsSold

	var bonus float64
	for _, milestone := range cfg.Milestones() {
		crossed := CrossedTiers(prior, unitsSold, milestone.Threshold)
		if crossed == 0 {
			continue
		}
		bonus += float64(crossed) * milestone.Value
		result.MilestonesCrossed = append(result.MilestonesCrossed, milestone.Threshold)
	}
	result.BonusAmount = models.RoundMoney(bonus)
}

func validateUnits(unitsSold int) error {
	if unitsSold != 1 && unitsSold != 2 {
		return fmt.Errorf("%w: got %d", ErrInvalidUnits, unitsSold)
	}
	return nil
}
