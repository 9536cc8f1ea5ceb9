package commission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicref/backend/internal/models"
)

// EventCommissionsCreated is staged once per successful conversion
const EventCommissionsCreated = "commission.created"

// ConversionEvent is the input of one conversion
type ConversionEvent struct {
	LeadID            uuid.UUID         `json:"lead_id"`
	ConsultantID      uuid.UUID         `json:"consultant_id"`
	EstablishmentCode string            `json:"establishment_code"`
	UnitsSold         int               `json:"units_sold"`
	OriginType        models.OriginType `json:"origin_type"`
	OriginLeadID      *uuid.UUID        `json:"origin_lead_id,omitempty"`
	SplitPercentage   *float64          `json:"split_percentage,omitempty"`
}

// Validate checks the event before anything is read or written
func (e ConversionEvent) Validate() error {
	if e.LeadID == uuid.Nil || e.ConsultantID == uuid.Nil {
		return fmt.Errorf("%w: lead and consultant are required", ErrInvalidEvent)
	}
	if strings.TrimSpace(e.EstablishmentCode) == "" {
		return fmt.Errorf("%w: establishment code is required", ErrInvalidEvent)
	}
	if err := validateUnits(e.UnitsSold); err != nil {
		return err
	}

	switch e.OriginType {
	case models.OriginDirect, "":
		if e.OriginLeadID != nil || e.SplitPercentage != nil {
			return fmt.Errorf("%w: origin lead and split percentage are only allowed on referral conversions", ErrInvalidReferral)
		}
	case models.OriginReferral:
		if e.OriginLeadID == nil || *e.OriginLeadID == uuid.Nil || e.SplitPercentage == nil {
			return fmt.Errorf("%w: referral conversions require origin lead and split percentage", ErrInvalidReferral)
		}
		if *e.OriginLeadID == e.LeadID {
			return fmt.Errorf("%w: a lead cannot refer itself", ErrInvalidReferral)
		}
		if *e.SplitPercentage < 0 || *e.SplitPercentage > 100 {
			return fmt.Errorf("%w: split percentage %.2f outside 0..100", ErrInvalidReferral, *e.SplitPercentage)
		}
	default:
		return fmt.Errorf("%w: unknown origin type %q", ErrInvalidReferral, e.OriginType)
	}
	return nil
}

func (e ConversionEvent) isReferral() bool {
	return e.OriginType == models.OriginReferral
}

// ConversionResult is returned to the caller for user feedback
type ConversionResult struct {
	ConsultantCommissionAmount float64     `json:"consultant_commission_amount"`
	ManagerCommissionAmount    *float64    `json:"manager_commission_amount,omitempty"`
	ReferralCommissionAmount   *float64    `json:"referral_commission_amount,omitempty"`
	CreatedRecordIDs           []uuid.UUID `json:"created_record_ids"`
	BonusGained                bool        `json:"bonus_gained"`
}

// CommissionsCreatedEvent is the payload of EventCommissionsCreated
type CommissionsCreatedEvent struct {
	LeadID            uuid.UUID   `json:"lead_id"`
	ConsultantID      uuid.UUID   `json:"consultant_id"`
	EstablishmentCode string      `json:"establishment_code"`
	RecordIDs         []uuid.UUID `json:"record_ids"`
	BonusGained       bool        `json:"bonus_gained"`
}

// ProcessorDeps bundles the collaborators of a Processor
type ProcessorDeps struct {
	Store      Store
	Calculator *Calculator
	Publisher  EventPublisher
	Logger     *zap.Logger
	Clock      func() time.Time
}

// Processor converts leads and persists their commissions atomically
type Processor struct {
	store     Store
	calc      *Calculator
	publisher EventPublisher
	logger    *zap.Logger
	clock     func() time.Time
}

// NewProcessor creates a conversion processor
func NewProcessor(deps ProcessorDeps) (*Processor, error) {
	if deps.Store == nil {
		return nil, errors.New("conversion processor: store is required")
	}
	if deps.Calculator == nil {
		return nil, errors.New("conversion processor: calculator is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Processor{
		store:     deps.Store,
		calc:      deps.Calculator,
		publisher: deps.Publisher,
		logger:    logger,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// ProcessConversion marks the lead converted and records every commission it triggers.
// Either all writes commit together or none do. A lead is processed at most once.
func (p *Processor) ProcessConversion(ctx context.Context, event ConversionEvent) (*ConversionResult, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	if event.OriginType == "" {
		event.OriginType = models.OriginDirect
	}

	var (
		result  *ConversionResult
		eventID uuid.UUID
	)
	err := p.store.RunInTx(ctx, func(tx LedgerTx) error {
		var err error
		result, eventID, err = p.convert(ctx, tx, event)
		return err
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("lead converted",
		zap.String("lead_id", event.LeadID.String()),
		zap.String("consultant_id", event.ConsultantID.String()),
		zap.String("establishment_code", event.EstablishmentCode),
		zap.Int("units_sold", event.UnitsSold),
		zap.Int("records", len(result.CreatedRecordIDs)),
		zap.Bool("bonus_gained", result.BonusGained),
	)

	if p.publisher != nil && eventID != uuid.Nil {
		if err := p.publisher.Publish(ctx, EventCommissionsCreated, eventID); err != nil {
			// The staged event stays pending and is re-signalled by the sweeper.
			p.logger.Warn("failed to publish commission event",
				zap.String("event_id", eventID.String()),
				zap.Error(err),
			)
		}
	}
	return result, nil
}

func (p *Processor) convert(ctx context.Context, tx LedgerTx, event ConversionEvent) (*ConversionResult, uuid.UUID, error) {
	lead, err := tx.LockLead(ctx, event.LeadID)
	if err != nil {
		return nil, uuid.Nil, err
	}
	if err := checkLead(lead, event); err != nil {
		return nil, uuid.Nil, err
	}

	processed, err := tx.HasCommissions(ctx, event.LeadID)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("failed to check existing commissions: %w", err)
	}
	if processed {
		return nil, uuid.Nil, fmt.Errorf("%w: lead %s", ErrConversionProcessed, event.LeadID)
	}

	if event.isReferral() {
		if _, err := tx.GetLead(ctx, *event.OriginLeadID); err != nil {
			if errors.Is(err, ErrLeadNotFound) {
				return nil, uuid.Nil, fmt.Errorf("%w: %s", ErrOriginLeadNotFound, *event.OriginLeadID)
			}
			return nil, uuid.Nil, err
		}
	}

	plan, err := p.calc.PlanConversion(ctx, event.ConsultantID, event.EstablishmentCode)
	if err != nil {
		return nil, uuid.Nil, err
	}
	if err := tx.LockUnitCounters(ctx, plan.CounterOwners(event.ConsultantID), event.EstablishmentCode, &event.LeadID); err != nil {
		return nil, uuid.Nil, fmt.Errorf("failed to lock unit counters: %w", err)
	}

	// Read every cumulative before the lead is written so none of them include it.
	consultant, err := priceConsultant(ctx, tx, plan.Config, event.ConsultantID, &event.LeadID, event.UnitsSold)
	if err != nil {
		return nil, uuid.Nil, err
	}

	managerID := plan.ManagerID
	var manager *ManagerCommission
	if managerID != nil {
		manager, err = priceManager(ctx, tx, plan, &event.LeadID, event.UnitsSold)
		if err != nil {
			return nil, uuid.Nil, err
		}
	}

	now := p.clock()
	if err := tx.UpdateLeadStatus(ctx, event.LeadID, models.LeadStatusConverted, event.UnitsSold, now); err != nil {
		return nil, uuid.Nil, fmt.Errorf("failed to update lead status: %w", err)
	}

	result := &ConversionResult{
		ConsultantCommissionAmount: consultant.Total(),
		BonusGained:                consultant.BonusAmount > 0,
	}

	record := p.newRecord(event, event.ConsultantID, models.CommissionConsultant, consultant.BaseAmount, consultant.BonusAmount, now)
	if err := tx.InsertCommissionRecord(ctx, record); err != nil {
		return nil, uuid.Nil, fmt.Errorf("failed to insert consultant commission: %w", err)
	}
	result.CreatedRecordIDs = append(result.CreatedRecordIDs, record.ID)

	if event.isReferral() {
		split, err := ComputeReferralSplit(consultant.Total(), *event.SplitPercentage)
		if err != nil {
			return nil, uuid.Nil, err
		}
		// The referring consultant keeps the full commission and also receives the split.
		referral := p.newRecord(event, event.ConsultantID, models.CommissionConsultantReferral, split, 0, now)
		pct := *event.SplitPercentage
		referral.SplitPercentage = &pct
		if err := tx.InsertCommissionRecord(ctx, referral); err != nil {
			return nil, uuid.Nil, fmt.Errorf("failed to insert referral commission: %w", err)
		}
		if err := tx.UpdateReferralRecord(ctx, ReferralUpdate{
			OriginLeadID:    *event.OriginLeadID,
			LeadID:          event.LeadID,
			ConsultantID:    event.ConsultantID,
			SplitPercentage: pct,
			Amount:          split,
			ConvertedAt:     now,
		}); err != nil {
			return nil, uuid.Nil, fmt.Errorf("failed to update referral record: %w", err)
		}
		result.ReferralCommissionAmount = &split
		result.CreatedRecordIDs = append(result.CreatedRecordIDs, referral.ID)
	}

	if manager != nil && manager.Total() > 0 {
		kind := models.CommissionManagerOverride
		if manager.BonusAmount > 0 {
			kind = models.CommissionManagerMilestone
			result.BonusGained = true
		}
		managerRecord := p.newRecord(event, *managerID, kind, manager.BaseAmount, manager.BonusAmount, now)
		if err := tx.InsertCommissionRecord(ctx, managerRecord); err != nil {
			return nil, uuid.Nil, fmt.Errorf("failed to insert manager commission: %w", err)
		}
		total := manager.Total()
		result.ManagerCommissionAmount = &total
		result.CreatedRecordIDs = append(result.CreatedRecordIDs, managerRecord.ID)
	}

	if err := tx.AddConvertedUnits(ctx, event.ConsultantID, event.EstablishmentCode, event.LeadID, event.UnitsSold); err != nil {
		return nil, uuid.Nil, fmt.Errorf("failed to advance consultant counter: %w", err)
	}

	eventID, err := tx.StageEvent(ctx, EventCommissionsCreated, CommissionsCreatedEvent{
		LeadID:            event.LeadID,
		ConsultantID:      event.ConsultantID,
		EstablishmentCode: event.EstablishmentCode,
		RecordIDs:         result.CreatedRecordIDs,
		BonusGained:       result.BonusGained,
	})
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("failed to stage commission event: %w", err)
	}
	return result, eventID, nil
}

func (p *Processor) newRecord(event ConversionEvent, beneficiary uuid.UUID, kind models.CommissionKind, base, bonus float64, now time.Time) *models.CommissionRecord {
	id := uuid.New()
	base, bonus = models.RoundMoney(base), models.RoundMoney(bonus)
	return &models.CommissionRecord{
		ID:                id,
		LeadID:            event.LeadID,
		BeneficiaryUserID: beneficiary,
		Kind:              kind,
		EstablishmentCode: event.EstablishmentCode,
		Reference:         NewReference(event.EstablishmentCode, kind, id, now),
		BaseAmount:        base,
		BonusAmount:       bonus,
		TotalAmount:       models.RoundMoney(base + bonus),
		Status:            models.CommissionStatusPending,
		UnitsSold:         event.UnitsSold,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Preview computes what a conversion would pay without writing anything.
func (p *Processor) Preview(ctx context.Context, event ConversionEvent) (*ConsultantCommission, *ManagerCommission, error) {
	if err := validateUnits(event.UnitsSold); err != nil {
		return nil, nil, err
	}
	if event.ConsultantID == uuid.Nil || strings.TrimSpace(event.EstablishmentCode) == "" {
		return nil, nil, fmt.Errorf("%w: consultant and establishment code are required", ErrInvalidEvent)
	}

	plan, err := p.calc.PlanConversion(ctx, event.ConsultantID, event.EstablishmentCode)
	if err != nil {
		return nil, nil, err
	}
	ledger := p.store.Snapshot()
	var exclude *uuid.UUID
	if event.LeadID != uuid.Nil {
		exclude = &event.LeadID
	}
	consultant, err := priceConsultant(ctx, ledger, plan.Config, event.ConsultantID, exclude, event.UnitsSold)
	if err != nil {
		return nil, nil, err
	}
	if plan.ManagerID == nil {
		return consultant, nil, nil
	}
	manager, err := priceManager(ctx, ledger, plan, exclude, event.UnitsSold)
	if err != nil {
		return nil, nil, err
	}
	return consultant, manager, nil
}

func checkLead(lead *models.Lead, event ConversionEvent) error {
	if lead.Status == models.LeadStatusConverted {
		return fmt.Errorf("%w: lead %s", ErrLeadAlreadyConverted, lead.ID)
	}
	if !lead.Status.CanTransitionTo(models.LeadStatusConverted) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, lead.Status, models.LeadStatusConverted)
	}
	if lead.ConsultantID != event.ConsultantID {
		return fmt.Errorf("%w: lead %s belongs to another consultant", ErrLeadMismatch, lead.ID)
	}
	if lead.EstablishmentCode != event.EstablishmentCode {
		return fmt.Errorf("%w: lead %s belongs to establishment %s", ErrLeadMismatch, lead.ID, lead.EstablishmentCode)
	}

	origin := lead.OriginType
	if origin == "" {
		origin = models.OriginDirect
	}
	if origin != event.OriginType {
		return fmt.Errorf("%w: lead %s is a %s lead", ErrLeadMismatch, lead.ID, origin)
	}
	if event.isReferral() && (lead.OriginLeadID == nil || *lead.OriginLeadID != *event.OriginLeadID) {
		return fmt.Errorf("%w: lead %s was referred by another lead", ErrLeadMismatch, lead.ID)
	}
	return nil
}
