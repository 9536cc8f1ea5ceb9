package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clinicref/backend/internal/models"
	"github.com/clinicref/backend/internal/queue"
	"github.com/clinicref/backend/internal/services/commission"
)

// ledgerTx implements commission.LedgerTx on an open gorm transaction
type ledgerTx struct {
	db *gorm.DB
}

var _ commission.LedgerTx = (*ledgerTx)(nil)

func (t *ledgerTx) session(ctx context.Context) *gorm.DB {
	return t.db.WithContext(ctx)
}

func (t *ledgerTx) LockLead(ctx context.Context, leadID uuid.UUID) (*models.Lead, error) {
	var lead models.Lead
	err := t.session(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&lead, "id = ?", leadID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", commission.ErrLeadNotFound, leadID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock lead: %w", err)
	}
	return &lead, nil
}

func (t *ledgerTx) GetLead(ctx context.Context, leadID uuid.UUID) (*models.Lead, error) {
	var lead models.Lead
	err := t.session(ctx).First(&lead, "id = ?", leadID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", commission.ErrLeadNotFound, leadID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}
	return &lead, nil
}

func (t *ledgerTx) HasCommissions(ctx context.Context, leadID uuid.UUID) (bool, error) {
	var count int64
	if err := t.session(ctx).Model(&models.CommissionRecord{}).Where("lead_id = ?", leadID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (t *ledgerTx) SumConvertedUnits(ctx context.Context, userID uuid.UUID, establishmentCode string, excludeLeadID *uuid.UUID) (int, error) {
	counter, err := t.lockCounter(ctx, userID, establishmentCode, excludeLeadID)
	if err != nil {
		return 0, err
	}
	return counter.Units, nil
}

func (t *ledgerTx) SumTeamConvertedUnits(ctx context.Context, teamUserIDs []uuid.UUID, establishmentCode string, excludeLeadID *uuid.UUID) (int, error) {
	total := 0
	for _, id := range lockOrder(teamUserIDs) {
		units, err := t.SumConvertedUnits(ctx, id, establishmentCode, excludeLeadID)
		if err != nil {
			return 0, err
		}
		total += units
	}
	return total, nil
}

func (t *ledgerTx) LockUnitCounters(ctx context.Context, userIDs []uuid.UUID, establishmentCode string, excludeLeadID *uuid.UUID) error {
	for _, id := range lockOrder(userIDs) {
		if _, err := t.lockCounter(ctx, id, establishmentCode, excludeLeadID); err != nil {
			return err
		}
	}
	return nil
}

// lockOrder dedupes ids and sorts them by their bytes
func lockOrder(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

// lockCounter returns the user's counter locked FOR UPDATE, seeding it from the leads
// table when it does not exist yet. A concurrent seeder wins the insert and we re-read its row.
func (t *ledgerTx) lockCounter(ctx context.Context, userID uuid.UUID, establishmentCode string, excludeLeadID *uuid.UUID) (*models.UnitCounter, error) {
	db := t.session(ctx)

	var counter models.UnitCounter
	err := counterQuery(db, userID, establishmentCode).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&counter).Error
	if err == nil {
		return &counter, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to lock unit counter: %w", err)
	}

	units, err := sumLeadUnits(db, establishmentCode, []uuid.UUID{userID}, excludeLeadID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	counter = models.UnitCounter{
		ID:                uuid.New(),
		Scope:             models.CounterScopeUser,
		OwnerID:           userID,
		EstablishmentCode: establishmentCode,
		Units:             units,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&counter).Error; err != nil {
		return nil, fmt.Errorf("failed to seed unit counter: %w", err)
	}

	counter = models.UnitCounter{}
	if err := counterQuery(db, userID, establishmentCode).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&counter).Error; err != nil {
		return nil, fmt.Errorf("failed to lock unit counter: %w", err)
	}
	return &counter, nil
}

func (t *ledgerTx) UpdateLeadStatus(ctx context.Context, leadID uuid.UUID, status models.LeadStatus, unitsSold int, at time.Time) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": at,
	}
	if status == models.LeadStatusConverted {
		updates["units_sold"] = unitsSold
		updates["converted_at"] = at
	}

	result := t.session(ctx).Model(&models.Lead{}).Where("id = ?", leadID).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", commission.ErrLeadNotFound, leadID)
	}
	return nil
}

func (t *ledgerTx) InsertCommissionRecord(ctx context.Context, record *models.CommissionRecord) error {
	err := t.session(ctx).Create(record).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: lead %s already has a %s commission", commission.ErrConversionProcessed, record.LeadID, record.Kind)
	}
	return err
}

func (t *ledgerTx) UpdateReferralRecord(ctx context.Context, update commission.ReferralUpdate) error {
	convertedAt := update.ConvertedAt
	referral := models.Referral{
		ID:               uuid.New(),
		OriginLeadID:     update.OriginLeadID,
		LeadID:           update.LeadID,
		ConsultantID:     update.ConsultantID,
		SplitPercentage:  update.SplitPercentage,
		CommissionAmount: models.RoundMoney(update.Amount),
		Status:           models.ReferralStatusConverted,
		ConvertedAt:      &convertedAt,
		CreatedAt:        convertedAt,
		UpdatedAt:        convertedAt,
	}

	return t.session(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "origin_lead_id"}, {Name: "lead_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"consultant_id", "split_percentage", "commission_amount", "status", "converted_at", "updated_at",
		}),
	}).Create(&referral).Error
}

func (t *ledgerTx) AddConvertedUnits(ctx context.Context, userID uuid.UUID, establishmentCode string, leadID uuid.UUID, units int) error {
	// leadID is already converted in this transaction, so a fresh seed must leave it out.
	counter, err := t.lockCounter(ctx, userID, establishmentCode, &leadID)
	if err != nil {
		return err
	}
	return t.session(ctx).Model(&models.UnitCounter{}).
		Where("id = ?", counter.ID).
		Updates(map[string]interface{}{
			"units":      gorm.Expr("units + ?", units),
			"updated_at": time.Now().UTC(),
		}).Error
}

// staged events outlive a conversion request, so they get more attempts than ad hoc jobs
const eventMaxRetries = 5

func (t *ledgerTx) StageEvent(ctx context.Context, eventType string, payload interface{}) (uuid.UUID, error) {
	job, err := queue.NewJob(queue.JobType(eventType), payload, queue.WithMaxRetry(eventMaxRetries))
	if err != nil {
		return uuid.Nil, err
	}
	if err := t.session(ctx).Create(job).Error; err != nil {
		return uuid.Nil, err
	}
	return job.ID, nil
}
