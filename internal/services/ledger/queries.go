package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/clinicref/backend/internal/models"
)

// CommissionFilter narrows a commission listing. Zero fields are ignored.
type CommissionFilter struct {
	BeneficiaryID     uuid.UUID
	LeadID            uuid.UUID
	EstablishmentCode string
	Status            models.CommissionStatus
	Kind              models.CommissionKind
	Limit             int
	Offset            int
}

// CommissionSummary totals a beneficiary's commissions in one status
type CommissionSummary struct {
	Status      models.CommissionStatus `json:"status"`
	Count       int64                   `json:"count"`
	TotalAmount float64                 `json:"total_amount"`
}

// ListCommissions returns matching records newest first along with the unpaged total
func (s *Store) ListCommissions(ctx context.Context, filter CommissionFilter) ([]models.CommissionRecord, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.CommissionRecord{})
	if filter.BeneficiaryID != uuid.Nil {
		q = q.Where("beneficiary_user_id = ?", filter.BeneficiaryID)
	}
	if filter.LeadID != uuid.Nil {
		q = q.Where("lead_id = ?", filter.LeadID)
	}
	if filter.EstablishmentCode != "" {
		q = q.Where("establishment_code = ?", filter.EstablishmentCode)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Kind != "" {
		q = q.Where("kind = ?", filter.Kind)
	}

	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count commissions: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var records []models.CommissionRecord
	if err := q.Order("created_at desc").Limit(limit).Offset(filter.Offset).Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list commissions: %w", err)
	}
	return records, total, nil
}

// SummarizeCommissions totals a beneficiary's commissions by status
func (s *Store) SummarizeCommissions(ctx context.Context, beneficiaryID uuid.UUID) ([]CommissionSummary, error) {
	var summaries []CommissionSummary
	if err := s.db.WithContext(ctx).Model(&models.CommissionRecord{}).
		Select("status, count(*) as count, COALESCE(SUM(total_amount), 0) as total_amount").
		Where("beneficiary_user_id = ?", beneficiaryID).
		Group("status").
		Order("status").
		Scan(&summaries).Error; err != nil {
		return nil, fmt.Errorf("failed to summarize commissions: %w", err)
	}
	for i := range summaries {
		summaries[i].TotalAmount = models.RoundMoney(summaries[i].TotalAmount)
	}
	return summaries, nil
}

// GetCommissionRecords loads records by id
func (s *Store) GetCommissionRecords(ctx context.Context, ids []uuid.UUID) ([]models.CommissionRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var records []models.CommissionRecord
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Order("created_at asc").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load commission records: %w", err)
	}
	return records, nil
}
