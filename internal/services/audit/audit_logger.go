package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/clinicref/backend/internal/models"
)

// AuditLogger writes the commission audit trail
type AuditLogger struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(db *gorm.DB) *AuditLogger {
	return &AuditLogger{
		db:  db,
		now: time.Now,
	}
}

// LogEvent stores one audit entry
func (a *AuditLogger) LogEvent(ctx context.Context, entry models.AuditLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = a.now().UTC()
	}
	if entry.Severity == "" {
		entry.Severity = models.AuditSeverityInfo
	}

	if err := a.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

// LogCommissionCreated records a newly created commission record
func (a *AuditLogger) LogCommissionCreated(ctx context.Context, record *models.CommissionRecord) error {
	userID := record.BeneficiaryUserID
	leadID := record.LeadID
	recordID := record.ID

	return a.LogEvent(ctx, models.AuditLog{
		UserID:      &userID,
		LeadID:      &leadID,
		RecordID:    &recordID,
		EventType:   models.AuditEventCommissionCreated,
		Description: fmt.Sprintf("%s commission of %.2f created", record.Kind, record.TotalAmount),
		Details: models.JSON{
			"reference":          record.Reference,
			"kind":               string(record.Kind),
			"establishment_code": record.EstablishmentCode,
			"base_amount":        record.BaseAmount,
			"bonus_amount":       record.BonusAmount,
			"units_sold":         record.UnitsSold,
		},
	})
}

// LogCounterDrift records a running counter that disagrees with the ledger
func (a *AuditLogger) LogCounterDrift(ctx context.Context, counter models.UnitCounter, ledgerUnits int, repaired bool) error {
	ownerID := counter.OwnerID
	eventType := models.AuditEventCounterDrift
	description := "running counter differs from ledger"
	if repaired {
		eventType = models.AuditEventCounterRepaired
		description = "running counter rewritten from ledger"
	}

	return a.LogEvent(ctx, models.AuditLog{
		UserID:      &ownerID,
		EventType:   eventType,
		Severity:    models.AuditSeverityWarning,
		Description: description,
		Details: models.JSON{
			"scope":              string(counter.Scope),
			"establishment_code": counter.EstablishmentCode,
			"counter_units":      counter.Units,
			"ledger_units":       ledgerUnits,
		},
	})
}

// HasRecordEvent reports whether an entry of eventType already exists for a commission record
func (a *AuditLogger) HasRecordEvent(ctx context.Context, recordID uuid.UUID, eventType models.AuditEventType) (bool, error) {
	var count int64
	if err := a.db.WithContext(ctx).Model(&models.AuditLog{}).
		Where("record_id = ? AND event_type = ?", recordID, eventType).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to query audit log: %w", err)
	}
	return count > 0, nil
}

// HasLeadEvent reports whether an entry of eventType already exists for a lead
func (a *AuditLogger) HasLeadEvent(ctx context.Context, leadID uuid.UUID, eventType models.AuditEventType) (bool, error) {
	var count int64
	if err := a.db.WithContext(ctx).Model(&models.AuditLog{}).
		Where("lead_id = ? AND event_type = ?", leadID, eventType).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to query audit log: %w", err)
	}
	return count > 0, nil
}

// LogLeadConverted records a conversion and the commission records it produced
func (a *AuditLogger) LogLeadConverted(ctx context.Context, leadID, consultantID uuid.UUID, establishmentCode string, recordIDs []uuid.UUID, bonusGained bool) error {
	ids := make([]string, 0, len(recordIDs))
	for _, id := range recordIDs {
		ids = append(ids, id.String())
	}

	return a.LogEvent(ctx, models.AuditLog{
		UserID:      &consultantID,
		LeadID:      &leadID,
		EventType:   models.AuditEventLeadConverted,
		Description: fmt.Sprintf("lead converted with %d commission records", len(recordIDs)),
		Details: models.JSON{
			"establishment_code": establishmentCode,
			"record_ids":         ids,
			"bonus_gained":       bonusGained,
		},
	})
}
