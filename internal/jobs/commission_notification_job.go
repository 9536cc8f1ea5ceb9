package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicref/backend/internal/models"
	"github.com/clinicref/backend/internal/queue"
	"github.com/clinicref/backend/internal/services/commission"
)

// CommissionCreatedJobType is staged by the conversion processor inside its transaction
const CommissionCreatedJobType queue.JobType = commission.EventCommissionsCreated

type recordLoader interface {
	GetCommissionRecords(ctx context.Context, ids []uuid.UUID) ([]models.CommissionRecord, error)
}

type auditTrail interface {
	HasRecordEvent(ctx context.Context, recordID uuid.UUID, eventType models.AuditEventType) (bool, error)
	HasLeadEvent(ctx context.Context, leadID uuid.UUID, eventType models.AuditEventType) (bool, error)
	LogCommissionCreated(ctx context.Context, record *models.CommissionRecord) error
	LogLeadConverted(ctx context.Context, leadID, consultantID uuid.UUID, establishmentCode string, recordIDs []uuid.UUID, bonusGained bool) error
	LogCounterDrift(ctx context.Context, counter models.UnitCounter, ledgerUnits int, repaired bool) error
}

// NotificationResult is stored as the job result
type NotificationResult struct {
	Audited int `json:"audited"`
	Skipped int `json:"skipped"`
}

// CommissionNotificationJob writes the audit trail for each committed conversion.
// Entries already written by an earlier attempt are skipped, so retries are safe.
type CommissionNotificationJob struct {
	records recordLoader
	audit   auditTrail
	logger  *zap.Logger
}

// NewCommissionNotificationJob creates a new notification job
func NewCommissionNotificationJob(records recordLoader, audit auditTrail, logger *zap.Logger) *CommissionNotificationJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommissionNotificationJob{records: records, audit: audit, logger: logger}
}

// Handle processes one commission.created job
func (j *CommissionNotificationJob) Handle(ctx context.Context, job queue.Job) (interface{}, error) {
	var event commission.CommissionsCreatedEvent
	if err := json.Unmarshal(job.Payload, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal commission event: %w", err)
	}

	records, err := j.records.GetCommissionRecords(ctx, event.RecordIDs)
	if err != nil {
		return nil, err
	}
	if len(records) != len(event.RecordIDs) {
		return nil, fmt.Errorf("expected %d commission records for lead %s, found %d",
			len(event.RecordIDs), event.LeadID, len(records))
	}

	result := NotificationResult{}
	for i := range records {
		record := &records[i]
		done, err := j.audit.HasRecordEvent(ctx, record.ID, models.AuditEventCommissionCreated)
		if err != nil {
			return nil, err
		}
		if done {
			result.Skipped++
			continue
		}
		if err := j.audit.LogCommissionCreated(ctx, record); err != nil {
			return nil, err
		}
		result.Audited++

		j.logger.Info("commission created",
			zap.String("record_id", record.ID.String()),
			zap.String("beneficiary_id", record.BeneficiaryUserID.String()),
			zap.String("kind", string(record.Kind)),
			zap.Float64("total_amount", record.TotalAmount),
			zap.String("reference", record.Reference))
	}

	done, err := j.audit.HasLeadEvent(ctx, event.LeadID, models.AuditEventLeadConverted)
	if err != nil {
		return nil, err
	}
	if !done {
		if err := j.audit.LogLeadConverted(ctx, event.LeadID, event.ConsultantID, event.EstablishmentCode, event.RecordIDs, event.BonusGained); err != nil {
			return nil, err
		}
	}

	return result, nil
}
