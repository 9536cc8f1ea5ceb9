package commission

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinicref/backend/internal/models"
)

// ConfigStore returns the stored commission parameters of an establishment,
// or nil when none are configured.
type ConfigStore interface {
	GetConfig(ctx context.Context, establishmentCode string) (*models.EstablishmentCommissionConfig, error)
}

// HierarchyResolver answers single-level manager/team questions.
type HierarchyResolver interface {
	// ManagerOf returns nil when the consultant has no manager.
	ManagerOf(ctx context.Context, consultantID uuid.UUID) (*uuid.UUID, error)
	// TeamOf returns the consultants under a manager, excluding the manager.
	TeamOf(ctx context.Context, managerID uuid.UUID) ([]uuid.UUID, error)
}

// UnitLedger reports cumulative converted units.
type UnitLedger interface {
	SumConvertedUnits(ctx context.Context, userID uuid.UUID, establishmentCode string, excludeLeadID *uuid.UUID) (int, error)
	// SumTeamConvertedUnits adds up the personal cumulatives of teamUserIDs. The team total
	// is derived from the current members on every call, so team changes need no bookkeeping.
	SumTeamConvertedUnits(ctx context.Context, teamUserIDs []uuid.UUID, establishmentCode string, excludeLeadID *uuid.UUID) (int, error)
}

// ReferralUpdate carries the split paid on a referral conversion.
type ReferralUpdate struct {
	OriginLeadID    uuid.UUID
	LeadID          uuid.UUID
	ConsultantID    uuid.UUID
	SplitPercentage float64
	Amount          float64
	ConvertedAt     time.Time
}

// LedgerTx is the ledger as seen from inside one conversion transaction.
// Unit sums read the running counters under a row lock that is held until commit.
type LedgerTx interface {
	UnitLedger

	// LockLead loads the lead and locks it for the rest of the transaction.
	LockLead(ctx context.Context, leadID uuid.UUID) (*models.Lead, error)
	GetLead(ctx context.Context, leadID uuid.UUID) (*models.Lead, error)
	HasCommissions(ctx context.Context, leadID uuid.UUID) (bool, error)

	UpdateLeadStatus(ctx context.Context, leadID uuid.UUID, status models.LeadStatus, unitsSold int, at time.Time) error
	InsertCommissionRecord(ctx context.Context, record *models.CommissionRecord) error
	UpdateReferralRecord(ctx context.Context, update ReferralUpdate) error

	// LockUnitCounters locks the personal counters of userIDs in id order, seeding missing
	// ones from the ledger without excludeLeadID. Conversions call it before reading any sum
	// so that concurrent conversions never wait on each other in a cycle.
	LockUnitCounters(ctx context.Context, userIDs []uuid.UUID, establishmentCode string, excludeLeadID *uuid.UUID) error
	// AddConvertedUnits adds the units of leadID to the seller's counter under its row lock.
	AddConvertedUnits(ctx context.Context, userID uuid.UUID, establishmentCode string, leadID uuid.UUID, units int) error

	// StageEvent stores an event that becomes visible to workers once the transaction commits.
	StageEvent(ctx context.Context, eventType string, payload interface{}) (uuid.UUID, error)
}

// Store runs conversion transactions.
type Store interface {
	RunInTx(ctx context.Context, fn func(tx LedgerTx) error) error
	// Snapshot returns a lock-free view of the counters for previews.
	Snapshot() UnitLedger
}

// EventPublisher signals workers that a staged event is ready.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, eventID uuid.UUID) error
}
