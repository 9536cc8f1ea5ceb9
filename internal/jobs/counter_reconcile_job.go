package jobs

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicref/backend/internal/models"
	"github.com/clinicref/backend/internal/services/ledger"
)

type counterStore interface {
	ListCounters(ctx context.Context, after uuid.UUID, limit int) ([]models.UnitCounter, error)
	CheckCounter(ctx context.Context, counterID uuid.UUID, repair bool) (*ledger.CounterCheck, error)
}

// ReconcileReport summarizes one sweep
type ReconcileReport struct {
	Checked  int
	Drifted  int
	Repaired int
}

// CounterReconcileJob recounts every running counter from converted leads and reports drift.
type CounterReconcileJob struct {
	counters  counterStore
	audit     auditTrail
	repair    bool
	batchSize int
	logger    *zap.Logger
}

// NewCounterReconcileJob creates a new reconciliation job
func NewCounterReconcileJob(counters counterStore, audit auditTrail, repair bool, logger *zap.Logger) *CounterReconcileJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CounterReconcileJob{
		counters:  counters,
		audit:     audit,
		repair:    repair,
		batchSize: 200,
		logger:    logger,
	}
}

// Run sweeps all counters once
func (j *CounterReconcileJob) Run(ctx context.Context) error {
	report, err := j.Reconcile(ctx)
	if err != nil {
		return err
	}
	j.logger.Info("unit counters reconciled",
		zap.Int("checked", report.Checked),
		zap.Int("drifted", report.Drifted),
		zap.Int("repaired", report.Repaired))
	return nil
}

// Reconcile sweeps all counters and returns what it found
func (j *CounterReconcileJob) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{}
	after := uuid.Nil

	for {
		counters, err := j.counters.ListCounters(ctx, after, j.batchSize)
		if err != nil {
			return report, err
		}
		if len(counters) == 0 {
			return report, nil
		}

		for _, counter := range counters {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			if err := j.check(ctx, counter, report); err != nil {
				return report, err
			}
		}

		after = counters[len(counters)-1].ID
		if len(counters) < j.batchSize {
			return report, nil
		}
	}
}

func (j *CounterReconcileJob) check(ctx context.Context, counter models.UnitCounter, report *ReconcileReport) error {
	result, err := j.counters.CheckCounter(ctx, counter.ID, j.repair)
	if err != nil {
		return err
	}
	report.Checked++
	if result.Drift() == 0 {
		return nil
	}

	report.Drifted++
	if result.Repaired {
		report.Repaired++
	}

	j.logger.Warn("unit counter drift",
		zap.String("counter_id", counter.ID.String()),
		zap.String("owner_id", result.Counter.OwnerID.String()),
		zap.String("establishment_code", result.Counter.EstablishmentCode),
		zap.Int("counter_units", result.Counter.Units),
		zap.Int("ledger_units", result.LedgerUnits),
		zap.Bool("repaired", result.Repaired))

	if err := j.audit.LogCounterDrift(ctx, result.Counter, result.LedgerUnits, result.Repaired); err != nil {
		j.logger.Warn("failed to audit counter drift", zap.Error(err))
	}
	return nil
}
