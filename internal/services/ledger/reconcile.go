package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clinicref/backend/internal/models"
)

// CounterCheck compares a running counter with the converted leads behind it
type CounterCheck struct {
	Counter     models.UnitCounter
	LedgerUnits int
	Repaired    bool
}

// Drift is how far the counter is ahead of the ledger
func (c CounterCheck) Drift() int {
	return c.Counter.Units - c.LedgerUnits
}

// ListCounters pages through counters in id order, starting after the given id
func (s *Store) ListCounters(ctx context.Context, after uuid.UUID, limit int) ([]models.UnitCounter, error) {
	var counters []models.UnitCounter
	q := s.db.WithContext(ctx).Order("id asc").Limit(limit)
	if after != uuid.Nil {
		q = q.Where("id > ?", after)
	}
	if err := q.Find(&counters).Error; err != nil {
		return nil, fmt.Errorf("failed to list unit counters: %w", err)
	}
	return counters, nil
}

// CheckCounter locks a counter and recounts it from the leads table, rewriting it when
// repair is set and the two disagree.
func (s *Store) CheckCounter(ctx context.Context, counterID uuid.UUID, repair bool) (*CounterCheck, error) {
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

	var counter models.UnitCounter
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&counter, "id = ?", counterID).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("unit counter %s not found: %w", counterID, err)
		}
		return nil, fmt.Errorf("failed to lock unit counter: %w", err)
	}

	units, err := sumLeadUnits(tx, counter.EstablishmentCode, []uuid.UUID{counter.OwnerID}, nil)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	check := &CounterCheck{Counter: counter, LedgerUnits: units}

	if repair && check.Drift() != 0 {
		if err := tx.Model(&models.UnitCounter{}).Where("id = ?", counter.ID).Updates(map[string]interface{}{
			"units":      units,
			"updated_at": time.Now().UTC(),
		}).Error; err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("failed to repair unit counter: %w", err)
		}
		check.Repaired = true
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return check, nil
}
