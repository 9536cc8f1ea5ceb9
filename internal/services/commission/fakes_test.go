package commission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicref/backend/internal/models"
)

type stagedEvent struct {
	ID      uuid.UUID
	Type    string
	Payload json.RawMessage
}

type counterKey struct {
	owner             uuid.UUID
	establishmentCode string
}

type memState struct {
	leads     map[uuid.UUID]models.Lead
	counters  map[counterKey]int
	records   []models.CommissionRecord
	referrals []ReferralUpdate
	events    []stagedEvent
}

func (s *memState) clone() *memState {
	c := &memState{
		leads:     make(map[uuid.UUID]models.Lead, len(s.leads)),
		counters:  make(map[counterKey]int, len(s.counters)),
		records:   append([]models.CommissionRecord(nil), s.records...),
		referrals: append([]ReferralUpdate(nil), s.referrals...),
		events:    append([]stagedEvent(nil), s.events...),
	}
	for id, l := range s.leads {
		c.leads[id] = l
	}
	for k, v := range s.counters {
		c.counters[k] = v
	}
	return c
}

func (s *memState) sumUnits(establishmentCode string, userIDs []uuid.UUID, exclude *uuid.UUID) int {
	members := make(map[uuid.UUID]bool, len(userIDs))
	for _, id := range userIDs {
		members[id] = true
	}
	total := 0
	for _, l := range s.leads {
		if l.Status != models.LeadStatusConverted || l.EstablishmentCode != establishmentCode || !members[l.ConsultantID] {
			continue
		}
		if exclude != nil && l.ID == *exclude {
			continue
		}
		total += l.UnitsSold
	}
	return total
}

// memStore is an in-memory Store. A transaction works on a copy that replaces
// the committed state only when fn succeeds.
type memStore struct {
	mu    sync.Mutex
	state *memState

	failInsertKind models.CommissionKind
	failStage      bool
	txCount        int
	counterAdds    int
	// lockCalls records the owners of every LockUnitCounters call, in call order
	lockCalls [][]uuid.UUID
	// readsBeforeLock counts sums taken on owners that were not locked first
	readsBeforeLock int
}

func newMemStore() *memStore {
	return &memStore{state: &memState{
		leads:    map[uuid.UUID]models.Lead{},
		counters: map[counterKey]int{},
	}}
}

func (m *memStore) counter(owner uuid.UUID, establishmentCode string) (int, bool) {
	units, ok := m.state.counters[counterKey{owner: owner, establishmentCode: establishmentCode}]
	return units, ok
}

func (m *memStore) addLead(l models.Lead) models.Lead {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.Status == "" {
		l.Status = models.LeadStatusNew
	}
	if l.OriginType == "" {
		l.OriginType = models.OriginDirect
	}
	m.state.leads[l.ID] = l
	return l
}

func (m *memStore) addConverted(consultantID uuid.UUID, establishmentCode string, units int) {
	m.addLead(models.Lead{
		ConsultantID:      consultantID,
		EstablishmentCode: establishmentCode,
		Status:            models.LeadStatusConverted,
		UnitsSold:         units,
	})
}

func (m *memStore) RunInTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCount++

	tx := &memTx{store: m, state: m.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

func (m *memStore) Snapshot() UnitLedger {
	return &memTx{store: m, state: m.state, readOnly: true}
}

// memTx seeds a missing counter from converted leads on its first locked read and
// bumps it on add, like the postgres ledger. Snapshots read without seeding.
type memTx struct {
	store    *memStore
	state    *memState
	readOnly bool
	locked   map[counterKey]bool
}

func (t *memTx) counter(owner uuid.UUID, establishmentCode string, exclude *uuid.UUID) int {
	key := counterKey{owner: owner, establishmentCode: establishmentCode}
	if units, ok := t.state.counters[key]; ok {
		return units
	}
	units := t.state.sumUnits(establishmentCode, []uuid.UUID{owner}, exclude)
	if !t.readOnly {
		t.state.counters[key] = units
	}
	return units
}

func (t *memTx) lock(owner uuid.UUID, establishmentCode string, exclude *uuid.UUID) int {
	if t.locked == nil {
		t.locked = map[counterKey]bool{}
	}
	t.locked[counterKey{owner: owner, establishmentCode: establishmentCode}] = true
	return t.counter(owner, establishmentCode, exclude)
}

func (t *memTx) read(owner uuid.UUID, establishmentCode string, exclude *uuid.UUID) int {
	if !t.readOnly && !t.locked[counterKey{owner: owner, establishmentCode: establishmentCode}] {
		t.store.readsBeforeLock++
	}
	return t.counter(owner, establishmentCode, exclude)
}

func (t *memTx) SumConvertedUnits(ctx context.Context, userID uuid.UUID, establishmentCode string, excludeLeadID *uuid.UUID) (int, error) {
	return t.read(userID, establishmentCode, excludeLeadID), nil
}

func (t *memTx) SumTeamConvertedUnits(ctx context.Context, teamUserIDs []uuid.UUID, establishmentCode string, excludeLeadID *uuid.UUID) (int, error) {
	seen := map[uuid.UUID]bool{}
	total := 0
	for _, id := range teamUserIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		total += t.read(id, establishmentCode, excludeLeadID)
	}
	return total, nil
}

func (t *memTx) LockUnitCounters(ctx context.Context, userIDs []uuid.UUID, establishmentCode string, excludeLeadID *uuid.UUID) error {
	t.store.lockCalls = append(t.store.lockCalls, append([]uuid.UUID(nil), userIDs...))
	for _, id := range userIDs {
		t.lock(id, establishmentCode, excludeLeadID)
	}
	return nil
}

func (t *memTx) LockLead(ctx context.Context, leadID uuid.UUID) (*models.Lead, error) {
	return t.GetLead(ctx, leadID)
}

func (t *memTx) GetLead(ctx context.Context, leadID uuid.UUID) (*models.Lead, error) {
	l, ok := t.state.leads[leadID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLeadNotFound, leadID)
	}
	return &l, nil
}

func (t *memTx) HasCommissions(ctx context.Context, leadID uuid.UUID) (bool, error) {
	for _, r := range t.state.records {
		if r.LeadID == leadID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) UpdateLeadStatus(ctx context.Context, leadID uuid.UUID, status models.LeadStatus, unitsSold int, at time.Time) error {
	l := t.state.leads[leadID]
	l.Status = status
	l.UnitsSold = unitsSold
	l.ConvertedAt = &at
	t.state.leads[leadID] = l
	return nil
}

func (t *memTx) InsertCommissionRecord(ctx context.Context, record *models.CommissionRecord) error {
	if t.store.failInsertKind != "" && record.Kind == t.store.failInsertKind {
		return errors.New("insert failed")
	}
	for _, r := range t.state.records {
		if r.LeadID == record.LeadID && r.Kind == record.Kind {
			return ErrConversionProcessed
		}
	}
	t.state.records = append(t.state.records, *record)
	return nil
}

func (t *memTx) UpdateReferralRecord(ctx context.Context, update ReferralUpdate) error {
	t.state.referrals = append(t.state.referrals, update)
	return nil
}

func (t *memTx) AddConvertedUnits(ctx context.Context, userID uuid.UUID, establishmentCode string, leadID uuid.UUID, units int) error {
	t.store.counterAdds++
	current := t.lock(userID, establishmentCode, &leadID)
	t.state.counters[counterKey{owner: userID, establishmentCode: establishmentCode}] = current + units
	return nil
}

func (t *memTx) StageEvent(ctx context.Context, eventType string, payload interface{}) (uuid.UUID, error) {
	if t.store.failStage {
		return uuid.Nil, errors.New("stage failed")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()
	t.state.events = append(t.state.events, stagedEvent{ID: id, Type: eventType, Payload: raw})
	return id, nil
}

type fakeHierarchy struct {
	managers map[uuid.UUID]uuid.UUID
	err      error
}

func newFakeHierarchy() *fakeHierarchy {
	return &fakeHierarchy{managers: map[uuid.UUID]uuid.UUID{}}
}

func (h *fakeHierarchy) ManagerOf(ctx context.Context, consultantID uuid.UUID) (*uuid.UUID, error) {
	if h.err != nil {
		return nil, h.err
	}
	m, ok := h.managers[consultantID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (h *fakeHierarchy) TeamOf(ctx context.Context, managerID uuid.UUID) ([]uuid.UUID, error) {
	if h.err != nil {
		return nil, h.err
	}
	var team []uuid.UUID
	for consultant, manager := range h.managers {
		if manager == managerID {
			team = append(team, consultant)
		}
	}
	return team, nil
}

type fakeConfigs struct {
	configs map[string]*models.EstablishmentCommissionConfig
	err     error
	reads   int
}

func (f *fakeConfigs) GetConfig(ctx context.Context, establishmentCode string) (*models.EstablishmentCommissionConfig, error) {
	f.reads++
	if f.err != nil {
		return nil, f.err
	}
	return f.configs[establishmentCode], nil
}

type fakePublisher struct {
	calls []uuid.UUID
	err   error
}

func (f *fakePublisher) Publish(ctx context.Context, eventType string, eventID uuid.UUID) error {
	f.calls = append(f.calls, eventID)
	return f.err
}

type fixedLedger struct {
	user    int
	team    int
	members []uuid.UUID
}

func (f *fixedLedger) SumConvertedUnits(ctx context.Context, userID uuid.UUID, establishmentCode string, excludeLeadID *uuid.UUID) (int, error) {
	return f.user, nil
}

func (f *fixedLedger) SumTeamConvertedUnits(ctx context.Context, teamUserIDs []uuid.UUID, establishmentCode string, excludeLeadID *uuid.UUID) (int, error) {
	f.members = teamUserIDs
	return f.team, nil
}
