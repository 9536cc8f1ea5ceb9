package commission

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicref/backend/internal/models"
)

const testEstablishment = "sorriso-centro"

type processorFixture struct {
	store     *memStore
	hierarchy *fakeHierarchy
	configs   *fakeConfigs
	publisher *fakePublisher
	processor *Processor
	now       time.Time
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()
	f := &processorFixture{
		store:     newMemStore(),
		hierarchy: newFakeHierarchy(),
		configs:   &fakeConfigs{configs: map[string]*models.EstablishmentCommissionConfig{}},
		publisher: &fakePublisher{},
		now:       time.Date(2026, 1, 14, 9, 30, 0, 0, time.UTC),
	}
	calc, err := NewCalculator(f.configs, f.hierarchy, DefaultSettings())
	require.NoError(t, err)
	f.processor, err = NewProcessor(ProcessorDeps{
		Store:      f.store,
		Calculator: calc,
		Publisher:  f.publisher,
		Clock:      func() time.Time { return f.now },
	})
	require.NoError(t, err)
	return f
}

func (f *processorFixture) openLead(consultantID uuid.UUID) models.Lead {
	return f.store.addLead(models.Lead{
		ConsultantID:      consultantID,
		EstablishmentCode: testEstablishment,
		Status:            models.LeadStatusScheduled,
	})
}

func directEvent(l models.Lead, units int) ConversionEvent {
	return ConversionEvent{
		LeadID:            l.ID,
		ConsultantID:      l.ConsultantID,
		EstablishmentCode: l.EstablishmentCode,
		UnitsSold:         units,
		OriginType:        models.OriginDirect,
	}
}

func recordsByKind(records []models.CommissionRecord) map[models.CommissionKind]models.CommissionRecord {
	out := make(map[models.CommissionKind]models.CommissionRecord, len(records))
	for _, r := range records {
		out[r.Kind] = r
	}
	return out
}

func TestNewProcessor_RequiresDependencies(t *testing.T) {
	_, err := NewProcessor(ProcessorDeps{})
	assert.Error(t, err)

	_, err = NewProcessor(ProcessorDeps{Store: newMemStore()})
	assert.Error(t, err)
}

func TestProcessConversion_DirectWithoutManager(t *testing.T) {
	f := newProcessorFixture(t)
	consultantID := uuid.New()
	l := f.openLead(consultantID)

	result, err := f.processor.ProcessConversion(context.Background(), directEvent(l, 1))
	require.NoError(t, err)

	assert.Equal(t, 750.0, result.ConsultantCommissionAmount)
	assert.Nil(t, result.ManagerCommissionAmount)
	assert.Nil(t, result.ReferralCommissionAmount)
	assert.False(t, result.BonusGained)
	require.Len(t, result.CreatedRecordIDs, 1)

	state := f.store.state
	converted := state.leads[l.ID]
	assert.Equal(t, models.LeadStatusConverted, converted.Status)
	assert.Equal(t, 1, converted.UnitsSold)
	require.NotNil(t, converted.ConvertedAt)
	assert.True(t, converted.ConvertedAt.Equal(f.now))

	require.Len(t, state.records, 1)
	record := state.records[0]
	assert.Equal(t, result.CreatedRecordIDs[0], record.ID)
	assert.Equal(t, models.CommissionConsultant, record.Kind)
	assert.Equal(t, consultantID, record.BeneficiaryUserID)
	assert.Equal(t, models.CommissionStatusPending, record.Status)
	assert.Equal(t, 750.0, record.TotalAmount)
	assert.Contains(t, record.Reference, "sorriso-centro-consultant-20260114-")

	require.Len(t, state.events, 1)
	assert.Equal(t, EventCommissionsCreated, state.events[0].Type)
	var payload CommissionsCreatedEvent
	require.NoError(t, json.Unmarshal(state.events[0].Payload, &payload))
	assert.Equal(t, l.ID, payload.LeadID)
	assert.Equal(t, result.CreatedRecordIDs, payload.RecordIDs)

	assert.Equal(t, []uuid.UUID{state.events[0].ID}, f.publisher.calls)
	assert.Equal(t, 1, f.store.counterAdds)
	units, ok := f.store.counter(consultantID, testEstablishment)
	require.True(t, ok)
	assert.Equal(t, 1, units)
}

func TestProcessConversion_BonusTierReached(t *testing.T) {
	f := newProcessorFixture(t)
	consultantID := uuid.New()
	f.store.addConverted(consultantID, testEstablishment, 2)
	f.store.addConverted(consultantID, testEstablishment, 2)
	f.store.addConverted(consultantID, testEstablishment, 2)
	f.store.addConverted(consultantID, "other-clinic", 2)
	l := f.openLead(consultantID)

	result, err := f.processor.ProcessConversion(context.Background(), directEvent(l, 1))
	require.NoError(t, err)

	assert.Equal(t, 1500.0, result.ConsultantCommissionAmount)
	assert.True(t, result.BonusGained)
	record := recordsByKind(f.store.state.records)[models.CommissionConsultant]
	assert.Equal(t, 750.0, record.BaseAmount)
	assert.Equal(t, 750.0, record.BonusAmount)
}

func TestProcessConversion_ManagerMilestone(t *testing.T) {
	f := newProcessorFixture(t)
	managerID := uuid.New()
	consultantID := uuid.New()
	teammateID := uuid.New()
	f.hierarchy.managers[consultantID] = managerID
	f.hierarchy.managers[teammateID] = managerID
	f.store.addConverted(teammateID, testEstablishment, 30)
	f.store.addConverted(managerID, testEstablishment, 4)
	l := f.openLead(consultantID)

	result, err := f.processor.ProcessConversion(context.Background(), directEvent(l, 2))
	require.NoError(t, err)

	assert.Equal(t, 1500.0, result.ConsultantCommissionAmount)
	require.NotNil(t, result.ManagerCommissionAmount)
	assert.Equal(t, 6500.0, *result.ManagerCommissionAmount)
	assert.True(t, result.BonusGained)
	assert.Len(t, result.CreatedRecordIDs, 2)

	manager := recordsByKind(f.store.state.records)[models.CommissionManagerMilestone]
	assert.Equal(t, managerID, manager.BeneficiaryUserID)
	assert.Equal(t, 1500.0, manager.BaseAmount)
	assert.Equal(t, 5000.0, manager.BonusAmount)
	assert.Equal(t, 6500.0, manager.TotalAmount)

	// the team total is summed from member counters, so only the seller's counter moves
	assert.Equal(t, 1, f.store.counterAdds)
	units, _ := f.store.counter(consultantID, testEstablishment)
	assert.Equal(t, 2, units)
	units, _ = f.store.counter(managerID, testEstablishment)
	assert.Equal(t, 4, units)
	units, _ = f.store.counter(teammateID, testEstablishment)
	assert.Equal(t, 30, units)

	require.Len(t, f.store.lockCalls, 1)
	assert.Subset(t, f.store.lockCalls[0], []uuid.UUID{consultantID, managerID, teammateID})
	assert.Zero(t, f.store.readsBeforeLock)
}

func TestProcessConversion_ManagerOverrideWhenMilestonesDisabled(t *testing.T) {
	f := newProcessorFixture(t)
	cfg := DefaultSettings().Config(testEstablishment)
	cfg.ManagerBonusEnabled = false
	f.configs.configs[testEstablishment] = cfg

	managerID := uuid.New()
	consultantID := uuid.New()
	f.hierarchy.managers[consultantID] = managerID
	f.store.addConverted(consultantID, testEstablishment, 34)
	l := f.openLead(consultantID)

	result, err := f.processor.ProcessConversion(context.Background(), directEvent(l, 2))
	require.NoError(t, err)

	require.NotNil(t, result.ManagerCommissionAmount)
	assert.Equal(t, 1500.0, *result.ManagerCommissionAmount)

	records := recordsByKind(f.store.state.records)
	manager, ok := records[models.CommissionManagerOverride]
	require.True(t, ok)
	assert.Equal(t, 0.0, manager.BonusAmount)
	_, milestone := records[models.CommissionManagerMilestone]
	assert.False(t, milestone)
}

func TestProcessConversion_NoManagerRecordForZeroAmount(t *testing.T) {
	f := newProcessorFixture(t)
	cfg := DefaultSettings().Config(testEstablishment)
	cfg.ConsultantUnitRate = 0
	cfg.ManagerBonusEnabled = false
	f.configs.configs[testEstablishment] = cfg

	consultantID := uuid.New()
	f.hierarchy.managers[consultantID] = uuid.New()
	l := f.openLead(consultantID)

	result, err := f.processor.ProcessConversion(context.Background(), directEvent(l, 1))
	require.NoError(t, err)
	assert.Nil(t, result.ManagerCommissionAmount)
	assert.Len(t, f.store.state.records, 1)
}

func TestProcessConversion_ReferralPaysFullCommissionAndSplit(t *testing.T) {
	f := newProcessorFixture(t)
	consultantID := uuid.New()
	origin := f.store.addLead(models.Lead{
		ConsultantID:      consultantID,
		EstablishmentCode: testEstablishment,
		Status:            models.LeadStatusConverted,
		UnitsSold:         0,
	})
	l := f.store.addLead(models.Lead{
		ConsultantID:      consultantID,
		EstablishmentCode: testEstablishment,
		Status:            models.LeadStatusScheduled,
		OriginType:        models.OriginReferral,
		OriginLeadID:      &origin.ID,
	})
	split := 50.0

	event := directEvent(l, 2)
	event.OriginType = models.OriginReferral
	event.OriginLeadID = &origin.ID
	event.SplitPercentage = &split

	result, err := f.processor.ProcessConversion(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, 1500.0, result.ConsultantCommissionAmount)
	require.NotNil(t, result.ReferralCommissionAmount)
	assert.Equal(t, 750.0, *result.ReferralCommissionAmount)

	records := recordsByKind(f.store.state.records)
	require.Len(t, records, 2)
	assert.Equal(t, 1500.0, records[models.CommissionConsultant].TotalAmount)
	referral := records[models.CommissionConsultantReferral]
	assert.Equal(t, 750.0, referral.TotalAmount)
	assert.Equal(t, consultantID, referral.BeneficiaryUserID)
	require.NotNil(t, referral.SplitPercentage)
	assert.Equal(t, 50.0, *referral.SplitPercentage)

	require.Len(t, f.store.state.referrals, 1)
	update := f.store.state.referrals[0]
	assert.Equal(t, origin.ID, update.OriginLeadID)
	assert.Equal(t, l.ID, update.LeadID)
	assert.Equal(t, 750.0, update.Amount)
}

func TestProcessConversion_MissingOriginLead(t *testing.T) {
	f := newProcessorFixture(t)
	missing := uuid.New()
	l := f.store.addLead(models.Lead{
		ConsultantID:      uuid.New(),
		EstablishmentCode: testEstablishment,
		Status:            models.LeadStatusScheduled,
		OriginType:        models.OriginReferral,
		OriginLeadID:      &missing,
	})
	split := 10.0

	event := directEvent(l, 1)
	event.OriginType = models.OriginReferral
	event.OriginLeadID = &missing
	event.SplitPercentage = &split

	_, err := f.processor.ProcessConversion(context.Background(), event)
	assert.ErrorIs(t, err, ErrOriginLeadNotFound)
	assert.Empty(t, f.store.state.records)
}

func TestProcessConversion_ProcessedOnce(t *testing.T) {
	f := newProcessorFixture(t)
	l := f.openLead(uuid.New())
	event := directEvent(l, 1)

	_, err := f.processor.ProcessConversion(context.Background(), event)
	require.NoError(t, err)

	_, err = f.processor.ProcessConversion(context.Background(), event)
	assert.ErrorIs(t, err, ErrLeadAlreadyConverted)
	assert.Len(t, f.store.state.records, 1)
	assert.Len(t, f.publisher.calls, 1)
}

func TestProcessConversion_ExistingCommissionsBlockConversion(t *testing.T) {
	f := newProcessorFixture(t)
	l := f.openLead(uuid.New())
	f.store.state.records = append(f.store.state.records, models.CommissionRecord{
		ID:     uuid.New(),
		LeadID: l.ID,
		Kind:   models.CommissionConsultant,
	})

	_, err := f.processor.ProcessConversion(context.Background(), directEvent(l, 1))
	assert.ErrorIs(t, err, ErrConversionProcessed)
	assert.Equal(t, models.LeadStatusScheduled, f.store.state.leads[l.ID].Status)
}

func TestProcessConversion_ValidationRunsBeforeTransaction(t *testing.T) {
	f := newProcessorFixture(t)
	l := f.openLead(uuid.New())
	split := 20.0

	tests := []struct {
		name  string
		event func() ConversionEvent
		want  error
	}{
		{"three units", func() ConversionEvent { return directEvent(l, 3) }, ErrInvalidUnits},
		{"zero units", func() ConversionEvent { return directEvent(l, 0) }, ErrInvalidUnits},
		{"no lead", func() ConversionEvent {
			e := directEvent(l, 1)
			e.LeadID = uuid.Nil
			return e
		}, ErrInvalidEvent},
		{"blank establishment", func() ConversionEvent {
			e := directEvent(l, 1)
			e.EstablishmentCode = "  "
			return e
		}, ErrInvalidEvent},
		{"referral without origin", func() ConversionEvent {
			e := directEvent(l, 1)
			e.OriginType = models.OriginReferral
			e.SplitPercentage = &split
			return e
		}, ErrInvalidReferral},
		{"direct with split", func() ConversionEvent {
			e := directEvent(l, 1)
			e.SplitPercentage = &split
			return e
		}, ErrInvalidReferral},
		{"unknown origin", func() ConversionEvent {
			e := directEvent(l, 1)
			e.OriginType = "walk-in"
			return e
		}, ErrInvalidReferral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.processor.ProcessConversion(context.Background(), tt.event())
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsValidation(err))
		})
	}
	assert.Equal(t, 0, f.store.txCount)
}

func TestProcessConversion_LeadChecks(t *testing.T) {
	f := newProcessorFixture(t)
	consultantID := uuid.New()

	lost := f.store.addLead(models.Lead{ConsultantID: consultantID, EstablishmentCode: testEstablishment, Status: models.LeadStatusLost})
	_, err := f.processor.ProcessConversion(context.Background(), directEvent(lost, 1))
	assert.ErrorIs(t, err, ErrInvalidTransition)

	l := f.openLead(consultantID)
	event := directEvent(l, 1)
	event.ConsultantID = uuid.New()
	_, err = f.processor.ProcessConversion(context.Background(), event)
	assert.ErrorIs(t, err, ErrLeadMismatch)

	event = directEvent(l, 1)
	event.EstablishmentCode = "other-clinic"
	_, err = f.processor.ProcessConversion(context.Background(), event)
	assert.ErrorIs(t, err, ErrLeadMismatch)

	event = directEvent(l, 1)
	event.LeadID = uuid.New()
	_, err = f.processor.ProcessConversion(context.Background(), event)
	assert.ErrorIs(t, err, ErrLeadNotFound)
	assert.True(t, IsNotFound(err))
}

func TestProcessConversion_OriginMustMatchStoredLead(t *testing.T) {
	f := newProcessorFixture(t)
	consultantID := uuid.New()
	origin := f.store.addLead(models.Lead{ConsultantID: consultantID, EstablishmentCode: testEstablishment, Status: models.LeadStatusConverted})
	other := f.store.addLead(models.Lead{ConsultantID: consultantID, EstablishmentCode: testEstablishment, Status: models.LeadStatusConverted})
	referred := f.store.addLead(models.Lead{
		ConsultantID:      consultantID,
		EstablishmentCode: testEstablishment,
		Status:            models.LeadStatusScheduled,
		OriginType:        models.OriginReferral,
		OriginLeadID:      &origin.ID,
	})
	direct := f.openLead(consultantID)
	split := 50.0

	referral := func(l models.Lead, originID uuid.UUID) ConversionEvent {
		e := directEvent(l, 1)
		e.OriginType = models.OriginReferral
		e.OriginLeadID = &originID
		e.SplitPercentage = &split
		return e
	}

	tests := []struct {
		name  string
		event ConversionEvent
	}{
		{"referral lead converted as direct", directEvent(referred, 1)},
		{"direct lead converted as referral", referral(direct, origin.ID)},
		{"referral lead with another origin", referral(referred, other.ID)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.processor.ProcessConversion(context.Background(), tt.event)
			assert.ErrorIs(t, err, ErrLeadMismatch)
		})
	}
	assert.Empty(t, f.store.state.records)

	_, err := f.processor.ProcessConversion(context.Background(), referral(referred, origin.ID))
	require.NoError(t, err)
}

func TestProcessConversion_CountersAdvanceBetweenConversions(t *testing.T) {
	f := newProcessorFixture(t)
	consultantID := uuid.New()
	f.store.addConverted(consultantID, testEstablishment, 5)
	ctx := context.Background()

	// tiers every 7 units, counted from the stored cumulative
	steps := []struct {
		units int
		bonus bool
		after int
	}{
		{2, true, 7},
		{1, false, 8},
		{2, false, 10},
		{2, false, 12},
		{2, true, 14},
	}
	for i, step := range steps {
		l := f.openLead(consultantID)
		result, err := f.processor.ProcessConversion(ctx, directEvent(l, step.units))
		require.NoError(t, err, "conversion %d", i)
		assert.Equal(t, step.bonus, result.BonusGained, "conversion %d", i)

		units, ok := f.store.counter(consultantID, testEstablishment)
		require.True(t, ok)
		assert.Equal(t, step.after, units, "conversion %d", i)
	}
	assert.Equal(t, len(steps), f.store.counterAdds)
}

func TestProcessConversion_TeamTotalFollowsMembership(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()
	managerID, sellerID, joinerID := uuid.New(), uuid.New(), uuid.New()
	f.hierarchy.managers[sellerID] = managerID
	f.store.addConverted(sellerID, testEstablishment, 30)
	f.store.addConverted(joinerID, testEstablishment, 10)

	convert := func(units int) *ConversionResult {
		t.Helper()
		result, err := f.processor.ProcessConversion(ctx, directEvent(f.openLead(sellerID), units))
		require.NoError(t, err)
		require.NotNil(t, result.ManagerCommissionAmount)
		return result
	}
	teamBefore := func() int {
		t.Helper()
		_, manager, err := f.processor.Preview(ctx, ConversionEvent{ConsultantID: sellerID, EstablishmentCode: testEstablishment, UnitsSold: 1})
		require.NoError(t, err)
		require.NotNil(t, manager)
		return manager.PriorTeamCumulative
	}

	// 30 -> 31
	assert.Equal(t, 750.0, *convert(1).ManagerCommissionAmount)
	assert.Equal(t, 31, teamBefore())

	// a consultant with 10 units of history joins: 41 -> 43 -> 45 crosses nothing
	f.hierarchy.managers[joinerID] = managerID
	assert.Equal(t, 41, teamBefore())
	assert.Equal(t, 1500.0, *convert(2).ManagerCommissionAmount)
	assert.Equal(t, 1500.0, *convert(2).ManagerCommissionAmount)
	assert.Equal(t, 45, teamBefore())
	_, milestone := recordsByKind(f.store.state.records)[models.CommissionManagerMilestone]
	assert.False(t, milestone)

	// once they leave the team total drops back to the seller's 35
	delete(f.hierarchy.managers, joinerID)
	assert.Equal(t, 35, teamBefore())
	units, _ := f.store.counter(joinerID, testEstablishment)
	assert.Equal(t, 10, units)
}

func TestProcessConversion_ReadsConfigOnce(t *testing.T) {
	f := newProcessorFixture(t)
	managerID, consultantID := uuid.New(), uuid.New()
	f.hierarchy.managers[consultantID] = managerID
	l := f.openLead(consultantID)

	_, err := f.processor.ProcessConversion(context.Background(), directEvent(l, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, f.configs.reads)
}

func TestProcessConversion_RollsBackOnFailure(t *testing.T) {
	f := newProcessorFixture(t)
	managerID := uuid.New()
	consultantID := uuid.New()
	f.hierarchy.managers[consultantID] = managerID
	f.store.failInsertKind = models.CommissionManagerOverride
	l := f.openLead(consultantID)

	_, err := f.processor.ProcessConversion(context.Background(), directEvent(l, 1))
	require.Error(t, err)

	assert.Equal(t, models.LeadStatusScheduled, f.store.state.leads[l.ID].Status)
	assert.Empty(t, f.store.state.records)
	assert.Empty(t, f.store.state.events)
	assert.Empty(t, f.publisher.calls)

	f.store.failInsertKind = ""
	f.store.failStage = true
	_, err = f.processor.ProcessConversion(context.Background(), directEvent(l, 1))
	require.Error(t, err)
	assert.Empty(t, f.store.state.records)
}

func TestProcessConversion_PublishFailureKeepsConversion(t *testing.T) {
	f := newProcessorFixture(t)
	f.publisher.err = errors.New("redis unavailable")
	l := f.openLead(uuid.New())

	result, err := f.processor.ProcessConversion(context.Background(), directEvent(l, 1))
	require.NoError(t, err)
	assert.Len(t, result.CreatedRecordIDs, 1)
	assert.Len(t, f.store.state.events, 1)
	assert.Len(t, f.publisher.calls, 1)
}

func TestProcessConversion_DefaultsOriginToDirect(t *testing.T) {
	f := newProcessorFixture(t)
	l := f.openLead(uuid.New())
	event := directEvent(l, 1)
	event.OriginType = ""

	result, err := f.processor.ProcessConversion(context.Background(), event)
	require.NoError(t, err)
	assert.Nil(t, result.ReferralCommissionAmount)
}

func TestPreview_DoesNotWrite(t *testing.T) {
	f := newProcessorFixture(t)
	managerID := uuid.New()
	consultantID := uuid.New()
	f.hierarchy.managers[consultantID] = managerID
	f.store.addConverted(consultantID, testEstablishment, 6)
	l := f.openLead(consultantID)

	consultant, manager, err := f.processor.Preview(context.Background(), ConversionEvent{
		LeadID:            l.ID,
		ConsultantID:      consultantID,
		EstablishmentCode: testEstablishment,
		UnitsSold:         1,
	})
	require.NoError(t, err)

	assert.Equal(t, 1500.0, consultant.Total())
	require.NotNil(t, manager)
	assert.Equal(t, 750.0, manager.Total())
	assert.Equal(t, 0, f.store.txCount)
	assert.Empty(t, f.store.state.records)
	assert.Equal(t, models.LeadStatusScheduled, f.store.state.leads[l.ID].Status)

	_, _, err = f.processor.Preview(context.Background(), ConversionEvent{ConsultantID: consultantID, EstablishmentCode: testEstablishment, UnitsSold: 5})
	assert.ErrorIs(t, err, ErrInvalidUnits)
	_, _, err = f.processor.Preview(context.Background(), ConversionEvent{EstablishmentCode: testEstablishment, UnitsSold: 1})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}
