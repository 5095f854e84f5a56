package visit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houmon/houmon/internal/domain/bonus"
	"github.com/houmon/houmon/internal/domain/master"
)

func TestResolveBaseServiceCode(t *testing.T) {
	f := newFixture(t, master.InsuranceMedical)
	ctx := context.Background()

	draft := f.draft("2024-06-03", "09:00", "09:45")
	res, err := f.calc.ResolveBaseServiceCode(ctx, draft, f.facility.ID, nil)
	require.NoError(t, err)
	assert.True(t, res.Defaulted)
	assert.Equal(t, 1, res.DailyVisitCount)
	assert.Equal(t, f.base.ID, res.ServiceCode.ID)

	saved := f.records.Put(f.draft("2024-06-03", "08:00", "08:30"))
	res, err = f.calc.ResolveBaseServiceCode(ctx, draft, f.facility.ID, nil)
	require.NoError(t, err)
	assert.False(t, res.Defaulted)
	assert.Nil(t, res.ServiceCode)
	assert.Zero(t, res.Points)
	assert.Equal(t, 2, res.DailyVisitCount)

	res, err = f.calc.ResolveBaseServiceCode(ctx, saved, f.facility.ID, &saved.ID)
	require.NoError(t, err)
	assert.True(t, res.Defaulted, "a record is not its own sibling")
}

func TestResolveBaseServiceCode_FacilityDefault(t *testing.T) {
	f := newFixture(t, master.InsuranceMedical)
	ctx := context.Background()
	own := f.dir.AddServiceCode("311000999", master.InsuranceMedical, 5000)
	f.facility.DefaultServiceCode = ptr("311000999")

	res, err := f.calc.ResolveBaseServiceCode(ctx, f.draft("2024-06-03", "", ""), f.facility.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, own.ID, res.ServiceCode.ID)
	assert.Equal(t, 5000, res.Points)
}

func TestResolveBaseServiceCode_MissingDefaultLeavesZero(t *testing.T) {
	f := newFixture(t, master.InsuranceMedical)
	f.facility.DefaultServiceCode = ptr("399999999")

	res, err := f.calc.ResolveBaseServiceCode(context.Background(), f.draft("2024-06-03", "", ""), f.facility.ID, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Points)
	assert.False(t, res.Defaulted)
}

func TestCalculate_PersistsHistoryOnlyForSavedRecords(t *testing.T) {
	f := newFixture(t, master.InsuranceMedical)
	ctx := context.Background()

	f.records.Put(f.draft("2024-06-03", "08:00", "08:30"))
	saved := f.records.Put(f.draft("2024-06-03", "11:00", "11:30"))

	res, err := f.calc.Calculate(ctx, saved, f.facility.ID, &saved.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"multiple_visit"}, codes(res.AppliedBonuses))
	assert.Equal(t, 2, res.MonthlyVisitCount)

	hist, _ := f.history.ListByRecord(ctx, saved.ID)
	require.Len(t, hist, 1)
	assert.Equal(t, "multiple_visit", hist[0].BonusCode)
	assert.Equal(t, 450, hist[0].CalculatedPoints)
	assert.Equal(t, 1, hist[0].DefinitionVersion)

	// Recalculating overwrites rather than appends.
	_, err = f.calc.Calculate(ctx, saved, f.facility.ID, &saved.ID)
	require.NoError(t, err)
	hist, _ = f.history.ListByRecord(ctx, saved.ID)
	assert.Len(t, hist, 1)

	draft := f.draft("2024-06-03", "15:00", "15:30")
	_, err = f.calc.Calculate(ctx, draft, f.facility.ID, nil)
	require.NoError(t, err)
	assert.Len(t, f.history.Writes, 1)
}

func TestCalculate_EngineSeesRecordFlags(t *testing.T) {
	f := newFixture(t, master.InsuranceMedical)
	ctx := context.Background()

	draft := f.draft("2024-06-03", "09:00", "09:45")
	draft.EmergencyVisitReason = ptr("dyspnea")
	res, err := f.calc.Calculate(ctx, draft, f.facility.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 5550+265, res.CalculatedPoints)
	require.Len(t, res.AppliedBonuses, 1)
	assert.Equal(t, "dyspnea", res.AppliedBonuses[0].Details["reason"])
}

func TestSaveBonusCalculationHistory(t *testing.T) {
	f := newFixture(t, master.InsuranceMedical)
	ctx := context.Background()
	rec := f.records.Put(f.draft("2024-06-03", "09:00", "09:45"))

	require.NoError(t, f.calc.SaveBonusCalculationHistory(ctx, rec.ID, []bonus.AppliedBonus{
		{BonusCode: "long_visit", BonusName: "長時間", Points: 520, DefinitionVersion: 3},
		{BonusCode: "late_night", BonusName: "深夜", Points: 420, DefinitionVersion: 1},
	}))
	require.NoError(t, f.calc.SaveBonusCalculationHistory(ctx, rec.ID, []bonus.AppliedBonus{
		{BonusCode: "long_visit", BonusName: "長時間", Points: 520, DefinitionVersion: 4},
	}))

	hist, err := f.calc.BonusHistory(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, 4, hist[0].DefinitionVersion)
	assert.Equal(t, rec.ID, hist[0].NursingRecordID)
}
