package bonus

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houmon/houmon/internal/platform/apperr"
)

func TestService_CreateRejectsOverlap(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	first := fixed("long_visit", 520, "long_visit")
	first.ID = uuid.Nil
	first.ValidTo = ptr(day("2024-12-31"))
	require.NoError(t, svc.CreateDefinition(ctx, first))

	second := fixed("long_visit", 530, "long_visit")
	second.ID = uuid.Nil
	second.ValidFrom = day("2024-10-01")
	err := svc.CreateDefinition(ctx, second)
	require.ErrorIs(t, err, ErrOverlappingDefinition)

	_, total, _ := repo.List(ctx, ListFilter{}, 100, 0)
	assert.Equal(t, 1, total, "nothing is stored on conflict")
}

func TestService_AdjacentWindowsAndScopes(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	facility := uuid.New()

	old := fixed("long_visit", 500, "long_visit")
	old.ID = uuid.Nil
	old.ValidFrom = day("2022-04-01")
	old.ValidTo = ptr(day("2024-05-31"))
	require.NoError(t, svc.CreateDefinition(ctx, old))

	current := fixed("long_visit", 520, "long_visit")
	current.ID = uuid.Nil
	require.NoError(t, svc.CreateDefinition(ctx, current), "windows meeting at a boundary do not overlap")

	own := fixed("long_visit", 600, "long_visit")
	own.ID = uuid.Nil
	own.FacilityID = &facility
	require.NoError(t, svc.CreateDefinition(ctx, own), "facility scope does not conflict with global")

	care := fixed("long_visit", 300, "long_visit")
	care.ID = uuid.Nil
	care.InsuranceType = "care"
	require.NoError(t, svc.CreateDefinition(ctx, care))

	_, total, _ := repo.List(ctx, ListFilter{}, 100, 0)
	assert.Equal(t, 4, total)
}

func TestService_CreateValidates(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	tests := []struct {
		name  string
		mut   func(d *Definition)
		field string
	}{
		{"bad code", func(d *Definition) { d.BonusCode = "Long Visit" }, "bonus_code"},
		{"no name", func(d *Definition) { d.BonusName = "" }, "bonus_name"},
		{"bad insurance", func(d *Definition) { d.InsuranceType = "dental" }, "insurance_type"},
		{"reversed window", func(d *Definition) { d.ValidTo = ptr(day("2024-05-01")) }, "valid_to"},
		{"broken expression", func(d *Definition) { d.ConditionExpr = ptr("base_points >") }, "definition"},
		{"unknown predicate", func(d *Definition) { d.ConditionType = "full_moon" }, "definition"},
		{"zero fixed points", func(d *Definition) { d.FixedPoints = ptr(0) }, "definition"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := fixed("long_visit", 520, "long_visit")
			d.ID = uuid.Nil
			tt.mut(d)
			err := svc.CreateDefinition(ctx, d)
			var ve *apperr.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Fields[0].Field)
		})
	}
	_, total, _ := repo.List(ctx, ListFilter{}, 100, 0)
	assert.Zero(t, total)
}

func TestService_UpdateKeepsIdentityAndBumpsVersion(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	d := fixed("emergency_visit", 265, "emergency_visit")
	d.ID = uuid.Nil
	require.NoError(t, svc.CreateDefinition(ctx, d))

	upd := fixed("renamed_code", 300, "emergency_visit")
	upd.ID = d.ID
	upd.InsuranceType = "care"
	require.NoError(t, svc.UpdateDefinition(ctx, upd))

	got, err := svc.GetDefinition(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "emergency_visit", got.BonusCode)
	assert.Equal(t, "medical", got.InsuranceType)
	assert.Equal(t, 300, *got.FixedPoints)
	assert.Equal(t, 2, got.Version)
}

func TestService_UpdateCannotCreateOverlap(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	a := fixed("long_visit", 500, "long_visit")
	a.ID = uuid.Nil
	a.ValidFrom = day("2022-04-01")
	a.ValidTo = ptr(day("2024-05-31"))
	require.NoError(t, svc.CreateDefinition(ctx, a))

	b := fixed("long_visit", 520, "long_visit")
	b.ID = uuid.Nil
	require.NoError(t, svc.CreateDefinition(ctx, b))

	a.ValidTo = ptr(day("2024-06-30"))
	assert.ErrorIs(t, svc.UpdateDefinition(ctx, a), ErrOverlappingDefinition)
}

func TestService_DeactivateFreesTheWindow(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	d := fixed("late_night", 420, "late_night")
	d.ID = uuid.Nil
	require.NoError(t, svc.CreateDefinition(ctx, d))
	require.NoError(t, svc.DeactivateDefinition(ctx, d.ID))
	assert.ErrorIs(t, svc.DeactivateDefinition(ctx, d.ID), ErrNotFound)

	again := fixed("late_night", 430, "late_night")
	again.ID = uuid.Nil
	assert.NoError(t, svc.CreateDefinition(ctx, again))

	effective, err := svc.EffectiveDefinitions(ctx, EffectiveQuery{
		FacilityID: uuid.New(), InsuranceType: "medical", Date: day("2024-07-01"),
	})
	require.NoError(t, err)
	require.Len(t, effective, 1)
	assert.Equal(t, again.ID, effective[0].ID)
}

func TestService_EffectiveDefinitionsPreferFacility(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	facility := uuid.New()

	global := fixed("long_visit", 520, "long_visit")
	global.ID = uuid.Nil
	require.NoError(t, svc.CreateDefinition(ctx, global))
	own := fixed("long_visit", 600, "long_visit")
	own.ID = uuid.Nil
	own.FacilityID = &facility
	own.ValidTo = ptr(day("2024-06-30"))
	require.NoError(t, svc.CreateDefinition(ctx, own))

	q := EffectiveQuery{FacilityID: facility, InsuranceType: "medical", Date: day("2024-06-15")}
	got, err := svc.EffectiveDefinitions(ctx, q)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, own.ID, got[0].ID)

	q.Date = day("2024-07-01")
	got, err = svc.EffectiveDefinitions(ctx, q)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, global.ID, got[0].ID)
}
