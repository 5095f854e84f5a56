package bonus

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog_EntriesAreValid(t *testing.T) {
	defs, err := DefaultCatalog()
	require.NoError(t, err)
	require.NotEmpty(t, defs)

	e := newTestEngine(newMemRepo())
	seen := map[string]bool{}
	for _, d := range defs {
		assert.NoError(t, e.Check(d), d.BonusCode)
		assert.Equal(t, day("2024-06-01"), d.ValidFrom, d.BonusCode)
		key := d.InsuranceType + "/" + d.BonusCode
		assert.False(t, seen[key], "duplicate catalog entry %s", key)
		seen[key] = true
	}
	assert.True(t, seen["medical/multiple_visit"])
	assert.True(t, seen["care/late_night"])
	assert.True(t, seen["care/multiple_visit"])
}

func TestService_SeedTwiceSkips(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	defs, err := DefaultCatalog()
	require.NoError(t, err)
	res, err := svc.Seed(ctx, defs, nil)
	require.NoError(t, err)
	assert.Equal(t, len(defs), res.Created)
	assert.Zero(t, res.Skipped)

	defs, _ = DefaultCatalog()
	res, err = svc.Seed(ctx, defs, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	assert.Equal(t, len(defs), res.Skipped)

	_, total, _ := repo.List(ctx, ListFilter{}, 500, 0)
	assert.Equal(t, len(defs), total)
}

func TestService_SeedFacilityScope(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	facility := uuid.New()

	defs, err := LoadCatalog(strings.NewReader(`
definitions:
  - bonus_code: long_visit
    bonus_name: 長時間訪問看護加算
    insurance_type: medical
    points_type: fixed
    fixed_points: 600
    condition_type: long_visit
    condition_params: {min_minutes: 90}
    valid_from: 2024-06-01
    valid_to: 2024-06-30
  - bonus_code: broken
    bonus_name: broken
    insurance_type: medical
    points_type: fixed
    fixed_points: 10
    condition_type: no_such_predicate
    valid_from: 2024-06-01
`))
	require.NoError(t, err)
	require.Len(t, defs, 2)
	require.NotNil(t, defs[0].ValidTo)

	res, err := svc.Seed(ctx, defs, &facility)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Created: 1, Invalid: 1}, res)
	require.NotNil(t, defs[0].FacilityID)
	assert.Equal(t, facility, *defs[0].FacilityID)
}

func TestLoadCatalog_RejectsUnknownFields(t *testing.T) {
	_, err := LoadCatalog(strings.NewReader(`
definitions:
  - bonus_code: x
    points: 10
`))
	assert.Error(t, err)
}
