package bonus

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDefinitions_FacilityShadowsGlobal(t *testing.T) {
	facility := uuid.New()
	other := uuid.New()

	global := fixed("long_visit", 520, "long_visit")
	own := fixed("long_visit", 600, "long_visit")
	own.FacilityID = &facility
	own.ValidTo = ptr(day("2024-06-30"))

	defs := []*Definition{global, own}

	got := ResolveDefinitions(defs, facility, "medical", day("2024-06-10"))
	require.Len(t, got, 1)
	assert.Equal(t, own.ID, got[0].ID, "facility definition wins while valid")

	got = ResolveDefinitions(defs, facility, "medical", day("2024-07-01"))
	require.Len(t, got, 1)
	assert.Equal(t, global.ID, got[0].ID, "global applies after the facility definition expires")

	got = ResolveDefinitions(defs, other, "medical", day("2024-06-10"))
	require.Len(t, got, 1)
	assert.Equal(t, global.ID, got[0].ID, "other facilities never see the override")
}

func TestResolveDefinitions_Filters(t *testing.T) {
	facility := uuid.New()

	inactive := fixed("a", 10, "always")
	inactive.IsActive = false
	future := fixed("b", 10, "always")
	future.ValidFrom = day("2025-01-01")
	care := fixed("c", 10, "always")
	care.InsuranceType = "care"
	expired := fixed("d", 10, "always")
	expired.ValidTo = ptr(day("2024-06-05"))
	ok := fixed("e", 10, "always")

	got := ResolveDefinitions([]*Definition{inactive, future, care, expired, ok}, facility, "medical", day("2024-06-10"))
	require.Len(t, got, 1)
	assert.Equal(t, "e", got[0].BonusCode)
}

func TestResolveDefinitions_DisplayOrder(t *testing.T) {
	a := fixed("zeta", 10, "always")
	a.DisplayOrder = 1
	b := fixed("alpha", 10, "always")
	b.DisplayOrder = 2
	c := fixed("beta", 10, "always")
	c.DisplayOrder = 1

	got := ResolveDefinitions([]*Definition{b, a, c}, uuid.New(), "medical", day("2024-06-10"))
	require.Len(t, got, 3)
	assert.Equal(t, []string{"beta", "zeta", "alpha"}, []string{got[0].BonusCode, got[1].BonusCode, got[2].BonusCode})
}

func TestFindOverlap(t *testing.T) {
	facility := uuid.New()

	existing := fixed("long_visit", 520, "long_visit")
	existing.ValidTo = ptr(day("2024-12-31"))

	tests := []struct {
		name    string
		mutate  func(d *Definition)
		overlap bool
	}{
		{"same window", func(d *Definition) {}, true},
		{"starts inside", func(d *Definition) { d.ValidFrom = day("2024-12-31") }, true},
		{"adjacent after", func(d *Definition) { d.ValidFrom = day("2025-01-01") }, false},
		{"ends before", func(d *Definition) {
			d.ValidFrom = day("2024-01-01")
			d.ValidTo = ptr(day("2024-05-31"))
		}, false},
		{"open ended before", func(d *Definition) { d.ValidFrom = day("2023-01-01") }, true},
		{"facility scope", func(d *Definition) { d.FacilityID = &facility }, false},
		{"other code", func(d *Definition) { d.BonusCode = "emergency_visit" }, false},
		{"other insurance", func(d *Definition) { d.InsuranceType = "care" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := fixed("long_visit", 600, "long_visit")
			tt.mutate(d)
			got := FindOverlap(d, []*Definition{existing})
			assert.Equal(t, tt.overlap, got != nil)
		})
	}
}

func TestFindOverlap_IgnoresSelfAndInactive(t *testing.T) {
	d := fixed("long_visit", 520, "long_visit")
	assert.Nil(t, FindOverlap(d, []*Definition{d}))

	old := fixed("long_visit", 500, "long_visit")
	old.IsActive = false
	assert.Nil(t, FindOverlap(d, []*Definition{old}))
}
