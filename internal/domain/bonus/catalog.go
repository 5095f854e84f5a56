package bonus

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ResolveDefinitions narrows candidates to the set the engine evaluates for
// one visit: active, valid on date, matching insurance type, and with at
// most one definition per bonus code. For each code a definition scoped to
// facilityID wins over a global one; a code never resolves to both.
func ResolveDefinitions(defs []*Definition, facilityID uuid.UUID, insuranceType string, date time.Time) []*Definition {
	byCode := make(map[string]*Definition)
	for _, d := range defs {
		if !d.CoversDate(date) || d.InsuranceType != insuranceType {
			continue
		}
		if d.FacilityID != nil && *d.FacilityID != facilityID {
			continue
		}
		cur, ok := byCode[d.BonusCode]
		if !ok || outranks(d, cur) {
			byCode[d.BonusCode] = d
		}
	}

	out := make([]*Definition, 0, len(byCode))
	for _, d := range byCode {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].BonusCode < out[j].BonusCode
	})
	return out
}

// outranks orders two definitions for the same code. Facility scope first;
// within a tier (only reachable if the overlap check was bypassed) the later
// ValidFrom, then the higher version.
func outranks(a, b *Definition) bool {
	if a.IsGlobal() != b.IsGlobal() {
		return !a.IsGlobal()
	}
	if !a.ValidFrom.Equal(b.ValidFrom) {
		return a.ValidFrom.After(b.ValidFrom)
	}
	return a.Version > b.Version
}

// FindOverlap returns the first active definition in existing that shares
// d's scope and intersects its validity interval, ignoring d itself.
func FindOverlap(d *Definition, existing []*Definition) *Definition {
	for _, e := range existing {
		if e.ID == d.ID || !e.IsActive {
			continue
		}
		if d.SameScope(e) && d.Overlaps(e) {
			return e
		}
	}
	return nil
}

// StaticSource serves a fixed set of definitions without a database. The
// `catalog preview` command evaluates an unseeded catalog file through it.
type StaticSource []*Definition

func (s StaticSource) ListCandidates(_ context.Context, facilityID uuid.UUID, insuranceType string, date time.Time) ([]*Definition, error) {
	var out []*Definition
	for _, d := range s {
		if d.InsuranceType != insuranceType || !d.CoversDate(date) {
			continue
		}
		if d.FacilityID != nil && *d.FacilityID != facilityID {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}
