package auth

import "context"

// CanAccessFacility reports whether the principal in ctx may act on the
// given facility.
func CanAccessFacility(ctx context.Context, facilityID string) bool {
	if HasRole(RolesFromContext(ctx)) {
		return true
	}
	for _, id := range FacilityIDsFromContext(ctx) {
		if id == facilityID {
			return true
		}
	}
	return false
}
