package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin   = "admin"
	RoleBilling = "billing"
	RoleNurse   = "nurse"
)

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// HasRole reports whether granted contains one of required. Admin satisfies
// every requirement.
func HasRole(granted []string, required ...string) bool {
	for _, has := range granted {
		if has == RoleAdmin {
			return true
		}
		for _, r := range required {
			if has == r {
				return true
			}
		}
	}
	return false
}

// RequireFacilityAccess rejects requests for a facility the user is not
// assigned to. The facility id is read from the named query or path
// parameter; requests without it pass through to the handler's own checks.
func RequireFacilityAccess(param string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			fid := c.Param(param)
			if fid == "" {
				fid = c.QueryParam(param)
			}
			if fid == "" || CanAccessFacility(c.Request().Context(), fid) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden, "facility not accessible")
		}
	}
}
