package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextWithRoles(roles []string, facilities []string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithUser(req.Context(), "u-1", roles, facilities))
	return e.NewContext(req, httptest.NewRecorder())
}

func okHandler(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func TestRequireRole_Allowed(t *testing.T) {
	c := contextWithRoles([]string{RoleBilling}, nil)
	if err := RequireRole(RoleBilling)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	c := contextWithRoles([]string{RoleNurse}, nil)
	err := RequireRole(RoleBilling)(okHandler)(c)
	if err == nil {
		t.Fatal("expected forbidden error")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestRequireRole_AdminBypass(t *testing.T) {
	c := contextWithRoles([]string{RoleAdmin}, nil)
	if err := RequireRole(RoleBilling, RoleNurse)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequireRole_NoPrincipal(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if err := RequireRole(RoleNurse)(okHandler)(c); err == nil {
		t.Fatal("expected forbidden without a principal")
	}
}

func TestCanAccessFacility(t *testing.T) {
	tests := []struct {
		name       string
		roles      []string
		facilities []string
		target     string
		want       bool
	}{
		{"assigned", []string{RoleNurse}, []string{"f-1", "f-2"}, "f-2", true},
		{"not assigned", []string{RoleNurse}, []string{"f-1"}, "f-9", false},
		{"admin sees all", []string{RoleAdmin}, nil, "f-9", true},
		{"no facilities", []string{RoleBilling}, nil, "f-1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := WithUser(context.Background(), "u", tt.roles, tt.facilities)
			if got := CanAccessFacility(ctx, tt.target); got != tt.want {
				t.Errorf("CanAccessFacility = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequireFacilityAccess(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?facility_id=f-9", nil)
	req = req.WithContext(WithUser(req.Context(), "u", []string{RoleBilling}, []string{"f-1"}))
	c := e.NewContext(req, httptest.NewRecorder())

	err := RequireFacilityAccess("facility_id")(okHandler)(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/?facility_id=f-1", nil)
	req = req.WithContext(WithUser(req.Context(), "u", []string{RoleBilling}, []string{"f-1"}))
	c = e.NewContext(req, httptest.NewRecorder())
	if err := RequireFacilityAccess("facility_id")(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
