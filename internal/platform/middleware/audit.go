package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/houmon/houmon/internal/platform/auth"
)

// AuditEntry records who did what to which billing resource.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	TenantID   string
	Resource   string // bonus-definitions, nursing-records, receipts, exports
	ResourceID string
	FacilityID string
	Action     string // read, create, update, delete, or a named transition
	IPAddress  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// AuditRecorder persists audit entries somewhere other than the log.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every /api/v1 request after it completes, with the principal,
// the resource touched and the outcome. Receipt transitions and exports are
// logged under their own action names so confirmations and downloads can be
// traced per receipt.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !strings.HasPrefix(path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			ctx := req.Context()
			resource, id, action := classify(req.Method, path)
			entry := AuditEntry{
				UserID:     auth.UserIDFromContext(ctx),
				UserRoles:  auth.RolesFromContext(ctx),
				Resource:   resource,
				ResourceID: id,
				FacilityID: c.QueryParam("facility_id"),
				Action:     action,
				IPAddress:  c.RealIP(),
				Path:       path,
				Method:     req.Method,
				Timestamp:  time.Now().UTC(),
				StatusCode: c.Response().Status,
			}
			if he, ok := err.(*echo.HTTPError); ok {
				entry.StatusCode = he.Code
			}
			entry.TenantID, _ = c.Get("tenant_id").(string)
			entry.RequestID, _ = c.Get("request_id").(string)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("tenant_id", entry.TenantID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("resource_id", entry.ResourceID).
				Str("facility_id", entry.FacilityID).
				Str("action", entry.Action).
				Int("status", entry.StatusCode).
				Str("remote_ip", entry.IPAddress).
				Msg("billing_access")

			return err
		}
	}
}

// classify splits /api/v1/<resource>[/<id>][/<verb>] into its parts. A
// trailing verb (finalize, reopen, generate, ...) becomes the action.
func classify(method, path string) (resource, id, action string) {
	segs := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/v1/"), "/"), "/")
	resource = segs[0]
	if resource == "" {
		resource = "unknown"
	}
	action = methodAction(method)

	rest := segs[1:]
	// /exports/receipts[/<id>]
	if resource == "exports" && len(rest) > 0 {
		rest = rest[1:]
		action = "export"
	}
	if len(rest) > 0 && isUUID(rest[0]) {
		id = rest[0]
		rest = rest[1:]
	}
	if len(rest) > 0 && method == http.MethodPost {
		action = rest[0]
	}
	return resource, id, action
}

func methodAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
