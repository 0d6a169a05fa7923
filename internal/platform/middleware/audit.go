package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/platform/auth"
)

// auditEntry describes one request that touched a patient record.
type auditEntry struct {
	UserID     string
	UserRoles  []string
	PatientID  string
	Action     string // read, create, update, delete
	IPAddress  string
	Path       string
	Method     string
	RequestID  string
	StatusCode int
}

// auditPrefixes are the route prefixes that carry a patient id.
var auditPrefixes = []string{"/api/patient/", "/api/pharm/patient/"}

// Audit logs every request to a patient-record route with type=phi_access.
// The actor is read from the request after the chain returns: pharmacist
// auth runs as a group middleware and replaces the request.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			if !isAuditablePath(path) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}

			req := c.Request()
			ctx := req.Context()
			entry := auditEntry{
				UserID:     auth.UserIDFromContext(ctx),
				UserRoles:  auth.RolesFromContext(ctx),
				PatientID:  extractPatientID(c),
				Action:     httpMethodToAction(req.Method),
				IPAddress:  c.RealIP(),
				Path:       path,
				Method:     req.Method,
				RequestID:  RequestIDFrom(c),
				StatusCode: status,
			}

			evt := logger.Info()
			if status == http.StatusForbidden {
				evt = logger.Warn()
			}
			evt.
				Str("type", "phi_access").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("phi_access")

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	for _, p := range auditPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func httpMethodToAction(method string) string {
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

// extractPatientID prefers the matched :id route param and falls back to
// the first path segment after the audit prefix.
func extractPatientID(c echo.Context) string {
	if id := c.Param("id"); id != "" {
		return id
	}
	path := c.Request().URL.Path
	for _, p := range auditPrefixes {
		if rest, ok := strings.CutPrefix(path, p); ok {
			id, _, _ := strings.Cut(rest, "/")
			return id
		}
	}
	return ""
}
