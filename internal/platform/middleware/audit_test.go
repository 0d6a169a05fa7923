package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/platform/auth"
)

// auditLines returns the phi_access lines written to buf.
func auditLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range logLines(t, buf) {
		if line["type"] == "phi_access" {
			out = append(out, line)
		}
	}
	return out
}

func newTestContext(method, path string, opts ...func(*http.Request)) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func withAuth(userID string, roles []string) func(*http.Request) {
	return func(req *http.Request) {
		ctx := req.Context()
		ctx = context.WithValue(ctx, auth.UserIDKey, userID)
		ctx = context.WithValue(ctx, auth.UserRolesKey, roles)
		*req = *req.WithContext(ctx)
	}
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestAudit_PharmacistReview(t *testing.T) {
	var buf bytes.Buffer
	c, _ := newTestContext(http.MethodGet, "/api/pharm/patient/P001",
		withAuth("pharm01", []string{"pharmacist"}),
	)
	c.Set("request_id", "req-abc")

	if err := Audit(zerolog.New(&buf))(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := auditLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 audit line, got %d", len(lines))
	}
	line := lines[0]
	if line["user_id"] != "pharm01" {
		t.Errorf("expected user_id 'pharm01', got %v", line["user_id"])
	}
	if line["patient_id"] != "P001" {
		t.Errorf("expected patient_id P001, got %v", line["patient_id"])
	}
	if line["action"] != "read" {
		t.Errorf("expected action 'read', got %v", line["action"])
	}
	if line["request_id"] != "req-abc" {
		t.Errorf("expected request_id 'req-abc', got %v", line["request_id"])
	}
	if line["status"].(float64) != http.StatusOK {
		t.Errorf("expected status 200, got %v", line["status"])
	}
}

// Pharmacist auth sits on an inner group and replaces the request, so the
// actor is only visible once the chain has returned.
func TestAudit_ActorFromInnerGroupAuth(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	e := echo.New()
	e.Use(Logger(logger))
	e.Use(Audit(logger))
	authn := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := context.WithValue(c.Request().Context(), auth.UserIDKey, "pharm01")
			ctx = context.WithValue(ctx, auth.UserRolesKey, []string{"pharmacist"})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
	pharm := e.Group("/api/pharm", authn)
	pharm.GET("/patient/:id", okHandler)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pharm/patient/P001", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	lines := logLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("expected audit and request lines, got %v", lines)
	}
	for _, line := range lines {
		if line["user_id"] != "pharm01" {
			t.Errorf("%v line: expected user_id pharm01, got %v", line["message"], line["user_id"])
		}
	}
	for _, line := range lines {
		if line["type"] != "phi_access" {
			continue
		}
		roles, _ := line["user_roles"].([]interface{})
		if len(roles) != 1 || roles[0] != "pharmacist" {
			t.Errorf("expected user_roles [pharmacist], got %v", line["user_roles"])
		}
	}
}

func TestAudit_PatientEntryUsesRouteParam(t *testing.T) {
	var buf bytes.Buffer
	c, _ := newTestContext(http.MethodPost, "/api/patient/P002/bp")
	c.SetParamNames("id")
	c.SetParamValues("P002")

	if err := Audit(zerolog.New(&buf))(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := auditLines(t, &buf)
	if len(lines) != 1 || lines[0]["patient_id"] != "P002" || lines[0]["action"] != "create" {
		t.Errorf("unexpected audit lines: %v", lines)
	}
}

func TestAudit_ConsentDeniedStatus(t *testing.T) {
	var buf bytes.Buffer
	c, _ := newTestContext(http.MethodGet, "/api/pharm/patient/P003")

	denied := func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusForbidden, "no consent")
	}
	err := Audit(zerolog.New(&buf))(denied)(c)
	if err == nil {
		t.Fatal("expected handler error to pass through")
	}
	lines := auditLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 audit line, got %d", len(lines))
	}
	if lines[0]["status"].(float64) != http.StatusForbidden {
		t.Errorf("expected 403 recorded, got %v", lines[0]["status"])
	}
	if lines[0]["level"] != "warn" {
		t.Errorf("expected warn level for denied access, got %v", lines[0]["level"])
	}
}

func TestAudit_SkipsNonAuditablePaths(t *testing.T) {
	for _, path := range []string{"/health", "/health/db", "/api/pharm/login", "/api/pharm/dashboard"} {
		var buf bytes.Buffer
		c, _ := newTestContext(http.MethodGet, path)
		if err := Audit(zerolog.New(&buf))(okHandler)(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if buf.Len() != 0 {
			t.Errorf("expected no audit line for %s, got %s", path, buf.String())
		}
	}
}

func TestAudit_DeleteAction(t *testing.T) {
	var buf bytes.Buffer
	c, httpRec := newTestContext(http.MethodDelete, "/api/patient/P001/med/abc")

	if err := Audit(zerolog.New(&buf))(okHandler)(c); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if httpRec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", httpRec.Code)
	}
	lines := auditLines(t, &buf)
	if len(lines) != 1 || lines[0]["action"] != "delete" {
		t.Errorf("expected one delete audit line, got %v", lines)
	}
}

func TestHttpMethodToAction(t *testing.T) {
	tests := map[string]string{
		http.MethodGet:     "read",
		http.MethodHead:    "read",
		http.MethodPost:    "create",
		http.MethodPut:     "update",
		http.MethodPatch:   "update",
		http.MethodDelete:  "delete",
		http.MethodOptions: "read",
	}
	for method, want := range tests {
		if got := httpMethodToAction(method); got != want {
			t.Errorf("httpMethodToAction(%s) = %q, want %q", method, got, want)
		}
	}
}

func TestExtractPatientID_FromPath(t *testing.T) {
	tests := map[string]string{
		"/api/patient/P001":                 "P001",
		"/api/patient/P001/symptom":         "P001",
		"/api/pharm/patient/P9/report.pdf":  "P9",
		"/api/pharm/patient/P9/mark_review": "P9",
		"/api/pharm/dashboard":              "",
	}
	for path, want := range tests {
		c, _ := newTestContext(http.MethodGet, path)
		if got := extractPatientID(c); got != want {
			t.Errorf("extractPatientID(%s) = %q, want %q", path, got, want)
		}
	}
}
