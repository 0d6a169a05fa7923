package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func runRequireRole(t *testing.T, roles []string, required ...string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if roles != nil {
		req = req.WithContext(context.WithValue(req.Context(), UserRolesKey, roles))
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}
	return rec, RequireRole(required...)(handler)(c)
}

func TestRequireRole_Allowed(t *testing.T) {
	rec, err := runRequireRole(t, []string{"pharmacist"}, "pharmacist")
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	_, err := runRequireRole(t, []string{"patient"}, "pharmacist")
	assertStatus(t, err, http.StatusForbidden)
}

func TestRequireRole_NoRoles(t *testing.T) {
	_, err := runRequireRole(t, nil, "pharmacist")
	assertStatus(t, err, http.StatusForbidden)
}

func TestRequireRole_NoAdminBypass(t *testing.T) {
	_, err := runRequireRole(t, []string{"admin"}, "pharmacist")
	assertStatus(t, err, http.StatusForbidden)
}

func TestHasRole(t *testing.T) {
	ctx := context.WithValue(context.Background(), UserRolesKey, []string{"a", "pharmacist"})
	if !HasRole(ctx, "pharmacist") {
		t.Error("expected pharmacist role")
	}
	if HasRole(ctx, "patient") {
		t.Error("did not expect patient role")
	}
	if HasRole(context.Background(), "pharmacist") {
		t.Error("empty context has no roles")
	}
}
