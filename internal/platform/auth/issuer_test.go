package auth

import (
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestNewTokenIssuer_Validation(t *testing.T) {
	if _, err := NewTokenIssuer("carelink", nil, time.Hour); err == nil {
		t.Error("expected error for empty key")
	}
	if _, err := NewTokenIssuer("carelink", testSigningKey, 0); err == nil {
		t.Error("expected error for zero ttl")
	}
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer("carelink", testSigningKey, 8*time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	before := time.Now()
	tok, err := issuer.Issue("pharm01", "pharmacist")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if tok.ID == "" {
		t.Error("expected a jti")
	}
	if tok.ExpiresAt.Before(before.Add(8*time.Hour).Add(-time.Second)) || tok.ExpiresAt.After(time.Now().Add(8*time.Hour)) {
		t.Errorf("unexpected expiry %v", tok.ExpiresAt)
	}

	var gotUser, gotJTI string
	handler := func(c echo.Context) error {
		gotUser = UserIDFromContext(c.Request().Context())
		gotJTI, _ = TokenFromContext(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	}
	if _, err := runMiddleware(t, issuer.Config(nil), "Bearer "+tok.Token, handler); err != nil {
		t.Fatalf("middleware rejected issued token: %v", err)
	}
	if gotUser != "pharm01" || gotJTI != tok.ID {
		t.Errorf("got user %q jti %q", gotUser, gotJTI)
	}
}

func TestTokenIssuer_UniqueIDs(t *testing.T) {
	issuer, _ := NewTokenIssuer("carelink", testSigningKey, time.Hour)
	a, _ := issuer.Issue("pharm01", "pharmacist")
	b, _ := issuer.Issue("pharm01", "pharmacist")
	if a.ID == b.ID {
		t.Error("expected distinct token ids")
	}
}
