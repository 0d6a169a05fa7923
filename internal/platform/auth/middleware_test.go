package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func validClaims() Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "jti-1",
			Subject:   "pharm01",
			Issuer:    "carelink",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Roles: []string{"pharmacist"},
	}
}

func runMiddleware(t *testing.T, cfg JWTConfig, header string, handler echo.HandlerFunc) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if handler == nil {
		handler = func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	}
	return rec, JWTMiddleware(cfg)(handler)(c)
}

func assertStatus(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with status %d", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, err := runMiddleware(t, JWTConfig{SigningKey: testSigningKey}, "", nil)
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runMiddleware(t, JWTConfig{SigningKey: testSigningKey}, tt.header, nil)
			assertStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	token := createTestToken(t, validClaims(), testSigningKey)

	var gotUser, gotJTI string
	var gotRoles []string
	var gotExp time.Time
	handler := func(c echo.Context) error {
		ctx := c.Request().Context()
		gotUser = UserIDFromContext(ctx)
		gotRoles = RolesFromContext(ctx)
		gotJTI, gotExp = TokenFromContext(ctx)
		return c.String(http.StatusOK, "ok")
	}

	rec, err := runMiddleware(t, JWTConfig{Issuer: "carelink", SigningKey: testSigningKey}, "Bearer "+token, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if gotUser != "pharm01" {
		t.Errorf("expected user pharm01, got %q", gotUser)
	}
	if len(gotRoles) != 1 || gotRoles[0] != "pharmacist" {
		t.Errorf("unexpected roles: %v", gotRoles)
	}
	if gotJTI != "jti-1" {
		t.Errorf("expected jti-1, got %q", gotJTI)
	}
	if gotExp.IsZero() {
		t.Error("expected token expiry on context")
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	claims := validClaims()
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	token := createTestToken(t, claims, testSigningKey)

	_, err := runMiddleware(t, JWTConfig{SigningKey: testSigningKey}, "Bearer "+token, nil)
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_MissingExpiry(t *testing.T) {
	claims := validClaims()
	claims.ExpiresAt = nil
	token := createTestToken(t, claims, testSigningKey)

	_, err := runMiddleware(t, JWTConfig{SigningKey: testSigningKey}, "Bearer "+token, nil)
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	token := createTestToken(t, validClaims(), []byte("some-other-key"))
	_, err := runMiddleware(t, JWTConfig{SigningKey: testSigningKey}, "Bearer "+token, nil)
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongIssuer(t *testing.T) {
	token := createTestToken(t, validClaims(), testSigningKey)
	_, err := runMiddleware(t, JWTConfig{Issuer: "elsewhere", SigningKey: testSigningKey}, "Bearer "+token, nil)
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_RevokedToken(t *testing.T) {
	store := NewTokenRevocationStore(time.Minute)
	defer store.Close()
	store.Revoke("jti-1", time.Now().Add(time.Hour))

	token := createTestToken(t, validClaims(), testSigningKey)
	_, err := runMiddleware(t, JWTConfig{SigningKey: testSigningKey, Revocations: store}, "Bearer "+token, nil)
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_RejectsNoneAlgorithm(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims())
	tokenStr, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	_, err = runMiddleware(t, JWTConfig{SigningKey: testSigningKey}, "Bearer "+tokenStr, nil)
	assertStatus(t, err, http.StatusUnauthorized)
}
