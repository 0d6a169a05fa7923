package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey      contextKey = "user_id"
	UserRolesKey   contextKey = "user_roles"
	TokenIDKey     contextKey = "token_id"
	TokenExpiryKey contextKey = "token_expiry"
)

// Claims is the payload of a CareLink bearer token.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// RevocationChecker reports whether a token id has been revoked.
type RevocationChecker interface {
	IsRevoked(jti string) bool
}

type JWTConfig struct {
	Issuer     string
	SigningKey []byte
	// Revocations is consulted after signature validation. Optional.
	Revocations RevocationChecker
}

// JWTMiddleware validates the HS256 bearer token and stores the subject,
// roles, token id and expiry on the request context.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	keyFunc := func(t *jwt.Token) (interface{}, error) {
		return cfg.SigningKey, nil
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return unauthorized("missing authorization header")
			}

			scheme, tokenStr, found := strings.Cut(authHeader, " ")
			tokenStr = strings.TrimSpace(tokenStr)
			if !found || !strings.EqualFold(scheme, "bearer") || tokenStr == "" {
				return unauthorized("invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return unauthorized("invalid token")
			}
			if cfg.Revocations != nil && claims.ID != "" && cfg.Revocations.IsRevoked(claims.ID) {
				return unauthorized("token revoked")
			}

			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, UserIDKey, claims.Subject)
			ctx = context.WithValue(ctx, UserRolesKey, claims.Roles)
			ctx = context.WithValue(ctx, TokenIDKey, claims.ID)
			if claims.ExpiresAt != nil {
				ctx = context.WithValue(ctx, TokenExpiryKey, claims.ExpiresAt.Time)
			}
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

// unauthorized renders the uniform 401 body and keeps the reason for logs.
func unauthorized(reason string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"}).
		SetInternal(errors.New(reason))
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

// TokenFromContext returns the id and expiry of the token that
// authenticated the request.
func TokenFromContext(ctx context.Context) (jti string, expiresAt time.Time) {
	jti, _ = ctx.Value(TokenIDKey).(string)
	expiresAt, _ = ctx.Value(TokenExpiryKey).(time.Time)
	return jti, expiresAt
}

// HasRole reports whether the request context carries role.
func HasRole(ctx context.Context, role string) bool {
	for _, r := range RolesFromContext(ctx) {
		if r == role {
			return true
		}
	}
	return false
}
