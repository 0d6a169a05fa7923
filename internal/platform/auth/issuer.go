package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenIssuer signs HS256 bearer tokens.
type TokenIssuer struct {
	issuer string
	key    []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(issuer string, key []byte, ttl time.Duration) (*TokenIssuer, error) {
	if len(key) == 0 {
		return nil, errors.New("signing key is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	return &TokenIssuer{issuer: issuer, key: key, ttl: ttl, now: time.Now}, nil
}

// IssuedToken is a signed token and the claims it carries.
type IssuedToken struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

// Issue signs a token for subject with a fresh jti.
func (i *TokenIssuer) Issue(subject string, roles ...string) (*IssuedToken, error) {
	now := i.now().UTC()
	exp := now.Add(i.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Roles: roles,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &IssuedToken{Token: signed, ID: claims.ID, ExpiresAt: exp}, nil
}

// Config returns the verification settings matching this issuer.
func (i *TokenIssuer) Config(revocations RevocationChecker) JWTConfig {
	return JWTConfig{Issuer: i.issuer, SigningKey: i.key, Revocations: revocations}
}
