package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for any username or password mismatch.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Credential is a single configured login.
type Credential struct {
	Username     string
	PasswordHash []byte
}

// HashPassword returns a bcrypt hash of password at the given cost. A cost of
// zero selects bcrypt.DefaultCost.
func HashPassword(password string, cost int) ([]byte, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

// Verify checks username and password. The bcrypt comparison runs even when
// the username does not match.
func (c Credential) Verify(username, password string) error {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(c.Username)) == 1
	passErr := bcrypt.CompareHashAndPassword(c.PasswordHash, []byte(password))
	if !userOK || passErr != nil {
		return ErrInvalidCredentials
	}
	return nil
}
