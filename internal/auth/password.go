package auth

import (
	"errors"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/bunbase/bunbase/internal/config"
)

const bcryptCost = 12

// dummyHash is a fixed bcrypt hash (cost 12, random password, never
// disclosed) compared against when no account exists for a login email.
// Running bcrypt here keeps login time close to the real-account path so
// observing response latency doesn't reveal account existence (spec §4.7,
// invariant 6).
const dummyHash = "$2a$12$C9T0pMQnQWq8kFh4E8zYBOWDExFqjqjqkT6DAe1zQe8sVqCqG0J0u"

var (
	ErrPasswordTooShort    = errors.New("password is too short")
	ErrPasswordNoUppercase = errors.New("password must contain at least one uppercase letter")
	ErrPasswordNoLowercase = errors.New("password must contain at least one lowercase letter")
	ErrPasswordNoNumber    = errors.New("password must contain at least one number")
	ErrPasswordNoSpecial   = errors.New("password must contain at least one special character")
	ErrInvalidCredentials  = errors.New("invalid login credentials")
)

// HashPassword hashes a password using bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// verifyPassword reports whether password matches hash.
func verifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// verifyLoginPassword implements the timing-attack defense of spec §4.7:
// whichever branch is taken, a bcrypt comparison against a cost-12 hash
// always runs, so a nonexistent account and a wrong password take
// indistinguishable time.
func verifyLoginPassword(password string, storedHash *string) bool {
	if storedHash == nil || *storedHash == "" {
		bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password)) //nolint:errcheck
		return false
	}
	return verifyPassword(password, *storedHash)
}

// ValidatePassword checks if a password meets the configured requirements.
func ValidatePassword(password string, cfg config.PasswordConfig) error {
	if len(password) < cfg.MinLength {
		return ErrPasswordTooShort
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasNumber = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	if cfg.RequireUppercase && !hasUpper {
		return ErrPasswordNoUppercase
	}
	if cfg.RequireLowercase && !hasLower {
		return ErrPasswordNoLowercase
	}
	if cfg.RequireNumber && !hasNumber {
		return ErrPasswordNoNumber
	}
	if cfg.RequireSpecial && !hasSpecial {
		return ErrPasswordNoSpecial
	}

	return nil
}
