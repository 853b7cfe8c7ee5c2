package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrPasswordMismatch means the password does not match the stored digest
var ErrPasswordMismatch = errors.New("password mismatch")

// dummyDigest is compared against when the email is unknown, so an unknown
// account costs the same bcrypt work as a wrong password.
var dummyDigest = mustDigest("tidepool-dummy-password")

// VerifyPassword verifies a password against a bcrypt digest
func VerifyPassword(password, digest string) error {
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	if err != nil {
		return fmt.Errorf("failed to verify password: %w", err)
	}
	return nil
}

// HashPassword creates a bcrypt digest of a password
func HashPassword(password string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(digest), nil
}

// burnPasswordCheck performs a comparison whose result is discarded
func burnPasswordCheck(password string) {
	_ = bcrypt.CompareHashAndPassword([]byte(dummyDigest), []byte(password))
}

func mustDigest(password string) string {
	digest, err := HashPassword(password)
	if err != nil {
		panic(err)
	}
	return digest
}
