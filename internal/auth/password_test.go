package auth

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestVerifyPassword(t *testing.T) {
	digest := mustDigest("Barrel2024")

	tests := []struct {
		name     string
		password string
		digest   string
		wantErr  error
	}{
		{"valid password", "Barrel2024", digest, nil},
		{"wrong password", "Closeout2024", digest, ErrPasswordMismatch},
		{"empty password", "", digest, ErrPasswordMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyPassword(tt.password, tt.digest)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("VerifyPassword() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerifyPasswordMalformedDigest(t *testing.T) {
	err := VerifyPassword("Barrel2024", "not-a-bcrypt-digest")
	if err == nil {
		t.Fatal("expected error for malformed digest")
	}
	if errors.Is(err, ErrPasswordMismatch) {
		t.Error("malformed digest must not look like a plain mismatch")
	}
}

func TestHashPassword(t *testing.T) {
	digest, err := HashPassword("Barrel2024")
	if err != nil {
		t.Fatalf("HashPassword() failed: %v", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(digest), []byte("Barrel2024")); err != nil {
		t.Errorf("generated digest cannot be validated: %v", err)
	}

	other, _ := HashPassword("Barrel2024")
	if digest == other {
		t.Error("same password should produce different digests")
	}
}

func TestDummyDigestIsValidBcrypt(t *testing.T) {
	if _, err := bcrypt.Cost([]byte(dummyDigest)); err != nil {
		t.Fatalf("dummy digest is not bcrypt: %v", err)
	}
}
