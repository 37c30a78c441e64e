package auth

import (
	"errors"
	"strings"
	"testing"
)

// Fast, test-only hashing parameters.
func testHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := HashPassword(password, 8*1024, 1, 1, 16, 32)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	return hash
}

func TestPasswordHashVerify(t *testing.T) {
	t.Parallel()

	hash := testHash(t, "correct horse battery staple")

	match, err := VerifyPassword("correct horse battery staple", hash)
	if err != nil {
		t.Fatalf("VerifyPassword() error = %v", err)
	}
	if !match {
		t.Error("VerifyPassword() = false for correct password")
	}

	match, err = VerifyPassword("wrong password", hash)
	if err != nil {
		t.Fatalf("VerifyPassword() error = %v", err)
	}
	if match {
		t.Error("VerifyPassword() = true for wrong password")
	}
}

func TestPasswordHashesAreSalted(t *testing.T) {
	t.Parallel()

	h1 := testHash(t, "same password")
	h2 := testHash(t, "same password")
	if h1 == h2 {
		t.Error("two hashes of the same password are identical, want distinct salts")
	}
}

func TestVerifyPasswordMalformedHash(t *testing.T) {
	t.Parallel()

	if _, err := VerifyPassword("anything", "not-an-argon2id-hash"); err == nil {
		t.Error("VerifyPassword() with malformed hash error = nil, want error")
	}
}

func TestValidatePassword(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		password string
		wantErr  error
	}{
		{name: "minimum length", password: "12345678"},
		{name: "typical", password: "correct horse battery staple"},
		{name: "maximum length", password: strings.Repeat("a", 128)},
		{name: "too short", password: "1234567", wantErr: ErrPasswordTooShort},
		{name: "empty", password: "", wantErr: ErrPasswordTooShort},
		{name: "too long", password: strings.Repeat("a", 129), wantErr: ErrPasswordTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidatePassword(tt.password)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidatePassword() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
