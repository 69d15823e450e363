package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier("0123456789abcdef-secret")
	id := uuid.New()

	tok, err := v.Issue(id, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	got, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got != id {
		t.Errorf("subject = %s, want %s", got, id)
	}
}

func TestVerifier_Expired(t *testing.T) {
	v := NewVerifier("0123456789abcdef-secret")
	v.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	tok, err := v.Issue(uuid.New(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	v.now = time.Now
	if _, err := v.Verify(tok); err != ErrExpiredToken {
		t.Errorf("err = %v, want ErrExpiredToken", err)
	}
}

func TestVerifier_WrongSecret(t *testing.T) {
	tok, err := NewVerifier("first-secret-0123456").Issue(uuid.New(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewVerifier("other-secret-0123456").Verify(tok); err != ErrInvalidToken {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifier_RejectsNonUUIDSubject(t *testing.T) {
	secret := "0123456789abcdef-secret"
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewVerifier(secret).Verify(tok); err != ErrInvalidToken {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifier_RejectsOtherAlgorithms(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject: uuid.NewString(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewVerifier("0123456789abcdef-secret").Verify(tok); err != ErrInvalidToken {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifier_Garbage(t *testing.T) {
	if _, err := NewVerifier("0123456789abcdef-secret").Verify("not.a.token"); err != ErrInvalidToken {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}
