package auth

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	hash, err := h.Hash("correct horse")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hash == "correct horse" {
		t.Fatal("hash must not equal the password")
	}
	if err := h.Compare(hash, "correct horse"); err != nil {
		t.Errorf("expected match, got %v", err)
	}
	if err := h.Compare(hash, "wrong horse"); err != ErrPasswordMismatch {
		t.Errorf("expected ErrPasswordMismatch, got %v", err)
	}
}

func TestBcryptHasher_EmptyHash(t *testing.T) {
	// SSO-only accounts have no password hash.
	if err := NewBcryptHasher(bcrypt.MinCost).Compare("", "anything"); err != ErrPasswordMismatch {
		t.Errorf("expected ErrPasswordMismatch, got %v", err)
	}
}

func TestBcryptHasher_CostFallback(t *testing.T) {
	h := NewBcryptHasher(99).(*bcryptHasher)
	if h.cost != bcrypt.DefaultCost {
		t.Errorf("expected default cost, got %d", h.cost)
	}
}
