package auth

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasherRoundTrip(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	digest, err := h.Hash("pw1")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if strings.Contains(digest, "pw1") {
		t.Fatalf("digest leaks plaintext")
	}
	if !h.Verify("pw1", digest) {
		t.Fatalf("expected password to verify")
	}
	if h.Verify("pw2", digest) {
		t.Fatalf("wrong password verified")
	}
}

func TestBcryptHasherSaltsEveryCall(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	a, _ := h.Hash("same")
	b, _ := h.Hash("same")
	if a == b {
		t.Fatalf("expected distinct digests for identical input")
	}
}

func TestBcryptHasherCost(t *testing.T) {
	if got := NewBcryptHasher(0).Cost; got != DefaultBcryptCost {
		t.Fatalf("expected default cost, got %d", got)
	}
	h := NewBcryptHasher(bcrypt.MinCost + 1)
	digest, err := h.Hash("pw")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	cost, err := bcrypt.Cost([]byte(digest))
	if err != nil || cost != bcrypt.MinCost+1 {
		t.Fatalf("unexpected cost %d (%v)", cost, err)
	}
}

func TestBcryptHasherRejectsEmpty(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	if _, err := h.Hash(""); err == nil {
		t.Fatalf("expected error for empty password")
	}
	if h.Verify("", "") || h.Verify("x", "") {
		t.Fatalf("empty inputs must not verify")
	}
}
