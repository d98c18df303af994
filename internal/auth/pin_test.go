package auth

import (
	"errors"
	"strconv"
	"testing"
)

func TestNewPINRange(t *testing.T) {
	for i := 0; i < 200; i++ {
		pin, err := NewPIN()
		if err != nil {
			t.Fatalf("new pin: %v", err)
		}
		if len(pin) != 4 {
			t.Fatalf("pin %q is not 4 digits", pin)
		}
		n, err := strconv.Atoi(pin)
		if err != nil || n < MinPIN || n > MaxPIN {
			t.Fatalf("pin %q out of range", pin)
		}
	}
}

func TestHashAndCheckPIN(t *testing.T) {
	hash, err := HashPIN("4821")
	if err != nil {
		t.Fatal(err)
	}
	if hash == "4821" {
		t.Fatal("hash must not equal the pin")
	}
	if err := CheckPIN(hash, "4821"); err != nil {
		t.Fatalf("expected match: %v", err)
	}
	if err := CheckPIN(hash, "1234"); !errors.Is(err, ErrPINMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
}
