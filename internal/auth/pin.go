package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

const (
	MinPIN = 1000
	MaxPIN = 9999
)

var ErrPINMismatch = errors.New("pin does not match")

// NewPIN returns a random 4-digit PIN in [MinPIN, MaxPIN].
func NewPIN() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(MaxPIN-MinPIN+1))
	if err != nil {
		return "", fmt.Errorf("generate pin: %w", err)
	}
	return fmt.Sprintf("%04d", n.Int64()+MinPIN), nil
}

// HashPIN returns the bcrypt hash that is stored instead of the PIN.
func HashPIN(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash pin: %w", err)
	}
	return string(hash), nil
}

func CheckPIN(hash, pin string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPINMismatch
	}
	return err
}
