// Package password wraps the credential hashing used for local accounts.
package password

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// AlgoBcrypt is recorded next to each stored hash so the algorithm can be rotated later.
const AlgoBcrypt = "bcrypt"

var (
	ErrEmpty   = errors.New("password is empty")
	ErrTooLong = errors.New("password exceeds 72 bytes")
)

// Validate rejects inputs bcrypt cannot hash faithfully.
func Validate(pass string) error {
	if pass == "" {
		return ErrEmpty
	}
	if len(pass) > 72 {
		return ErrTooLong
	}
	return nil
}

// Hash hashes a plaintext password using bcrypt.
func Hash(pass string) (hash string, algo string, err error) {
	if err := Validate(pass); err != nil {
		return "", "", err
	}
	b, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	return string(b), AlgoBcrypt, nil
}

// Verify compares a plaintext password with a stored hash.
func Verify(hash, pass string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)) == nil
}
