// Package password hashes and verifies user passwords with HMAC-SHA512.
// The 128-byte random salt doubles as the HMAC key, producing a 64-byte hash.
package password

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"
)

const (
	SaltLen = 128
	HashLen = sha512.Size
)

var (
	ErrInvalidHashLength = errors.New("invalid length of password hash (64 bytes expected)")
	ErrInvalidSaltLength = errors.New("invalid length of password salt (128 bytes expected)")
)

// Create generates a random salt and the matching hash for a password.
func Create(password string) (salt, hash []byte, err error) {
	const op = "password.Create"

	salt = make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	mac := hmac.New(sha512.New, salt)
	mac.Write([]byte(password))

	return salt, mac.Sum(nil), nil
}

// Verify recomputes the hash for a candidate password with the stored salt
// and compares it in constant time. Malformed hash or salt lengths signal
// data corruption and are reported as errors, not as a failed match.
func Verify(password string, storedHash, storedSalt []byte) (bool, error) {
	if len(storedHash) != HashLen {
		return false, ErrInvalidHashLength
	}
	if len(storedSalt) != SaltLen {
		return false, ErrInvalidSaltLength
	}

	mac := hmac.New(sha512.New, storedSalt)
	mac.Write([]byte(password))

	return hmac.Equal(mac.Sum(nil), storedHash), nil
}
