package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 12

var ErrEmptyPassword = errors.New("password must not be empty")

// bcrypt only considers the first 72 bytes of its input. Longer passwords are
// reduced to a sha256 hex digest before hashing so that every byte matters.
func prehash(password string) []byte {
	if len(password) > 72 {
		digest := sha256.Sum256([]byte(password))
		return []byte(hex.EncodeToString(digest[:]))
	}
	return []byte(password)
}

func HashPassword(password string) ([]byte, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}
	return bcrypt.GenerateFromPassword(prehash(password), bcryptCost)
}

// VerifyPassword accepts hashes produced either from the pre-hashed form or
// from the raw password, so hashes created before the pre-hash strategy was
// introduced continue to verify.
func VerifyPassword(hash []byte, password string) bool {
	if password == "" {
		return false
	}
	if bcrypt.CompareHashAndPassword(hash, prehash(password)) == nil {
		return true
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}
