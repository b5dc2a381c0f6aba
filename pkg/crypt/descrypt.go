// Package crypt hashes and verifies player passwords. New passwords use
// bcrypt; hashes imported from older MUSH databases are DES crypt(3) with a
// two-character salt and are upgraded on the next successful login.
package crypt

import (
	"strings"

	descrypt "github.com/digitive/crypt"
	"golang.org/x/crypto/bcrypt"
)

// Crypt performs traditional Unix DES crypt(3).
func Crypt(password, salt string) string {
	result, err := descrypt.Crypt(password, salt)
	if err != nil {
		return ""
	}
	return result
}

// CheckPassword verifies a password against a DES-encrypted hash.
func CheckPassword(password, storedHash string) bool {
	if len(storedHash) < 2 {
		return false
	}
	salt := storedHash[:2]
	computed := Crypt(password, salt)
	return computed != "" && computed == storedHash
}

// Hash returns a bcrypt hash of password.
func Hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func isBcrypt(hash string) bool {
	return strings.HasPrefix(hash, "$2")
}

// Verify checks password against a bcrypt or legacy DES hash.
func Verify(password, storedHash string) bool {
	if isBcrypt(storedHash) {
		return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(password)) == nil
	}
	return CheckPassword(password, storedHash)
}

// NeedsRehash reports whether a stored hash should be replaced with bcrypt.
func NeedsRehash(storedHash string) bool {
	return !isBcrypt(storedHash)
}
