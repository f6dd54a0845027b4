package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/hex"
	"fmt"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
)

const (
	// DefaultCodeLength is the number of digits in a verification code.
	DefaultCodeLength = 5

	resetTokenBytes = 32
	codeSecretBytes = 20
)

// NumericCode returns a random decimal code of length digits,
// leading zeros included. length must be between 4 and 9.
func NumericCode(length int) (string, error) {
	if length < 4 || length > 9 {
		return "", fmt.Errorf("auth: code length %d out of range", length)
	}

	// A fresh random HOTP key per code; the counter is irrelevant.
	key := make([]byte, codeSecretBytes)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	secret := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(key)

	return hotp.GenerateCodeCustom(secret, 0, hotp.ValidateOpts{
		Digits:    otp.Digits(length),
		Algorithm: otp.AlgorithmSHA1,
	})
}

// ResetToken returns a new password reset token and the hash to persist.
// Only the hash is stored; the plaintext goes into the reset link.
func ResetToken() (plaintext, hash string, err error) {
	b := make([]byte, resetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	plaintext = hex.EncodeToString(b)
	return plaintext, HashResetToken(plaintext), nil
}

// HashResetToken returns the hex SHA-256 digest of a reset token.
func HashResetToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// CodesEqual compares a submitted code with the stored one in constant time.
// An empty stored code never matches.
func CodesEqual(stored, submitted string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) == 1
}
