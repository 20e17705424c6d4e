package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	// VerificationCodeTTL is how long an email verification code stays valid.
	VerificationCodeTTL = time.Hour
	// ResetTokenTTL is how long a password reset token stays valid.
	ResetTokenTTL = 10 * time.Minute

	verificationCodeBytes = 4
	resetTokenBytes       = 64
)

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewVerificationCode returns an 8-character hex code.
func NewVerificationCode() (string, error) {
	return randomHex(verificationCodeBytes)
}

// NewResetToken returns the raw token sent to the user and the hash to store.
func NewResetToken() (raw, hash string, err error) {
	raw, err = randomHex(resetTokenBytes)
	if err != nil {
		return "", "", err
	}
	return raw, HashResetToken(raw), nil
}

// HashResetToken returns the hex SHA-256 digest stored in place of the raw token.
func HashResetToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
