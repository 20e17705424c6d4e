// Package crypto encrypts stored AWS credentials at rest.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrDecryption is returned for any ciphertext that cannot be opened:
// malformed encoding, truncated data or a key mismatch.
var ErrDecryption = errors.New("unable to decrypt value")

// SecretCipher encrypts short secrets into the text form "hex(nonce):hex(ciphertext)".
// The key is derived once from the configured secret and never changes for
// the lifetime of the cipher. It is safe for concurrent use.
type SecretCipher struct {
	aead      cipher.AEAD
	algorithm string
}

// NewSecretCipher derives a 256-bit key as SHA-256(secret).
func NewSecretCipher(secret, algorithm string) (*SecretCipher, error) {
	if secret == "" {
		return nil, fmt.Errorf("encryption secret cannot be empty")
	}
	if algorithm == "" {
		algorithm = AlgorithmAES256GCM
	}

	key := sha256.Sum256([]byte(secret))
	aead, err := newAEAD(algorithm, key[:])
	if err != nil {
		return nil, err
	}
	return &SecretCipher{aead: aead, algorithm: algorithm}, nil
}

// Algorithm returns the AEAD algorithm name.
func (c *SecretCipher) Algorithm() string {
	return c.algorithm
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *SecretCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. The input is split on the first ':' only.
func (c *SecretCipher) Decrypt(ciphertext string) (string, error) {
	nonceHex, bodyHex, ok := strings.Cut(ciphertext, ":")
	if !ok {
		return "", fmt.Errorf("%w: missing separator", ErrDecryption)
	}

	nonce, err := hex.DecodeString(nonceHex)
	if err != nil || len(nonce) != c.aead.NonceSize() {
		return "", fmt.Errorf("%w: invalid nonce", ErrDecryption)
	}
	body, err := hex.DecodeString(bodyHex)
	if err != nil || len(body) < c.aead.Overhead() {
		return "", fmt.Errorf("%w: invalid ciphertext", ErrDecryption)
	}

	plain, err := c.aead.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecryption)
	}
	return string(plain), nil
}
