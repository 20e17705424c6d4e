package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// AlgorithmAES256GCM is the default AES-256-GCM algorithm.
	AlgorithmAES256GCM = "AES256-GCM"
	// AlgorithmChaCha20Poly1305 is the ChaCha20-Poly1305 algorithm.
	AlgorithmChaCha20Poly1305 = "ChaCha20-Poly1305"

	keySize = 32 // 256 bits for both algorithms
)

// newAEAD creates an AEAD for the given algorithm and 32-byte key.
func newAEAD(algorithm string, key []byte) (cipher.AEAD, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("invalid key size: expected %d bytes, got %d", keySize, len(key))
	}

	switch algorithm {
	case AlgorithmAES256GCM, "":
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create AES cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCM: %w", err)
		}
		return gcm, nil
	case AlgorithmChaCha20Poly1305:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create ChaCha20-Poly1305 cipher: %w", err)
		}
		return aead, nil
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", algorithm)
	}
}
