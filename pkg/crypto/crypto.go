package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const keySize = 32

var (
	ErrInvalidKeySize     = errors.New("key must be 32 bytes (AES-256)")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
)

// Sealer encrypts parameter payloads with a shared AES-256-GCM key.
// A nil Sealer passes payloads through unchanged.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a Sealer from a hex encoded key. An empty key yields a nil
// Sealer.
func NewSealer(hexKey string) (*Sealer, error) {
	if hexKey == "" {
		return nil, nil
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Sealer{aead: aead}, nil
}

func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	if s == nil {
		return plaintext, nil
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *Sealer) Open(ciphertext []byte) ([]byte, error) {
	if s == nil {
		return ciphertext, nil
	}

	if len(ciphertext) < s.aead.NonceSize() {
		return nil, ErrCiphertextTooShort
	}

	nonce, ciphertext := ciphertext[:s.aead.NonceSize()], ciphertext[s.aead.NonceSize():]

	return s.aead.Open(nil, nonce, ciphertext, nil)
}
