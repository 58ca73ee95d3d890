// Package tokencrypt seals shop access tokens before they are persisted.
package tokencrypt

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrEmptyKey   = errors.New("token encryption key is empty")
	ErrCiphertext = errors.New("malformed ciphertext")
)

// Sealer encrypts and decrypts short secrets with XChaCha20-Poly1305.
type Sealer struct {
	key []byte
}

// NewSealer accepts either a 64 character hex key or an arbitrary passphrase,
// which is stretched to 32 bytes with SHA-256.
func NewSealer(secret string) (*Sealer, error) {
	if secret == "" {
		return nil, ErrEmptyKey
	}

	key, err := hex.DecodeString(secret)
	if err != nil || len(key) != chacha20poly1305.KeySize {
		sum := sha256.Sum256([]byte(secret))
		key = sum[:]
	}

	return &Sealer{key: key}, nil
}

// Seal returns base64(nonce || ciphertext). The shop key is bound as
// additional data so a token cannot be replayed under another shop.
func (s *Sealer) Seal(plaintext, shopKey string) (string, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), []byte(shopKey))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (s *Sealer) Open(encoded, shopKey string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrCiphertext
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", ErrCiphertext
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(shopKey))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	return string(plain), nil
}
