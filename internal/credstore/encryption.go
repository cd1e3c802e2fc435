package credstore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// tokenCipher seals token strings with AES-256-GCM.
// Output is base64 of nonce || ciphertext || tag.
type tokenCipher struct {
	aead cipher.AEAD
}

func newTokenCipher(key []byte) (*tokenCipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be exactly %d bytes, got %d bytes", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &tokenCipher{aead: gcm}, nil
}

func (c *tokenCipher) seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	// Nonce must never repeat under one key.
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *tokenCipher) open(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}
	n := c.aead.NonceSize()
	if len(data) < n {
		return "", fmt.Errorf("ciphertext too short")
	}
	plaintext, err := c.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// KeyFromBase64 decodes a base64 AES key. An empty string yields a nil key.
func KeyFromBase64(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encryption key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d bytes", KeySize, len(key))
	}
	return key, nil
}

// GenerateKey returns a random AES-256 key encoded as base64.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate encryption key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

type encrypted struct {
	Backend
	cipher *tokenCipher
}

// Encrypted wraps b so that token fields are sealed before Put and opened
// after Get. Other record fields are stored as is. A nil key returns b unchanged.
func Encrypted(b Backend, key []byte) (Backend, error) {
	if len(key) == 0 {
		return b, nil
	}
	c, err := newTokenCipher(key)
	if err != nil {
		return nil, err
	}
	return &encrypted{Backend: b, cipher: c}, nil
}

func (e *encrypted) Get(ctx context.Context, email string) (Record, bool, error) {
	rec, ok, err := e.Backend.Get(ctx, email)
	if err != nil || !ok {
		return rec, ok, err
	}

	if rec.AccessToken, err = e.cipher.open(rec.AccessToken); err != nil {
		return Record{}, false, fmt.Errorf("decrypt access token: %w", err)
	}
	if rec.RefreshToken, err = e.cipher.open(rec.RefreshToken); err != nil {
		return Record{}, false, fmt.Errorf("decrypt refresh token: %w", err)
	}
	return rec, true, nil
}

func (e *encrypted) Put(ctx context.Context, email string, rec Record) error {
	var err error
	if rec.AccessToken, err = e.cipher.seal(rec.AccessToken); err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	if rec.RefreshToken, err = e.cipher.seal(rec.RefreshToken); err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}
	return e.Backend.Put(ctx, email, rec)
}
