package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// Codec encrypts tenant contact details at rest using AES-GCM. The key
// is injected from configuration; a nil Codec means encryption is
// disabled and values pass through as plaintext bytes.
type Codec struct {
	key []byte
}

// NewCodec creates a Codec from a 32-byte key.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	return &Codec{key: key}, nil
}

// Encrypt encrypts plaintext and returns the ciphertext and nonce.
func (c *Codec) Encrypt(plaintext string) ([]byte, []byte, error) {
	if c == nil {
		return []byte(plaintext), nil, nil
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, nil, err
	}

	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, err
	}

	ciphertext := aesgcm.Seal(nil, nonce, []byte(plaintext), nil)
	return ciphertext, nonce, nil
}

// Decrypt decrypts AES-GCM encrypted data.
func (c *Codec) Decrypt(ciphertext, nonce []byte) (string, error) {
	if c == nil {
		return string(ciphertext), nil
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}

	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}
