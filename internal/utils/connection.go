package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
)

// EncryptionKeyEnv holds the base64 encoded 32-byte key used for stored
// connection passwords.
const EncryptionKeyEnv = "STRATUM_ENC_KEY"

// SecretBox seals and opens connection passwords with AES-256-GCM. The nonce
// is prepended to the ciphertext.
type SecretBox struct {
	aead cipher.AEAD
}

func NewSecretBox(key []byte) (*SecretBox, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &SecretBox{aead: gcm}, nil
}

// SecretBoxFromEnv loads the key from STRATUM_ENC_KEY.
func SecretBoxFromEnv() (*SecretBox, error) {
	b64 := os.Getenv(EncryptionKeyEnv)
	if b64 == "" {
		return nil, fmt.Errorf("encryption key not set (%s)", EncryptionKeyEnv)
	}
	key, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 key: %w", err)
	}
	return NewSecretBox(key)
}

func (b *SecretBox) Seal(plain string) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return b.aead.Seal(nonce, nonce, []byte(plain), nil), nil
}

func (b *SecretBox) Open(data []byte) (string, error) {
	nonceSize := b.aead.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plain, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// OpenString opens a base64 encoded sealed value, as stored in config files.
func (b *SecretBox) OpenString(sealed string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("invalid base64 secret: %w", err)
	}
	return b.Open(data)
}
