// Package secret encrypts connection credentials for at-rest storage.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const keySize = 32

// ErrMalformedCiphertext is returned when input cannot be decoded or is too
// short to contain an IV. Callers holding possibly-unencrypted legacy values
// should treat it as "already plaintext" rather than failing the probe.
var ErrMalformedCiphertext = errors.New("malformed ciphertext")

// Cipher performs symmetric encryption of credential strings. The key is
// derived from a configured secret; safe for concurrent use.
type Cipher struct {
	key []byte
}

// NewCipher derives a 256-bit key from the configured secret by zero-padding
// or truncating it to 32 bytes. An empty secret is rejected.
func NewCipher(configuredSecret string) (*Cipher, error) {
	if configuredSecret == "" {
		return nil, errors.New("cipher secret must not be empty")
	}

	key := make([]byte, keySize)
	copy(key, []byte(configuredSecret))
	return &Cipher{key: key}, nil
}

// Encrypt returns the base64 encoding of a fresh random IV followed by the
// AES-CFB ciphertext of plaintext. Encrypting the same plaintext twice
// yields different output. Empty input is a no-op.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	buf := make([]byte, aes.BlockSize+len(plaintext))
	iv := buf[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	cipher.NewCFBEncrypter(block, iv).XORKeyStream(buf[aes.BlockSize:], []byte(plaintext))
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Decrypt reverses Encrypt. Empty input is a no-op. Malformed input returns
// ErrMalformedCiphertext.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	if len(raw) < aes.BlockSize {
		return "", fmt.Errorf("%w: input shorter than iv", ErrMalformedCiphertext)
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	iv, ciphertext := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCFBDecrypter(block, iv).XORKeyStream(plaintext, ciphertext)
	return string(plaintext), nil
}

// DecryptOrPlaintext decrypts stored and falls back to returning stored
// unchanged when it does not decode as ciphertext. Values written before
// encryption was introduced are persisted as plain strings.
func (c *Cipher) DecryptOrPlaintext(stored string) string {
	plaintext, err := c.Decrypt(stored)
	if err != nil {
		return stored
	}
	return plaintext
}
