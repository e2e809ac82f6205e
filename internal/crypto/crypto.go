// internal/crypto/crypto.go
//
// Package crypto protects secrets kept in the fetch configuration file.
// Values are sealed with AES-256-GCM under a key derived from a passphrase
// with scrypt, and stored hex-encoded as salt|nonce|ciphertext.

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

const (
	// KEY_SIZE is the AES-256 key length in bytes.
	KEY_SIZE  = 32
	SALT_SIZE = 16

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// Cipher seals and opens secrets with a passphrase-derived key.
type Cipher struct {
	passphrase []byte
}

// NewCipher returns a Cipher for the given passphrase.
func NewCipher(passphrase string) *Cipher {
	return &Cipher{passphrase: []byte(passphrase)}
}

func (c *Cipher) deriveKey(salt []byte) ([]byte, error) {
	key, err := scrypt.Key(c.passphrase, salt, scryptN, scryptR, scryptP, KEY_SIZE)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

func (c *Cipher) gcm(salt []byte) (cipher.AEAD, error) {
	key, err := c.deriveKey(salt)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}

// Encrypt seals plaintext and returns the hex-encoded salt|nonce|ciphertext.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	salt := make([]byte, SALT_SIZE)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	aead, err := c.gcm(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, len(salt)+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, []byte(plaintext), nil)

	return hex.EncodeToString(out), nil
}

// Decrypt opens a value produced by Encrypt.
func (c *Cipher) Decrypt(encryptedHex string) (string, error) {
	combined, err := hex.DecodeString(encryptedHex)
	if err != nil {
		return "", fmt.Errorf("failed to decode hex: %w", err)
	}
	if len(combined) < SALT_SIZE {
		return "", fmt.Errorf("ciphertext too short")
	}

	salt := combined[:SALT_SIZE]
	aead, err := c.gcm(salt)
	if err != nil {
		return "", err
	}

	rest := combined[SALT_SIZE:]
	if len(rest) < aead.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := rest[:aead.NonceSize()], rest[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}
