// internal/models/password.go

package models

import (
	"errors"

	"sftpFetch/internal/crypto"
)

// Secret holds a password in a byte slice so it can be wiped after use.
type Secret struct {
	value []byte
}

// NewSecret copies plain into a new Secret.
func NewSecret(plain []byte) *Secret {
	value := make([]byte, len(plain))
	copy(value, plain)
	return &Secret{value: value}
}

// NewEncryptedSecret decrypts a value sealed with crypto.Cipher.Encrypt.
func NewEncryptedSecret(encrypted string, cipher *crypto.Cipher) (*Secret, error) {
	if encrypted == "" {
		return nil, errors.New("encrypted password cannot be empty")
	}
	if cipher == nil {
		return nil, errors.New("a passphrase is required to decrypt the password")
	}
	plain, err := cipher.Decrypt(encrypted)
	if err != nil {
		return nil, err
	}
	return NewSecret([]byte(plain)), nil
}

// Empty reports whether no secret is held. Safe on a nil receiver.
func (s *Secret) Empty() bool {
	return s == nil || len(s.value) == 0
}

// Reveal returns the secret as a string for APIs that require one.
func (s *Secret) Reveal() string {
	if s == nil {
		return ""
	}
	return string(s.value)
}

// Clear overwrites the secret with zeros.
func (s *Secret) Clear() {
	if s == nil {
		return
	}
	secureWipe(s.value)
	s.value = nil
}

func secureWipe(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
