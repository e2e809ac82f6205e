package models

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
)

// Key is a private key used for public key authentication. Exactly one of
// Path and KeyData is set.
type Key struct {
	Path       string
	KeyData    []byte
	Passphrase *Secret
}

// Validate checks that the key has exactly one source.
func (k *Key) Validate() error {
	if k.Path == "" && len(k.KeyData) == 0 {
		return errors.New("either path or key data must be provided")
	}
	if k.Path != "" && len(k.KeyData) != 0 {
		return errors.New("cannot have both path and key data")
	}
	return nil
}

// Signer parses the key, reading it from disk when Path is set.
func (k *Key) Signer() (ssh.Signer, error) {
	if err := k.Validate(); err != nil {
		return nil, err
	}

	data := k.KeyData
	if k.Path != "" {
		var err error
		data, err = os.ReadFile(k.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH key: %w", err)
		}
	}

	var (
		signer ssh.Signer
		err    error
	)
	if k.Passphrase.Empty() {
		signer, err = ssh.ParsePrivateKey(data)
	} else {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(data, []byte(k.Passphrase.Reveal()))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse SSH key: %w", err)
	}
	return signer, nil
}

// Clear wipes in-memory key material.
func (k *Key) Clear() {
	if k == nil {
		return
	}
	secureWipe(k.KeyData)
	k.KeyData = nil
	k.Passphrase.Clear()
}
