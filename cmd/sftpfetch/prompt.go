package main

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"

	"sftpFetch/internal/config"
	"sftpFetch/internal/crypto"
)

// promptSecret reads a line from the terminal without echo.
func promptSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return string(b), nil
}

// encryptPassword prints a value for the password_enc config field.
func encryptPassword(env config.Env) error {
	passphrase := env.Passphrase
	if passphrase == "" {
		var err error
		if passphrase, err = promptSecret("Config passphrase: "); err != nil {
			return err
		}
		confirm, err := promptSecret("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if confirm != passphrase {
			return errors.New("passphrases do not match")
		}
	}
	if passphrase == "" {
		return errors.New("passphrase cannot be empty")
	}

	password, err := promptSecret("Password to encrypt: ")
	if err != nil {
		return err
	}
	sealed, err := crypto.NewCipher(passphrase).Encrypt(password)
	if err != nil {
		return err
	}
	fmt.Println(sealed)
	return nil
}
