// internal/ssh/hostkey.go

package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"sftpFetch/internal/models"
)

// HostKeyVerificationRequired is returned when the server's key is not in
// known_hosts and the policy does not allow adding it.
type HostKeyVerificationRequired struct {
	Host        string
	Fingerprint string
}

func (e *HostKeyVerificationRequired) Error() string {
	return fmt.Sprintf("host key verification required for %s (%s)", e.Host, e.Fingerprint)
}

// HostKeyChanged is returned when the server presents a key different from
// the one recorded for it. No policy accepts this.
type HostKeyChanged struct {
	Host        string
	Fingerprint string
}

func (e *HostKeyChanged) Error() string {
	return fmt.Sprintf("host key for %s has changed (now %s)", e.Host, e.Fingerprint)
}

// knownHostsMu serializes writes to known_hosts files within the process.
var knownHostsMu sync.Mutex

// HostKeyCallback returns the callback implementing policy against the
// known_hosts file at path.
func HostKeyCallback(policy models.HostKeyPolicy, path string, logger *zap.Logger) (ssh.HostKeyCallback, error) {
	switch policy {
	case models.HostKeyInsecure:
		logger.Warn("host key verification disabled")
		return ssh.InsecureIgnoreHostKey(), nil
	case models.HostKeyReject:
		return verifyKnownHost(path, false, logger), nil
	case models.HostKeyAcceptNew:
		if err := ensureKnownHostsFile(path); err != nil {
			return nil, err
		}
		return verifyKnownHost(path, true, logger), nil
	default:
		return nil, fmt.Errorf("unknown host key policy %q", policy)
	}
}

func verifyKnownHost(path string, acceptNew bool, logger *zap.Logger) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		fingerprint := ssh.FingerprintSHA256(key)

		knownHostsMu.Lock()
		defer knownHostsMu.Unlock()

		check, err := loadKnownHosts(path)
		if err != nil {
			return err
		}
		err = check(hostname, remote, key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) {
			return err
		}
		if len(keyErr.Want) > 0 {
			return &HostKeyChanged{Host: hostname, Fingerprint: fingerprint}
		}
		if !acceptNew {
			return &HostKeyVerificationRequired{Host: hostname, Fingerprint: fingerprint}
		}

		if err := appendKnownHost(path, hostname, key); err != nil {
			return err
		}
		logger.Info("trusted new host key",
			zap.String("host", hostname),
			zap.String("fingerprint", fingerprint),
			zap.String("known_hosts", path))
		return nil
	}
}

// loadKnownHosts parses path; a missing file knows no hosts.
func loadKnownHosts(path string) (ssh.HostKeyCallback, error) {
	if path == "" {
		return nil, errors.New("known_hosts path is empty")
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			return &knownhosts.KeyError{}
		}, nil
	}
	check, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read known_hosts %s: %w", path, err)
	}
	return check, nil
}

func ensureKnownHostsFile(path string) error {
	if path == "" {
		return errors.New("known_hosts path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create known_hosts file %s: %w", path, err)
	}
	return f.Close()
}

func appendKnownHost(path, hostname string, key ssh.PublicKey) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		return fmt.Errorf("failed to open known_hosts file %s: %w", path, err)
	}
	defer f.Close()

	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("failed to write known_hosts file %s: %w", path, err)
	}
	return nil
}
