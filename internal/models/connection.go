// internal/models/connection.go

package models

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// HostKeyPolicy decides what happens when the server presents a host key
// that is not in the known_hosts file.
type HostKeyPolicy string

const (
	// HostKeyReject refuses unknown host keys.
	HostKeyReject HostKeyPolicy = "reject"
	// HostKeyAcceptNew trusts an unknown key on first use and records it.
	// A changed key is still refused.
	HostKeyAcceptNew HostKeyPolicy = "accept-new"
	// HostKeyInsecure accepts any key and records nothing.
	HostKeyInsecure HostKeyPolicy = "insecure"
)

// DownloadMethod selects the channel used for raw downloads.
type DownloadMethod string

const (
	DownloadSFTP DownloadMethod = "sftp"
	DownloadSCP  DownloadMethod = "scp"
)

const (
	DefaultPort      = 22
	DefaultTimeout   = 10 * time.Second
	DefaultKeepAlive = 30 * time.Second
)

// ConnectionConfig holds everything needed for one fetch session.
// It is not modified once a session is open.
type ConnectionConfig struct {
	Host            string
	Port            int
	Username        string
	Password        *Secret
	PrivateKey      *Key
	RemoteDirectory string
	FilenamePrefix  string
	// Tag is prepended as "{Tag}_" to every locally saved file. Empty means no tag.
	Tag string

	HostKeyPolicy  HostKeyPolicy
	KnownHostsPath string
	Timeout        time.Duration
	// KeepAlive is the interval between keepalive requests on an open
	// session. Negative disables them.
	KeepAlive      time.Duration
	DownloadMethod DownloadMethod

	// LegacyExtensionStrip drops exactly four trailing characters from the
	// remote name when naming the CSV output instead of the real extension.
	LegacyExtensionStrip bool
}

// Address returns host:port for dialing.
func (c *ConnectionConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ApplyDefaults fills unset optional fields.
func (c *ConnectionConfig) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	if c.HostKeyPolicy == "" {
		c.HostKeyPolicy = HostKeyReject
	}
	if c.DownloadMethod == "" {
		c.DownloadMethod = DownloadSFTP
	}
}

// Validate checks that the configuration is complete.
func (c *ConnectionConfig) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Username == "" {
		return errors.New("username cannot be empty")
	}
	if c.Password.Empty() && c.PrivateKey == nil {
		return errors.New("either password or private key must be provided")
	}
	if c.RemoteDirectory == "" {
		return errors.New("remote directory cannot be empty")
	}
	if c.FilenamePrefix == "" {
		return errors.New("filename prefix cannot be empty")
	}
	switch c.HostKeyPolicy {
	case HostKeyReject, HostKeyAcceptNew, HostKeyInsecure:
	default:
		return fmt.Errorf("unknown host key policy %q", c.HostKeyPolicy)
	}
	if c.HostKeyPolicy != HostKeyInsecure && c.KnownHostsPath == "" {
		return errors.New("known_hosts path is required unless the host key policy is insecure")
	}
	switch c.DownloadMethod {
	case DownloadSFTP, DownloadSCP:
	default:
		return fmt.Errorf("unknown download method %q", c.DownloadMethod)
	}
	if c.Timeout < 0 {
		return errors.New("timeout cannot be negative")
	}
	return nil
}
