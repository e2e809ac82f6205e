// internal/ssh/connect.go

package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"sftpFetch/internal/models"
)

// Dial opens an authenticated SSH connection for cfg. The context bounds
// both the TCP dial and the SSH handshake; cfg.Timeout applies on top.
func Dial(ctx context.Context, cfg *models.ConnectionConfig, logger *zap.Logger) (*ssh.Client, error) {
	auth, err := authMethods(cfg)
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := HostKeyCallback(cfg.HostKeyPolicy, cfg.KnownHostsPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create hostKeyCallback: %w", err)
	}

	sshConfig := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.Timeout,
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	addr := cfg.Address()
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	type result struct {
		client *ssh.Client
		err    error
	}
	resultChan := make(chan result, 1)

	go func() {
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
		if err != nil {
			resultChan <- result{err: err}
			return
		}
		resultChan <- result{client: ssh.NewClient(c, chans, reqs)}
	}()

	select {
	case r := <-resultChan:
		if r.err != nil {
			conn.Close()
			return nil, fmt.Errorf("ssh handshake with %s: %w", addr, r.err)
		}
		logger.Debug("ssh session established", zap.String("addr", addr), zap.String("user", cfg.Username))
		return r.client, nil
	case <-ctx.Done():
		// Closing the connection unblocks the handshake goroutine.
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, ctx.Err())
	}
}

func authMethods(cfg *models.ConnectionConfig) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if cfg.PrivateKey != nil {
		signer, err := cfg.PrivateKey.Signer()
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if !cfg.Password.Empty() {
		password := cfg.Password.Reveal()
		methods = append(methods,
			ssh.Password(password),
			// Some servers only offer keyboard-interactive for passwords.
			ssh.KeyboardInteractive(func(name, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}
	if len(methods) == 0 {
		return nil, errors.New("no authentication method configured")
	}
	return methods, nil
}
