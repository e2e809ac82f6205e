// internal/ssh/keepalive.go

package ssh

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

var errKeepAliveTimeout = errors.New("no keepalive reply")

// keepAlive sends keepalive@openssh.com requests on a client. A request
// that fails or gets no reply within one interval closes the client, so
// blocked transfers return.
type keepAlive struct {
	stopChan chan struct{}
	done     chan struct{}
}

func startKeepAlive(client *ssh.Client, interval time.Duration, logger *zap.Logger) *keepAlive {
	ka := &keepAlive{
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	if interval <= 0 {
		close(ka.done)
		return ka
	}

	go func() {
		defer close(ka.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := ping(client, interval, ka.stopChan); err != nil {
					logger.Warn("keepalive failed, closing connection", zap.Error(err))
					client.Close()
					return
				}
			case <-ka.stopChan:
				return
			}
		}
	}()
	return ka
}

// ping sends one keepalive request. It returns nil when stopped.
func ping(client *ssh.Client, timeout time.Duration, stop <-chan struct{}) error {
	errc := make(chan error, 1)
	go func() {
		_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
		errc <- err
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-errc:
		return err
	case <-timer.C:
		return errKeepAliveTimeout
	case <-stop:
		return nil
	}
}

// stop signals the loop to end without waiting for it.
func (ka *keepAlive) stop() {
	select {
	case <-ka.stopChan:
	default:
		close(ka.stopChan)
	}
}

// wait blocks until the loop has ended.
func (ka *keepAlive) wait() {
	<-ka.done
}
