// Package sshtest runs an in-process SSH server backed by the local
// filesystem, for tests that need a real transport. Sessions serve the
// sftp subsystem or "scp -f" downloads.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Options configures a test server. Zero values give a server accepting
// user "test" with password "secret" and a fresh ed25519 host key.
type Options struct {
	User          string
	Password      string
	AuthorizedKey ssh.PublicKey
	HostSigner    ssh.Signer
}

// Server is a running test SSH server.
type Server struct {
	Host    string
	Port    int
	HostKey ssh.PublicKey

	listener net.Listener
	config   *ssh.ServerConfig

	mu    sync.Mutex
	conns []net.Conn
	wg    sync.WaitGroup
}

// GenerateSigner returns a new ed25519 signer.
func GenerateSigner(t testing.TB) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer from key: %v", err)
	}
	return signer
}

// NewServer starts a server on 127.0.0.1 and stops it when the test ends.
func NewServer(t testing.TB, opts Options) *Server {
	t.Helper()

	if opts.User == "" {
		opts.User = "test"
	}
	if opts.Password == "" && opts.AuthorizedKey == nil {
		opts.Password = "secret"
	}
	if opts.HostSigner == nil {
		opts.HostSigner = GenerateSigner(t)
	}

	config := &ssh.ServerConfig{}
	if opts.Password != "" {
		config.PasswordCallback = func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if conn.User() == opts.User && string(password) == opts.Password {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("password rejected for %q", conn.User())
		}
	}
	if opts.AuthorizedKey != nil {
		want := ssh.FingerprintSHA256(opts.AuthorizedKey)
		config.PublicKeyCallback = func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if conn.User() == opts.User && ssh.FingerprintSHA256(key) == want {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key")
		}
	}
	config.AddHostKey(opts.HostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().(*net.TCPAddr)

	s := &Server{
		Host:     addr.IP.String(),
		Port:     addr.Port,
		HostKey:  opts.HostSigner.PublicKey(),
		listener: listener,
		config:   config,
	}

	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Close stops accepting connections and drops open ones.
func (s *Server) Close() {
	s.listener.Close()
	s.mu.Lock()
	for _, c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(nc net.Conn) {
	sconn, chans, reqs, err := ssh.NewServerConn(nc, s.config)
	if err != nil {
		nc.Close()
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go serveSession(channel, requests)
	}
}

// session requests the server understands.
const (
	startSFTP = iota + 1
	startSCP
)

type sessionStart struct {
	kind int
	path string
}

func serveSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	start := make(chan sessionStart, 1)
	go func() {
		started := false
		for req := range requests {
			st, ok := parseStart(req)
			req.Reply(ok && !started, nil)
			if ok && !started {
				started = true
				start <- st
			}
		}
		if !started {
			close(start)
		}
	}()

	st, ok := <-start
	if !ok {
		return
	}
	switch st.kind {
	case startSFTP:
		server, err := sftp.NewServer(channel)
		if err != nil {
			return
		}
		server.Serve()
		server.Close()
	case startSCP:
		status := serveSCPSource(channel, st.path)
		channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
	}
}

func parseStart(req *ssh.Request) (sessionStart, bool) {
	var payload struct{ Value string }
	if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
		return sessionStart{}, false
	}
	switch req.Type {
	case "subsystem":
		return sessionStart{kind: startSFTP}, payload.Value == "sftp"
	case "exec":
		fields := strings.SplitN(payload.Value, " ", 3)
		if len(fields) != 3 || fields[0] != "scp" || !strings.Contains(fields[1], "f") {
			return sessionStart{}, false
		}
		p := fields[2]
		if unquoted, err := strconv.Unquote(p); err == nil {
			p = unquoted
		}
		return sessionStart{kind: startSCP, path: p}, true
	}
	return sessionStart{}, false
}

// serveSCPSource plays the remote side of "scp -f path" for a single
// regular file and returns the exit status.
func serveSCPSource(channel ssh.Channel, path string) uint32 {
	if !readAck(channel) {
		return 1
	}
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(channel, "\x01scp: %s: no such file\n", path)
		return 1
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		fmt.Fprintf(channel, "\x01scp: %s: not a regular file\n", path)
		return 1
	}

	fmt.Fprintf(channel, "C%04o %d %s\n", info.Mode().Perm(), info.Size(), filepath.Base(path))
	if !readAck(channel) {
		return 1
	}
	if _, err := io.Copy(channel, f); err != nil {
		return 1
	}
	channel.Write([]byte{0})
	if !readAck(channel) {
		return 1
	}
	return 0
}

func readAck(r io.Reader) bool {
	b := make([]byte, 1)
	if _, err := io.ReadFull(r, b); err != nil {
		return false
	}
	return b[0] == 0
}
