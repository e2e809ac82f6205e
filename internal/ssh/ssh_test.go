package ssh

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/pem"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"sftpFetch/internal/models"
	"sftpFetch/internal/sshtest"
)

func testConfig(srv *sshtest.Server, knownHosts string, policy models.HostKeyPolicy) *models.ConnectionConfig {
	cfg := &models.ConnectionConfig{
		Host:            srv.Host,
		Port:            srv.Port,
		Username:        "test",
		Password:        models.NewSecret([]byte("secret")),
		RemoteDirectory: "/",
		FilenamePrefix:  "x",
		HostKeyPolicy:   policy,
		KnownHostsPath:  knownHosts,
		Timeout:         5 * time.Second,
	}
	cfg.ApplyDefaults()
	return cfg
}

func writeKnownHost(t *testing.T, path, addr string, key ssh.PublicKey) {
	t.Helper()
	line := knownhosts.Line([]string{knownhosts.Normalize(addr)}, key)
	if err := os.WriteFile(path, []byte(line+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestHostKeyPolicies(t *testing.T) {
	srv := sshtest.NewServer(t, sshtest.Options{})
	logger := zap.NewNop()

	t.Run("reject unknown", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "known_hosts")
		_, err := Dial(context.Background(), testConfig(srv, path, models.HostKeyReject), logger)
		assertErrContains(t, err, "host key verification required")
		if _, statErr := os.Stat(path); !errors.Is(statErr, os.ErrNotExist) {
			t.Error("reject policy must not create known_hosts")
		}
	})

	t.Run("reject accepts known", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "known_hosts")
		writeKnownHost(t, path, srv.Addr(), srv.HostKey)
		client, err := Dial(context.Background(), testConfig(srv, path, models.HostKeyReject), logger)
		if err != nil {
			t.Fatalf("Dial: %v", err)
		}
		client.Close()
	})

	t.Run("accept-new records key", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sub", "known_hosts")
		client, err := Dial(context.Background(), testConfig(srv, path, models.HostKeyAcceptNew), logger)
		if err != nil {
			t.Fatalf("Dial: %v", err)
		}
		client.Close()

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("known_hosts not written: %v", err)
		}
		if !strings.Contains(string(data), knownhosts.Normalize(srv.Addr())) {
			t.Errorf("known_hosts does not mention %s:\n%s", srv.Addr(), data)
		}

		// The recorded key now satisfies the strict policy.
		client, err = Dial(context.Background(), testConfig(srv, path, models.HostKeyReject), logger)
		if err != nil {
			t.Fatalf("Dial after trust: %v", err)
		}
		client.Close()
	})

	t.Run("changed key refused", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "known_hosts")
		other := sshtest.GenerateSigner(t)
		writeKnownHost(t, path, srv.Addr(), other.PublicKey())

		for _, policy := range []models.HostKeyPolicy{models.HostKeyReject, models.HostKeyAcceptNew} {
			_, err := Dial(context.Background(), testConfig(srv, path, policy), logger)
			assertErrContains(t, err, "has changed")
		}
	})

	t.Run("insecure", func(t *testing.T) {
		client, err := Dial(context.Background(), testConfig(srv, "", models.HostKeyInsecure), logger)
		if err != nil {
			t.Fatalf("Dial: %v", err)
		}
		client.Close()
	})
}

func assertErrContains(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil || !strings.Contains(err.Error(), want) {
		t.Errorf("err = %v, want it to contain %q", err, want)
	}
}

func TestDialAuthFailure(t *testing.T) {
	srv := sshtest.NewServer(t, sshtest.Options{})
	cfg := testConfig(srv, "", models.HostKeyInsecure)
	cfg.Password = models.NewSecret([]byte("wrong"))

	if _, err := Dial(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Fatal("expected authentication failure")
	}
}

func TestDialPublicKey(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatal(err)
	}
	srv := sshtest.NewServer(t, sshtest.Options{AuthorizedKey: signer.PublicKey()})

	cfg := testConfig(srv, "", models.HostKeyInsecure)
	cfg.Password = nil
	cfg.PrivateKey = &models.Key{KeyData: pem.EncodeToMemory(block)}
	client, err := Dial(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Dial with key: %v", err)
	}
	client.Close()

	cfg.PrivateKey = &models.Key{KeyData: []byte("not a key")}
	if _, err := Dial(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Fatal("expected an error for an unparsable key")
	}
}

func TestDialCanceled(t *testing.T) {
	srv := sshtest.NewServer(t, sshtest.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Dial(ctx, testConfig(srv, "", models.HostKeyInsecure), zap.NewNop()); err == nil {
		t.Fatal("expected an error for a canceled context")
	}
}

func connectTransfer(t *testing.T) (*FileTransfer, string) {
	t.Helper()
	srv := sshtest.NewServer(t, sshtest.Options{})
	ft, err := Connect(context.Background(), testConfig(srv, "", models.HostKeyInsecure), zap.NewNop())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if ft.IsConnected() {
			ft.Disconnect()
		}
	})
	return ft, t.TempDir()
}

func TestReadDirAndOpen(t *testing.T) {
	ft, root := connectTransfer(t)

	older := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2021, 8, 26, 0, 0, 0, 0, time.UTC)
	for name, mtime := range map[string]time.Time{"a.txt": older, "b.txt": newer} {
		p := filepath.Join(root, name)
		if err := os.WriteFile(p, []byte(name), 0644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(p, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(root, "dir"), 0755); err != nil {
		t.Fatal(err)
	}

	entries, err := ft.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	got := map[string]models.RemoteEntry{}
	for _, e := range entries {
		got[e.Name] = e
	}
	if len(got) != 3 {
		t.Fatalf("entries = %+v", entries)
	}
	if !got["b.txt"].ModTime.Equal(newer) || !got["a.txt"].ModTime.Equal(older) {
		t.Errorf("unexpected mtimes: %+v", got)
	}
	if !got["dir"].IsDir {
		t.Error("dir should be reported as a directory")
	}

	r, err := ft.Open(filepath.Join(root, "b.txt"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, err := io.ReadAll(r)
	r.Close()
	if err != nil || string(data) != "b.txt" {
		t.Errorf("read %q, %v", data, err)
	}

	if err := ft.CheckDirectory(root); err != nil {
		t.Errorf("CheckDirectory(root): %v", err)
	}
	if err := ft.CheckDirectory(filepath.Join(root, "a.txt")); err == nil {
		t.Error("CheckDirectory on a file should fail")
	}
	if err := ft.CheckDirectory(filepath.Join(root, "missing")); err == nil {
		t.Error("CheckDirectory on a missing path should fail")
	}
}

func TestDownloadFile(t *testing.T) {
	ft, root := connectTransfer(t)

	payload := bytes.Repeat([]byte("0123456789abcdef"), 64*1024)
	remote := filepath.Join(root, "big.bin")
	if err := os.WriteFile(remote, payload, 0644); err != nil {
		t.Fatal(err)
	}

	progressChan := make(chan TransferProgress, 1024)
	local := filepath.Join(t.TempDir(), "out", "big.bin")
	n, err := ft.DownloadFile(context.Background(), remote, local, progressChan)
	if err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	if n != int64(len(payload)) {
		t.Errorf("wrote %d bytes, want %d", n, len(payload))
	}

	got, err := os.ReadFile(local)
	if err != nil {
		t.Fatal(err)
	}
	if sha256.Sum256(got) != sha256.Sum256(payload) {
		t.Error("downloaded file differs from the remote source")
	}

	close(progressChan)
	var last TransferProgress
	for p := range progressChan {
		last = p
	}
	if last.TotalBytes != int64(len(payload)) || last.FileName != "big.bin" {
		t.Errorf("unexpected progress %+v", last)
	}
}

func TestDownloadFileSCP(t *testing.T) {
	srv := sshtest.NewServer(t, sshtest.Options{})
	cfg := testConfig(srv, "", models.HostKeyInsecure)
	cfg.DownloadMethod = models.DownloadSCP
	ft, err := Connect(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer ft.Disconnect()

	root := t.TempDir()
	payload := bytes.Repeat([]byte("scp payload\n"), 32*1024)
	remote := filepath.Join(root, "report 1.csv")
	if err := os.WriteFile(remote, payload, 0644); err != nil {
		t.Fatal(err)
	}

	progressChan := make(chan TransferProgress, 1024)
	local := filepath.Join(t.TempDir(), "out", "report.csv")
	n, err := ft.DownloadFile(context.Background(), remote, local, progressChan)
	if err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	if n != int64(len(payload)) {
		t.Errorf("wrote %d bytes, want %d", n, len(payload))
	}
	got, err := os.ReadFile(local)
	if err != nil {
		t.Fatal(err)
	}
	if sha256.Sum256(got) != sha256.Sum256(payload) {
		t.Error("downloaded file differs from the remote source")
	}

	close(progressChan)
	var last TransferProgress
	for p := range progressChan {
		last = p
	}
	if last.TotalBytes != int64(len(payload)) || last.TransferredBytes != int64(len(payload)) || last.FileName != "report 1.csv" {
		t.Errorf("unexpected progress %+v", last)
	}

	missing := filepath.Join(t.TempDir(), "missing.csv")
	if _, err := ft.DownloadFile(context.Background(), filepath.Join(root, "gone.csv"), missing, nil); err == nil {
		t.Fatal("expected an error for a missing remote file")
	}
	if _, err := os.Stat(missing); !os.IsNotExist(err) {
		t.Errorf("partial local file left behind: %v", err)
	}
	if !ft.IsConnected() {
		t.Error("a failed copy must not drop the connection")
	}
}

func TestDisconnect(t *testing.T) {
	ft, _ := connectTransfer(t)

	if err := ft.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if ft.IsConnected() {
		t.Error("still connected after Disconnect")
	}
	if err := ft.Disconnect(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("second Disconnect = %v, want ErrNotConnected", err)
	}
	if _, err := ft.ReadDir("/"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ReadDir after Disconnect = %v", err)
	}
}

func TestKeepAliveStops(t *testing.T) {
	srv := sshtest.NewServer(t, sshtest.Options{})
	client, err := Dial(context.Background(), testConfig(srv, "", models.HostKeyInsecure), zap.NewNop())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	ka := startKeepAlive(client, 10*time.Millisecond, zap.NewNop())
	time.Sleep(50 * time.Millisecond)
	ka.stop()
	ka.stop()
	ka.wait()

	if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
		t.Errorf("connection closed by keepalive: %v", err)
	}

	disabled := startKeepAlive(client, 0, zap.NewNop())
	disabled.stop()
	disabled.wait()
}

func connectThroughProxy(t *testing.T, keepAlive time.Duration) (*FileTransfer, *sshtest.Proxy) {
	t.Helper()
	srv := sshtest.NewServer(t, sshtest.Options{})
	proxy := sshtest.NewProxy(t, srv.Addr())

	cfg := testConfig(srv, "", models.HostKeyInsecure)
	cfg.Host, cfg.Port = proxy.Host, proxy.Port
	cfg.KeepAlive = keepAlive

	ft, err := Connect(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return ft, proxy
}

func disconnectWithin(t *testing.T, ft *FileTransfer, limit time.Duration) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- ft.Disconnect() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Disconnect: %v", err)
		}
	case <-time.After(limit):
		t.Fatalf("Disconnect still blocked after %v", limit)
	}
}

func TestKeepAliveClosesDeadConnection(t *testing.T) {
	ft, proxy := connectThroughProxy(t, 20*time.Millisecond)
	client := ft.sshClient
	proxy.Freeze()

	closed := make(chan struct{})
	go func() {
		client.Wait()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("keepalive did not close the unresponsive connection")
	}

	disconnectWithin(t, ft, 3*time.Second)
}

func TestDisconnectUnresponsiveHost(t *testing.T) {
	for _, keepAlive := range []time.Duration{-1, 20 * time.Millisecond, time.Hour} {
		ft, proxy := connectThroughProxy(t, keepAlive)
		proxy.Freeze()
		time.Sleep(100 * time.Millisecond)
		disconnectWithin(t, ft, 3*time.Second)
		if ft.IsConnected() {
			t.Errorf("keepalive %v: still connected", keepAlive)
		}
	}
}

func TestDownloadCanceled(t *testing.T) {
	ft, root := connectTransfer(t)
	src := filepath.Join(root, "big.bin")
	if err := os.WriteFile(src, bytes.Repeat([]byte("x"), 1<<16), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dst := filepath.Join(t.TempDir(), "big.bin")
	if _, err := ft.DownloadFile(ctx, src, dst, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := os.Stat(dst); !errors.Is(err, os.ErrNotExist) {
		t.Error("partial file left behind")
	}
}
