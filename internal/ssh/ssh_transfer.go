// internal/ssh/ssh_transfer.go

package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"sftpFetch/internal/models"
	"sftpFetch/internal/utils"
)

var ErrNotConnected = errors.New("not connected")

// FileTransfer is an SSH connection with its SFTP sub-session.
type FileTransfer struct {
	sftpClient *sftp.Client
	sshClient  *ssh.Client
	method     models.DownloadMethod
	logger     *zap.Logger
	alive      *keepAlive
	connected  bool
}

// TransferProgress reports how much of a download has been copied.
type TransferProgress struct {
	FileName         string
	TotalBytes       int64
	TransferredBytes int64
	StartTime        time.Time
}

// Connect dials cfg's host and opens the SFTP sub-session.
func Connect(ctx context.Context, cfg *models.ConnectionConfig, logger *zap.Logger) (*FileTransfer, error) {
	sshClient, err := Dial(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	ft, err := NewFileTransfer(sshClient, cfg.DownloadMethod, logger)
	if err != nil {
		sshClient.Close()
		return nil, err
	}
	ft.alive = startKeepAlive(sshClient, cfg.KeepAlive, logger)
	return ft, nil
}

// NewFileTransfer opens an SFTP sub-session on an established client.
func NewFileTransfer(sshClient *ssh.Client, method models.DownloadMethod, logger *zap.Logger) (*FileTransfer, error) {
	sftpClient, err := sftp.NewClient(sshClient, sftp.UseConcurrentReads(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create SFTP client: %w", err)
	}
	if method == "" {
		method = models.DownloadSFTP
	}
	return &FileTransfer{
		sftpClient: sftpClient,
		sshClient:  sshClient,
		method:     method,
		logger:     logger,
		alive:      startKeepAlive(sshClient, 0, logger),
		connected:  true,
	}, nil
}

func (ft *FileTransfer) IsConnected() bool {
	return ft.connected && ft.sftpClient != nil
}

// Disconnect closes the SFTP sub-session and the SSH connection.
func (ft *FileTransfer) Disconnect() error {
	if !ft.connected {
		return ErrNotConnected
	}
	ft.alive.stop()

	// The SSH connection goes first: closing the SFTP client waits for its
	// reader, which only returns once the transport is gone on a dead link.
	var err error
	if ft.sshClient != nil {
		if cErr := ft.sshClient.Close(); cErr != nil && !errors.Is(cErr, net.ErrClosed) {
			err = fmt.Errorf("error closing SSH client: %w", cErr)
		}
		ft.sshClient = nil
	}
	if ft.sftpClient != nil {
		if cErr := ft.sftpClient.Close(); cErr != nil && !errors.Is(cErr, io.EOF) {
			ft.logger.Debug("SFTP client close after transport shutdown", zap.Error(cErr))
		}
		ft.sftpClient = nil
	}
	ft.alive.wait()
	ft.connected = false
	return err
}

// CheckDirectory verifies that dir exists and is a directory.
func (ft *FileTransfer) CheckDirectory(dir string) error {
	if !ft.IsConnected() {
		return ErrNotConnected
	}
	info, err := ft.sftpClient.Stat(dir)
	if err != nil {
		return fmt.Errorf("remote directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("remote path %s is not a directory", dir)
	}
	return nil
}

// ReadDir lists dir in the order the server returns entries.
func (ft *FileTransfer) ReadDir(dir string) ([]models.RemoteEntry, error) {
	if !ft.IsConnected() {
		return nil, ErrNotConnected
	}
	infos, err := ft.sftpClient.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote directory: %w", err)
	}
	entries := make([]models.RemoteEntry, 0, len(infos))
	for _, info := range infos {
		if info.Name() == "." || info.Name() == ".." {
			continue
		}
		entries = append(entries, models.RemoteEntry{
			Name:    info.Name(),
			ModTime: info.ModTime(),
			IsDir:   info.IsDir(),
		})
	}
	return entries, nil
}

// Open opens a remote file for streamed reading. The caller closes it.
func (ft *FileTransfer) Open(remotePath string) (io.ReadCloser, error) {
	if !ft.IsConnected() {
		return nil, ErrNotConnected
	}
	f, err := ft.sftpClient.Open(remotePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote file: %w", err)
	}
	return f, nil
}

// DownloadFile copies remotePath to localPath byte for byte and returns the
// number of bytes written. Progress updates are sent without blocking when
// progressChan is not nil.
func (ft *FileTransfer) DownloadFile(ctx context.Context, remotePath, localPath string, progressChan chan<- TransferProgress) (int64, error) {
	if !ft.IsConnected() {
		return 0, ErrNotConnected
	}
	if ft.method == models.DownloadSCP {
		return ft.scpDownload(ctx, remotePath, localPath, progressChan)
	}

	srcFile, err := ft.sftpClient.Open(remotePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open remote file: %w", err)
	}
	defer srcFile.Close()

	fileInfo, err := srcFile.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to get file info: %w", err)
	}

	progress := TransferProgress{
		FileName:   path.Base(remotePath),
		TotalBytes: fileInfo.Size(),
		StartTime:  time.Now(),
	}

	src := utils.NewContextReader(ctx, srcFile)
	if progressChan != nil {
		src = &ProgressReader{Reader: src, Progress: &progress, ProgressChan: progressChan}
	}
	return writeLocalFile(localPath, src)
}

func writeLocalFile(localPath string, src io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return 0, fmt.Errorf("failed to create local directory: %w", err)
	}
	dstFile, err := os.Create(localPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create local file: %w", err)
	}

	n, err := io.Copy(dstFile, src)
	if err == nil {
		err = dstFile.Sync()
	}
	if cErr := dstFile.Close(); err == nil {
		err = cErr
	}
	if err != nil {
		os.Remove(localPath)
		return n, fmt.Errorf("failed to write %s: %w", localPath, err)
	}
	return n, nil
}

// ProgressReader wraps a reader and reports each read on ProgressChan.
type ProgressReader struct {
	io.Reader
	Progress     *TransferProgress
	ProgressChan chan<- TransferProgress
}

func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.Progress.TransferredBytes += int64(n)
		select {
		case pr.ProgressChan <- *pr.Progress:
		default:
		}
	}
	return n, err
}
