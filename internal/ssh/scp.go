// internal/ssh/scp.go

package ssh

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	scp "github.com/bramvdbogaerde/go-scp"
	"go.uber.org/zap"
)

// scpDownload fetches remotePath with "scp -f" on a fresh session. It is
// used for servers whose SFTP subsystem throttles large reads.
func (ft *FileTransfer) scpDownload(ctx context.Context, remotePath, localPath string, progressChan chan<- TransferProgress) (int64, error) {
	client, err := scp.NewClientBySSH(ft.sshClient)
	if err != nil {
		return 0, fmt.Errorf("failed to create scp client: %w", err)
	}
	// client.Close would close the shared SSH connection; each copy opens
	// and closes its own session.

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return 0, fmt.Errorf("failed to create local directory: %w", err)
	}
	dstFile, err := os.Create(localPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create local file: %w", err)
	}

	counter := &countingWriter{w: dstFile}
	passThru := func(r io.Reader, total int64) io.Reader {
		if progressChan == nil {
			return r
		}
		return &ProgressReader{
			Reader: r,
			Progress: &TransferProgress{
				FileName:   path.Base(remotePath),
				TotalBytes: total,
				StartTime:  time.Now(),
			},
			ProgressChan: progressChan,
		}
	}

	err = client.CopyFromRemotePassThru(ctx, counter, remotePath, passThru)
	if err != nil {
		err = fmt.Errorf("scp download of %s: %w", remotePath, err)
	} else if err = dstFile.Sync(); err != nil {
		err = fmt.Errorf("failed to sync local file: %w", err)
	}
	if cErr := dstFile.Close(); err == nil && cErr != nil {
		err = fmt.Errorf("failed to close local file: %w", cErr)
	}
	if err != nil {
		os.Remove(localPath)
		return counter.n, err
	}
	ft.logger.Debug("scp download finished", zap.String("remote", remotePath), zap.Int64("bytes", counter.n))
	return counter.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
