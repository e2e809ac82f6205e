// Package fetcher finds the newest remote file matching a prefix, downloads
// it and optionally converts it to CSV.
//
// A Fetcher owns one SSH session and is not safe for concurrent use. Every
// operation other than Connect needs an open session; calling one out of
// order returns a usage error.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	apperr "sftpFetch/internal/error"
	"sftpFetch/internal/models"
	"sftpFetch/internal/ssh"
	"sftpFetch/internal/table"
	"sftpFetch/internal/utils"
)

// RemoteFS is the remote file access the fetcher needs from a session.
type RemoteFS interface {
	CheckDirectory(dir string) error
	ReadDir(dir string) ([]models.RemoteEntry, error)
	Open(remotePath string) (io.ReadCloser, error)
	DownloadFile(ctx context.Context, remotePath, localPath string, progressChan chan<- ssh.TransferProgress) (int64, error)
	Disconnect() error
}

// Dialer opens a session for cfg.
type Dialer func(ctx context.Context, cfg *models.ConnectionConfig, logger *zap.Logger) (RemoteFS, error)

func dialSFTP(ctx context.Context, cfg *models.ConnectionConfig, logger *zap.Logger) (RemoteFS, error) {
	return ssh.Connect(ctx, cfg, logger)
}

type Fetcher struct {
	cfg      models.ConnectionConfig
	logger   *zap.Logger
	dial     Dialer
	progress chan<- ssh.TransferProgress
	onStep   func(Step)

	remote   RemoteFS
	selected string
	table    *table.Table
}

type Option func(*Fetcher)

func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) { f.logger = logger }
}

// WithDialer replaces the SSH/SFTP transport.
func WithDialer(dial Dialer) Option {
	return func(f *Fetcher) { f.dial = dial }
}

// WithProgress makes raw downloads report progress on ch. Sends never block.
func WithProgress(ch chan<- ssh.TransferProgress) Option {
	return func(f *Fetcher) { f.progress = ch }
}

// WithStepHook makes Run call fn as it enters each step of the cycle.
func WithStepHook(fn func(Step)) Option {
	return func(f *Fetcher) { f.onStep = fn }
}

// New validates cfg and returns an unconnected Fetcher.
func New(cfg models.ConnectionConfig, opts ...Option) (*Fetcher, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, apperr.New(apperr.ConfigError, "invalid connection config", err)
	}
	f := &Fetcher{
		cfg:    cfg,
		logger: zap.NewNop(),
		dial:   dialSFTP,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With(zap.String("host", cfg.Host), zap.String("prefix", cfg.FilenamePrefix))
	return f, nil
}

// Connected reports whether a session is open.
func (f *Fetcher) Connected() bool {
	return f.remote != nil
}

// Selected returns the currently selected remote file name, or "".
func (f *Fetcher) Selected() string {
	return f.selected
}

// Table returns the last parsed table, or nil.
func (f *Fetcher) Table() *table.Table {
	return f.table
}

// Connect opens the SSH session and the SFTP sub-session rooted at the
// configured remote directory.
func (f *Fetcher) Connect(ctx context.Context) error {
	if f.remote != nil {
		return errUsage("connect", errors.New("session already open"))
	}

	f.logger.Debug("connecting", zap.Int("port", f.cfg.Port), zap.String("policy", string(f.cfg.HostKeyPolicy)))
	remote, err := f.dial(ctx, &f.cfg, f.logger)
	if err != nil {
		return apperr.New(apperr.ConnectionError, fmt.Sprintf("connect to %s", f.cfg.Address()), err)
	}
	if err := remote.CheckDirectory(f.cfg.RemoteDirectory); err != nil {
		if dErr := remote.Disconnect(); dErr != nil {
			f.logger.Debug("disconnect after failed directory check", zap.Error(dErr))
		}
		return apperr.New(apperr.ConnectionError, "change remote directory", err)
	}

	f.remote = remote
	f.logger.Info("connected", zap.String("dir", f.cfg.RemoteDirectory))
	return nil
}

// SelectLatestMatchingFile lists the remote directory and selects the most
// recently modified regular file whose name starts with the configured
// prefix. Any previous selection is dropped first; when nothing matches the
// selection stays empty and the error wraps ErrNoMatch.
func (f *Fetcher) SelectLatestMatchingFile() (string, error) {
	if err := f.requireSession("select latest file"); err != nil {
		return "", err
	}
	f.selected = ""
	f.table = nil

	entries, err := f.remote.ReadDir(f.cfg.RemoteDirectory)
	if err != nil {
		return "", apperr.New(apperr.TransferError, "list remote directory", err)
	}

	latest, ok := SelectLatest(entries, f.cfg.FilenamePrefix)
	if !ok {
		f.logger.Warn("no matching remote file", zap.Int("entries", len(entries)))
		return "", apperr.New(apperr.SelectionError,
			fmt.Sprintf("select latest file in %s", f.cfg.RemoteDirectory), apperr.ErrNoMatch)
	}

	f.selected = latest.Name
	f.logger.Info("selected remote file", zap.String("file", latest.Name), zap.Time("mtime", latest.ModTime))
	return latest.Name, nil
}

// SelectLatest returns the newest non-directory entry whose name starts with
// prefix. Entries with equal timestamps keep their listing order.
func SelectLatest(entries []models.RemoteEntry, prefix string) (models.RemoteEntry, bool) {
	sorted := make([]models.RemoteEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ModTime.After(sorted[j].ModTime)
	})
	for _, e := range sorted {
		if !e.IsDir && strings.HasPrefix(e.Name, prefix) {
			return e, true
		}
	}
	return models.RemoteEntry{}, false
}

// DownloadRawFile copies the selected file into localDir unchanged and
// returns the local path.
func (f *Fetcher) DownloadRawFile(ctx context.Context, localDir string) (string, error) {
	if err := f.requireSelection("download raw file"); err != nil {
		return "", err
	}

	localPath := utils.LocalJoin(localDir, RawFileName(f.selected, f.cfg.Tag))
	remotePath := utils.RemoteJoin(f.cfg.RemoteDirectory, f.selected)

	n, err := f.remote.DownloadFile(ctx, remotePath, localPath, f.progress)
	if err != nil {
		return "", apperr.New(apperr.TransferError, fmt.Sprintf("download %s", remotePath), err)
	}
	f.logger.Info("downloaded raw file",
		zap.String("remote", remotePath),
		zap.String("local", localPath),
		zap.Int64("bytes", n),
		zap.String("method", string(f.cfg.DownloadMethod)))
	return localPath, nil
}

// ParseToTable streams the selected file and parses it as headerless
// delimited text. The remote handle is closed on every path, and reading
// stops once ctx is done.
func (f *Fetcher) ParseToTable(ctx context.Context, opts models.ParseOptions) (*table.Table, error) {
	if err := f.requireSelection("parse remote file"); err != nil {
		return nil, err
	}
	f.table = nil

	remotePath := utils.RemoteJoin(f.cfg.RemoteDirectory, f.selected)
	r, err := f.remote.Open(remotePath)
	if err != nil {
		return nil, apperr.New(apperr.TransferError, fmt.Sprintf("open %s", remotePath), err)
	}
	defer r.Close()

	t, err := table.Parse(utils.NewContextReader(ctx, r), opts)
	if ctxErr := ctx.Err(); ctxErr != nil && err != nil {
		return nil, apperr.New(apperr.TransferError, fmt.Sprintf("read %s", remotePath), ctxErr)
	}
	if err != nil {
		return nil, apperr.New(apperr.ParseError, fmt.Sprintf("parse %s", remotePath), err)
	}

	f.table = t
	f.logger.Info("parsed remote file",
		zap.String("remote", remotePath),
		zap.Int("rows", t.Len()),
		zap.Strings("columns", t.Columns),
		zap.Bool("strict", opts.Strict))
	return t, nil
}

// SaveTableAsCsv writes the parsed table to localDir as CSV with a header
// row and returns the local path.
func (f *Fetcher) SaveTableAsCsv(localDir string) (string, error) {
	if f.table == nil {
		return "", errUsage("save table", apperr.ErrNoTable)
	}

	localPath := utils.LocalJoin(localDir, CSVFileName(f.selected, f.cfg.Tag, f.cfg.LegacyExtensionStrip))
	if err := writeTable(localPath, f.table); err != nil {
		return "", apperr.New(apperr.TransferError, fmt.Sprintf("save %s", localPath), err)
	}
	f.logger.Info("saved table", zap.String("local", localPath), zap.Int("rows", f.table.Len()))
	return localPath, nil
}

func writeTable(localPath string, t *table.Table) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("failed to create local directory: %w", err)
	}
	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	if err := t.WriteCSV(out); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Disconnect closes the session and drops the selection and table.
func (f *Fetcher) Disconnect() error {
	if f.remote == nil {
		return errUsage("disconnect", apperr.ErrNotConnected)
	}
	err := f.remote.Disconnect()
	f.remote = nil
	f.selected = ""
	f.table = nil
	if err != nil {
		return apperr.New(apperr.ConnectionError, "disconnect", err)
	}
	f.logger.Debug("disconnected")
	return nil
}

func errUsage(op string, err error) error {
	return apperr.New(apperr.UsageError, op, err)
}

func (f *Fetcher) requireSession(op string) error {
	if f.remote == nil {
		return errUsage(op, apperr.ErrNotConnected)
	}
	return nil
}

func (f *Fetcher) requireSelection(op string) error {
	if err := f.requireSession(op); err != nil {
		return err
	}
	if f.selected == "" {
		return errUsage(op, apperr.ErrNoSelection)
	}
	return nil
}

// RawFileName is the local name of a raw download: "{tag}_{name}" when a
// tag is set, otherwise name.
func RawFileName(name, tag string) string {
	if tag == "" {
		return name
	}
	return tag + "_" + name
}

// CSVFileName is the local name of a saved table. The extension of name is
// replaced by ".csv"; with legacy set exactly four trailing characters are
// dropped instead, whatever they are.
func CSVFileName(name, tag string, legacy bool) string {
	var base string
	if legacy {
		if len(name) > 4 {
			base = name[:len(name)-4]
		}
	} else {
		base = strings.TrimSuffix(name, path.Ext(name))
		if base == "" {
			base = name
		}
	}
	return RawFileName(base+".csv", tag)
}
