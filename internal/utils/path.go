package utils

import (
	"path"
	"path/filepath"
	"runtime"
	"strings"
)

// ToSFTPPath converts local path to SFTP path format
func ToSFTPPath(p string) string {
	if runtime.GOOS == "windows" {
		return strings.ReplaceAll(p, "\\", "/")
	}
	return p
}

// RemoteJoin joins a remote directory and a file name with forward slashes,
// whatever the local OS.
func RemoteJoin(dir, name string) string {
	return path.Join(ToSFTPPath(dir), name)
}

// LocalJoin places name inside the local directory dir. An empty dir means
// the current directory.
func LocalJoin(dir, name string) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, filepath.Base(name))
}
