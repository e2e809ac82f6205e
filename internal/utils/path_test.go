package utils

import (
	"path/filepath"
	"testing"
)

func TestRemoteJoin(t *testing.T) {
	tests := []struct {
		dir, name, want string
	}{
		{"/export/data", "a.txt", "/export/data/a.txt"},
		{"/export/data/", "a.txt", "/export/data/a.txt"},
		{"relative", "a.txt", "relative/a.txt"},
	}
	for _, tt := range tests {
		if got := RemoteJoin(tt.dir, tt.name); got != tt.want {
			t.Errorf("RemoteJoin(%q, %q) = %q, want %q", tt.dir, tt.name, got, tt.want)
		}
	}
}

func TestLocalJoin(t *testing.T) {
	if got := LocalJoin("", "a.txt"); got != "a.txt" {
		t.Errorf("LocalJoin empty dir = %q", got)
	}
	want := filepath.Join("out", "a.txt")
	if got := LocalJoin("out", "../a.txt"); got != want {
		t.Errorf("LocalJoin must not escape the directory: got %q, want %q", got, want)
	}
}
