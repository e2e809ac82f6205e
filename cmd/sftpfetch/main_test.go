package main

import (
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"sftpFetch/internal/config"
	apperr "sftpFetch/internal/error"
	"sftpFetch/internal/models"
)

func TestParseFlags(t *testing.T) {
	o, err := parseFlags([]string{"-source", "prod", "-parse", "-sep", ";", "-columns", "a, b", "-lenient"})
	if err != nil {
		t.Fatal(err)
	}
	if o.source != "prod" || !o.parse || o.sep != ";" || !o.lenient {
		t.Errorf("options = %+v", o)
	}
	if _, err := parseFlags([]string{"extra"}); err == nil {
		t.Error("positional arguments should be rejected")
	}
}

func TestBuildJob(t *testing.T) {
	sourceParse := &models.ParseOptions{Delimiter: ";", Columns: []string{"group", "host"}, Strict: true}

	tests := []struct {
		name    string
		args    []string
		parse   *models.ParseOptions
		raw     bool
		want    *models.ParseOptions
		wantErr bool
	}{
		{"source defaults", nil, sourceParse, true, sourceParse, false},
		{"source without parse", nil, nil, true, nil, false},
		{"raw only", []string{"-raw"}, sourceParse, true, nil, false},
		{"flag overrides", []string{"-parse", "-sep", "||", "-lenient"}, sourceParse, false,
			&models.ParseOptions{Delimiter: "||", Columns: []string{"group", "host"}}, false},
		{"columns from flags", []string{"-columns", "x,,y "}, nil, false,
			&models.ParseOptions{Delimiter: ",", Columns: []string{"x", "y"}, Strict: true}, false},
		{"parse without columns", []string{"-parse"}, nil, false, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := parseFlags(append([]string{"-out", "/tmp/out"}, tt.args...))
			if err != nil {
				t.Fatal(err)
			}
			job, err := buildJob(o, &config.Resolved{Parse: tt.parse, OutputDir: "/ignored"})
			if tt.wantErr {
				if err == nil {
					t.Error("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if job.LocalDir != "/tmp/out" || job.Raw != tt.raw {
				t.Errorf("job = %+v", job)
			}
			if (job.Parse == nil) != (tt.want == nil) {
				t.Fatalf("parse = %+v, want %+v", job.Parse, tt.want)
			}
			if tt.want != nil {
				got := job.Parse
				if got.Delimiter != tt.want.Delimiter || got.Strict != tt.want.Strict || len(got.Columns) != len(tt.want.Columns) {
					t.Errorf("parse = %+v, want %+v", got, tt.want)
				}
			}
		})
	}
}

func TestReportExitCodes(t *testing.T) {
	log := zap.NewNop()
	tests := []struct {
		err  error
		want int
	}{
		{apperr.New(apperr.ConfigError, "load", nil), exitUsage},
		{apperr.New(apperr.SelectionError, "select", apperr.ErrNoMatch), exitNoMatch},
		{apperr.New(apperr.ConnectionError, "dial", nil), exitFailure},
		{errors.New("plain"), exitFailure},
	}
	for _, tt := range tests {
		if got := report(log, tt.err); got != tt.want {
			t.Errorf("report(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestLoadConfigFileFallsBackToEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	f, err := loadConfigFile("", config.Env{Host: "sftp.example.com"})
	if err != nil {
		t.Fatalf("loadConfigFile: %v", err)
	}
	if len(f.Sources) != 1 || f.Sources[0].Name != "env" {
		t.Errorf("sources = %+v", f.Sources)
	}

	if _, err := loadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"), config.Env{Host: "x"}); err == nil {
		t.Error("an explicit missing path must fail")
	}
}

func TestNeedsPassphrase(t *testing.T) {
	if needsPassphrase(config.Source{}, config.Env{}) {
		t.Error("plain source needs no passphrase")
	}
	if !needsPassphrase(config.Source{PasswordEnc: "ab"}, config.Env{}) {
		t.Error("encrypted password needs a passphrase")
	}
	if needsPassphrase(config.Source{PasswordEnc: "ab"}, config.Env{Password: "pw"}) {
		t.Error("env password replaces the encrypted one")
	}
}
