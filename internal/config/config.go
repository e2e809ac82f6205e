// internal/config/config.go

package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"sftpFetch/internal/crypto"
	"sftpFetch/internal/models"
)

const (
	DefaultConfigFileName = "sftpfetch.yaml"
	DefaultConfigDir      = ".config/sftpfetch"
	DefaultKnownHosts     = "known_hosts"
	DefaultFilePerms      = 0600

	envPrefix = "SFTPFETCH"
)

// File is the on-disk configuration: shared defaults plus named sources.
type File struct {
	Default  string   `yaml:"default"`
	Defaults Defaults `yaml:"defaults"`
	Sources  []Source `yaml:"sources"`
}

// Defaults apply to every source that leaves the field unset.
type Defaults struct {
	HostKeyPolicy  string `yaml:"host_key_policy"`
	KnownHosts     string `yaml:"known_hosts"`
	Timeout        string `yaml:"timeout"`
	KeepAlive      string `yaml:"keep_alive"`
	DownloadMethod string `yaml:"download_method"`
	OutputDir      string `yaml:"output_dir"`
}

// Source is one remote server and the file family fetched from it.
type Source struct {
	Name            string `yaml:"name"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	PasswordEnc     string `yaml:"password_enc"`
	PrivateKey      string `yaml:"private_key"`
	KeyPassphrase   string `yaml:"key_passphrase_enc"`
	RemoteDirectory string `yaml:"remote_directory"`
	FilenamePrefix  string `yaml:"filename_prefix"`
	Tag             string `yaml:"tag"`

	HostKeyPolicy        string `yaml:"host_key_policy"`
	KnownHosts           string `yaml:"known_hosts"`
	Timeout              string `yaml:"timeout"`
	KeepAlive            string `yaml:"keep_alive"`
	DownloadMethod       string `yaml:"download_method"`
	LegacyExtensionStrip bool   `yaml:"legacy_extension_strip"`
	OutputDir            string `yaml:"output_dir"`

	Parse *ParseSettings `yaml:"parse"`
}

// ParseSettings describe how a source's files are turned into tables.
type ParseSettings struct {
	Delimiter string   `yaml:"delimiter"`
	Columns   []string `yaml:"columns"`
	Strict    *bool    `yaml:"strict"`
}

// Env holds SFTPFETCH_* overrides. Non-empty values win over the file.
type Env struct {
	Config          string `envconfig:"CONFIG"`
	Source          string `envconfig:"SOURCE"`
	Passphrase      string `envconfig:"PASSPHRASE"`
	Host            string `envconfig:"HOST"`
	Port            int    `envconfig:"PORT"`
	Username        string `envconfig:"USERNAME"`
	Password        string `envconfig:"PASSWORD"`
	PrivateKey      string `envconfig:"PRIVATE_KEY"`
	RemoteDirectory string `envconfig:"REMOTE_DIRECTORY"`
	FilenamePrefix  string `envconfig:"FILENAME_PREFIX"`
	Tag             string `envconfig:"TAG"`
	HostKeyPolicy   string `envconfig:"HOST_KEY_POLICY"`
	KnownHosts      string `envconfig:"KNOWN_HOSTS"`
	OutputDir       string `envconfig:"OUTPUT_DIR"`
}

// LoadEnv reads the SFTPFETCH_* environment.
func LoadEnv() (Env, error) {
	var env Env
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return Env{}, fmt.Errorf("failed to read environment: %w", err)
	}
	return env, nil
}

// Load reads and decodes a configuration file. Unknown keys are rejected.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(f.Sources))
	for _, s := range f.Sources {
		if s.Name == "" {
			return nil, errors.New("every source needs a name")
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate source %q", s.Name)
		}
		seen[s.Name] = true
	}
	return &f, nil
}

// FindSource returns the named source. An empty name selects the file's
// default, or the only source when there is exactly one.
func (f *File) FindSource(name string) (Source, error) {
	if name == "" {
		name = f.Default
	}
	if name == "" {
		if len(f.Sources) == 1 {
			return f.Sources[0], nil
		}
		return Source{}, fmt.Errorf("%d sources configured, pick one by name", len(f.Sources))
	}
	for _, s := range f.Sources {
		if s.Name == name {
			return s, nil
		}
	}
	return Source{}, fmt.Errorf("source %q not found", name)
}

// Resolved is a source turned into runtime settings.
type Resolved struct {
	Connection models.ConnectionConfig
	Parse      *models.ParseOptions
	OutputDir  string
}

// Resolve merges file defaults, the source and environment overrides, and
// decrypts stored secrets with cipher. cipher may be nil when no encrypted
// value is present.
func Resolve(f *File, src Source, env Env, cipher *crypto.Cipher) (*Resolved, error) {
	src.applyDefaults(f.Defaults)
	src.applyEnv(env)

	timeout, err := parseDuration("timeout", src.Timeout)
	if err != nil {
		return nil, err
	}
	keepAlive, err := parseDuration("keep_alive", src.KeepAlive)
	if err != nil {
		return nil, err
	}

	knownHosts := src.KnownHosts
	if knownHosts == "" {
		p, err := GetKnownHostsPath()
		if err != nil {
			return nil, err
		}
		knownHosts = p
	}

	cfg := models.ConnectionConfig{
		Host:                 src.Host,
		Port:                 src.Port,
		Username:             src.Username,
		RemoteDirectory:      src.RemoteDirectory,
		FilenamePrefix:       src.FilenamePrefix,
		Tag:                  src.Tag,
		HostKeyPolicy:        models.HostKeyPolicy(src.HostKeyPolicy),
		KnownHostsPath:       expandHome(knownHosts),
		Timeout:              timeout,
		KeepAlive:            keepAlive,
		DownloadMethod:       models.DownloadMethod(src.DownloadMethod),
		LegacyExtensionStrip: src.LegacyExtensionStrip,
	}

	switch {
	case src.PasswordEnc != "":
		secret, err := models.NewEncryptedSecret(src.PasswordEnc, cipher)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt password for %q: %w", src.Name, err)
		}
		cfg.Password = secret
	case src.Password != "":
		cfg.Password = models.NewSecret([]byte(src.Password))
	}

	if src.PrivateKey != "" {
		key := &models.Key{Path: expandHome(src.PrivateKey)}
		if src.KeyPassphrase != "" {
			secret, err := models.NewEncryptedSecret(src.KeyPassphrase, cipher)
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt key passphrase for %q: %w", src.Name, err)
			}
			key.Passphrase = secret
		}
		cfg.PrivateKey = key
	}

	r := &Resolved{Connection: cfg, OutputDir: expandHome(src.OutputDir)}
	if src.Parse != nil {
		opts := models.ParseOptions{
			Delimiter: src.Parse.Delimiter,
			Columns:   src.Parse.Columns,
			Strict:    true,
		}
		if src.Parse.Strict != nil {
			opts.Strict = *src.Parse.Strict
		}
		r.Parse = &opts
	}
	return r, nil
}

func (s *Source) applyDefaults(d Defaults) {
	if s.HostKeyPolicy == "" {
		s.HostKeyPolicy = d.HostKeyPolicy
	}
	if s.KnownHosts == "" {
		s.KnownHosts = d.KnownHosts
	}
	if s.Timeout == "" {
		s.Timeout = d.Timeout
	}
	if s.KeepAlive == "" {
		s.KeepAlive = d.KeepAlive
	}
	if s.DownloadMethod == "" {
		s.DownloadMethod = d.DownloadMethod
	}
	if s.OutputDir == "" {
		s.OutputDir = d.OutputDir
	}
}

func (s *Source) applyEnv(e Env) {
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&s.Host, e.Host)
	override(&s.Username, e.Username)
	override(&s.PrivateKey, e.PrivateKey)
	override(&s.RemoteDirectory, e.RemoteDirectory)
	override(&s.FilenamePrefix, e.FilenamePrefix)
	override(&s.Tag, e.Tag)
	override(&s.HostKeyPolicy, e.HostKeyPolicy)
	override(&s.KnownHosts, e.KnownHosts)
	override(&s.OutputDir, e.OutputDir)
	if e.Password != "" {
		s.Password = e.Password
		s.PasswordEnc = ""
	}
	if e.Port != 0 {
		s.Port = e.Port
	}
}

func parseDuration(field, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, v, err)
	}
	return d, nil
}

func configDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not get home directory: %w", err)
	}
	return filepath.Join(homeDir, DefaultConfigDir), nil
}

// GetDefaultConfigPath returns ~/.config/sftpfetch/sftpfetch.yaml.
func GetDefaultConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFileName), nil
}

// GetKnownHostsPath returns ~/.config/sftpfetch/known_hosts.
func GetKnownHostsPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultKnownHosts), nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(homeDir, strings.TrimPrefix(p, "~"))
}
