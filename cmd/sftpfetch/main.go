package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"sftpFetch/internal/config"
	"sftpFetch/internal/crypto"
	apperr "sftpFetch/internal/error"
	"sftpFetch/internal/fetcher"
	"sftpFetch/internal/logger"
	"sftpFetch/internal/models"
)

const (
	exitOK = iota
	exitFailure
	exitUsage
	exitNoMatch
)

type options struct {
	configPath string
	source     string
	outDir     string
	raw        bool
	parse      bool
	sep        string
	columns    string
	lenient    bool
	jsonLogs   bool
	verbose    bool
	noProgress bool
	encrypt    bool
}

func parseFlags(args []string) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet("sftpfetch", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "path to the config file (default ~/.config/sftpfetch/sftpfetch.yaml)")
	fs.StringVar(&o.source, "source", "", "name of the configured source to fetch from")
	fs.StringVar(&o.outDir, "out", "", "local output directory")
	fs.BoolVar(&o.raw, "raw", false, "download the selected file unchanged")
	fs.BoolVar(&o.parse, "parse", false, "parse the selected file and save it as CSV")
	fs.StringVar(&o.sep, "sep", "", "field delimiter, overrides the source setting")
	fs.StringVar(&o.columns, "columns", "", "comma-separated column names, overrides the source setting")
	fs.BoolVar(&o.lenient, "lenient", false, "tolerate short rows, loose quoting and multi-character delimiters")
	fs.BoolVar(&o.jsonLogs, "json-logs", false, "log as JSON")
	fs.BoolVar(&o.verbose, "verbose", false, "log every step")
	fs.BoolVar(&o.noProgress, "no-progress", false, "disable the progress display")
	fs.BoolVar(&o.encrypt, "encrypt", false, "encrypt a password for the password_enc config field and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return o, nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	env, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	if opts.encrypt {
		if err := encryptPassword(env); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitFailure
		}
		return exitOK
	}

	showProgress := !opts.noProgress && !opts.jsonLogs && !opts.verbose && term.IsTerminal(int(os.Stdout.Fd()))

	log := zap.NewNop()
	if !showProgress {
		log, err = logger.New(logger.Options{JSON: opts.jsonLogs, Verbose: opts.verbose})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
			return exitFailure
		}
		defer log.Sync()
	}

	name, cfg, job, err := prepare(opts, env)
	if err != nil {
		return report(log, err)
	}
	defer cfg.Password.Clear()
	defer cfg.PrivateKey.Clear()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if showProgress {
		err = runWithProgress(ctx, name, cfg, job)
	} else {
		err = runPlain(ctx, log, cfg, job)
	}
	if err != nil {
		return report(log, err)
	}
	return exitOK
}

// prepare turns flags, environment and config file into a validated
// connection and a job.
func prepare(opts *options, env config.Env) (string, models.ConnectionConfig, fetcher.Job, error) {
	var none models.ConnectionConfig

	f, err := loadConfigFile(opts.configPath, env)
	if err != nil {
		return "", none, fetcher.Job{}, apperr.New(apperr.ConfigError, "load config", err)
	}

	sourceName := opts.source
	if sourceName == "" {
		sourceName = env.Source
	}
	src, err := f.FindSource(sourceName)
	if err != nil {
		return "", none, fetcher.Job{}, apperr.New(apperr.ConfigError, "select source", err)
	}

	var cipher *crypto.Cipher
	if needsPassphrase(src, env) {
		passphrase := env.Passphrase
		if passphrase == "" {
			if passphrase, err = promptSecret("Config passphrase: "); err != nil {
				return "", none, fetcher.Job{}, apperr.New(apperr.ConfigError, "read passphrase", err)
			}
		}
		cipher = crypto.NewCipher(passphrase)
	}

	resolved, err := config.Resolve(f, src, env, cipher)
	if err != nil {
		return "", none, fetcher.Job{}, apperr.New(apperr.ConfigError, "resolve source", err)
	}
	cfg := resolved.Connection

	if cfg.Password.Empty() && cfg.PrivateKey == nil {
		pw, err := promptSecret(fmt.Sprintf("Password for %s@%s: ", cfg.Username, cfg.Host))
		if err != nil {
			return "", none, fetcher.Job{}, apperr.New(apperr.ConfigError, "read password", err)
		}
		cfg.Password = models.NewSecret([]byte(pw))
	}

	job, err := buildJob(opts, resolved)
	if err != nil {
		return "", none, fetcher.Job{}, apperr.New(apperr.UsageError, "build job", err)
	}
	return src.Name, cfg, job, nil
}

func loadConfigFile(path string, env config.Env) (*config.File, error) {
	explicit := path != "" || env.Config != ""
	if path == "" {
		path = env.Config
	}
	if path == "" {
		p, err := config.GetDefaultConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	f, err := config.Load(path)
	if err != nil && !explicit && errors.Is(err, os.ErrNotExist) && env.Host != "" {
		// No config file: a single source described entirely by SFTPFETCH_*.
		return &config.File{Sources: []config.Source{{Name: "env"}}}, nil
	}
	return f, err
}

func needsPassphrase(src config.Source, env config.Env) bool {
	if src.KeyPassphrase != "" {
		return true
	}
	return src.PasswordEnc != "" && env.Password == ""
}

func buildJob(opts *options, r *config.Resolved) (fetcher.Job, error) {
	job := fetcher.Job{LocalDir: r.OutputDir, Raw: opts.raw}
	if opts.outDir != "" {
		job.LocalDir = opts.outDir
	}

	parseRequested := opts.parse || opts.sep != "" || opts.columns != "" || opts.lenient
	if !opts.raw && !parseRequested {
		// Nothing chosen on the command line: do what the source describes.
		job.Raw = true
		parseRequested = r.Parse != nil
	}

	if parseRequested {
		po := models.ParseOptions{Delimiter: ",", Strict: true}
		if r.Parse != nil {
			po = *r.Parse
		}
		if opts.sep != "" {
			po.Delimiter = opts.sep
		}
		if opts.columns != "" {
			po.Columns = splitColumns(opts.columns)
		}
		if opts.lenient {
			po.Strict = false
		}
		if len(po.Columns) == 0 {
			return job, errors.New("parsing needs column names: set parse.columns or -columns")
		}
		job.Parse = &po
	}
	return job, nil
}

func splitColumns(s string) []string {
	parts := strings.Split(s, ",")
	cols := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cols = append(cols, p)
		}
	}
	return cols
}

func runPlain(ctx context.Context, log *zap.Logger, cfg models.ConnectionConfig, job fetcher.Job) error {
	f, err := fetcher.New(cfg, fetcher.WithLogger(log))
	if err != nil {
		return err
	}
	res, err := f.Run(ctx, job)
	if err != nil {
		return err
	}
	for _, p := range []string{res.RawPath, res.CSVPath} {
		if p != "" {
			fmt.Println(p)
		}
	}
	return nil
}

func report(log *zap.Logger, err error) int {
	kind, ok := apperr.KindOf(err)
	if log.Core().Enabled(zap.ErrorLevel) {
		log.Error("fetch failed", zap.Error(err))
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	switch {
	case !ok:
		return exitFailure
	case kind == apperr.ConfigError, kind == apperr.UsageError:
		return exitUsage
	case kind == apperr.SelectionError:
		return exitNoMatch
	default:
		return exitFailure
	}
}
