// Command csvload loads one delimited file (or an html table) into a
// relational table, creating the table from the header.
//
// Usage:
//
//	csvload [flags] <input|->
//
// Flags override the fields of an optional JSON job file (-config).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"

	"csvload/internal/config"
	"csvload/internal/ingest"
	"csvload/internal/metrics"
	"csvload/internal/metrics/datadog"
	"csvload/internal/storage"
	_ "csvload/internal/storage/all"
)

// backendCloser is the minimal interface used by this command to manage a metrics backend.
type backendCloser interface {
	metrics.Backend
	Close() error
}

// deps are external seams for testability.
type deps struct {
	Stdout io.Writer
	Stderr io.Writer
	Stdin  io.Reader

	BackendFactory func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error)
	NewRepository  func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
	Getenv         func(key string) string
}

// runConfig holds the parsed flags and the resulting job.
type runConfig struct {
	Job            config.Job
	MetricsBackend string
	FlushEvery     time.Duration
	JSON           bool
	Verbose        bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], deps{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Stdin:  os.Stdin,
		BackendFactory: func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error) {
			return datadog.NewBackend(ctx, datadog.Options{
				JobName:    jobName,
				Tags:       tags,
				FlushEvery: flushEvery,
			})
		},
		NewRepository: storage.New,
		Getenv:        os.Getenv,
	})
	stop()
	os.Exit(code)
}

// run executes one load and returns an exit code.
//
// Exit codes:
//   - 0: success, including runs where individual rows failed.
//   - 1: the load aborted (input, storage or table error, interrupt).
//   - 2: usage or configuration error.
func run(ctx context.Context, args []string, d deps) int {
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}
	if d.Getenv == nil {
		d.Getenv = func(string) string { return "" }
	}

	cfg, err := parseFlags(args, d.Getenv)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}

	logger := &cliLogger{l: log.New(d.Stderr, "csvload: ", log.LstdFlags), verbose: cfg.Verbose}

	// Run applies defaults itself; this copy only names the metrics job.
	jobName := cfg.Job.WithDefaults().Job
	switch cfg.MetricsBackend {
	case "", "none":
		metrics.SetBackend(nil)
	case "datadog":
		if d.BackendFactory == nil {
			fmt.Fprintln(d.Stderr, "internal error: BackendFactory is nil")
			return 2
		}
		b, err := d.BackendFactory(ctx, jobName, datadog.ParseTagsCSV(d.Getenv("METRICS_TAGS")), cfg.FlushEvery)
		if err != nil {
			logger.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			metrics.SetBackend(nil)
			break
		}
		metrics.SetBackend(b)
		defer func() {
			if err := b.Close(); err != nil {
				logger.Printf("metrics: datadog close/flush error: %v", err)
			}
			metrics.SetBackend(nil)
		}()
	default:
		fmt.Fprintf(d.Stderr, "unknown metrics backend %q (want datadog or none)\n", cfg.MetricsBackend)
		return 2
	}

	r := &ingest.Runner{
		Logger:        logger,
		NewRepository: d.NewRepository,
		Stdin:         d.Stdin,
	}
	sum, err := r.Run(ctx, cfg.Job)

	if cfg.JSON {
		enc := json.NewEncoder(d.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(sum); encErr != nil {
			fmt.Fprintf(d.Stderr, "write summary: %v\n", encErr)
		}
	}

	if err != nil {
		fmt.Fprintf(d.Stderr, "csvload: %v\n", err)
		if errors.Is(err, ingest.ErrInvalidJob) {
			return 2
		}
		return 1
	}

	if !cfg.JSON {
		fmt.Fprintf(d.Stdout, "rows written: %d (failed: %d, skipped: %d)\n", sum.RecordsWritten, sum.RecordsFailed, sum.RecordsSkipped)
	}
	return 0
}

// cliLogger hides stage progress lines unless verbose. Warnings and row
// errors always go through.
type cliLogger struct {
	l       *log.Logger
	verbose bool
}

func (c *cliLogger) Printf(format string, v ...any) {
	if !c.verbose && strings.HasPrefix(format, "stage=") {
		return
	}
	c.l.Printf(format, v...)
}

// parseFlags builds the job: the -config file first, then every flag that
// was set on the command line on top of it.
func parseFlags(args []string, getenv func(string) string) (runConfig, error) {
	fs := flag.NewFlagSet("csvload", flag.ContinueOnError)

	// Capture help/usage text instead of writing to stdout.
	var usageBuf strings.Builder
	fs.SetOutput(&usageBuf)
	fs.Usage = func() {
		fmt.Fprintf(&usageBuf, "Usage of %s:\n  %s [flags] <input|->\n", fs.Name(), fs.Name())
		fs.PrintDefaults()
	}

	var (
		cfg        runConfig
		configPath string
		dsn        string
		kind       string
		table      string
		delimiter  string
		noHeader   bool
		prefix     string
		appendMode bool
		mode       string
		index      string
		encoding   string
		format     string
		selector   string
		lazyQuotes bool
		trimSpace  bool
	)
	fs.StringVar(&configPath, "config", "", "JSON job file; flags override its fields")
	fs.StringVar(&dsn, "o", "", "Output database (sqlite file path; same as -dsn)")
	fs.StringVar(&dsn, "output", "", "Same as -o")
	fs.StringVar(&dsn, "dsn", "", "Storage DSN; $VARS are expanded (default: <input>.db for sqlite)")
	fs.StringVar(&kind, "storage", "", "Storage kind: sqlite, postgres or mssql (default sqlite)")
	fs.StringVar(&table, "t", "", "Table name (default: input basename)")
	fs.StringVar(&delimiter, "d", "", `Field delimiter; "\t" or "tab" for tabs (default "," or tab for .tsv)`)
	fs.BoolVar(&noHeader, "no-header", false, "Treat the first record as data")
	fs.StringVar(&prefix, "default-column-name", "", `Prefix for generated column names (default "column")`)
	fs.BoolVar(&appendMode, "append", false, "Append to an existing table with the same columns (same as -mode append)")
	fs.StringVar(&mode, "mode", "", "Table mode: create, append or replace (default create)")
	fs.StringVar(&index, "index-column", "", `"auto" adds an auto-increment id column, "none" (or "") adds none (default auto)`)
	fs.StringVar(&encoding, "encoding", "", "Input charset, e.g. windows-1252 (default utf-8)")
	fs.StringVar(&format, "format", "", "Input format: csv, tsv or html (default: from suffix)")
	fs.StringVar(&selector, "selector", "", "CSS selector of the table to read from html input")
	fs.BoolVar(&lazyQuotes, "lazy-quotes", false, "Allow bare quotes inside unquoted fields")
	fs.BoolVar(&trimSpace, "trim-space", false, "Trim leading space from fields")
	fs.StringVar(&cfg.MetricsBackend, "metrics-backend", "", "Metrics backend: datadog or none (default $METRICS_BACKEND or none)")
	fs.DurationVar(&cfg.FlushEvery, "metrics-flush", time.Minute, "Datadog flush interval")
	fs.BoolVar(&cfg.JSON, "json", false, "Print the run summary as JSON")
	fs.BoolVar(&cfg.Verbose, "v", false, "Log stage progress")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return runConfig{}, errors.New(usageBuf.String())
		}
		return runConfig{}, fmt.Errorf("%v\n\n%s", err, usageBuf.String())
	}
	if fs.NArg() > 1 {
		return runConfig{}, fmt.Errorf("expected one input, got %d: %v", fs.NArg(), fs.Args())
	}

	if configPath != "" {
		f, err := os.Open(configPath)
		if err != nil {
			return runConfig{}, fmt.Errorf("read config: %w", err)
		}
		cfg.Job, err = config.Decode(f)
		_ = f.Close()
		if err != nil {
			return runConfig{}, fmt.Errorf("decode config %s: %w", configPath, err)
		}
	}

	var setErr error
	fs.Visit(func(f *flag.Flag) {
		j := &cfg.Job
		switch f.Name {
		case "o", "output", "dsn":
			j.Storage.DSN = dsn
		case "storage":
			j.Storage.Kind = kind
		case "t":
			j.TableName = table
		case "d":
			j.Delimiter = delimiter
		case "no-header":
			useHeader := !noHeader
			j.UseHeader = &useHeader
		case "default-column-name":
			j.DefaultColumnPrefix = prefix
		case "append":
			if appendMode {
				if mode != "" && mode != config.ModeAppend {
					setErr = fmt.Errorf("-append conflicts with -mode %s", mode)
				}
				j.Mode = config.ModeAppend
			}
		case "mode":
			if !appendMode {
				j.Mode = mode
			}
		case "index-column":
			j.IndexColumn = &index
		case "encoding":
			j.Encoding = encoding
		case "format":
			j.Format = format
		case "selector":
			j.Selector = selector
		case "lazy-quotes":
			j.LazyQuotes = lazyQuotes
		case "trim-space":
			j.TrimSpace = trimSpace
		}
	})
	if setErr != nil {
		return runConfig{}, setErr
	}

	if fs.NArg() == 1 {
		cfg.Job.Input = fs.Arg(0)
	}
	if cfg.Job.Input == "" {
		return runConfig{}, fmt.Errorf("missing input file (use - for stdin)\n\n%s", usage(fs, &usageBuf))
	}

	if cfg.MetricsBackend == "" {
		cfg.MetricsBackend = getenv("METRICS_BACKEND")
	}
	if cfg.FlushEvery <= 0 {
		return runConfig{}, errors.New("-metrics-flush must be > 0")
	}
	return cfg, nil
}

func usage(fs *flag.FlagSet, buf *strings.Builder) string {
	buf.Reset()
	fs.Usage()
	return buf.String()
}
