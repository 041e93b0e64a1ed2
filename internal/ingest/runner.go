// Package ingest runs one load: read the input into a csvcache.Cache, prepare
// the target table according to the job mode, then write every row.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"slices"
	"strings"
	"time"

	"csvload/internal/config"
	"csvload/internal/csvcache"
	"csvload/internal/loader"
	"csvload/internal/metrics"
	"csvload/internal/source"
	"csvload/internal/storage"
)

var (
	// ErrInvalidJob wraps configuration errors found before anything is opened.
	ErrInvalidJob = errors.New("invalid job")
	// ErrIndexColumn is returned when the key column cannot be added.
	ErrIndexColumn = errors.New("index column")
	// ErrSchemaMismatch is returned in append mode when the existing table is
	// missing or its columns differ from the input's.
	ErrSchemaMismatch = errors.New("schema mismatch")
)

// SurrogateColumn is the name of the auto-increment key added by IndexAuto.
const SurrogateColumn = "id"

// Logger is the minimal logging interface used by the runner.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Summary describes a finished (or aborted) run.
type Summary struct {
	Job       string   `json:"job"`
	Input     string   `json:"input"`
	Table     string   `json:"table"`
	Storage   string   `json:"storage"`
	Mode      string   `json:"mode"`
	Columns   []string `json:"columns"`
	HasHeader bool     `json:"has_header"`
	// KeyColumn is the auto-increment column, empty when none.
	KeyColumn string `json:"key_column,omitempty"`

	RecordsRead    int `json:"records_read"`
	RecordsWritten int `json:"records_written"`
	RecordsFailed  int `json:"records_failed"`
	RecordsSkipped int `json:"records_skipped"`
	BlankLines     int `json:"blank_lines"`
	Unexpected     int `json:"unexpected_row_counts,omitempty"`

	HeaderError string `json:"header_error,omitempty"`
	Truncated   string `json:"truncated,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
}

// Runner wires the stages of a load. The function fields are seams; nil
// means the production implementation.
type Runner struct {
	Logger Logger

	// NewRepository opens the target store. Defaults to storage.New.
	NewRepository func(ctx context.Context, cfg storage.Config) (storage.Repository, error)

	// Stdin is read when the job input is "-". Nil means source.Stdin.
	Stdin io.Reader
}

// NewDefaultRunner returns a Runner using the registered storage backends.
// Binaries must import internal/storage/all (or a single backend) for
// storage.New to find them.
func NewDefaultRunner(logger Logger) *Runner {
	return &Runner{
		Logger:        logger,
		NewRepository: storage.New,
	}
}

func (r *Runner) logger() func(format string, v ...any) {
	if r.Logger == nil {
		return log.New(io.Discard, "", 0).Printf
	}
	return r.Logger.Printf
}

// Run executes job. Defaults are applied first (see config.Job.WithDefaults).
//
// Fatal errors (bad job, unreadable input, key column clash, append
// mismatch, CREATE TABLE failure, store connection failure, cancellation)
// are returned. Per-row problems are logged and counted in the Summary.
func (r *Runner) Run(ctx context.Context, job config.Job) (sum Summary, err error) {
	start := time.Now()
	logf := r.logger()

	job = job.WithDefaults()
	sum = Summary{
		Job:     job.Job,
		Input:   job.Input,
		Table:   job.TableName,
		Storage: job.Storage.Kind,
		Mode:    job.Mode,
	}
	defer func() { sum.DurationMS = time.Since(start).Milliseconds() }()

	if err := checkJob(job, logf); err != nil {
		return sum, err
	}

	// Stage 1: read the whole input.
	loadStart := time.Now()
	cache, err := r.load(ctx, job)
	metrics.RecordStep("load", loadStart, err)
	if err != nil {
		return sum, fmt.Errorf("load %s: %w", job.Input, err)
	}
	st := cache.Stats()
	sum.HasHeader = cache.HasHeader()
	sum.RecordsRead = cache.Len()
	sum.RecordsSkipped = st.Skipped
	sum.BlankLines = st.Blank
	if st.HeaderErr != nil {
		sum.HeaderError = st.HeaderErr.Error()
	}
	if st.Truncated != nil {
		sum.Truncated = st.Truncated.Error()
	}
	metrics.RecordRecords(metrics.KindRead, cache.Len())
	metrics.RecordRecords(metrics.KindSkipped, st.Skipped)
	logf("stage=load ok rows=%d columns=%d skipped=%d duration=%s", cache.Len(), cache.MaxColumnCount(), st.Skipped, durMS(loadStart))

	descs := cache.ColumnDescs()
	sum.Columns = cache.ColumnNames()

	key, err := ResolveKey(job.Index(), descs)
	if err != nil {
		return sum, err
	}
	sum.KeyColumn = key

	// Stage 2: open the store and prepare the table.
	repo, err := r.newRepository(ctx, storage.Config{Kind: job.Storage.Kind, DSN: job.Storage.DSN})
	if err != nil {
		return sum, fmt.Errorf("open storage %s: %w", job.Storage.Kind, err)
	}
	defer repo.Close()

	w := &loader.Writer{Repo: repo, Logger: r.Logger, DefaultColumnPrefix: job.DefaultColumnPrefix}

	tableStart := time.Now()
	err = r.prepareTable(ctx, job, repo, w, descs, key, logf)
	metrics.RecordStep("prepare_table", tableStart, err)
	if err != nil {
		return sum, err
	}

	// Stage 3: write rows.
	popStart := time.Now()
	res, err := w.Populate(ctx, job.TableName, cache)
	metrics.RecordStep("populate", popStart, err)
	metrics.RecordRecords(metrics.KindWritten, res.RecordsWritten)
	metrics.RecordRecords(metrics.KindFailed, res.RecordsFailed)
	sum.RecordsWritten = res.RecordsWritten
	sum.RecordsFailed = res.RecordsFailed
	sum.Unexpected = res.Unexpected
	if err != nil {
		return sum, fmt.Errorf("populate %s: %w", job.TableName, err)
	}
	logf("stage=populate ok written=%d failed=%d duration=%s", res.RecordsWritten, res.RecordsFailed, durMS(popStart))

	return sum, nil
}

func checkJob(job config.Job, logf func(string, ...any)) error {
	var errs []string
	for _, iss := range config.Validate(job) {
		if iss.Severity == config.SeverityError {
			errs = append(errs, iss.Path+": "+iss.Message)
			continue
		}
		logf("%s", iss)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidJob, strings.Join(errs, "; "))
	}
	return nil
}

func (r *Runner) newRepository(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	if r.NewRepository != nil {
		return r.NewRepository(ctx, cfg)
	}
	return storage.New(ctx, cfg)
}

func (r *Runner) load(ctx context.Context, job config.Job) (*csvcache.Cache, error) {
	if job.Input != "-" || r.Stdin == nil {
		return csvcache.Load(ctx, job, job.Input, r.Logger)
	}
	src, err := source.Wrap(r.Stdin, job.Encoding)
	if err != nil {
		return nil, err
	}
	return csvcache.LoadReader(ctx, job, src, r.Logger)
}

// prepareTable applies the job mode.
//
//   - create: CREATE TABLE IF NOT EXISTS. An existing table is kept and
//     appended to, with a log line if its columns differ.
//   - replace: DROP TABLE IF EXISTS, then create.
//   - append: the table must exist with matching columns; nothing is created.
func (r *Runner) prepareTable(
	ctx context.Context,
	job config.Job,
	repo storage.Repository,
	w *loader.Writer,
	descs []csvcache.ColumnDescriptor,
	key string,
	logf func(string, ...any),
) error {
	table := job.TableName

	switch job.Mode {
	case config.ModeAppend:
		existing, err := repo.TableColumns(ctx, table)
		if err != nil {
			return fmt.Errorf("inspect table %s: %w", table, err)
		}
		if existing == nil {
			return fmt.Errorf("%w: table %s does not exist", ErrSchemaMismatch, table)
		}
		want := descNames(descs)
		if !storage.SameColumns(dataColumns(existing, want), want) {
			return fmt.Errorf("%w: table %s has columns %v, input has %v", ErrSchemaMismatch, table, existing, want)
		}
		logf("stage=prepare_table mode=append table=%s ok", table)
		return nil

	case config.ModeReplace:
		if err := repo.DropTable(ctx, table); err != nil {
			return err
		}
		logf("stage=drop_table table=%s ok", table)

	default:
		existing, err := repo.TableColumns(ctx, table)
		if err != nil {
			return fmt.Errorf("inspect table %s: %w", table, err)
		}
		if existing != nil {
			want := descNames(descs)
			if !storage.SameColumns(dataColumns(existing, want), want) {
				logf("warning: table %s exists with columns %v; input has %v", table, existing, want)
			} else {
				logf("table %s exists; appending", table)
			}
		}
	}

	return w.CreateTable(ctx, table, descs, key)
}

// ResolveKey returns the key column for the job's index setting: SurrogateColumn
// for "auto", empty for "none". An input column that already uses the
// surrogate name is an error.
func ResolveKey(index string, descs []csvcache.ColumnDescriptor) (string, error) {
	switch index {
	case config.IndexNone, "":
		return "", nil
	case config.IndexAuto:
	default:
		return "", fmt.Errorf("%w: unsupported value %q", ErrIndexColumn, index)
	}
	for _, d := range descs {
		if storage.NormalizeName(d.Name) == SurrogateColumn {
			return "", fmt.Errorf("%w: input already has a column named %q; use -index-column none", ErrIndexColumn, d.Name)
		}
	}
	return SurrogateColumn, nil
}

func descNames(descs []csvcache.ColumnDescriptor) []string {
	out := make([]string, len(descs))
	for i, d := range descs {
		out[i] = d.Name
	}
	return out
}

// dataColumns drops a leading surrogate column from existing when the input
// itself has no column of that name.
func dataColumns(existing, input []string) []string {
	if len(existing) == 0 || storage.NormalizeName(existing[0]) != SurrogateColumn {
		return existing
	}
	if slices.ContainsFunc(input, func(c string) bool { return storage.NormalizeName(c) == SurrogateColumn }) {
		return existing
	}
	return existing[1:]
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }
