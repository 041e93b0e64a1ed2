// Package config holds the job description consumed by the ingest runner.
//
// A Job can be decoded from JSON (see Decode) and then overridden by CLI flags.
// Defaults are applied by WithDefaults; Validate reports problems without
// touching the filesystem or the database.
package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
)

const (
	FormatCSV  = "csv"
	FormatTSV  = "tsv"
	FormatHTML = "html"

	ModeCreate  = "create"
	ModeAppend  = "append"
	ModeReplace = "replace"

	// IndexAuto adds a surrogate auto-increment "id" column.
	IndexAuto = "auto"
	// IndexNone disables the surrogate column.
	IndexNone = "none"

	DefaultColumnPrefix = "column"
	DefaultStorageKind  = "sqlite"
)

// Job is the full description of one ingestion run.
type Job struct {
	// Job names the run in metrics tags. Defaults to the table name.
	Job string `json:"job"`

	// Input is the file to load; "-" reads stdin.
	Input string `json:"input"`

	// Format is csv, tsv or html. Empty means "derive from the input suffix".
	Format string `json:"format"`

	// Encoding names the input charset (e.g. "windows-1250"). Empty means UTF-8.
	Encoding string `json:"encoding"`

	// UseHeader consumes the first record as the header.
	UseHeader *bool `json:"use_header,omitempty"`

	// Delimiter is a single character; `\t` and "tab" are accepted.
	Delimiter string `json:"delimiter"`

	LazyQuotes bool `json:"lazy_quotes"`
	TrimSpace  bool `json:"trim_space"`

	// Selector picks the table of an html input. Defaults to the first <table>.
	Selector string `json:"selector,omitempty"`

	// DefaultColumnPrefix names columns that have no header entry:
	// <prefix><1-based index>.
	DefaultColumnPrefix string `json:"default_column_prefix"`

	// TableName defaults to the input basename without its extension.
	TableName string `json:"table"`

	// IndexColumn is "auto" (an auto-increment "id" column) or "none" (also
	// empty). Naming a source column is rejected by Validate.
	IndexColumn *string `json:"index_column,omitempty"`

	// Mode is create, append or replace.
	Mode string `json:"mode"`

	Storage Storage `json:"storage"`
}

// Storage selects the relational backend.
type Storage struct {
	// Kind is sqlite, postgres or mssql.
	Kind string `json:"kind"`
	// DSN is expanded with os.ExpandEnv. For sqlite it defaults to the input
	// path with its extension replaced by ".db".
	DSN string `json:"dsn"`
}

// Decode reads a JSON job description.
func Decode(r io.Reader) (Job, error) {
	var j Job
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&j); err != nil {
		return Job{}, err
	}
	return j, nil
}

// Header reports whether the first record is a header (default true).
func (j Job) Header() bool {
	if j.UseHeader == nil {
		return true
	}
	return *j.UseHeader
}

// Index returns the effective index column setting (default "auto").
func (j Job) Index() string {
	if j.IndexColumn == nil {
		return IndexAuto
	}
	v := strings.TrimSpace(*j.IndexColumn)
	if v == "" {
		return IndexNone
	}
	return v
}

// WithDefaults fills every empty field that has a derived default.
func (j Job) WithDefaults() Job {
	if j.Format == "" {
		j.Format = FormatFromPath(j.Input)
	}
	if j.Delimiter == "" {
		if j.Format == FormatTSV {
			j.Delimiter = `\t`
		} else {
			j.Delimiter = ","
		}
	}
	if j.DefaultColumnPrefix == "" {
		j.DefaultColumnPrefix = DefaultColumnPrefix
	}
	if j.TableName == "" {
		j.TableName = Basename(j.Input)
	}
	if j.Job == "" {
		j.Job = j.TableName
	}
	if j.Mode == "" {
		j.Mode = ModeCreate
	}
	if j.Storage.Kind == "" {
		j.Storage.Kind = DefaultStorageKind
	}
	j.Storage.DSN = os.ExpandEnv(j.Storage.DSN)
	if j.Storage.DSN == "" && j.Storage.Kind == "sqlite" && j.Input != "" && j.Input != "-" {
		j.Storage.DSN = strings.TrimSuffix(trimCompression(j.Input), filepath.Ext(trimCompression(j.Input))) + ".db"
	}
	return j
}

// Options converts the parser-facing fields into an Options bag.
func (j Job) Options() Options {
	opt := Options{
		"has_header":  j.Header(),
		"comma":       j.Delimiter,
		"lazy_quotes": j.LazyQuotes,
		"trim_space":  j.TrimSpace,
	}
	if j.Selector != "" {
		opt["selector"] = j.Selector
	}
	return opt
}

// Basename strips directories, compression suffixes and the final extension:
// "data/people.csv.gz" -> "people".
func Basename(path string) string {
	if path == "" || path == "-" {
		return ""
	}
	base := filepath.Base(trimCompression(path))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// FormatFromPath guesses the input format from its suffix. Unknown suffixes
// default to csv.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(trimCompression(path))) {
	case ".tsv", ".tab":
		return FormatTSV
	case ".html", ".htm":
		return FormatHTML
	default:
		return FormatCSV
	}
}

// PermissibleSuffix reports whether path has a suffix this tool understands.
func PermissibleSuffix(path string) bool {
	switch strings.ToLower(filepath.Ext(trimCompression(path))) {
	case ".csv", ".tsv", ".tab", ".txt", ".html", ".htm":
		return true
	}
	return false
}

func trimCompression(path string) string {
	lower := strings.ToLower(path)
	for _, ext := range []string{".gz", ".zst"} {
		if strings.HasSuffix(lower, ext) {
			return path[:len(path)-len(ext)]
		}
	}
	return path
}
