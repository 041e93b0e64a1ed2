// Package csvcache loads a delimited file into memory and resolves its column
// layout.
//
// The cache tolerates ragged input: rows may be shorter or longer than the
// header and than each other. After Load the cache is immutable, so it can be
// read from several goroutines without locking.
package csvcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log"

	"csvload/internal/config"
	"csvload/internal/parser"
	csvparser "csvload/internal/parser/csv"
	htmlparser "csvload/internal/parser/html"
	"csvload/internal/source"
)

// Logger is the minimal logging interface used while loading.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Stats describes what happened while loading.
type Stats struct {
	// Records counts data records delivered by the parser, blank ones included.
	Records int
	// Blank counts records with zero fields; they are not kept.
	Blank int
	// Skipped counts records that failed to parse.
	Skipped int
	// HeaderErr is set when the header could not be read and the cache fell
	// back to headerless mode.
	HeaderErr error
	// Truncated is set when the input ended with a read error.
	Truncated error
}

// Cache is the parsed content of one delimited file.
type Cache struct {
	header         []string
	hasHeader      bool
	rows           [][]string
	maxColumnCount int
	prefix         string
	stats          Stats
}

type streamFunc func(ctx context.Context, src io.ReadCloser, opt config.Options, h parser.Handler) error

// Load opens path (see source.Open) and reads it according to job.
//
// Only failure to open the input is an error. Header and record parse
// failures are logged and degrade gracefully; see Stats.
func Load(ctx context.Context, job config.Job, path string, logger Logger) (*Cache, error) {
	src, err := source.Open(path, job.Encoding)
	if err != nil {
		return nil, err
	}
	return LoadReader(ctx, job, src, logger)
}

// LoadReader is Load for an already open stream. src is always closed.
func LoadReader(ctx context.Context, job config.Job, src io.ReadCloser, logger Logger) (*Cache, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	var stream streamFunc
	switch job.Format {
	case config.FormatHTML:
		stream = htmlparser.StreamRecords
	case config.FormatCSV, config.FormatTSV, "":
		stream = csvparser.StreamRecords
	default:
		_ = src.Close()
		return nil, fmt.Errorf("unsupported format %q", job.Format)
	}

	c := &Cache{prefix: job.DefaultColumnPrefix}
	h := parser.Handler{
		Header: func(fields []string) {
			c.header = append([]string(nil), fields...)
			c.hasHeader = true
			c.maxColumnCount = len(c.header)
		},
		Record: func(_ int, fields []string) error {
			c.stats.Records++
			if len(fields) == 0 {
				c.stats.Blank++
				return nil
			}
			c.rows = append(c.rows, append([]string(nil), fields...))
			c.maxColumnCount = max(c.maxColumnCount, len(fields))
			return nil
		},
		Error: func(line int, err error) {
			if errors.Is(err, parser.ErrHeader) {
				c.stats.HeaderErr = err
				logger.Printf("error reading header (line %d): %v; continuing without header", line, err)
				return
			}
			c.stats.Skipped++
			logger.Printf("error reading record (line %d): %v; skipped", line, err)
		},
	}

	err := stream(ctx, src, job.Options(), h)
	switch {
	case err == nil:
	case errors.Is(err, parser.ErrTruncated):
		c.stats.Truncated = err
		logger.Printf("error reading input: %v; keeping %d rows read so far", err, len(c.rows))
	default:
		return nil, err
	}

	c.padHeader()
	return c, nil
}

// padHeader extends a present header with generated names so it is at least
// as wide as the widest row.
func (c *Cache) padHeader() {
	if !c.hasHeader {
		return
	}
	for i := len(c.header); i < c.maxColumnCount; i++ {
		c.header = append(c.header, ColumnName(nil, c.prefix, i))
	}
}

// Header returns the (padded) header cells as read, or an empty slice when no
// header is in effect. The result is a copy. Blank cells stay blank here;
// ColumnNames holds the names actually used for the table.
func (c *Cache) Header() []string {
	if !c.hasHeader {
		return []string{}
	}
	return append([]string(nil), c.header...)
}

// HasHeader reports whether a header was requested and read successfully.
func (c *Cache) HasHeader() bool { return c.hasHeader }

// Rows returns the data rows in file order. The slices are shared with the
// cache and must not be modified.
func (c *Cache) Rows() [][]string { return c.rows }

// RowsIter yields (index, row) pairs in file order. It can be ranged over any
// number of times.
func (c *Cache) RowsIter() iter.Seq2[int, []string] {
	return func(yield func(int, []string) bool) {
		for i, r := range c.rows {
			if !yield(i, r) {
				return
			}
		}
	}
}

// Len is the number of data rows.
func (c *Cache) Len() int { return len(c.rows) }

// MaxColumnCount is the widest of the header and every row.
func (c *Cache) MaxColumnCount() int { return c.maxColumnCount }

// LongestRow recomputes max(len(header), len(row) for every row). It always
// equals MaxColumnCount; callers sizing placeholders use it.
func (c *Cache) LongestRow() int {
	n := len(c.header)
	for _, r := range c.rows {
		n = max(n, len(r))
	}
	return n
}

// DefaultColumnPrefix is the stem used for generated column names.
func (c *Cache) DefaultColumnPrefix() string { return c.prefix }

// Stats reports load diagnostics.
func (c *Cache) Stats() Stats { return c.stats }

// Cell is one value of a column lookup. OK is false when the row is too short
// to have the column.
type Cell struct {
	Value string
	OK    bool
}

// NthInRows returns column (0-based) of every row. It returns nil when column
// is outside [0, MaxColumnCount).
func (c *Cache) NthInRows(column int) []Cell {
	if column < 0 || column >= c.maxColumnCount {
		return nil
	}
	out := make([]Cell, len(c.rows))
	for i, r := range c.rows {
		if column < len(r) {
			out[i] = Cell{Value: r[column], OK: true}
		}
	}
	return out
}
