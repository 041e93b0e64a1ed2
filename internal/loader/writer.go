// Package loader writes a csvcache.Cache into one relational table.
//
// Row policy: every row is padded, never skipped. Columns and values are both
// padded on the right to the longer of the two; missing values become "" and
// missing column names are generated from the default prefix. Each row is
// one INSERT in autocommit mode, so a failed row never affects its
// neighbours.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"csvload/internal/csvcache"
	"csvload/internal/storage"
)

// ErrCreateTable marks a failed CREATE TABLE. Loading stops on it, since
// every insert would fail against a missing table.
var ErrCreateTable = errors.New("create table")

// Logger is the minimal logging interface used by the writer.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Writer creates the target table and inserts rows through Repo.
type Writer struct {
	Repo   storage.Repository
	Logger Logger

	// DefaultColumnPrefix names columns past the known column set.
	// Empty means csvcache's "column".
	DefaultColumnPrefix string
}

// Result counts what Populate did.
type Result struct {
	RecordsWritten int
	RecordsFailed  int
	// Unexpected counts inserts that reported a row count other than 1.
	// They are also counted as written.
	Unexpected int
}

func (w *Writer) logger() func(format string, v ...any) {
	if w.Logger == nil {
		return log.New(io.Discard, "", 0).Printf
	}
	return w.Logger.Printf
}

func (w *Writer) prefix() string {
	if w.DefaultColumnPrefix == "" {
		return "column"
	}
	return w.DefaultColumnPrefix
}

// TableSpec builds the storage spec for table from descs. key names the
// auto-increment column; empty means none.
func TableSpec(table string, descs []csvcache.ColumnDescriptor, key string) storage.TableSpec {
	cols := make([]storage.ColumnSpec, 0, len(descs))
	for _, d := range descs {
		cols = append(cols, storage.ColumnSpec{Name: d.Name, Type: d.Type})
	}
	return storage.TableSpec{Name: table, Key: key, Columns: cols}
}

// CreateTable creates table with one column per descriptor, if it does not
// exist yet. Calling it twice with the same arguments is a no-op.
func (w *Writer) CreateTable(ctx context.Context, table string, descs []csvcache.ColumnDescriptor, key string) error {
	if w.Repo == nil {
		return fmt.Errorf("loader: Repo is required")
	}
	start := time.Now()
	if err := w.Repo.EnsureTable(ctx, TableSpec(table, descs, key)); err != nil {
		return fmt.Errorf("%w %s: %w", ErrCreateTable, table, err)
	}
	w.logger()("stage=create_table table=%s columns=%d ok duration=%s", table, len(descs), durMS(start))
	return nil
}

// InsertRow inserts one row. columns and values may differ in length; see
// the package doc for the padding rule. A statement affecting other than one
// row is logged as a warning and still counts as success.
func (w *Writer) InsertRow(ctx context.Context, table string, columns, values []string) error {
	_, err := w.insertRow(ctx, table, columns, values)
	return err
}

func (w *Writer) insertRow(ctx context.Context, table string, columns, values []string) (int64, error) {
	if w.Repo == nil {
		return 0, fmt.Errorf("loader: Repo is required")
	}
	cols, args := padRow(columns, values, w.prefix())
	if len(cols) == 0 {
		return 0, fmt.Errorf("insert into %s: empty row", table)
	}

	n, err := w.Repo.InsertRow(ctx, table, cols, args)
	if err != nil {
		return n, err
	}
	if n != 1 {
		w.logger()("warning: insert into %s affected %d rows, expected 1", table, n)
	}
	return n, nil
}

// Populate inserts every row of cache in order, using the cache's resolved
// column names. A failed row is logged and counted; the loop goes on. Only
// ctx cancellation stops it early, returning the counts so far with
// ctx.Err().
func (w *Writer) Populate(ctx context.Context, table string, cache *csvcache.Cache) (Result, error) {
	logf := w.logger()
	columns := cache.ColumnNames()

	var res Result
	for i, row := range cache.RowsIter() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		n, err := w.insertRow(ctx, table, columns, row)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			res.RecordsFailed++
			logf("error adding row #%d: %v", i+1, err)
			continue
		}
		res.RecordsWritten++
		if n != 1 {
			res.Unexpected++
		}
	}
	return res, nil
}

// padRow pads columns and values to the same length. Generated names use the
// 1-based position, like csvcache.ColumnName.
func padRow(columns, values []string, prefix string) ([]string, []any) {
	n := max(len(columns), len(values))
	cols := make([]string, n)
	args := make([]any, n)
	for i := 0; i < n; i++ {
		cols[i] = csvcache.ColumnName(columns, prefix, i)
		if i < len(values) {
			args[i] = values[i]
		} else {
			args[i] = ""
		}
	}
	return cols, args
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }
