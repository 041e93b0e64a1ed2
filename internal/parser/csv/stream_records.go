package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"csvload/internal/config"
	"csvload/internal/parser"
)

// CommentPrefix starts a comment line. Lines beginning with it are skipped.
const CommentPrefix = '#'

// StreamRecords reads delimited records from src and hands them to h in file
// order. src is always closed.
//
// Recognized options:
//   - has_header (bool, default true): first record is the header
//   - comma (string, default ","): field delimiter, `\t` accepted
//   - lazy_quotes (bool, default false)
//   - trim_space (bool, default false): trim fields and header names
//
// Rows may have any width. A record that fails to parse is reported through
// h.Error and skipped. A header that fails to parse is reported wrapped in
// parser.ErrHeader and the stream continues headerless. Any other read error
// ends the stream with parser.ErrTruncated.
func StreamRecords(ctx context.Context, src io.ReadCloser, opt config.Options, h parser.Handler) error {
	defer src.Close()

	hasHeader := opt.Bool("has_header", true)
	comma := opt.Rune("comma", ',')
	trim := opt.Bool("trim_space", false)

	cr := csv.NewReader(src)
	cr.Comma = comma
	cr.Comment = CommentPrefix
	cr.LazyQuotes = opt.Bool("lazy_quotes", false)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	var n int
	readRec := func() ([]string, int, error) {
		n++
		rec, err := cr.Read()
		line := n
		if err == nil {
			line, _ = cr.FieldPos(0)
		}
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			line = pe.StartLine
		}
		if trim {
			for i := range rec {
				rec[i] = strings.TrimSpace(rec[i])
			}
		}
		return rec, line, err
	}

	if hasHeader {
		hdr, line, err := readRec()
		switch {
		case err == io.EOF:
			return nil
		case err != nil:
			h.EmitError(line, fmt.Errorf("%w: %w", parser.ErrHeader, err))
			if !isParseError(err) {
				return fmt.Errorf("%w: %w", parser.ErrTruncated, err)
			}
		default:
			h.EmitHeader(hdr)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, line, err := readRec()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if !isParseError(err) {
				return fmt.Errorf("%w: line %d: %w", parser.ErrTruncated, line, err)
			}
			h.EmitError(line, fmt.Errorf("csv read: %w", err))
			continue
		}

		if err := h.EmitRecord(line, rec); err != nil {
			return err
		}
	}
}

func isParseError(err error) bool {
	var pe *csv.ParseError
	return errors.As(err, &pe)
}
