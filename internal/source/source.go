// Package source opens ingestion inputs: plain, gzip or zstd files (or stdin),
// decoded from a configured charset into UTF-8.
package source

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrOpen marks failures to open or decode the input stream. These are the
// only fatal input errors; everything after a successful open degrades per
// record.
var ErrOpen = errors.New("open input")

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Stdin is swapped in tests.
var Stdin io.Reader = os.Stdin

// Open returns a UTF-8 reader over path. "-" reads Stdin.
//
// Compression is detected from magic bytes rather than the file suffix, so a
// mislabeled file still loads. charset is any name known to the WHATWG
// encoding index ("windows-1250", "latin2", "utf-16le", ...); empty means
// UTF-8. A leading UTF-8 BOM is always dropped.
func Open(path, charset string) (io.ReadCloser, error) {
	var (
		raw io.Reader
		cl  io.Closer = io.NopCloser(nil)
	)
	if path == "-" {
		raw = Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrOpen, err)
		}
		raw, cl = f, f
	}

	rc, err := Wrap(raw, charset)
	if err != nil {
		_ = cl.Close()
		return nil, err
	}
	return &readCloser{Reader: rc, closers: []io.Closer{rc, cl}}, nil
}

// Wrap applies decompression and charset decoding to an already open reader.
// Closing the returned reader releases the decompressor only.
func Wrap(r io.Reader, charset string) (io.ReadCloser, error) {
	enc, err := lookupCharset(charset)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}

	br := bufio.NewReader(r)
	head, _ := br.Peek(4)

	var (
		dec io.Reader = br
		cl  io.Closer = io.NopCloser(nil)
	)
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %w", ErrOpen, err)
		}
		dec, cl = gz, gz
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %w", ErrOpen, err)
		}
		rc := zr.IOReadCloser()
		dec, cl = rc, rc
	}

	var out io.Reader
	if enc == nil {
		out = transform.NewReader(dec, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	} else {
		out = transform.NewReader(dec, unicode.BOMOverride(enc.NewDecoder()))
	}
	return &readCloser{Reader: out, closers: []io.Closer{cl}}, nil
}

func lookupCharset(name string) (encoding.Encoding, error) {
	name = strings.TrimSpace(name)
	switch strings.ToLower(name) {
	case "", "utf-8", "utf8":
		return nil, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	return enc, nil
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
