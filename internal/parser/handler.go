// Package parser defines the contract shared by the record parsers in its
// subpackages (csv, html).
package parser

import "errors"

// ErrHeader wraps a failure to read the header record. Parsers report it
// through Handler.Error and then continue in headerless mode.
var ErrHeader = errors.New("read header")

// ErrTruncated wraps a non-recoverable read failure in the middle of the
// stream (e.g. a corrupt compressed input). Records delivered before it stay
// valid.
var ErrTruncated = errors.New("input truncated")

// Handler receives parser output in file order.
//
// Fields slices passed to Header and Record may be reused by the parser after
// the callback returns; handlers must copy what they keep.
type Handler struct {
	// Header is called at most once, only when a header was requested and read.
	Header func(fields []string)

	// Record is called for every successfully parsed data record. A non-nil
	// return stops the stream and is returned by the parser.
	Record func(line int, fields []string) error

	// Error is called for every record that failed to parse. The parser moves
	// on to the next record afterwards.
	Error func(line int, err error)
}

// EmitHeader forwards fields to h.Header when set.
func (h Handler) EmitHeader(fields []string) {
	if h.Header != nil {
		h.Header(fields)
	}
}

// EmitRecord forwards a data record to h.Record when set.
func (h Handler) EmitRecord(line int, fields []string) error {
	if h.Record != nil {
		return h.Record(line, fields)
	}
	return nil
}

// EmitError forwards a per-record failure to h.Error when set.
func (h Handler) EmitError(line int, err error) {
	if h.Error != nil {
		h.Error(line, err)
	}
}
