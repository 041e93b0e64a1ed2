// Package html reads the rows of an HTML <table> as delimited-style records,
// so exported report pages can be loaded the same way as CSV files.
package html

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"csvload/internal/config"
	"csvload/internal/parser"
)

// DefaultSelector picks the table to read.
const DefaultSelector = "table"

// StreamRecords parses src and emits the rows of the first table matched by
// the "selector" option (default "table").
//
// Every <tr> is one record; its <th> and <td> cells are the fields in document
// order. Rows belonging to nested tables are ignored. When has_header is true
// the first row is the header. Cell text is whitespace-trimmed. src is always
// closed.
//
// A document that cannot be parsed at all is returned as an error; a document
// without a matching table yields no records.
func StreamRecords(ctx context.Context, src io.ReadCloser, opt config.Options, h parser.Handler) error {
	defer src.Close()

	doc, err := goquery.NewDocumentFromReader(src)
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}

	selector := opt.String("selector", DefaultSelector)
	table := doc.Find(selector).First()
	if table.Length() == 0 {
		return nil
	}

	hasHeader := opt.Bool("has_header", true)
	var (
		line    int
		stopErr error
	)
	rows := table.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
		// Keep only rows whose closest table is the selected one.
		return tr.Closest("table").IsSelection(table)
	})
	rows.EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		if err := ctx.Err(); err != nil {
			stopErr = err
			return false
		}
		line++

		fields := cellTexts(tr)
		if hasHeader && line == 1 {
			h.EmitHeader(fields)
			return true
		}
		if err := h.EmitRecord(line, fields); err != nil {
			stopErr = err
			return false
		}
		return true
	})
	return stopErr
}

func cellTexts(tr *goquery.Selection) []string {
	cells := tr.ChildrenFiltered("th, td")
	out := make([]string, 0, cells.Length())
	cells.Each(func(_ int, c *goquery.Selection) {
		out = append(out, strings.TrimSpace(c.Text()))
	})
	return out
}
