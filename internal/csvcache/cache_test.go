package csvcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"csvload/internal/config"
	"csvload/internal/source"
)

type fakeLogger struct {
	msgs []string
}

func (l *fakeLogger) Printf(format string, v ...any) {
	l.msgs = append(l.msgs, fmt.Sprintf(format, v...))
}

func job(useHeader bool) config.Job {
	return config.Job{
		Input:     "in.csv",
		UseHeader: &useHeader,
	}.WithDefaults()
}

func load(t *testing.T, in string, j config.Job) (*Cache, *fakeLogger) {
	t.Helper()
	l := &fakeLogger{}
	c, err := LoadReader(context.Background(), j, io.NopCloser(strings.NewReader(in)), l)
	if err != nil {
		t.Fatalf("LoadReader: %v", err)
	}
	return c, l
}

func TestLoad_PadsHeaderToWidestRow(t *testing.T) {
	t.Parallel()

	c, _ := load(t, "a,b\n1,2,3\n", job(true))

	if got, want := c.Header(), []string{"a", "b", "column3"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Header()=%v, want %v", got, want)
	}
	if c.MaxColumnCount() != 3 {
		t.Fatalf("MaxColumnCount()=%d, want 3", c.MaxColumnCount())
	}
	if c.LongestRow() != 3 {
		t.Fatalf("LongestRow()=%d, want 3", c.LongestRow())
	}
}

func TestLoad_BlankHeaderCellNamedOnlyInColumnNames(t *testing.T) {
	t.Parallel()

	c, _ := load(t, "a,,c\n1,2,3\n", job(true))

	if got, want := c.Header(), []string{"a", "", "c"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Header()=%q, want %q", got, want)
	}
	if got, want := c.ColumnNames(), []string{"a", "column2", "c"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ColumnNames()=%q, want %q", got, want)
	}
}

func TestLoad_Headerless(t *testing.T) {
	t.Parallel()

	c, _ := load(t, "name,age\nAlice,30\n", job(false))

	if h := c.Header(); h == nil || len(h) != 0 {
		t.Fatalf("Header()=%#v, want empty non-nil slice", h)
	}
	if c.HasHeader() {
		t.Fatalf("HasHeader()=true in headerless mode")
	}
	if c.Len() != 2 {
		t.Fatalf("Len()=%d, want 2", c.Len())
	}
	if got, want := c.ColumnNames(), []string{"column1", "column2"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ColumnNames()=%v, want %v", got, want)
	}
}

func TestLoad_InvariantsHoldForRaggedInput(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"",
		"a\n",
		"a,b,c\n1\n",
		"a\n1,2,3,4\n5,6\n",
		"x,y\n\n\n1,2\n# c\n3\n",
	}
	for _, in := range inputs {
		for _, hdr := range []bool{true, false} {
			c, _ := load(t, in, job(hdr))
			if c.MaxColumnCount() < len(c.Header()) {
				t.Fatalf("in=%q hdr=%v: MaxColumnCount %d < header %d", in, hdr, c.MaxColumnCount(), len(c.Header()))
			}
			if hdr && c.HasHeader() && len(c.Header()) != c.MaxColumnCount() {
				t.Fatalf("in=%q: header not padded: %v vs %d", in, c.Header(), c.MaxColumnCount())
			}
			for i, r := range c.Rows() {
				if len(r) == 0 {
					t.Fatalf("in=%q: row %d is empty", in, i)
				}
				if len(r) > c.MaxColumnCount() {
					t.Fatalf("in=%q: row %d wider than MaxColumnCount", in, i)
				}
			}
			if c.LongestRow() != c.MaxColumnCount() {
				t.Fatalf("in=%q: LongestRow %d != MaxColumnCount %d", in, c.LongestRow(), c.MaxColumnCount())
			}
		}
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	t.Parallel()

	c, l := load(t, "", job(true))
	if c.Len() != 0 || c.MaxColumnCount() != 0 || len(c.Header()) != 0 {
		t.Fatalf("empty file: len=%d max=%d header=%v", c.Len(), c.MaxColumnCount(), c.Header())
	}
	if len(l.msgs) != 0 {
		t.Fatalf("empty file logged: %v", l.msgs)
	}
}

func TestLoad_HeaderErrorDegradesToHeaderless(t *testing.T) {
	t.Parallel()

	c, l := load(t, "a,\"b\"x\n1,2\n", job(true))
	if c.HasHeader() {
		t.Fatalf("HasHeader()=true after header error")
	}
	if c.Stats().HeaderErr == nil {
		t.Fatalf("Stats().HeaderErr not set")
	}
	if got, want := c.ColumnNames(), []string{"column1", "column2"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ColumnNames()=%v, want %v", got, want)
	}
	if len(l.msgs) != 1 || !strings.Contains(l.msgs[0], "header") {
		t.Fatalf("log=%v, want one header message", l.msgs)
	}
}

func TestLoad_BadRowSkippedAndLogged(t *testing.T) {
	t.Parallel()

	c, l := load(t, "a,b\n1,2\n3,\"x\"y\n5,6\n", job(true))
	if got, want := c.Rows(), [][]string{{"1", "2"}, {"5", "6"}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Rows()=%v, want %v", got, want)
	}
	if c.Stats().Skipped != 1 {
		t.Fatalf("Skipped=%d, want 1", c.Stats().Skipped)
	}
	if len(l.msgs) != 1 || !strings.Contains(l.msgs[0], "line 3") {
		t.Fatalf("log=%v, want one message naming line 3", l.msgs)
	}
}

func TestRowsIter_Restartable(t *testing.T) {
	t.Parallel()

	c, _ := load(t, "h\n1\n2\n3\n", job(true))
	collect := func() []string {
		var out []string
		for _, r := range c.RowsIter() {
			out = append(out, r[0])
		}
		return out
	}
	first, second := collect(), collect()
	if !reflect.DeepEqual(first, []string{"1", "2", "3"}) || !reflect.DeepEqual(first, second) {
		t.Fatalf("first=%v second=%v", first, second)
	}

	var n int
	for range c.RowsIter() {
		n++
		break
	}
	if n != 1 {
		t.Fatalf("early break visited %d rows", n)
	}
}

func TestNthInRows(t *testing.T) {
	t.Parallel()

	c, _ := load(t, "a,b,c\n1,2,3\n4\n", job(true))

	got := c.NthInRows(1)
	want := []Cell{{Value: "2", OK: true}, {}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("NthInRows(1)=%v, want %v", got, want)
	}
	if got := c.NthInRows(3); len(got) != 0 {
		t.Fatalf("NthInRows(3)=%v, want empty", got)
	}
	if got := c.NthInRows(-1); len(got) != 0 {
		t.Fatalf("NthInRows(-1)=%v, want empty", got)
	}
}

func TestHeader_ReturnsCopy(t *testing.T) {
	t.Parallel()

	c, _ := load(t, "a,b\n1,2\n", job(true))
	h := c.Header()
	h[0] = "mutated"
	if c.Header()[0] != "a" {
		t.Fatalf("cache header mutated through Header()")
	}
}

func TestLoad_OpenErrorIsFatal(t *testing.T) {
	t.Parallel()

	_, err := Load(context.Background(), job(true), filepath.Join(t.TempDir(), "missing.csv"), nil)
	if !errors.Is(err, source.ErrOpen) {
		t.Fatalf("err=%v, want source.ErrOpen", err)
	}
}

func TestLoad_FromFileTSV(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "people.tsv")
	if err := os.WriteFile(p, []byte("name\tage\nAlice\t30\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	j := config.Job{Input: p}.WithDefaults()
	c, err := Load(context.Background(), j, p, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := c.Rows(), [][]string{{"Alice", "30"}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Rows()=%v, want %v", got, want)
	}
}

func TestLoad_HTMLFormat(t *testing.T) {
	t.Parallel()

	j := config.Job{Input: "report.html"}.WithDefaults()
	doc := `<table><tr><th>name</th></tr><tr><td>Alice</td><td>30</td></tr><tr></tr></table>`
	c, _ := load(t, doc, j)
	if got, want := c.Header(), []string{"name", "column2"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Header()=%v, want %v", got, want)
	}
	if c.Len() != 1 || c.Stats().Blank != 1 {
		t.Fatalf("Len()=%d Blank=%d, want 1 and 1", c.Len(), c.Stats().Blank)
	}
}
