package csv

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"csvload/internal/config"
	"csvload/internal/parser"
)

type collected struct {
	header  []string
	records [][]string
	lines   []int
	errs    []error
}

func (c *collected) handler() parser.Handler {
	return parser.Handler{
		Header: func(f []string) { c.header = append([]string(nil), f...) },
		Record: func(line int, f []string) error {
			c.records = append(c.records, append([]string(nil), f...))
			c.lines = append(c.lines, line)
			return nil
		},
		Error: func(line int, err error) { c.errs = append(c.errs, err) },
	}
}

func stream(t *testing.T, in string, opt config.Options) (*collected, error) {
	t.Helper()
	c := &collected{}
	err := StreamRecords(context.Background(), io.NopCloser(strings.NewReader(in)), opt, c.handler())
	return c, err
}

func TestStreamRecords_HeaderAndRaggedRows(t *testing.T) {
	t.Parallel()

	c, err := stream(t, "name,age\nAlice,30\nBob\n", nil)
	if err != nil {
		t.Fatalf("StreamRecords: %v", err)
	}
	if !reflect.DeepEqual(c.header, []string{"name", "age"}) {
		t.Fatalf("header=%v", c.header)
	}
	want := [][]string{{"Alice", "30"}, {"Bob"}}
	if !reflect.DeepEqual(c.records, want) {
		t.Fatalf("records=%v, want %v", c.records, want)
	}
	if !reflect.DeepEqual(c.lines, []int{2, 3}) {
		t.Fatalf("lines=%v, want [2 3]", c.lines)
	}
}

func TestStreamRecords_OptionsTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		in         string
		opt        config.Options
		wantHeader []string
		want       [][]string
	}{
		{
			name: "no_header",
			in:   "a,b\nc,d\n",
			opt:  config.Options{"has_header": false},
			want: [][]string{{"a", "b"}, {"c", "d"}},
		},
		{
			name:       "tab_delimiter",
			in:         "x\ty\n1\t2\n",
			opt:        config.Options{"comma": `\t`},
			wantHeader: []string{"x", "y"},
			want:       [][]string{{"1", "2"}},
		},
		{
			name:       "comments_and_blank_lines_skipped",
			in:         "# generated\nh1,h2\n\n# note\n1,2\n\n",
			wantHeader: []string{"h1", "h2"},
			want:       [][]string{{"1", "2"}},
		},
		{
			name:       "trim_space",
			in:         " a , b \n 1 ,2\n",
			opt:        config.Options{"trim_space": true},
			wantHeader: []string{"a", "b"},
			want:       [][]string{{"1", "2"}},
		},
		{
			name:       "semicolon",
			in:         "a;b\n\"x;y\";z\n",
			opt:        config.Options{"comma": ";"},
			wantHeader: []string{"a", "b"},
			want:       [][]string{{"x;y", "z"}},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c, err := stream(t, tc.in, tc.opt)
			if err != nil {
				t.Fatalf("StreamRecords: %v", err)
			}
			if !reflect.DeepEqual(c.header, tc.wantHeader) {
				t.Fatalf("header=%#v, want %#v", c.header, tc.wantHeader)
			}
			if !reflect.DeepEqual(c.records, tc.want) {
				t.Fatalf("records=%#v, want %#v", c.records, tc.want)
			}
		})
	}
}

func TestStreamRecords_BadRecordIsSkipped(t *testing.T) {
	t.Parallel()

	c, err := stream(t, "a,b\n1,2\nx,\"bad\"quote\n3,4\n", nil)
	if err != nil {
		t.Fatalf("StreamRecords: %v", err)
	}
	want := [][]string{{"1", "2"}, {"3", "4"}}
	if !reflect.DeepEqual(c.records, want) {
		t.Fatalf("records=%v, want %v", c.records, want)
	}
	if len(c.errs) != 1 {
		t.Fatalf("errs=%v, want exactly one", c.errs)
	}
}

func TestStreamRecords_BadHeaderDegrades(t *testing.T) {
	t.Parallel()

	c, err := stream(t, "a,\"b\"c\n1,2\n", nil)
	if err != nil {
		t.Fatalf("StreamRecords: %v", err)
	}
	if c.header != nil {
		t.Fatalf("header=%v, want none", c.header)
	}
	if len(c.errs) != 1 || !errors.Is(c.errs[0], parser.ErrHeader) {
		t.Fatalf("errs=%v, want one ErrHeader", c.errs)
	}
	if !reflect.DeepEqual(c.records, [][]string{{"1", "2"}}) {
		t.Fatalf("records=%v", c.records)
	}
}

func TestStreamRecords_EmptyInput(t *testing.T) {
	t.Parallel()

	c, err := stream(t, "", nil)
	if err != nil {
		t.Fatalf("StreamRecords: %v", err)
	}
	if c.header != nil || len(c.records) != 0 || len(c.errs) != 0 {
		t.Fatalf("unexpected output: %+v", c)
	}
}

func TestStreamRecords_HandlerErrorStops(t *testing.T) {
	t.Parallel()

	stop := errors.New("stop")
	var seen int
	h := parser.Handler{Record: func(int, []string) error {
		seen++
		return stop
	}}
	err := StreamRecords(context.Background(), io.NopCloser(strings.NewReader("a\n1\n2\n")), nil, h)
	if !errors.Is(err, stop) {
		t.Fatalf("err=%v, want stop", err)
	}
	if seen != 1 {
		t.Fatalf("seen=%d, want 1", seen)
	}
}

func TestStreamRecords_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := StreamRecords(ctx, io.NopCloser(strings.NewReader("a\n1\n")), nil, parser.Handler{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
}

type failingReader struct{ data *strings.Reader }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.data.Len() == 0 {
		return 0, errors.New("disk on fire")
	}
	return r.data.Read(p)
}

func TestStreamRecords_IOErrorTruncates(t *testing.T) {
	t.Parallel()

	c := &collected{}
	src := io.NopCloser(&failingReader{data: strings.NewReader("a\n1\n")})
	err := StreamRecords(context.Background(), src, nil, c.handler())
	if !errors.Is(err, parser.ErrTruncated) {
		t.Fatalf("err=%v, want ErrTruncated", err)
	}
	if !reflect.DeepEqual(c.records, [][]string{{"1"}}) {
		t.Fatalf("records=%v", c.records)
	}
}
