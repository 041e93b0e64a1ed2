package config

import (
	"strings"
	"testing"
)

func validJob() Job {
	return Job{Input: "people.csv"}.WithDefaults()
}

func TestValidate_DefaultsAreValid(t *testing.T) {
	t.Parallel()

	if issues := Validate(validJob()); len(issues) != 0 {
		t.Fatalf("issues=%v", issues)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mutate   func(*Job)
		path     string
		severity Severity
	}{
		{name: "missing_input", mutate: func(j *Job) { j.Input = "" }, path: "input", severity: SeverityError},
		{name: "odd_suffix_warns", mutate: func(j *Job) { j.Input = "people.dat" }, path: "input", severity: SeverityWarning},
		{name: "bad_format", mutate: func(j *Job) { j.Format = "xlsx" }, path: "format", severity: SeverityError},
		{name: "multi_char_delimiter", mutate: func(j *Job) { j.Delimiter = ";;" }, path: "delimiter", severity: SeverityError},
		{name: "comment_char_delimiter", mutate: func(j *Job) { j.Delimiter = "#" }, path: "delimiter", severity: SeverityError},
		{name: "quote_delimiter", mutate: func(j *Job) { j.Delimiter = `"` }, path: "delimiter", severity: SeverityError},
		{name: "missing_table", mutate: func(j *Job) { j.TableName = " " }, path: "table", severity: SeverityError},
		{name: "nul_table", mutate: func(j *Job) { j.TableName = "a\x00b" }, path: "table", severity: SeverityError},
		{name: "nul_prefix", mutate: func(j *Job) { j.DefaultColumnPrefix = "c\x00" }, path: "default_column_prefix", severity: SeverityError},
		{name: "bad_mode", mutate: func(j *Job) { j.Mode = "upsert" }, path: "mode", severity: SeverityError},
		{name: "bad_kind", mutate: func(j *Job) { j.Storage.Kind = "oracle" }, path: "storage.kind", severity: SeverityError},
		{name: "missing_dsn", mutate: func(j *Job) { j.Storage.DSN = "" }, path: "storage.dsn", severity: SeverityError},
		{name: "index_on_source_column", mutate: func(j *Job) { j.IndexColumn = strPtr("email") }, path: "index_column", severity: SeverityError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			j := validJob()
			tc.mutate(&j)
			issues := Validate(j)

			var found bool
			for _, iss := range issues {
				if iss.Path == tc.path && iss.Severity == tc.severity {
					found = true
				}
			}
			if !found {
				t.Fatalf("no %s issue at %q; got %v", tc.severity, tc.path, issues)
			}
			if got := HasErrors(issues); got != (tc.severity == SeverityError) {
				t.Fatalf("HasErrors()=%v for %v", got, issues)
			}
		})
	}
}

func TestValidate_TabDelimiterAccepted(t *testing.T) {
	t.Parallel()

	j := validJob()
	j.Delimiter = "tab"
	if issues := Validate(j); HasErrors(issues) {
		t.Fatalf("issues=%v", issues)
	}
}

func TestIssueString(t *testing.T) {
	t.Parallel()

	s := Issue{Severity: SeverityError, Path: "mode", Message: "bad"}.String()
	if !strings.Contains(s, "error: mode: bad") {
		t.Fatalf("String()=%q", s)
	}
}

func TestValidate_UnderivableTableName(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"dir/.csv", "-"} {
		j := Job{Input: in}.WithDefaults()
		var msg string
		for _, iss := range Validate(j) {
			if iss.Path == "table" && iss.Severity == SeverityError {
				msg = iss.Message
			}
		}
		if msg != "table name is required (could not derive one from input)" {
			t.Fatalf("input %q: table issue %q; got %v", in, msg, Validate(j))
		}
	}
}
