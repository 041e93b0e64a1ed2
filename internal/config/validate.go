package config

import (
	"fmt"
	"strings"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path uses the JSON field names.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate checks a job that already went through WithDefaults.
func Validate(j Job) []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, a ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if strings.TrimSpace(j.Input) == "" {
		add(SeverityError, "input", "input path is required")
	} else if j.Input != "-" && !PermissibleSuffix(j.Input) {
		add(SeverityWarning, "input", "unrecognized suffix %q; parsing as %s", j.Input, j.Format)
	}

	switch j.Format {
	case FormatCSV, FormatTSV, FormatHTML:
	default:
		add(SeverityError, "format", "unsupported format %q (want csv, tsv or html)", j.Format)
	}

	if r, err := ParseRune(j.Delimiter); err != nil {
		add(SeverityError, "delimiter", "%v", err)
	} else if r == '#' || r == '"' || r == '\r' || r == '\n' {
		add(SeverityError, "delimiter", "delimiter %q is reserved", r)
	}

	if strings.TrimSpace(j.TableName) == "" {
		add(SeverityError, "table", "table name is required (could not derive one from input)")
	}
	if strings.ContainsRune(j.TableName, 0) {
		add(SeverityError, "table", "table name must not contain NUL")
	}
	if strings.ContainsRune(j.DefaultColumnPrefix, 0) {
		add(SeverityError, "default_column_prefix", "prefix must not contain NUL")
	}

	switch j.Mode {
	case ModeCreate, ModeAppend, ModeReplace:
	default:
		add(SeverityError, "mode", "unsupported mode %q (want create, append or replace)", j.Mode)
	}

	switch j.Storage.Kind {
	case "sqlite", "postgres", "mssql":
	default:
		add(SeverityError, "storage.kind", "unsupported storage kind %q", j.Storage.Kind)
	}
	if strings.TrimSpace(j.Storage.DSN) == "" {
		add(SeverityError, "storage.dsn", "dsn is required")
	}

	if idx := j.Index(); idx != IndexAuto && idx != IndexNone {
		add(SeverityError, "index_column", "unsupported index column %q: only auto or none", idx)
	}

	return out
}
