// TableSpec lives here so the loader and the backend packages can share it
// without import cycles.
package storage

import (
	"fmt"
	"strings"
)

type TableSpec struct {
	Name string
	// Key names an auto-increment integer primary key column placed before
	// Columns. Empty means the table has no key.
	Key     string
	Columns []ColumnSpec
}

type ColumnSpec struct {
	Name string
	// Type is "TEXT" for every loaded column; backends map it to their own
	// text type.
	Type string
}

// Validate checks identifiers before any SQL is built.
func (t TableSpec) Validate() error {
	if err := ValidateIdent(t.Name); err != nil {
		return fmt.Errorf("table name: %w", err)
	}
	if len(t.Columns) == 0 && t.Key == "" {
		return fmt.Errorf("table %s: no columns", t.Name)
	}
	if t.Key != "" {
		if err := ValidateIdent(t.Key); err != nil {
			return fmt.Errorf("table %s: key: %w", t.Name, err)
		}
		if t.ColumnIndex(t.Key) >= 0 {
			return fmt.Errorf("table %s: key %q is also a loaded column", t.Name, t.Key)
		}
	}
	for _, c := range t.Columns {
		if err := ValidateIdent(c.Name); err != nil {
			return fmt.Errorf("table %s: column: %w", t.Name, err)
		}
		if strings.TrimSpace(c.Type) == "" {
			return fmt.Errorf("table %s: column %s: type is empty", t.Name, c.Name)
		}
	}
	return nil
}

// ColumnIndex returns the position of name among Columns by NormalizeName,
// or -1.
func (t TableSpec) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if NormalizeName(c.Name) == NormalizeName(name) {
			return i
		}
	}
	return -1
}
