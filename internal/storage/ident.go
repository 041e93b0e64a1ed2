package storage

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidIdentifier is returned for table or column names that cannot be
// quoted safely.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// ValidateIdent rejects names no backend can quote: empty (or all-space)
// names and names containing NUL. Everything else, including quotes,
// brackets and reserved words, is quoted and escaped by the backend.
func ValidateIdent(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidIdentifier)
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q contains NUL", ErrInvalidIdentifier, name)
	}
	return nil
}

// QuoteIdent wraps name in double quotes, doubling embedded double quotes.
// This is the ANSI form used by SQLite and Postgres.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// NormalizeName returns the canonical form used to compare column names
// across backends: trimmed and case-folded, since unquoted lookups in SQLite
// and SQL Server are case-insensitive.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// SameColumns reports whether two column lists match by NormalizeName and
// order.
func SameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if NormalizeName(a[i]) != NormalizeName(b[i]) {
			return false
		}
	}
	return true
}
