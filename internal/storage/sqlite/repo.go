package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"csvload/internal/storage"
)

// Repo implements storage.Repository for SQLite.
//
// Notes:
//   - Every loaded column is declared TEXT, so values keep TEXT affinity and
//     round-trip byte for byte.
//   - The pool is capped at one connection. With modernc.org/sqlite each
//     connection to ":memory:" is a separate database, and a single writer
//     avoids SQLITE_BUSY on file databases.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

// New opens the SQLite database named by cfg.DSN (a file path, a file: URI
// or ":memory:").
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlite: empty dsn")
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureTable runs CREATE TABLE IF NOT EXISTS for spec.
func (r *Repo) EnsureTable(ctx context.Context, spec storage.TableSpec) error {
	q, err := buildCreateTableSQL(spec)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create table %s: %w", spec.Name, err)
	}
	return nil
}

func (r *Repo) DropTable(ctx context.Context, table string) error {
	if err := storage.ValidateIdent(table); err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+sqlIdent(table)); err != nil {
		return fmt.Errorf("drop table %s: %w", table, err)
	}
	return nil
}

// TableColumns reads PRAGMA table_info. A missing table yields no rows.
func (r *Repo) TableColumns(ctx context.Context, table string) ([]string, error) {
	if err := storage.ValidateIdent(table); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, "PRAGMA table_info("+sqlIdent(table)+")")
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (r *Repo) InsertRow(ctx context.Context, table string, columns []string, values []any) (int64, error) {
	q, err := buildInsertSQL(table, columns, len(values))
	if err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, q, values...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// sqlIdent quotes an identifier for SQLite.
func sqlIdent(id string) string {
	return storage.QuoteIdent(id)
}

// buildCreateTableSQL renders the DDL for spec.
//
// The key becomes the first column, INTEGER PRIMARY KEY AUTOINCREMENT, so it
// aliases the rowid and counts up from 1 in insertion order.
func buildCreateTableSQL(spec storage.TableSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	parts := make([]string, 0, len(spec.Columns)+1)
	if spec.Key != "" {
		parts = append(parts, fmt.Sprintf(`%s INTEGER PRIMARY KEY AUTOINCREMENT`, sqlIdent(spec.Key)))
	}
	for _, c := range spec.Columns {
		parts = append(parts, fmt.Sprintf("%s %s", sqlIdent(c.Name), c.Type))
	}

	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s)`, sqlIdent(spec.Name), strings.Join(parts, ", ")), nil
}

// buildInsertSQL renders a single-row INSERT with ? placeholders.
func buildInsertSQL(table string, columns []string, nvalues int) (string, error) {
	if err := storage.ValidateIdent(table); err != nil {
		return "", err
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("insert %s: no columns", table)
	}
	if len(columns) != nvalues {
		return "", fmt.Errorf("insert %s: %d columns but %d values", table, len(columns), nvalues)
	}
	cols := make([]string, 0, len(columns))
	for _, c := range columns {
		if err := storage.ValidateIdent(c); err != nil {
			return "", err
		}
		cols = append(cols, sqlIdent(c))
	}
	ph := strings.TrimRight(strings.Repeat("?,", len(columns)), ",")
	return fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, sqlIdent(table), strings.Join(cols, ", "), ph), nil
}
