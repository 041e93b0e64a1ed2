package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"csvload/internal/storage"
)

// Repo implements storage.Repository for Microsoft SQL Server.
//
// Loaded columns are NVARCHAR(MAX); the key column is BIGINT IDENTITY(1,1).
//
// Note on driver registration:
//   - This package does NOT blank-import a SQL Server driver. The
//     "sqlserver" driver is registered by internal/storage/all.
type Repo struct {
	db dbConn
}

func init() {
	storage.Register("mssql", New)
}

// New opens cfg.DSN with the "sqlserver" driver and verifies connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	raw.SetMaxOpenConns(1)
	raw.SetMaxIdleConns(1)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: &sqlDB{db: raw}}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureTable creates the table behind an OBJECT_ID guard. It is idempotent.
func (r *Repo) EnsureTable(ctx context.Context, spec storage.TableSpec) error {
	q, err := buildCreateTableSQL(spec)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("mssql: create table %s: %w", spec.Name, err)
	}
	return nil
}

func (r *Repo) DropTable(ctx context.Context, table string) error {
	if err := storage.ValidateIdent(table); err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+msIdent(table)+";"); err != nil {
		return fmt.Errorf("mssql: drop table %s: %w", table, err)
	}
	return nil
}

// TableColumns lists sys.columns for the table in column_id order. A missing
// table makes OBJECT_ID return NULL, which matches no rows.
func (r *Repo) TableColumns(ctx context.Context, table string) ([]string, error) {
	if err := storage.ValidateIdent(table); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, tableColumnsSQL, msIdent(table))
	if err != nil {
		return nil, fmt.Errorf("mssql: table columns %s: %w", table, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
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

const tableColumnsSQL = `SELECT name FROM sys.columns WHERE object_id = OBJECT_ID(@p1, N'U') ORDER BY column_id;`

// msIdent quotes an identifier with brackets, doubling any closing bracket.
func msIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}

// nString renders s as an N'...' literal.
func nString(s string) string {
	return "N'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// columnType maps the loader's portable TEXT type to NVARCHAR.
func columnType(c storage.ColumnSpec) string {
	if !strings.EqualFold(c.Type, "TEXT") {
		return c.Type
	}
	return "NVARCHAR(MAX)"
}

// buildCreateTableSQL wraps CREATE TABLE in an OBJECT_ID guard, since SQL
// Server has no CREATE TABLE IF NOT EXISTS.
func buildCreateTableSQL(spec storage.TableSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	defs := make([]string, 0, len(spec.Columns)+1)
	if spec.Key != "" {
		defs = append(defs, fmt.Sprintf("%s BIGINT IDENTITY(1,1) PRIMARY KEY", msIdent(spec.Key)))
	}
	for _, c := range spec.Columns {
		defs = append(defs, fmt.Sprintf("%s %s", msIdent(c.Name), columnType(c)))
	}

	table := msIdent(spec.Name)
	return fmt.Sprintf(
		"IF OBJECT_ID(%s, N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		nString(table),
		table,
		strings.Join(defs, ", "),
	), nil
}

// buildInsertSQL renders a single-row INSERT with @pN placeholders.
func buildInsertSQL(table string, columns []string, nvalues int) (string, error) {
	if err := storage.ValidateIdent(table); err != nil {
		return "", err
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("mssql: insert %s: columns is empty", table)
	}
	if len(columns) != nvalues {
		return "", fmt.Errorf("mssql: insert %s: %d columns but %d values", table, len(columns), nvalues)
	}

	cols := make([]string, 0, len(columns))
	phs := make([]string, 0, len(columns))
	for i, c := range columns {
		if err := storage.ValidateIdent(c); err != nil {
			return "", err
		}
		cols = append(cols, msIdent(c))
		phs = append(phs, fmt.Sprintf("@p%d", i+1))
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s);",
		msIdent(table),
		strings.Join(cols, ", "),
		strings.Join(phs, ", "),
	), nil
}

// dbConn is a small interface over *sql.DB used for testability.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (rowsScanner, error)
	Close() error
}

// rowsScanner is the part of *sql.Rows the repo reads.
type rowsScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// sqlDB wraps *sql.DB to implement dbConn.
type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) QueryContext(ctx context.Context, query string, args ...any) (rowsScanner, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func (s *sqlDB) Close() error { return s.db.Close() }
