package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"csvload/internal/storage"
)

/*
Repo implements storage.Repository for Postgres.

Table names are a single quoted identifier: "public.people" creates a table
literally named public.people in the connection's search_path schema. Loaded
columns are TEXT; a surrogate key is a BIGINT identity column.
*/
type Repo struct {
	conn pgConn
}

// pgConn is the subset of *pgxpool.Pool the repo uses. Tests swap in a fake.
type pgConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

func init() {
	storage.Register("postgres", New)
}

// New opens a single-connection pool to cfg.DSN.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	pcfg.MaxConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{conn: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.conn.Close()
}

// EnsureTable creates the table if missing. It is idempotent.
func (r *Repo) EnsureTable(ctx context.Context, spec storage.TableSpec) error {
	q, err := buildCreateTableSQL(spec)
	if err != nil {
		return err
	}
	if _, err := r.conn.Exec(ctx, q); err != nil {
		return fmt.Errorf("create table %s: %w", spec.Name, err)
	}
	return nil
}

func (r *Repo) DropTable(ctx context.Context, table string) error {
	if err := storage.ValidateIdent(table); err != nil {
		return err
	}
	if _, err := r.conn.Exec(ctx, "DROP TABLE IF EXISTS "+pgIdent(table)); err != nil {
		return fmt.Errorf("drop table %s: %w", table, err)
	}
	return nil
}

// TableColumns resolves table through the search_path like any unqualified
// reference, so only the first schema holding it counts.
func (r *Repo) TableColumns(ctx context.Context, table string) ([]string, error) {
	if err := storage.ValidateIdent(table); err != nil {
		return nil, err
	}
	rows, err := r.conn.Query(ctx, tableColumnsSQL, pgIdent(table))
	if err != nil {
		return nil, fmt.Errorf("table columns %s: %w", table, err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("table columns %s: %w", table, err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (r *Repo) InsertRow(ctx context.Context, table string, columns []string, values []any) (int64, error) {
	q, err := buildInsertSQL(table, columns, len(values))
	if err != nil {
		return 0, err
	}
	tag, err := r.conn.Exec(ctx, q, values...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const tableColumnsSQL = `SELECT attname::text
FROM pg_attribute
WHERE attrelid = to_regclass($1) AND attnum > 0 AND NOT attisdropped
ORDER BY attnum`

// pgIdent quotes an identifier for Postgres.
func pgIdent(id string) string {
	return storage.QuoteIdent(id)
}

func buildCreateTableSQL(spec storage.TableSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	parts := make([]string, 0, len(spec.Columns)+1)
	if spec.Key != "" {
		parts = append(parts, fmt.Sprintf(`%s BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY`, pgIdent(spec.Key)))
	}
	for _, c := range spec.Columns {
		parts = append(parts, fmt.Sprintf("%s %s", pgIdent(c.Name), c.Type))
	}

	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`, pgIdent(spec.Name), strings.Join(parts, ", ")), nil
}

// buildInsertSQL renders a single-row INSERT with $n placeholders.
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

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if err := storage.ValidateIdent(c); err != nil {
			return "", err
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES (")
	for i := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", i+1)
	}
	b.WriteString(")")
	return b.String(), nil
}
