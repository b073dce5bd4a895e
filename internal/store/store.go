// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store persists snapshot tables in a relational database.
// SQLite (mattn/go-sqlite3) is the default backend; PostgreSQL is reached
// through the pgx database/sql driver. Statements are built per backend
// with go-sqlbuilder and executed through sqlx.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/huandu/go-sqlbuilder"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/pdiddy/registry-reconciler/pkg/types"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// insertArgLimit bounds the bind arguments of one INSERT statement.
// SQLite's default limit is 999.
const insertArgLimit = 900

// ColumnType is the logical type of a stored column.
type ColumnType string

const (
	TypeText ColumnType = "text"
	TypeDate ColumnType = "date"
	TypeUUID ColumnType = "uuid"
	TypeBool ColumnType = "bool"
)

// Column declares one column of a table schema.
type Column struct {
	Name string
	Type ColumnType
}

// Schema is an ordered column list.
type Schema []Column

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// Store is the relational collaborator of the pipeline. Values cross the
// interface as strings with the empty string meaning NULL.
type Store interface {
	TableExists(ctx context.Context, name string) (bool, error)
	CreateTable(ctx context.Context, name string, schema Schema) error
	ReadTable(ctx context.Context, name string) (types.Table, error)

	// AppendRows inserts t's rows into the table named t.Name.
	AppendRows(ctx context.Context, t types.Table) error

	// ReplaceRows swaps the table's contents for t's rows in one
	// transaction.
	ReplaceRows(ctx context.Context, t types.Table) error

	Close() error
}

// SQLStore implements Store over database/sql.
type SQLStore struct {
	db     *sqlx.DB
	flavor sqlbuilder.Flavor
	schema string
	logger zerolog.Logger
}

var _ Store = (*SQLStore)(nil)

// Open connects to the database named by cfg. For SQLite the parent
// directory of a file DSN is created first.
func Open(ctx context.Context, cfg types.StoreConfig, logger zerolog.Logger) (*SQLStore, error) {
	var flavor sqlbuilder.Flavor
	switch cfg.Driver {
	case DriverSQLite, "":
		cfg.Driver = DriverSQLite
		flavor = sqlbuilder.SQLite
		if err := ensureSQLiteDir(cfg.DSN); err != nil {
			return nil, err
		}
	case DriverPostgres:
		flavor = sqlbuilder.PostgreSQL
	default:
		return nil, fmt.Errorf("unsupported store driver %q: use %s or %s", cfg.Driver, DriverSQLite, DriverPostgres)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store driver %s: empty DSN", cfg.Driver)
	}
	if cfg.Driver == DriverSQLite && cfg.Schema != "" {
		return nil, fmt.Errorf("store schema %q: schemas are only supported with %s", cfg.Schema, DriverPostgres)
	}

	db, err := sqlx.ConnectContext(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if cfg.Driver == DriverSQLite {
		// One writer; a single connection also keeps :memory: databases shared.
		db.SetMaxOpenConns(1)
	}

	logger.Debug().Str("driver", cfg.Driver).Str("schema", cfg.Schema).Msg("store opened")
	return &SQLStore{db: db, flavor: flavor, schema: cfg.Schema, logger: logger}, nil
}

func ensureSQLiteDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating database directory %s: %w", dir, err)
	}
	return nil
}

// Close releases the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) qualified(name string) string {
	if s.schema == "" {
		return name
	}
	return s.schema + "." + name
}

// TableExists reports whether the named table exists in the configured
// schema.
func (s *SQLStore) TableExists(ctx context.Context, name string) (bool, error) {
	var query string
	var args []any
	if s.flavor == sqlbuilder.PostgreSQL {
		schema := s.schema
		if schema == "" {
			schema = "public"
		}
		query = `SELECT count(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`
		args = []any{schema, name}
	} else {
		query = `SELECT count(*) FROM sqlite_master WHERE type='table' AND name = ?`
		args = []any{name}
	}

	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(query), args...); err != nil {
		return false, fmt.Errorf("checking table %s: %w", name, err)
	}
	return n > 0, nil
}

// CreateTable creates the named table. It does nothing when the table
// already exists.
func (s *SQLStore) CreateTable(ctx context.Context, name string, schema Schema) error {
	if len(schema) == 0 {
		return fmt.Errorf("creating table %s: empty schema", name)
	}
	ctb := s.flavor.NewCreateTableBuilder()
	ctb.CreateTable(s.qualified(name)).IfNotExists()
	for _, c := range schema {
		ctb.Define(c.Name, s.sqlType(c.Type))
	}
	query, args := ctb.Build()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("creating table %s: %w", name, err)
	}
	s.logger.Info().Str("table", s.qualified(name)).Int("columns", len(schema)).Msg("created table")
	return nil
}

func (s *SQLStore) sqlType(t ColumnType) string {
	if s.flavor == sqlbuilder.PostgreSQL {
		switch t {
		case TypeDate:
			return "DATE"
		case TypeUUID:
			return "UUID"
		case TypeBool:
			return "BOOLEAN"
		}
		return "TEXT"
	}
	if t == TypeBool {
		return "INTEGER"
	}
	return "TEXT"
}

// ReadTable reads every row of the named table. NULL reads as "" and
// dates read as YYYY-MM-DD.
func (s *SQLStore) ReadTable(ctx context.Context, name string) (types.Table, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select("*").From(s.qualified(name))
	query, args := sb.Build()

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return types.Table{}, fmt.Errorf("reading table %s: %w", name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return types.Table{}, fmt.Errorf("reading columns of %s: %w", name, err)
	}
	t := types.Table{Name: name, Columns: cols}
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return types.Table{}, fmt.Errorf("scanning %s: %w", name, err)
		}
		r := make(types.Row, len(cols))
		for i, c := range cols {
			r[c] = stringValue(vals[i])
		}
		t.Rows = append(t.Rows, r)
	}
	if err := rows.Err(); err != nil {
		return types.Table{}, fmt.Errorf("reading table %s: %w", name, err)
	}
	return t, nil
}

func stringValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format("2006-01-02")
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", x[0:4], x[4:6], x[6:8], x[8:10], x[10:16])
	}
	return fmt.Sprint(v)
}

// AppendRows inserts t's rows in chunks inside one transaction.
func (s *SQLStore) AppendRows(ctx context.Context, t types.Table) error {
	if len(t.Rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.insert(ctx, tx, t); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceRows deletes the table's rows and inserts t's rows in one
// transaction.
func (s *SQLStore) ReplaceRows(ctx context.Context, t types.Table) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	del := s.flavor.NewDeleteBuilder()
	del.DeleteFrom(s.qualified(t.Name))
	query, args := del.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("clearing table %s: %w", t.Name, err)
	}
	if err := s.insert(ctx, tx, t); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) insert(ctx context.Context, tx *sqlx.Tx, t types.Table) error {
	if len(t.Columns) == 0 {
		return fmt.Errorf("inserting into %s: no columns", t.Name)
	}
	chunk := max(1, insertArgLimit/len(t.Columns))
	for start := 0; start < len(t.Rows); start += chunk {
		end := min(start+chunk, len(t.Rows))

		ib := s.flavor.NewInsertBuilder()
		ib.InsertInto(s.qualified(t.Name)).Cols(t.Columns...)
		for _, r := range t.Rows[start:end] {
			vals := make([]any, len(t.Columns))
			for i, c := range t.Columns {
				if v := r[c]; v != "" {
					vals[i] = v
				}
			}
			ib.Values(vals...)
		}
		query, args := ib.Build()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("inserting rows %d-%d into %s: %w", start, end-1, t.Name, err)
		}
	}
	s.logger.Debug().Str("table", s.qualified(t.Name)).Int("rows", len(t.Rows)).Msg("inserted rows")
	return nil
}
