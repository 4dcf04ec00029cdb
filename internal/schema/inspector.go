package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/database"
	"github.com/askdb/askdb/internal/observability"
)

// ErrDiscovery marks failures that prevent discovery as a whole, such as an
// unreachable database or rejected credentials.
var ErrDiscovery = errors.New("schema: discovery failed")

// Queryer is the subset of *sql.DB the inspector needs.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type Options struct {
	// Schema is the database schema to inspect. Empty means "public".
	Schema string
	Logger *slog.Logger
	Clock  func() time.Time
}

type Inspector struct {
	db     Queryer
	schema string
	logger *slog.Logger
	clock  func() time.Time
}

func NewInspector(db Queryer, opts Options) *Inspector {
	schemaName := strings.TrimSpace(opts.Schema)
	if schemaName == "" {
		schemaName = database.DefaultSchema(database.DriverPostgres)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Inspector{db: db, schema: schemaName, logger: opts.Logger, clock: clock}
}

// OpenInspector connects to an ad hoc connection string with its own bounded
// pool. The returned close function releases that pool.
func OpenInspector(ctx context.Context, cfg database.Config, opts Options) (*Inspector, func() error, error) {
	target, err := database.ResolveDSN(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
	}
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
	}
	if strings.TrimSpace(opts.Schema) == "" {
		opts.Schema = database.DefaultSchema(target.Driver)
	}
	return NewInspector(db, opts), db.Close, nil
}

const listTablesSQL = `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE'
ORDER BY table_name`

const listColumnsSQL = `
SELECT column_name, data_type
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`

const primaryKeySQL = `
SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name
 AND kcu.table_schema = tc.table_schema
 AND kcu.table_name = tc.table_name
WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = $1 AND tc.table_name = $2
ORDER BY kcu.ordinal_position`

const foreignKeysSQL = `
SELECT kcu.column_name, ref.table_name, ref.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name
 AND kcu.table_schema = tc.table_schema
 AND kcu.table_name = tc.table_name
JOIN information_schema.referential_constraints rc
  ON rc.constraint_name = kcu.constraint_name
 AND rc.constraint_schema = kcu.constraint_schema
JOIN information_schema.key_column_usage ref
  ON ref.constraint_name = rc.unique_constraint_name
 AND ref.constraint_schema = rc.unique_constraint_schema
 AND ref.ordinal_position = kcu.position_in_unique_constraint
WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1 AND tc.table_name = $2
ORDER BY kcu.ordinal_position`

// Discover reads every base table of the configured schema. A table whose
// columns or keys cannot be read is left out of the snapshot; only a failure
// to list tables is returned.
func (i *Inspector) Discover(ctx context.Context) (Snapshot, error) {
	tables, err := i.listTables(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrDiscovery, err)
	}

	snapshot := Snapshot{Tables: make(map[string]TableInfo, len(tables)), DiscoveredAt: i.clock().UTC()}
	for _, table := range tables {
		info, err := i.describeTable(ctx, table)
		if err != nil {
			observability.IncrementSchemaTableSkipped()
			if i.logger != nil {
				i.logger.WarnContext(ctx, "skipping table during schema discovery",
					slog.String("schema", i.schema),
					slog.String("table", table),
					slog.Any("error", err),
				)
			}
			continue
		}
		snapshot.Tables[table] = info
	}
	return snapshot, nil
}

func (i *Inspector) listTables(ctx context.Context) ([]string, error) {
	rows, err := i.db.QueryContext(ctx, listTablesSQL, i.schema)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table rows: %w", err)
	}
	return tables, nil
}

func (i *Inspector) describeTable(ctx context.Context, table string) (TableInfo, error) {
	columns, err := i.listColumns(ctx, table)
	if err != nil {
		return TableInfo{}, err
	}
	primaryKey, err := i.primaryKey(ctx, table)
	if err != nil {
		return TableInfo{}, err
	}
	foreignKeys, err := i.foreignKeys(ctx, table)
	if err != nil {
		return TableInfo{}, err
	}
	return TableInfo{
		Columns:     columns,
		PrimaryKey:  primaryKey,
		ForeignKeys: foreignKeys,
		Likely:      []string{},
	}, nil
}

func (i *Inspector) listColumns(ctx context.Context, table string) ([]Column, error) {
	rows, err := i.db.QueryContext(ctx, listColumnsSQL, i.schema, table)
	if err != nil {
		return nil, fmt.Errorf("list columns for %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	columns := make([]Column, 0)
	for rows.Next() {
		var column Column
		if err := rows.Scan(&column.Name, &column.Type); err != nil {
			return nil, fmt.Errorf("scan column row for %q: %w", table, err)
		}
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column rows for %q: %w", table, err)
	}
	return columns, nil
}

func (i *Inspector) primaryKey(ctx context.Context, table string) ([]string, error) {
	rows, err := i.db.QueryContext(ctx, primaryKeySQL, i.schema, table)
	if err != nil {
		return nil, fmt.Errorf("read primary key for %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	keys := make([]string, 0)
	for rows.Next() {
		var column string
		if err := rows.Scan(&column); err != nil {
			return nil, fmt.Errorf("scan primary key row for %q: %w", table, err)
		}
		keys = append(keys, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate primary key rows for %q: %w", table, err)
	}
	return keys, nil
}

func (i *Inspector) foreignKeys(ctx context.Context, table string) ([]ForeignKey, error) {
	rows, err := i.db.QueryContext(ctx, foreignKeysSQL, i.schema, table)
	if err != nil {
		return nil, fmt.Errorf("read foreign keys for %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	keys := make([]ForeignKey, 0)
	for rows.Next() {
		var key ForeignKey
		if err := rows.Scan(&key.Column, &key.RefTable, &key.RefColumn); err != nil {
			return nil, fmt.Errorf("scan foreign key row for %q: %w", table, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign key rows for %q: %w", table, err)
	}
	return keys, nil
}

// DiscoverDSN opens cfg.DSN, returns its annotated snapshot and closes the
// pool again.
func DiscoverDSN(ctx context.Context, cfg database.Config, opts Options) (Snapshot, error) {
	inspector, closeFn, err := OpenInspector(ctx, cfg, opts)
	if err != nil {
		return Snapshot{}, err
	}
	defer func() { _ = closeFn() }()

	snapshot, err := inspector.Discover(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Annotate(snapshot), nil
}
