package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
)

const (
	DriverPostgres = "pgx"
	DriverDuckDB   = "duckdb"
)

// Config sizes the connection pool: PoolSize
// connections stay idle, and up to MaxOverflow more may be opened on demand.
type Config struct {
	DSN             string
	PoolSize        int
	MaxOverflow     int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// Target is a resolved connection string together with the database/sql
// driver that understands it.
type Target struct {
	Driver string
	DSN    string
}

func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	target, err := ResolveDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(target.Driver, target.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.PoolSize > 0 {
		overflow := cfg.MaxOverflow
		if overflow < 0 {
			overflow = 0
		}
		db.SetMaxOpenConns(cfg.PoolSize + overflow)
		db.SetMaxIdleConns(cfg.PoolSize)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

// ResolveDSN picks a driver for dsn. duckdb:// and duckdb: prefixes select the
// embedded DuckDB driver (an empty path means in-memory); everything else is
// treated as PostgreSQL. SQLAlchemy-style schemes such as
// postgresql+psycopg2:// are rewritten to postgres://.
func ResolveDSN(dsn string) (Target, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return Target{}, fmt.Errorf("database dsn is required")
	}

	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "duckdb://"):
		return Target{Driver: DriverDuckDB, DSN: dsn[len("duckdb://"):]}, nil
	case strings.HasPrefix(lower, "duckdb:"):
		return Target{Driver: DriverDuckDB, DSN: dsn[len("duckdb:"):]}, nil
	}

	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		// key=value libpq connection strings carry no scheme.
		return Target{Driver: DriverPostgres, DSN: dsn}, nil
	}
	base, _, _ := strings.Cut(strings.ToLower(scheme), "+")
	switch base {
	case "postgres", "postgresql":
	default:
		return Target{}, fmt.Errorf("unsupported database scheme %q", scheme)
	}
	normalized := "postgres://" + rest
	if _, err := url.Parse(normalized); err != nil {
		return Target{}, fmt.Errorf("parse database dsn: %w", err)
	}
	return Target{Driver: DriverPostgres, DSN: normalized}, nil
}

// DefaultSchema is the schema searched by discovery when none is configured.
func DefaultSchema(driver string) string {
	if driver == DriverDuckDB {
		return "main"
	}
	return "public"
}

// Ping runs SELECT 1 against db.
func Ping(ctx context.Context, db *sql.DB) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("probe database: %w", err)
	}
	if one != 1 {
		return fmt.Errorf("probe database: unexpected result %d", one)
	}
	return nil
}
