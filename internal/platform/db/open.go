package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrationFiles embed.FS

// Migrations returns the embedded migration files for d.
func Migrations(d Dialect) (fs.FS, error) {
	return fs.Sub(migrationFiles, "migrations/"+string(d))
}

// Options selects and configures the store.
type Options struct {
	Dialect  Dialect
	Path     string // sqlite file
	URL      string // postgres connection string
	MaxConns int32
	MinConns int32
}

// DB is an open store. Callers use the embedded *sql.DB with queries passed
// through Dialect.Rebind.
type DB struct {
	*sql.DB
	Dialect Dialect
	pool    *pgxpool.Pool
}

// Open connects to the store described by opts and verifies the connection.
func Open(ctx context.Context, opts Options) (*DB, error) {
	switch opts.Dialect {
	case SQLite:
		return openSQLite(ctx, opts.Path)
	case Postgres:
		pool, err := NewPool(ctx, opts.URL, opts.MaxConns, opts.MinConns)
		if err != nil {
			return nil, err
		}
		return &DB{DB: stdlib.OpenDBFromPool(pool), Dialect: Postgres, pool: pool}, nil
	}
	return nil, fmt.Errorf("open store: unknown dialect %q", opts.Dialect)
}

// sqlitePragmas apply to the store's single connection.
var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA foreign_keys = ON",
}

// SQLiteDSN builds the connection string for a sqlite file. Write
// transactions take the file lock at BEGIN (_txlock=immediate) so two
// loaders never interleave.
func SQLiteDSN(path string) string {
	return path + "?_txlock=immediate"
}

func openSQLite(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("open sqlite: empty path")
	}
	sqlDB, err := sql.Open("sqlite", SQLiteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection per file keeps the pragmas in effect for every
	// statement and serializes writers in this process.
	sqlDB.SetMaxOpenConns(1)

	for _, p := range sqlitePragmas {
		if _, err := sqlDB.ExecContext(ctx, p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return &DB{DB: sqlDB, Dialect: SQLite}, nil
}

func NewPool(ctx context.Context, databaseURL string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	cfg.MaxConns = maxConns
	cfg.MinConns = minConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Migrator returns a migrator over the embedded migrations for the store's
// dialect.
func (d *DB) Migrator() (*Migrator, error) {
	fsys, err := Migrations(d.Dialect)
	if err != nil {
		return nil, fmt.Errorf("load %s migrations: %w", d.Dialect, err)
	}
	return NewMigrator(d.DB, d.Dialect, fsys), nil
}

// Close closes the database handle and, for postgres, the pool behind it.
func (d *DB) Close() error {
	err := d.DB.Close()
	if d.pool != nil {
		d.pool.Close()
	}
	return err
}
