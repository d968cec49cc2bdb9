package db

import (
	stdsql "database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/runflow/orchestrator/internal/db/dialect"
)

// DatabaseConfig is the subset of config.DatabaseConfig Open needs, kept
// local to avoid an import cycle with the config package.
type DatabaseConfig struct {
	Driver   string
	Path     string
	DSN      string
	MaxConns int
	MinConns int
}

// Open opens a Pool for cfg.Driver ("sqlite" or "postgres"), returning the
// driver name (dialect.SQLite3 or dialect.PGX) it was opened under and the
// raw writer *sql.DB so callers can run migrations before wrapping it for
// general use.
func Open(cfg DatabaseConfig) (pool *Pool, driver string, rawWriter *stdsql.DB, err error) {
	switch cfg.Driver {
	case "postgres":
		writer, err := OpenPostgres(cfg.DSN, cfg.MaxConns, cfg.MinConns)
		if err != nil {
			return nil, "", nil, err
		}
		sqlxDB := sqlx.NewDb(writer, dialect.PGX)
		return NewPool(sqlxDB, sqlxDB), dialect.PGX, writer, nil
	case "sqlite", "":
		writer, err := OpenSQLite(cfg.Path)
		if err != nil {
			return nil, "", nil, err
		}
		reader, err := OpenSQLiteReader(cfg.Path)
		if err != nil {
			return nil, "", nil, err
		}
		return NewPool(sqlx.NewDb(writer, dialect.SQLite3), sqlx.NewDb(reader, dialect.SQLite3)), dialect.SQLite3, writer, nil
	default:
		return nil, "", nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}
}
