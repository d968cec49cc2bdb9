// Package migrations embeds and applies the Backend's database schema using
// golang-migrate, dispatching to the migration set matching the configured
// SQL dialect.
package migrations

import (
	"embed"
	"errors"
	"fmt"

	stdsql "database/sql"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/runflow/orchestrator/internal/db/dialect"
)

//go:embed sqlite3
var sqlite3FS embed.FS

//go:embed postgres
var postgresFS embed.FS

// Run applies all pending migrations to db using the migration set for driver.
// It is idempotent: running it against an up-to-date schema is a no-op.
func Run(db *stdsql.DB, driver, databaseName string) error {
	var (
		dbDriver   migrate.Driver
		srcDir     string
		srcFS      embed.FS
		driverErr  error
	)

	switch driver {
	case dialect.PGX:
		dbDriver, driverErr = postgres.WithInstance(db, &postgres.Config{})
		srcDir, srcFS = "postgres", postgresFS
	case dialect.SQLite3:
		dbDriver, driverErr = sqlite3.WithInstance(db, &sqlite3.Config{})
		srcDir, srcFS = "sqlite3", sqlite3FS
	default:
		return fmt.Errorf("migrations: unsupported driver %q", driver)
	}
	if driverErr != nil {
		return fmt.Errorf("migrations: create %s driver: %w", driver, driverErr)
	}

	sourceDriver, err := iofs.New(srcFS, srcDir)
	if err != nil {
		return fmt.Errorf("migrations: open embedded source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, databaseName, dbDriver)
	if err != nil {
		return fmt.Errorf("migrations: create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: apply: %w", err)
	}

	// Only close the source; closing m would also close db via the database
	// driver, which the caller still owns.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("migrations: close source: %w", err)
	}
	return nil
}
