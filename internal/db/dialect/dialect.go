// Package dialect provides SQL fragment helpers for SQLite/PostgreSQL portability.
package dialect

const (
	SQLite3 = "sqlite3"
	PGX     = "pgx"
)

// IsPostgres returns true if the driver is PostgreSQL (pgx).
func IsPostgres(driver string) bool {
	return driver == PGX
}

// BoolToInt converts a boolean to an integer for SQL storage.
func BoolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// LockClause returns the row-locking clause to append to a claim SELECT.
// Postgres supports FOR UPDATE SKIP LOCKED, letting concurrent claimers skip
// rows already locked by another transaction instead of blocking. SQLite has
// no row-level locking; the teacher's single-writer-connection pool
// (MaxOpenConns(1)) already serializes all writer transactions, making the
// claim transaction exclusive without an explicit clause.
func LockClause(driver string) string {
	if IsPostgres(driver) {
		return " FOR UPDATE SKIP LOCKED"
	}
	return ""
}
