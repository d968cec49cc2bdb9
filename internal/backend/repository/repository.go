// Package repository implements the Backend's persistence operations for
// sessions, messages, tool executions, user-input requests, usage logs,
// presets, and environment variables on top of the sqlx dual-pool.
package repository

import (
	"github.com/jmoiron/sqlx"

	"github.com/runflow/orchestrator/internal/db"
)

// Repository provides CRUD access to the Backend's entities. It is safe for
// concurrent use; writes go through the single writer pool, reads may be
// served from the (possibly distinct) reader pool.
type Repository struct {
	pool   *db.Pool
	driver string
}

// New creates a Repository backed by pool, using driver to select
// dialect-specific SQL fragments.
func New(pool *db.Pool, driver string) *Repository {
	return &Repository{pool: pool, driver: driver}
}

func (r *Repository) writer() *sqlx.DB {
	return r.pool.Writer()
}

func (r *Repository) reader() *sqlx.DB {
	return r.pool.Reader()
}
