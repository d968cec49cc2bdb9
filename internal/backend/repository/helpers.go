package repository

import (
	"database/sql"
	"errors"

	"github.com/runflow/orchestrator/internal/apperrors"
)

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// requireRowsAffected returns a NotFound apperror if res reports zero rows
// affected, which for UPDATE/DELETE by ID means the target didn't exist.
func requireRowsAffected(res sql.Result, entity string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.NotFound(entity + " not found")
	}
	return nil
}
