package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/nhalm/taskapi/internal/task"
)

// PostgreSQL error codes
const (
	checkViolationCode   = "23514"
	notNullViolationCode = "23502"
)

// mapError maps a database error onto the task package's sentinels. Errors
// without a mapping are returned unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return task.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case checkViolationCode:
			return fmt.Errorf("%w: check constraint violation (%s): %v", task.ErrInvalid, pgErr.ConstraintName, err)
		case notNullViolationCode:
			return fmt.Errorf("%w: not null violation (%s): %v", task.ErrInvalid, pgErr.ColumnName, err)
		}
	}

	return err
}
