package repository

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL unique_violation, raised on duplicate document ids.
const pgUniqueViolation = "23505"

// MapError translates driver-level errors into the caller's domain sentinels:
// sql.ErrNoRows becomes notFoundErr (unknown document, empty CAS match) and a
// unique violation becomes duplicateErr. Anything else passes through
// unchanged so infrastructure failures stay distinguishable.
func MapError(err error, notFoundErr, duplicateErr error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return notFoundErr
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return duplicateErr
	}

	return err
}
