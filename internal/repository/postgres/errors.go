package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the session store reacts to
const (
	sqlStateUniqueViolation     = "23505"
	sqlStateForeignKeyViolation = "23503"
)

// sqlState returns the SQLSTATE of a Postgres error, or "" for other errors.
func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsPgDuplicateError reports a unique constraint violation
func IsPgDuplicateError(err error) bool {
	return sqlState(err) == sqlStateUniqueViolation
}

// IsPgForeignKeyError reports a foreign key violation, e.g. history
// appended for a session that was never created
func IsPgForeignKeyError(err error) bool {
	return sqlState(err) == sqlStateForeignKeyViolation
}

// IsPgNoRowsError reports a query that matched nothing
func IsPgNoRowsError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
