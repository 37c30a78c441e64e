package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// sqlState extracts the SQLSTATE code from err, or returns "" when err did not come from the server.
func sqlState(err error) string {
	if pgErr, ok := errors.AsType[*pgconn.PgError](err); ok {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports whether err is a unique-constraint failure (SQLSTATE 23505). Repositories map this onto
// their duplicate sentinels.
func IsUniqueViolation(err error) bool {
	return sqlState(err) == "23505"
}

// IsForeignKeyViolation reports whether err is a foreign-key failure (SQLSTATE 23503), raised when a referenced row
// disappeared under the write.
func IsForeignKeyViolation(err error) bool {
	return sqlState(err) == "23503"
}
