package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return true
	}

	msg := err.Error()
	// PostgreSQL without pgconn in the chain, MySQL 1062, SQLite 2067.
	return strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "Error 1062") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

// IsConstraintErr reports whether err is a unique violation on the named
// constraint (postgres) or on the given column list (sqlite message).
func IsConstraintErr(err error, constraint string, columns ...string) bool {
	if !IsDuplicateKeyErr(err) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName == constraint
	}
	msg := err.Error()
	if strings.Contains(msg, constraint) {
		return true
	}
	if len(columns) == 0 {
		return false
	}
	for _, column := range columns {
		if !strings.Contains(msg, column) {
			return false
		}
	}
	return true
}

func IsLockNotAvailable(err error) bool {
	return hasPGCode(err, "55P03")
}

func IsSerializationFailure(err error) bool {
	return hasPGCode(err, "40001") || hasPGCode(err, "40P01")
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
