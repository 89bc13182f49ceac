package database

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const (
	codeUniqueViolation = "23505"
	codeForeignKey      = "23503"
	codeCheckViolation  = "23514"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// IsUniqueViolation reports a duplicate key from either driver.
func IsUniqueViolation(err error) bool {
	return pgCode(err) == codeUniqueViolation
}

func IsForeignKeyViolation(err error) bool {
	return pgCode(err) == codeForeignKey
}

// IsCheckViolation catches table CHECK constraints, e.g. the non-negative balance floor.
func IsCheckViolation(err error) bool {
	return pgCode(err) == codeCheckViolation
}

// Array wraps a Go slice for `= ANY($1)` predicates. pq's text encoding is
// accepted by both registered drivers.
func Array(a any) any {
	return pq.Array(a)
}
