package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestNormalizeDriver(t *testing.T) {
	tests := map[string]string{
		"":           "pgx",
		"pgx":        "pgx",
		"PostgreSQL": "pgx",
		"postgres":   "postgres",
		" pq ":       "postgres",
		"MySQL":      "mysql",
	}
	for in, want := range tests {
		if got := NormalizeDriver(in); got != want {
			t.Errorf("NormalizeDriver(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeDSN(t *testing.T) {
	tests := []struct {
		driver, dsn, want string
	}{
		{"postgres", "postgres://u@h/db", "postgres://u@h/db"},
		{"pgx", "postgres://u@h/db", "postgres://u@h/db?statement_cache_capacity=0&default_query_exec_mode=simple_protocol"},
		{"pgx", "postgres://u@h/db?sslmode=disable", "postgres://u@h/db?sslmode=disable&statement_cache_capacity=0&default_query_exec_mode=simple_protocol"},
		{"pgx", "postgres://u@h/db?", "postgres://u@h/db?statement_cache_capacity=0&default_query_exec_mode=simple_protocol"},
		{"pgx", "postgres://u@h/db?default_query_exec_mode=exec", "postgres://u@h/db?default_query_exec_mode=exec&statement_cache_capacity=0"},
	}
	for _, tt := range tests {
		if got := NormalizeDSN(tt.driver, tt.dsn); got != tt.want {
			t.Errorf("NormalizeDSN(%q, %q) = %q, want %q", tt.driver, tt.dsn, got, tt.want)
		}
	}
}

func TestConstraintErrorsFromBothDrivers(t *testing.T) {
	pgxUnique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	pqCheck := fmt.Errorf("update: %w", &pq.Error{Code: "23514"})
	pqFK := &pq.Error{Code: "23503"}

	if !IsUniqueViolation(pgxUnique) || IsCheckViolation(pgxUnique) {
		t.Fatal("pgx unique violation misclassified")
	}
	if !IsCheckViolation(pqCheck) || IsUniqueViolation(pqCheck) {
		t.Fatal("pq check violation misclassified")
	}
	if !IsForeignKeyViolation(pqFK) {
		t.Fatal("pq foreign key violation misclassified")
	}
	if IsUniqueViolation(errors.New("23505")) {
		t.Fatal("plain error matched")
	}
}

func TestPage(t *testing.T) {
	tests := []struct {
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{0, 0, DefaultPageSize, 0},
		{-5, -1, DefaultPageSize, 0},
		{50, -20, 50, 0},
		{MaxPageSize + 1, 10, DefaultPageSize, 10},
		{MaxPageSize, 1000, MaxPageSize, 1000},
	}
	for _, tt := range tests {
		limit, offset := Page(tt.limit, tt.offset)
		if limit != tt.wantLimit || offset != tt.wantOffset {
			t.Errorf("Page(%d, %d) = %d, %d, want %d, %d", tt.limit, tt.offset, limit, offset, tt.wantLimit, tt.wantOffset)
		}
	}
}
