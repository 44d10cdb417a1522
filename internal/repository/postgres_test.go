package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestWithRetryPassesThroughNoRows(t *testing.T) {
	r := &PostgresRepository{}

	attempts := 0
	err := r.withRetry(context.Background(), func() error {
		attempts++
		return pgx.ErrNoRows
	})

	if !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("want pgx.ErrNoRows, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("want 1 attempt, got %d", attempts)
	}
}

func TestWithRetryDoesNotRetryConstraintViolation(t *testing.T) {
	r := &PostgresRepository{}
	pgErr := &pgconn.PgError{Code: pgerrcode.UniqueViolation}

	attempts := 0
	err := r.withRetry(context.Background(), func() error {
		attempts++
		return pgErr
	})

	var got *pgconn.PgError
	if !errors.As(err, &got) || got.Code != pgerrcode.UniqueViolation {
		t.Fatalf("want unique violation, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("want 1 attempt, got %d", attempts)
	}
}
