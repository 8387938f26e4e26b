// Package postgres implements the durable Store on PostgreSQL via pgx.
//
// The job queue lives in the jobs table; ClaimNextJob relies on
// FOR UPDATE SKIP LOCKED so N parallel workers each pick a distinct job.
package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Store implements domain.Store against a pgx pool.
type Store struct{ Pool PgxPool }

// NewStore constructs a Store with the given pool.
func NewStore(p PgxPool) *Store { return &Store{Pool: p} }

// pgUniqueViolation is the SQLSTATE for unique constraint violations.
const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
