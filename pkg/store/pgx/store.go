// Package pgx implements store.GraphStore on PostgreSQL.
package pgx

import (
	"context"
	"errors"
	"fmt"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/graphloom/loom/pkg/store"
)

// Postgres error codes the store maps to typed errors.
const (
	codeUndefinedTable      = "42P01"
	codeForeignKeyViolation = "23503"
)

// Conn is the subset of pgxpool.Pool the store needs. Satisfied by
// *pgxpool.Pool, *pgx.Conn and pgx.Tx, which keeps tests and transactional
// callers on the same code path.
type Conn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
}

// Store persists the knowledge graph in the entities and relations
// tables. Safe for concurrent use; the pool handles connection sharing.
type Store struct {
	conn Conn
}

// New creates a Store over an existing connection or pool.
func New(conn Conn) *Store {
	return &Store{conn: conn}
}

// mapErr rewrites low-level Postgres failures into store-level errors.
func mapErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUndefinedTable:
			return fmt.Errorf("%w: %v", store.ErrSchema, err)
		case codeForeignKeyViolation:
			return fmt.Errorf("relation endpoint missing, entities must be written first: %w", err)
		}
	}
	return err
}
