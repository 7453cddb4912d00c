// Package pgvector implements vector.Index on PostgreSQL with the
// pgvector extension.
package pgvector

import (
	"context"
	"errors"
	"fmt"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgvec "github.com/pgvector/pgvector-go"

	"github.com/graphloom/loom/pkg/store"
	"github.com/graphloom/loom/pkg/vector"
)

const upsertSQL = `
INSERT INTO vectors (vector_id, source_id, kind, payload, embedding)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (vector_id) DO UPDATE SET
    source_id = EXCLUDED.source_id,
    kind = EXCLUDED.kind,
    payload = EXCLUDED.payload,
    embedding = EXCLUDED.embedding,
    updated_at = now()
`

// <=> is cosine distance; similarity = 1 - distance.
const searchSQL = `
SELECT vector_id, source_id, kind, payload, 1 - (embedding <=> $1) AS score
FROM vectors
ORDER BY embedding <=> $1, vector_id
LIMIT $2
`

// Conn is the subset of pgxpool.Pool the index needs.
type Conn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
}

// Index stores vectors in the vectors table. The pool must have pgvector
// types registered (pgxvector.RegisterTypes on connect).
type Index struct {
	conn Conn
}

func New(conn Conn) *Index {
	return &Index{conn: conn}
}

// Upsert writes the record keyed by VectorID, replacing any previous
// vector under the same id.
func (i *Index) Upsert(ctx context.Context, rec vector.Record) error {
	_, err := i.conn.Exec(ctx, upsertSQL,
		rec.VectorID, rec.SourceID, rec.Kind, rec.Payload, pgvec.NewVector(rec.Vector),
	)
	return mapErr(err)
}

// Search returns the topK nearest records by cosine similarity.
func (i *Index) Search(ctx context.Context, vec []float32, topK int) ([]vector.Hit, error) {
	if topK < 1 {
		return nil, nil
	}

	rows, err := i.conn.Query(ctx, searchSQL, pgvec.NewVector(vec), topK)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []vector.Hit
	for rows.Next() {
		var h vector.Hit
		if err := rows.Scan(&h.VectorID, &h.SourceID, &h.Kind, &h.Payload, &h.Score); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
		return fmt.Errorf("%w: %v", store.ErrSchema, err)
	}
	return err
}
