// Package sqlitevec implements vector.Index on SQLite with the
// sqlite-vec extension. Suited to local single-file deployments where
// running Postgres is not worth it.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/graphloom/loom/pkg/vector"
)

func init() {
	sqlite_vec.Auto()
}

// vec0 holds the vectors; payloads live in a plain table joined by
// vector_id because virtual tables cannot carry arbitrary columns.
func schemaSQL(dim int) string {
	return fmt.Sprintf(`
CREATE VIRTUAL TABLE IF NOT EXISTS vec_records USING vec0(
    vector_id TEXT PRIMARY KEY,
    embedding float[%d] distance_metric=cosine
);

CREATE TABLE IF NOT EXISTS vec_payloads (
    vector_id TEXT PRIMARY KEY,
    source_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    payload TEXT NOT NULL
);
`, dim)
}

// Index stores vectors in a local SQLite database.
type Index struct {
	db  *sql.DB
	dim int
}

// Open opens (or creates) the database at path and ensures the schema
// for the given embedding dimension.
func Open(path string, dim int) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("sqlitevec: embedding dimension required")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaSQL(dim)); err != nil {
		db.Close()
		return nil, err
	}
	return &Index{db: db, dim: dim}, nil
}

// Close releases the database handle.
func (i *Index) Close() error {
	return i.db.Close()
}

// Upsert writes the record keyed by VectorID, replacing any previous
// vector under the same id.
func (i *Index) Upsert(ctx context.Context, rec vector.Record) error {
	if len(rec.Vector) != i.dim {
		return fmt.Errorf("sqlitevec: vector %s has dimension %d, index expects %d",
			rec.VectorID, len(rec.Vector), i.dim)
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// vec0 virtual tables reject INSERT OR REPLACE, so delete first.
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM vec_records WHERE vector_id = ?", rec.VectorID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO vec_records (vector_id, embedding) VALUES (?, ?)",
		rec.VectorID, serializeFloat32(rec.Vector)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO vec_payloads (vector_id, source_id, kind, payload)
		 VALUES (?, ?, ?, ?)`,
		rec.VectorID, rec.SourceID, rec.Kind, rec.Payload); err != nil {
		return err
	}
	return tx.Commit()
}

// Search returns the topK nearest records by cosine similarity.
func (i *Index) Search(ctx context.Context, vec []float32, topK int) ([]vector.Hit, error) {
	if topK < 1 {
		return nil, nil
	}

	rows, err := i.db.QueryContext(ctx, `
		SELECT v.vector_id, v.distance, p.source_id, p.kind, p.payload
		FROM vec_records v
		JOIN vec_payloads p ON p.vector_id = v.vector_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance, v.vector_id
	`, serializeFloat32(vec), topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []vector.Hit
	for rows.Next() {
		var h vector.Hit
		var distance float64
		if err := rows.Scan(&h.VectorID, &distance, &h.SourceID, &h.Kind, &h.Payload); err != nil {
			return nil, err
		}
		h.Score = 1.0 - distance
		out = append(out, h)
	}
	return out, rows.Err()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for
// sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
