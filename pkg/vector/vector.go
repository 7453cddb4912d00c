// Package vector defines the similarity index the pipelines write to and
// query. Implementations live in the pgvector and sqlitevec subpackages.
package vector

import "context"

// Record kinds. Chunk records carry passage text; entity records carry a
// rendered entity summary.
const (
	KindChunk  = "chunk"
	KindEntity = "entity"
)

// Record is one indexed vector. VectorID is stable across runs
// ("chunk:<id>" / "entity:<id>"), so re-indexing the same source replaces
// the old vector instead of adding a duplicate.
type Record struct {
	VectorID string
	SourceID string
	Kind     string
	Payload  string
	Vector   []float32
}

// Hit is a search result. Score is cosine similarity, higher is better.
type Hit struct {
	Record
	Score float64
}

// Index stores and searches vectors.
type Index interface {
	// Upsert writes the record keyed by VectorID, replacing any previous
	// vector under the same id.
	Upsert(ctx context.Context, rec Record) error

	// Search returns the topK nearest records ordered by score
	// descending, vector id ascending on ties.
	Search(ctx context.Context, vec []float32, topK int) ([]Hit, error)
}
