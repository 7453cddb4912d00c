package pgx

import (
	"context"

	"github.com/graphloom/loom/pkg/common"
)

const upsertRelationSQL = `
INSERT INTO relations (subject_id, predicate, object_id, confidence, source_chunk_id)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (subject_id, predicate, object_id) DO UPDATE SET
    confidence = GREATEST(relations.confidence, EXCLUDED.confidence),
    source_chunk_id = CASE
        WHEN EXCLUDED.source_chunk_id <> '' THEN EXCLUDED.source_chunk_id
        ELSE relations.source_chunk_id
    END,
    updated_at = now()
`

// UpsertRelation writes the relation keyed by (subject, predicate,
// object). Repeated sightings keep the highest confidence seen. Both
// endpoints must already exist as entities.
func (s *Store) UpsertRelation(ctx context.Context, t common.Triple) (string, error) {
	_, err := s.conn.Exec(ctx, upsertRelationSQL,
		sanitizeText(t.SubjectID), sanitizeText(t.Predicate), sanitizeText(t.ObjectID),
		t.Confidence, t.SourceChunkID,
	)
	if err != nil {
		return "", mapErr(err)
	}
	return t.Key(), nil
}
