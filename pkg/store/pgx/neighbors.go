package pgx

import (
	"context"

	"github.com/graphloom/loom/pkg/common"
)

// Relations are walked in both directions; depth bounds the recursion so
// cycles terminate.
const fetchNeighborsSQL = `
WITH RECURSIVE walk (id, depth) AS (
    SELECT $1::text, 0
    UNION
    SELECT
        CASE WHEN r.subject_id = w.id THEN r.object_id ELSE r.subject_id END,
        w.depth + 1
    FROM walk w
    JOIN relations r ON r.subject_id = w.id OR r.object_id = w.id
    WHERE w.depth < $2
)
SELECT e.id, e.canonical_name, e.type, e.aliases, e.properties
FROM entities e
WHERE e.id IN (SELECT id FROM walk WHERE id <> $1)
ORDER BY e.id
`

// FetchNeighbors returns all entities within hops of entityID, excluding
// the seed, ordered by id. A seed without relations, or hops < 1, yields
// an empty result.
func (s *Store) FetchNeighbors(ctx context.Context, entityID string, hops int) ([]common.Entity, error) {
	if hops < 1 {
		return nil, nil
	}

	rows, err := s.conn.Query(ctx, fetchNeighborsSQL, entityID, hops)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []common.Entity
	for rows.Next() {
		var e common.Entity
		if err := rows.Scan(&e.ID, &e.CanonicalName, &e.Type, &e.Aliases, &e.Properties); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}
