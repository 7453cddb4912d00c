package pgx

import (
	"context"

	"github.com/graphloom/loom/pkg/common"
)

const upsertEntitySQL = `
INSERT INTO entities (id, canonical_name, type, aliases, properties)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
    type = CASE WHEN entities.type = '' THEN EXCLUDED.type ELSE entities.type END,
    aliases = ARRAY(
        SELECT DISTINCT a
        FROM unnest(entities.aliases || EXCLUDED.aliases) AS a
        ORDER BY a
    ),
    properties = entities.properties || EXCLUDED.properties,
    updated_at = now()
RETURNING id
`

// UpsertEntity writes the entity keyed by its normalized id. On conflict
// the stored canonical name is kept, aliases are unioned, property maps
// are merged with the newer value winning per key, and an empty stored
// type is backfilled.
func (s *Store) UpsertEntity(ctx context.Context, e common.Entity) (string, error) {
	aliases := make([]string, 0, len(e.Aliases))
	for _, a := range e.Aliases {
		aliases = append(aliases, sanitizeText(a))
	}
	properties := make(map[string]string, len(e.Properties))
	for k, v := range e.Properties {
		properties[sanitizeText(k)] = sanitizeText(v)
	}

	var id string
	err := s.conn.QueryRow(ctx, upsertEntitySQL,
		sanitizeText(e.ID), sanitizeText(e.CanonicalName), sanitizeText(e.Type), aliases, properties,
	).Scan(&id)
	if err != nil {
		return "", mapErr(err)
	}
	return id, nil
}
