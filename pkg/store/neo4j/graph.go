package neo4j

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"

	"github.com/graphloom/loom/pkg/common"
)

// propPrefix namespaces entity properties on the node so SET += cannot
// collide with the store's own fields.
const propPrefix = "p_"

// UpsertEntity writes the entity keyed by its normalized id. On conflict
// the stored canonical name is kept, aliases are unioned, property maps
// are merged with the newer value winning per key, and an empty stored
// type is backfilled.
func (s *Store) UpsertEntity(ctx context.Context, e common.Entity) (string, error) {
	props := make(map[string]any, len(e.Properties))
	for k, v := range e.Properties {
		props[propPrefix+k] = v
	}
	aliases := e.Aliases
	if aliases == nil {
		aliases = []string{}
	}

	result, err := s.run(ctx, upsertEntityQuery, map[string]any{
		"id":             e.ID,
		"canonical_name": e.CanonicalName,
		"type":           e.Type,
		"aliases":        aliases,
		"props":          props,
	})
	if err != nil {
		return "", err
	}
	if len(result.Records) == 0 {
		return "", fmt.Errorf("upsert of entity %s returned no row", e.ID)
	}
	return e.ID, nil
}

// UpsertRelation writes the relation keyed by (subject, predicate,
// object). Repeated sightings keep the highest confidence seen. Both
// endpoints must already exist as entities.
func (s *Store) UpsertRelation(ctx context.Context, t common.Triple) (string, error) {
	result, err := s.run(ctx, upsertRelationQuery, map[string]any{
		"subject_id":      t.SubjectID,
		"object_id":       t.ObjectID,
		"predicate":       t.Predicate,
		"confidence":      t.Confidence,
		"source_chunk_id": t.SourceChunkID,
	})
	if err != nil {
		return "", err
	}
	if len(result.Records) == 0 {
		return "", fmt.Errorf("relation endpoint missing, entities must be written first: %s", t.Key())
	}
	return t.Key(), nil
}

// FetchNeighbors returns all entities within hops of entityID, excluding
// the seed, ordered by id. hops is clamped to a small bound since
// variable-length expansion grows quickly.
func (s *Store) FetchNeighbors(ctx context.Context, entityID string, hops int) ([]common.Entity, error) {
	if hops < 1 {
		return nil, nil
	}
	if hops > maxHops {
		hops = maxHops
	}

	query := fmt.Sprintf(fetchNeighborsQueryFmt, hops)
	result, err := s.run(ctx, query, map[string]any{"id": entityID})
	if err != nil {
		return nil, err
	}

	out := make([]common.Entity, 0, len(result.Records))
	for _, record := range result.Records {
		out = append(out, entityFromRecord(record))
	}
	return out, nil
}

func entityFromRecord(record *db.Record) common.Entity {
	e := common.Entity{
		ID:            stringValue(record, "id"),
		CanonicalName: stringValue(record, "canonical_name"),
		Type:          stringValue(record, "type"),
	}

	if raw, ok := record.Get("aliases"); ok {
		if list, ok := raw.([]any); ok {
			for _, v := range list {
				if s, ok := v.(string); ok {
					e.Aliases = append(e.Aliases, s)
				}
			}
		}
	}

	if raw, ok := record.Get("props"); ok {
		if props, ok := raw.(map[string]any); ok {
			for k, v := range props {
				if !strings.HasPrefix(k, propPrefix) {
					continue
				}
				if s, ok := v.(string); ok {
					if e.Properties == nil {
						e.Properties = make(map[string]string)
					}
					e.Properties[strings.TrimPrefix(k, propPrefix)] = s
				}
			}
		}
	}

	return e
}

func stringValue(record *db.Record, key string) string {
	raw, ok := record.Get(key)
	if !ok {
		return ""
	}
	s, _ := raw.(string)
	return s
}
