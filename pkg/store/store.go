// Package store defines persistence for the knowledge graph. The merge
// operator writes through the GraphStore interface; implementations live
// in the pgx and neo4j subpackages.
package store

import (
	"context"
	"errors"

	"github.com/graphloom/loom/pkg/common"
)

// ErrSchema marks a store whose schema has not been provisioned (missing
// table, failed migration). Not retryable; the run aborts.
var ErrSchema = errors.New("store: schema not provisioned")

// GraphStore persists entities and the relations between them.
//
// Upserts must be idempotent: writing the same entity or relation twice
// leaves the graph unchanged. UpsertRelation requires both endpoints to
// exist, so callers write entities first.
type GraphStore interface {
	// UpsertEntity inserts or merges the entity and returns its id.
	// Merging unions aliases and properties with existing data; the
	// stored canonical name wins over later variants.
	UpsertEntity(ctx context.Context, e common.Entity) (string, error)

	// UpsertRelation inserts the relation keyed by
	// (subject, predicate, object) or refreshes its confidence and
	// provenance. Returns the relation key.
	UpsertRelation(ctx context.Context, t common.Triple) (string, error)

	// FetchNeighbors returns the entities reachable from entityID within
	// the given number of hops, excluding the seed itself, in a
	// deterministic order. hops < 1 returns nothing.
	FetchNeighbors(ctx context.Context, entityID string, hops int) ([]common.Entity, error)
}
