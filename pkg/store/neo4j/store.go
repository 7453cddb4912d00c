// Package neo4j implements store.GraphStore on Neo4j or a
// Cypher-compatible server such as Memgraph.
package neo4j

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/graphloom/loom/pkg/logger"
)

const maxHops = 5

// Store persists entities as :Entity nodes and relations as RELATES
// relationships carrying the predicate as a property.
type Store struct {
	driver neo4j.DriverWithContext
}

// Params configures the connection.
type Params struct {
	URI      string
	Username string
	Password string
}

// New connects to the server, verifies connectivity and ensures the
// entity id index exists.
func New(ctx context.Context, params Params) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(params.URI,
		neo4j.BasicAuth(params.Username, params.Password, ""))
	if err != nil {
		return nil, err
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, err
	}

	s := &Store{driver: driver}
	if err := s.ensureIndices(ctx); err != nil {
		// Index creation can fail on servers with a different DDL
		// dialect; lookups still work, only slower.
		logger.Warn("[Store] Could not create entity index", "error", err)
	}

	logger.Debug("[Store] Connected to graph database", "uri", params.URI)
	return s, nil
}

// Close releases the underlying driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Store) ensureIndices(ctx context.Context) error {
	_, err := s.run(ctx, entityIndexQuery, nil)
	return err
}

func (s *Store) run(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	result, err := neo4j.ExecuteQuery(ctx, s.driver, query, params, neo4j.EagerResultTransformer)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	return result, nil
}
