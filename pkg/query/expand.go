package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/graphloom/loom/pkg/logger"
	"github.com/graphloom/loom/pkg/pipeline"
	"github.com/graphloom/loom/pkg/store"
	"github.com/graphloom/loom/pkg/vector"
)

// ExpandOperator widens the retrieved context along the graph: every
// entity-kind candidate seeds a hop_count-bounded neighbor fetch, and the
// neighbors' renderings become additional context lines. Chunk candidates
// are not seeds. With hop_count 0 or no entity candidates the expansion is
// empty.
type ExpandOperator struct {
	store store.GraphStore
}

// NewExpandOperator builds the graph expansion operator.
func NewExpandOperator(s store.GraphStore) (*ExpandOperator, error) {
	if s == nil {
		return nil, errors.New("query: expand operator needs a graph store")
	}
	return &ExpandOperator{store: s}, nil
}

func (o *ExpandOperator) Name() string { return "graph_expand" }

func (o *ExpandOperator) Requires() []string {
	return []string{KeyCandidates.Name(), KeyHopCount.Name()}
}

func (o *ExpandOperator) Produces() []string { return []string{KeyExpanded.Name()} }

func (o *ExpandOperator) Run(ctx context.Context, st *pipeline.State) error {
	candidates, err := pipeline.Get(st, KeyCandidates)
	if err != nil {
		return err
	}
	hops, err := pipeline.Get(st, KeyHopCount)
	if err != nil {
		return err
	}

	expanded := []string{}
	if hops >= 1 {
		seen := make(map[string]struct{})
		for _, hit := range candidates {
			if hit.Kind != vector.KindEntity {
				continue
			}
			neighbors, err := o.store.FetchNeighbors(ctx, hit.SourceID, hops)
			if err != nil {
				return fmt.Errorf("expanding %s: %w", hit.SourceID, err)
			}
			for _, n := range neighbors {
				rendering := n.Render()
				if rendering == "" {
					continue
				}
				if _, ok := seen[rendering]; ok {
					continue
				}
				seen[rendering] = struct{}{}
				expanded = append(expanded, rendering)
			}
		}
		logger.Debug("[Expand] Neighborhood fetched", "item", st.ID(), "hops", hops, "entities", len(expanded))
	}
	return pipeline.Set(st, KeyExpanded, expanded)
}
