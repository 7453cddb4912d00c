package query

import (
	"context"
	"errors"
	"strings"

	"github.com/graphloom/loom/pkg/ai"
	"github.com/graphloom/loom/pkg/graph"
	"github.com/graphloom/loom/pkg/logger"
	"github.com/graphloom/loom/pkg/pipeline"
	"github.com/graphloom/loom/pkg/vector"
)

// SearchParams configures a SearchOperator.
type SearchParams struct {
	Embedder ai.EmbeddingClient
	Index    vector.Index
	Retry    pipeline.RetryPolicy
}

// SearchOperator embeds the query text and retrieves the top_k nearest
// records from the vector index. A blank query produces no candidates
// without touching the embedder.
type SearchOperator struct {
	embedder ai.EmbeddingClient
	index    vector.Index
	retry    pipeline.RetryPolicy
}

// NewSearchOperator builds the vector search operator.
func NewSearchOperator(p SearchParams) (*SearchOperator, error) {
	if p.Embedder == nil {
		return nil, errors.New("query: search operator needs an embedding client")
	}
	if p.Index == nil {
		return nil, errors.New("query: search operator needs a vector index")
	}
	if p.Retry.MaxAttempts == 0 {
		p.Retry = pipeline.DefaultRetryPolicy()
	}
	if p.Retry.Retryable == nil {
		p.Retry.Retryable = graph.Retryable
	}
	return &SearchOperator{embedder: p.Embedder, index: p.Index, retry: p.Retry}, nil
}

func (o *SearchOperator) Name() string { return "vector_search" }

func (o *SearchOperator) Requires() []string {
	return []string{KeyQueryText.Name(), KeyTopK.Name()}
}

func (o *SearchOperator) Produces() []string { return []string{KeyCandidates.Name()} }

func (o *SearchOperator) Run(ctx context.Context, st *pipeline.State) error {
	queryText, err := pipeline.Get(st, KeyQueryText)
	if err != nil {
		return err
	}
	topK, err := pipeline.Get(st, KeyTopK)
	if err != nil {
		return err
	}
	if strings.TrimSpace(queryText) == "" || topK < 1 {
		return pipeline.Set(st, KeyCandidates, []vector.Hit{})
	}

	vec, err := pipeline.RetryValue(ctx, o.retry, func(ctx context.Context) ([]float32, error) {
		return o.embedder.Embed(ctx, queryText)
	})
	if err != nil {
		return err
	}
	hits, err := o.index.Search(ctx, vec, topK)
	if err != nil {
		return err
	}
	if hits == nil {
		hits = []vector.Hit{}
	}
	logger.Debug("[Search] Candidates retrieved", "item", st.ID(), "top_k", topK, "hits", len(hits))
	return pipeline.Set(st, KeyCandidates, hits)
}
