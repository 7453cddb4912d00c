package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/graphloom/loom/pkg/ai"
	"github.com/graphloom/loom/pkg/logger"
	"github.com/graphloom/loom/pkg/pipeline"
	"github.com/graphloom/loom/pkg/vector"
)

// IndexMode selects what an IndexOperator embeds.
type IndexMode string

const (
	// ModeChunks embeds chunk texts under "chunk:<chunk_id>" vector ids.
	ModeChunks IndexMode = "chunks"
	// ModeEntities embeds rendered entity summaries under
	// "entity:<entity_id>" vector ids.
	ModeEntities IndexMode = "entities"
)

// IndexParams configures an IndexOperator.
type IndexParams struct {
	Embedder ai.EmbeddingClient
	Index    vector.Index
	Mode     IndexMode

	// Retry is applied around embedding calls.
	Retry pipeline.RetryPolicy
}

// IndexOperator embeds the run's chunks or merged entities and upserts
// them into the vector index. Vector ids derive from source ids, so
// re-running over the same input replaces vectors instead of adding
// duplicates. The indexed_count key accumulates across the pipeline's
// index stages.
type IndexOperator struct {
	embedder ai.EmbeddingClient
	index    vector.Index
	mode     IndexMode
	retry    pipeline.RetryPolicy
}

// NewIndexOperator builds an index operator for one mode.
func NewIndexOperator(p IndexParams) (*IndexOperator, error) {
	if p.Embedder == nil {
		return nil, errors.New("graph: index operator needs an embedding client")
	}
	if p.Index == nil {
		return nil, errors.New("graph: index operator needs a vector index")
	}
	if p.Mode != ModeChunks && p.Mode != ModeEntities {
		return nil, fmt.Errorf("graph: unknown index mode %q", p.Mode)
	}
	if p.Retry.MaxAttempts == 0 {
		p.Retry = pipeline.DefaultRetryPolicy()
	}
	if p.Retry.Retryable == nil {
		p.Retry.Retryable = Retryable
	}
	return &IndexOperator{embedder: p.Embedder, index: p.Index, mode: p.Mode, retry: p.Retry}, nil
}

func (o *IndexOperator) Name() string { return "index_" + string(o.mode) }

func (o *IndexOperator) Requires() []string {
	if o.mode == ModeChunks {
		return []string{KeyChunks.Name()}
	}
	return []string{KeyMergedEntities.Name()}
}

func (o *IndexOperator) Produces() []string { return []string{KeyIndexedCount.Name()} }

func (o *IndexOperator) Run(ctx context.Context, st *pipeline.State) error {
	records, err := o.collect(st)
	if err != nil {
		return err
	}
	if len(records) > 0 {
		payloads := make([]string, len(records))
		for i, rec := range records {
			payloads[i] = rec.Payload
		}
		vectors, err := pipeline.RetryValue(ctx, o.retry, func(ctx context.Context) ([][]float32, error) {
			return o.embedder.EmbedBatch(ctx, payloads)
		})
		if err != nil {
			return err
		}
		for i := range records {
			records[i].Vector = vectors[i]
			if err := o.index.Upsert(ctx, records[i]); err != nil {
				return fmt.Errorf("upserting vector %s: %w", records[i].VectorID, err)
			}
		}
		logger.Debug("[Index] Vectors upserted", "item", st.ID(), "mode", string(o.mode), "count", len(records))
	}

	total := len(records)
	if st.Has(KeyIndexedCount.Name()) {
		prev, err := pipeline.Get(st, KeyIndexedCount)
		if err != nil {
			return err
		}
		total += prev
	}
	return pipeline.Set(st, KeyIndexedCount, total)
}

// collect builds the unembedded records for the operator's mode.
func (o *IndexOperator) collect(st *pipeline.State) ([]vector.Record, error) {
	if o.mode == ModeChunks {
		chunks, err := pipeline.Get(st, KeyChunks)
		if err != nil {
			return nil, err
		}
		records := make([]vector.Record, 0, len(chunks))
		for _, c := range chunks {
			records = append(records, vector.Record{
				VectorID: "chunk:" + c.ID,
				SourceID: c.ID,
				Kind:     vector.KindChunk,
				Payload:  c.Text,
			})
		}
		return records, nil
	}

	entities, err := pipeline.Get(st, KeyMergedEntities)
	if err != nil {
		return nil, err
	}
	records := make([]vector.Record, 0, len(entities))
	for _, e := range entities {
		records = append(records, vector.Record{
			VectorID: "entity:" + e.ID,
			SourceID: e.ID,
			Kind:     vector.KindEntity,
			Payload:  e.Render(),
		})
	}
	return records, nil
}
