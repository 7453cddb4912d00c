// Package graph implements the construction side of the knowledge graph:
// the operators that chunk documents, extract entities and relations with
// a language model, merge them into the graph store and index them for
// retrieval, plus the client that assembles those operators into the
// construction pipeline.
package graph

import (
	"context"
	"errors"

	"github.com/graphloom/loom/pkg/ai"
	"github.com/graphloom/loom/pkg/chunker"
	"github.com/graphloom/loom/pkg/common"
	"github.com/graphloom/loom/pkg/pipeline"
	"github.com/graphloom/loom/pkg/prompt"
	"github.com/graphloom/loom/pkg/store"
	"github.com/graphloom/loom/pkg/vector"
)

const defaultWorkers = 4

// Params configures a construction Client. Chunker, Model, Embedder,
// Store and Index are mandatory; everything else has defaults.
type Params struct {
	Chunker  chunker.Chunker
	Model    ai.ModelClient
	Embedder ai.EmbeddingClient
	Store    store.GraphStore
	Index    vector.Index

	Prompts *prompt.Registry
	Schema  Schema

	// Workers caps concurrent documents in batch ingestion. Default 4.
	Workers int

	// Retry is shared by the engine and the operators' collaborator
	// calls. Default: 3 attempts, 500ms doubling backoff.
	Retry pipeline.RetryPolicy

	// DropThreshold is the per-chunk malformed-record share above which
	// extraction fails the chunk. Default 0.5.
	DropThreshold float64

	// Dedup enables the model-assisted duplicate-entity pass after merge.
	Dedup bool

	// JSONFormat switches extraction to schema-constrained output.
	JSONFormat bool
}

// Client runs the construction pipeline: chunk, extract, merge,
// optionally dedup, then index chunks and entities. One Client is safe
// for concurrent use; every ingestion gets its own state.
type Client struct {
	pipeline *pipeline.Pipeline
	workers  int
}

// NewClient assembles the construction pipeline.
func NewClient(p Params) (*Client, error) {
	switch {
	case p.Chunker == nil:
		return nil, errors.New("graph: client needs a chunker")
	case p.Model == nil:
		return nil, errors.New("graph: client needs a model client")
	case p.Embedder == nil:
		return nil, errors.New("graph: client needs an embedding client")
	case p.Store == nil:
		return nil, errors.New("graph: client needs a graph store")
	case p.Index == nil:
		return nil, errors.New("graph: client needs a vector index")
	}
	if p.Prompts == nil {
		p.Prompts = prompt.NewRegistry()
	}
	if p.Workers < 1 {
		p.Workers = defaultWorkers
	}
	if p.Retry.MaxAttempts == 0 {
		p.Retry = pipeline.DefaultRetryPolicy()
	}
	if p.Retry.Retryable == nil {
		p.Retry.Retryable = Retryable
	}

	chunk, err := NewChunkOperator(p.Chunker)
	if err != nil {
		return nil, err
	}
	extract, err := NewExtractOperator(ExtractParams{
		Model:         p.Model,
		Prompts:       p.Prompts,
		Schema:        p.Schema,
		Retry:         p.Retry,
		DropThreshold: p.DropThreshold,
		JSONFormat:    p.JSONFormat,
	})
	if err != nil {
		return nil, err
	}
	merge, err := NewMergeOperator(p.Store)
	if err != nil {
		return nil, err
	}
	ops := []pipeline.Operator{chunk, extract, merge}
	if p.Dedup {
		dedup, err := NewDedupOperator(DedupParams{
			Model:   p.Model,
			Prompts: p.Prompts,
			Store:   p.Store,
			Retry:   p.Retry,
		})
		if err != nil {
			return nil, err
		}
		ops = append(ops, dedup)
	}
	for _, mode := range []IndexMode{ModeChunks, ModeEntities} {
		index, err := NewIndexOperator(IndexParams{
			Embedder: p.Embedder,
			Index:    p.Index,
			Mode:     mode,
			Retry:    p.Retry,
		})
		if err != nil {
			return nil, err
		}
		ops = append(ops, index)
	}

	pl := pipeline.New("construction", ops,
		pipeline.WithClassifier(Classify),
		pipeline.WithRetryPolicy(p.Retry),
	)
	return &Client{pipeline: pl, workers: p.Workers}, nil
}

// IngestDocument runs the construction pipeline over one document under
// abort-on-error. The returned run's state carries the extraction report
// and merged entity ids.
func (c *Client) IngestDocument(ctx context.Context, doc common.Document) (*pipeline.Run, error) {
	st := pipeline.NewState(doc.ID)
	if err := pipeline.Set(st, KeyDocument, doc); err != nil {
		return nil, err
	}
	run := c.pipeline.Execute(ctx, st)
	return run, run.Err()
}

// IngestDocuments runs the construction pipeline over each document
// independently under continue-and-collect with the client's worker cap.
// Per-document failures land in the run's error log; the error return is
// reserved for failures to start the batch at all.
func (c *Client) IngestDocuments(ctx context.Context, docs []common.Document) (*pipeline.Run, error) {
	states := make([]*pipeline.State, len(docs))
	for i, doc := range docs {
		st := pipeline.NewState(doc.ID)
		if err := pipeline.Set(st, KeyDocument, doc); err != nil {
			return nil, err
		}
		states[i] = st
	}
	return c.pipeline.ExecuteBatch(ctx, states, c.workers), nil
}

// Classify buckets collaborator errors for the pipeline engine. Quality
// failures skip the item, transient failures retry and then fail the
// item, anything unrecognized is fatal.
func Classify(err error) pipeline.Class {
	var quality *ExtractionQualityError
	switch {
	case errors.As(err, &quality):
		return pipeline.ClassQuality
	case errors.Is(err, ai.ErrAuthentication), errors.Is(err, store.ErrSchema):
		return pipeline.ClassFatal
	case ai.Transient(err),
		errors.Is(err, ai.ErrCircuitOpen),
		errors.Is(err, ai.ErrInvalidResponse):
		return pipeline.ClassTransient
	}
	return pipeline.ClassFatal
}

// Retryable is the retry predicate matching Classify: transient
// collaborator errors are worth another attempt, everything else is not.
func Retryable(err error) bool {
	var exhausted *pipeline.ExhaustedError
	if errors.As(err, &exhausted) {
		return false
	}
	return Classify(err) == pipeline.ClassTransient
}
