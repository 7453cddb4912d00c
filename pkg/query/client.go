// Package query implements the retrieval side of the knowledge graph:
// vector search over indexed chunks and entities, optional k-hop graph
// expansion, token-budgeted context assembly and answer synthesis, plus
// the client that assembles those operators into the query pipeline.
package query

import (
	"context"
	"errors"

	"github.com/graphloom/loom/pkg/ai"
	"github.com/graphloom/loom/pkg/graph"
	"github.com/graphloom/loom/pkg/logger"
	"github.com/graphloom/loom/pkg/pipeline"
	"github.com/graphloom/loom/pkg/prompt"
	"github.com/graphloom/loom/pkg/store"
	"github.com/graphloom/loom/pkg/vector"
)

const (
	defaultTopK = 5
	defaultHops = 2
)

// Params configures a query Client. Model, Embedder, Store and Index are
// mandatory; everything else has defaults.
type Params struct {
	Model    ai.ModelClient
	Embedder ai.EmbeddingClient
	Store    store.GraphStore
	Index    vector.Index

	Prompts *prompt.Registry
	Retry   pipeline.RetryPolicy

	// TopK and Hops are the per-question defaults, overridable per Ask.
	TopK int
	Hops int

	// MaxContextTokens bounds the assembled context. Default 3000.
	MaxContextTokens int
	Encoding         string
}

// Client answers questions from the knowledge graph. Safe for concurrent
// use; every question gets its own pipeline state.
type Client struct {
	pipeline *pipeline.Pipeline
	topK     int
	hops     int
}

// NewClient assembles the query pipeline.
func NewClient(p Params) (*Client, error) {
	switch {
	case p.Model == nil:
		return nil, errors.New("query: client needs a model client")
	case p.Embedder == nil:
		return nil, errors.New("query: client needs an embedding client")
	case p.Store == nil:
		return nil, errors.New("query: client needs a graph store")
	case p.Index == nil:
		return nil, errors.New("query: client needs a vector index")
	}
	if p.Prompts == nil {
		p.Prompts = prompt.NewRegistry()
	}
	if p.TopK < 1 {
		p.TopK = defaultTopK
	}
	if p.Hops < 0 {
		p.Hops = defaultHops
	}
	if p.Retry.MaxAttempts == 0 {
		p.Retry = pipeline.DefaultRetryPolicy()
	}
	if p.Retry.Retryable == nil {
		p.Retry.Retryable = graph.Retryable
	}

	search, err := NewSearchOperator(SearchParams{Embedder: p.Embedder, Index: p.Index, Retry: p.Retry})
	if err != nil {
		return nil, err
	}
	expand, err := NewExpandOperator(p.Store)
	if err != nil {
		return nil, err
	}
	assemble, err := NewAssembleOperator(AssembleParams{Encoding: p.Encoding, MaxTokens: p.MaxContextTokens})
	if err != nil {
		return nil, err
	}
	answer, err := NewAnswerOperator(AnswerParams{Model: p.Model, Prompts: p.Prompts, Retry: p.Retry})
	if err != nil {
		return nil, err
	}

	pl := pipeline.New("query",
		[]pipeline.Operator{search, expand, assemble, answer},
		pipeline.WithClassifier(graph.Classify),
		pipeline.WithRetryPolicy(p.Retry),
	)
	return &Client{pipeline: pl, topK: p.TopK, hops: p.Hops}, nil
}

// AskOption overrides retrieval parameters for one question.
type AskOption func(*askConfig)

type askConfig struct {
	topK int
	hops int
}

// WithTopK overrides the number of vector search candidates.
func WithTopK(k int) AskOption {
	return func(c *askConfig) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithHops overrides the graph expansion depth. 0 disables expansion.
func WithHops(h int) AskOption {
	return func(c *askConfig) {
		if h >= 0 {
			c.hops = h
		}
	}
}

// Answer is the outcome of one question.
type Answer struct {
	Text    string `json:"answer"`
	Context string `json:"context,omitempty"`
	RunID   string `json:"run_id"`
}

// Ask runs the query pipeline over one question. Hard collaborator
// failures and cancellation surface as errors; any other failure degrades
// to the sentinel answer so a flaky model never turns into an opaque 500.
func (c *Client) Ask(ctx context.Context, question string, opts ...AskOption) (Answer, error) {
	cfg := askConfig{topK: c.topK, hops: c.hops}
	for _, opt := range opts {
		opt(&cfg)
	}

	st := pipeline.NewState("")
	if err := pipeline.Set(st, KeyQueryText, question); err != nil {
		return Answer{}, err
	}
	if err := pipeline.Set(st, KeyTopK, cfg.topK); err != nil {
		return Answer{}, err
	}
	if err := pipeline.Set(st, KeyHopCount, cfg.hops); err != nil {
		return Answer{}, err
	}

	run := c.pipeline.Execute(ctx, st)
	if err := run.Err(); err != nil {
		if hardFailure(run) {
			return Answer{}, err
		}
		logger.Warn("[Query] Degrading to sentinel answer", "run", run.ID, "error", err)
		return Answer{Text: SentinelAnswer, RunID: run.ID}, nil
	}

	text, err := pipeline.Get(run.State, KeyAnswer)
	if err != nil {
		return Answer{}, err
	}
	contextText, err := pipeline.Get(run.State, KeyAssembled)
	if err != nil {
		return Answer{}, err
	}
	return Answer{Text: text, Context: contextText, RunID: run.ID}, nil
}

// hardFailure reports whether the run failed in a way retrying or
// degrading cannot paper over: wiring bugs, rejected credentials, missing
// schema, cancellation.
func hardFailure(run *pipeline.Run) bool {
	for _, e := range run.Errors {
		if e.Class == pipeline.ClassFatal || e.Class == pipeline.ClassCancelled {
			return true
		}
	}
	return false
}
