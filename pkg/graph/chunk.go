package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/graphloom/loom/pkg/chunker"
	"github.com/graphloom/loom/pkg/logger"
	"github.com/graphloom/loom/pkg/pipeline"
)

// ChunkOperator cuts the run's document into token-bounded chunks. It is
// the first operator of the construction pipeline.
type ChunkOperator struct {
	chunker chunker.Chunker
}

// NewChunkOperator wraps a chunker as a pipeline operator.
func NewChunkOperator(c chunker.Chunker) (*ChunkOperator, error) {
	if c == nil {
		return nil, errors.New("graph: chunk operator needs a chunker")
	}
	return &ChunkOperator{chunker: c}, nil
}

func (o *ChunkOperator) Name() string { return "chunk" }

func (o *ChunkOperator) Requires() []string { return []string{KeyDocument.Name()} }

func (o *ChunkOperator) Produces() []string { return []string{KeyChunks.Name()} }

func (o *ChunkOperator) Run(ctx context.Context, st *pipeline.State) error {
	doc, err := pipeline.Get(st, KeyDocument)
	if err != nil {
		return err
	}
	chunks, err := o.chunker.Chunk(doc)
	if err != nil {
		return fmt.Errorf("chunking document %s: %w", doc.ID, err)
	}
	logger.Debug("[Chunk] Document split", "document", doc.ID, "chunks", len(chunks))
	return pipeline.Set(st, KeyChunks, chunks)
}
