package graph

import (
	"context"
	"testing"

	"github.com/graphloom/loom/pkg/common"
	"github.com/graphloom/loom/pkg/pipeline"
	"github.com/graphloom/loom/pkg/vector"
)

func TestIndexOperatorChunks(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := newFakeIndex()
	op, err := NewIndexOperator(IndexParams{Embedder: embedder, Index: index, Mode: ModeChunks, Retry: fastRetry()})
	if err != nil {
		t.Fatal(err)
	}
	st := chunkState(t, "Acme Corp builds sensors.", "Alice works there.")

	if err := op.Run(context.Background(), st); err != nil {
		t.Fatalf("expected indexing to succeed, got %v", err)
	}

	rec, ok := index.record("chunk:c1")
	if !ok {
		t.Fatal("expected chunk:c1 in the index")
	}
	if rec.Kind != vector.KindChunk || rec.SourceID != "c1" || rec.Payload != "Acme Corp builds sensors." {
		t.Errorf("unexpected record: %+v", rec)
	}
	if len(rec.Vector) == 0 {
		t.Error("expected a vector on the record")
	}
	count, err := pipeline.Get(st, KeyIndexedCount)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("expected indexed_count 2, got %d", count)
	}
}

func TestIndexOperatorEntities(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := newFakeIndex()
	op, err := NewIndexOperator(IndexParams{Embedder: embedder, Index: index, Mode: ModeEntities, Retry: fastRetry()})
	if err != nil {
		t.Fatal(err)
	}
	st := pipeline.NewState("doc1")
	entities := []common.Entity{{
		ID:            "acme corp",
		CanonicalName: "Acme Corp",
		Type:          "ORGANIZATION",
		Properties:    map[string]string{"description": "Maker of irrigation sensors."},
	}}
	if err := pipeline.Set(st, KeyMergedEntities, entities); err != nil {
		t.Fatal(err)
	}
	// a previous index stage already counted two upserts
	if err := pipeline.Set(st, KeyIndexedCount, 2); err != nil {
		t.Fatal(err)
	}

	if err := op.Run(context.Background(), st); err != nil {
		t.Fatalf("expected indexing to succeed, got %v", err)
	}

	rec, ok := index.record("entity:acme corp")
	if !ok {
		t.Fatal("expected entity:acme corp in the index")
	}
	if rec.Kind != vector.KindEntity {
		t.Errorf("expected entity kind, got %q", rec.Kind)
	}
	if want := "Acme Corp (ORGANIZATION): Maker of irrigation sensors."; rec.Payload != want {
		t.Errorf("expected payload %q, got %q", want, rec.Payload)
	}
	count, err := pipeline.Get(st, KeyIndexedCount)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("expected accumulated indexed_count 3, got %d", count)
	}
}

func TestIndexOperatorReplacesOnRerun(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := newFakeIndex()
	op, err := NewIndexOperator(IndexParams{Embedder: embedder, Index: index, Mode: ModeChunks, Retry: fastRetry()})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		st := chunkState(t, "Acme Corp builds sensors.")
		if err := op.Run(context.Background(), st); err != nil {
			t.Fatalf("run %d: expected indexing to succeed, got %v", i+1, err)
		}
	}

	if index.size() != 1 {
		t.Errorf("expected re-run to replace the vector, got %d records", index.size())
	}
	if index.upserts != 2 {
		t.Errorf("expected 2 upserts issued, got %d", index.upserts)
	}
}

func TestIndexOperatorEmptyInput(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := newFakeIndex()
	op, err := NewIndexOperator(IndexParams{Embedder: embedder, Index: index, Mode: ModeChunks, Retry: fastRetry()})
	if err != nil {
		t.Fatal(err)
	}
	st := chunkState(t)

	if err := op.Run(context.Background(), st); err != nil {
		t.Fatalf("expected empty indexing to succeed, got %v", err)
	}
	if len(embedder.batches) != 0 {
		t.Error("expected no embedding calls for empty input")
	}
	count, err := pipeline.Get(st, KeyIndexedCount)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("expected indexed_count 0, got %d", count)
	}
}
