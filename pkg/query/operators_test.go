package query

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/graphloom/loom/pkg/common"
	"github.com/graphloom/loom/pkg/graph"
	"github.com/graphloom/loom/pkg/pipeline"
	"github.com/graphloom/loom/pkg/vector"
)

func fastRetry() pipeline.RetryPolicy {
	return pipeline.RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		Retryable:      graph.Retryable,
	}
}

func queryState(t *testing.T, question string, topK, hops int) *pipeline.State {
	t.Helper()
	st := pipeline.NewState("")
	if err := pipeline.Set(st, KeyQueryText, question); err != nil {
		t.Fatal(err)
	}
	if err := pipeline.Set(st, KeyTopK, topK); err != nil {
		t.Fatal(err)
	}
	if err := pipeline.Set(st, KeyHopCount, hops); err != nil {
		t.Fatal(err)
	}
	return st
}

func TestSearchOperatorBlankQuery(t *testing.T) {
	embedder := &fakeEmbedder{}
	op, err := NewSearchOperator(SearchParams{Embedder: embedder, Index: &fakeIndex{}, Retry: fastRetry()})
	if err != nil {
		t.Fatal(err)
	}
	st := queryState(t, "   ", 5, 2)

	if err := op.Run(context.Background(), st); err != nil {
		t.Fatalf("expected blank query to succeed, got %v", err)
	}
	hits, err := pipeline.Get(st, KeyCandidates)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no candidates, got %d", len(hits))
	}
	if embedder.calls != 0 {
		t.Errorf("expected no embedding calls, got %d", embedder.calls)
	}
}

func TestSearchOperatorHonorsTopK(t *testing.T) {
	index := &fakeIndex{hits: []vector.Hit{
		{Record: vector.Record{VectorID: "chunk:a", SourceID: "a", Kind: vector.KindChunk, Payload: "first"}, Score: 0.9},
		{Record: vector.Record{VectorID: "chunk:b", SourceID: "b", Kind: vector.KindChunk, Payload: "second"}, Score: 0.8},
		{Record: vector.Record{VectorID: "chunk:c", SourceID: "c", Kind: vector.KindChunk, Payload: "third"}, Score: 0.7},
	}}
	op, err := NewSearchOperator(SearchParams{Embedder: &fakeEmbedder{}, Index: index, Retry: fastRetry()})
	if err != nil {
		t.Fatal(err)
	}
	st := queryState(t, "what does acme build?", 2, 0)

	if err := op.Run(context.Background(), st); err != nil {
		t.Fatalf("expected search to succeed, got %v", err)
	}
	hits, err := pipeline.Get(st, KeyCandidates)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(hits))
	}
	if hits[0].Score < hits[1].Score {
		t.Error("expected candidates ordered by descending score")
	}
}

func entityHit(id string, score float64) vector.Hit {
	return vector.Hit{
		Record: vector.Record{
			VectorID: "entity:" + id,
			SourceID: id,
			Kind:     vector.KindEntity,
			Payload:  id,
		},
		Score: score,
	}
}

func TestExpandOperator(t *testing.T) {
	neighbors := map[string][]common.Entity{
		"acme corp": {
			{ID: "alice", CanonicalName: "Alice", Type: "PERSON", Properties: map[string]string{"description": "Engineer at Acme Corp."}},
			{ID: "lyon", CanonicalName: "Lyon", Type: "LOCATION"},
		},
		"ardent labs": {
			{ID: "alice", CanonicalName: "Alice", Type: "PERSON", Properties: map[string]string{"description": "Engineer at Acme Corp."}},
		},
	}
	tests := []struct {
		name      string
		hits      []vector.Hit
		hops      int
		want      []string
		wantFetch int
	}{
		{
			name: "expands entity seeds and deduplicates",
			hits: []vector.Hit{entityHit("acme corp", 0.9), entityHit("ardent labs", 0.8)},
			hops: 2,
			want: []string{
				"Alice (PERSON): Engineer at Acme Corp.",
				"Lyon (LOCATION)",
			},
			wantFetch: 2,
		},
		{
			name: "chunk candidates are not seeds",
			hits: []vector.Hit{{
				Record: vector.Record{VectorID: "chunk:c1", SourceID: "c1", Kind: vector.KindChunk, Payload: "text"},
				Score:  0.9,
			}},
			hops: 2,
			want: []string{},
		},
		{
			name: "zero hops disables expansion",
			hits: []vector.Hit{entityHit("acme corp", 0.9)},
			hops: 0,
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{neighbors: neighbors}
			op, err := NewExpandOperator(store)
			if err != nil {
				t.Fatal(err)
			}
			st := queryState(t, "q", 5, tt.hops)
			if err := pipeline.Set(st, KeyCandidates, tt.hits); err != nil {
				t.Fatal(err)
			}

			if err := op.Run(context.Background(), st); err != nil {
				t.Fatalf("expected expansion to succeed, got %v", err)
			}
			expanded, err := pipeline.Get(st, KeyExpanded)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(expanded, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, expanded)
			}
			if store.fetchCalls != tt.wantFetch {
				t.Errorf("expected %d neighbor fetches, got %d", tt.wantFetch, store.fetchCalls)
			}
		})
	}
}

func assembleState(t *testing.T, hits []vector.Hit, expanded []string) *pipeline.State {
	t.Helper()
	st := pipeline.NewState("")
	if err := pipeline.Set(st, KeyCandidates, hits); err != nil {
		t.Fatal(err)
	}
	if err := pipeline.Set(st, KeyExpanded, expanded); err != nil {
		t.Fatal(err)
	}
	return st
}

func TestAssembleOperatorDeduplicates(t *testing.T) {
	hits := []vector.Hit{
		{Record: vector.Record{SourceID: "c1", Payload: "Acme Corp builds sensors."}, Score: 0.9},
		{Record: vector.Record{SourceID: "c1", Payload: "Acme Corp builds sensors."}, Score: 0.85},
		{Record: vector.Record{SourceID: "c2", Payload: "Acme Corp builds sensors."}, Score: 0.8},
		{Record: vector.Record{SourceID: "c3", Payload: "Alice works there."}, Score: 0.7},
	}
	expanded := []string{"Lyon (LOCATION)", "Alice works there."}
	op, err := NewAssembleOperator(AssembleParams{})
	if err != nil {
		t.Fatal(err)
	}
	st := assembleState(t, hits, expanded)

	if err := op.Run(context.Background(), st); err != nil {
		t.Fatalf("expected assembly to succeed, got %v", err)
	}
	assembled, err := pipeline.Get(st, KeyAssembled)
	if err != nil {
		t.Fatal(err)
	}
	want := "Acme Corp builds sensors.\n\nAlice works there.\n\nLyon (LOCATION)"
	if assembled != want {
		t.Errorf("expected %q, got %q", want, assembled)
	}
}

func TestAssembleOperatorTokenBudget(t *testing.T) {
	enc, err := tiktoken.GetEncoding(defaultEncoding)
	if err != nil {
		t.Fatal(err)
	}
	first := "Acme Corp builds irrigation sensors."
	second := "Alice is an engineer at Acme Corp."
	budget := len(enc.Encode(first, nil, nil)) + 1

	op, err := NewAssembleOperator(AssembleParams{MaxTokens: budget})
	if err != nil {
		t.Fatal(err)
	}
	hits := []vector.Hit{
		{Record: vector.Record{SourceID: "c1", Payload: first}, Score: 0.9},
		{Record: vector.Record{SourceID: "c2", Payload: second}, Score: 0.8},
	}
	st := assembleState(t, hits, []string{})

	if err := op.Run(context.Background(), st); err != nil {
		t.Fatalf("expected assembly to succeed, got %v", err)
	}
	assembled, err := pipeline.Get(st, KeyAssembled)
	if err != nil {
		t.Fatal(err)
	}
	if assembled != first {
		t.Errorf("expected only the first passage within budget, got %q", assembled)
	}
}

func TestAssembleOperatorTruncatesOversizedFirstPart(t *testing.T) {
	op, err := NewAssembleOperator(AssembleParams{MaxTokens: 3})
	if err != nil {
		t.Fatal(err)
	}
	hits := []vector.Hit{
		{Record: vector.Record{SourceID: "c1", Payload: "Acme Corp builds irrigation sensors in Lyon."}, Score: 0.9},
	}
	st := assembleState(t, hits, []string{})

	if err := op.Run(context.Background(), st); err != nil {
		t.Fatalf("expected assembly to succeed, got %v", err)
	}
	assembled, err := pipeline.Get(st, KeyAssembled)
	if err != nil {
		t.Fatal(err)
	}
	enc, err := tiktoken.GetEncoding(defaultEncoding)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(enc.Encode(assembled, nil, nil)); got > 3 {
		t.Errorf("expected at most 3 tokens, got %d (%q)", got, assembled)
	}
	if assembled == "" {
		t.Error("expected a truncated prefix, got empty context")
	}
}

func TestAnswerOperatorSentinelWithoutModelCall(t *testing.T) {
	model := &fakeModel{}
	op, err := NewAnswerOperator(AnswerParams{Model: model, Retry: fastRetry()})
	if err != nil {
		t.Fatal(err)
	}
	st := pipeline.NewState("")
	if err := pipeline.Set(st, KeyQueryText, "who works at acme?"); err != nil {
		t.Fatal(err)
	}
	if err := pipeline.Set(st, KeyAssembled, "   "); err != nil {
		t.Fatal(err)
	}

	if err := op.Run(context.Background(), st); err != nil {
		t.Fatalf("expected sentinel path to succeed, got %v", err)
	}
	answer, err := pipeline.Get(st, KeyAnswer)
	if err != nil {
		t.Fatal(err)
	}
	if answer != SentinelAnswer {
		t.Errorf("expected sentinel answer, got %q", answer)
	}
	if model.callCount() != 0 {
		t.Errorf("expected no model calls, got %d", model.callCount())
	}
}

func TestAnswerOperatorSynthesis(t *testing.T) {
	model := &fakeModel{script: []modelReply{{text: "Alice works at Acme Corp."}}}
	op, err := NewAnswerOperator(AnswerParams{Model: model, Retry: fastRetry()})
	if err != nil {
		t.Fatal(err)
	}
	st := pipeline.NewState("")
	if err := pipeline.Set(st, KeyQueryText, "Who works at Acme Corp?"); err != nil {
		t.Fatal(err)
	}
	if err := pipeline.Set(st, KeyAssembled, "Alice is an engineer at Acme Corp."); err != nil {
		t.Fatal(err)
	}

	if err := op.Run(context.Background(), st); err != nil {
		t.Fatalf("expected synthesis to succeed, got %v", err)
	}
	answer, err := pipeline.Get(st, KeyAnswer)
	if err != nil {
		t.Fatal(err)
	}
	if answer != "Alice works at Acme Corp." {
		t.Errorf("unexpected answer %q", answer)
	}
	if len(model.prompts) != 1 {
		t.Fatalf("expected 1 model call, got %d", len(model.prompts))
	}
	rendered := model.prompts[0]
	if !strings.Contains(rendered, "Alice is an engineer at Acme Corp.") {
		t.Error("expected prompt to carry the assembled context")
	}
	if !strings.Contains(rendered, "Who works at Acme Corp?") {
		t.Error("expected prompt to carry the question")
	}
}
