package query

import (
	"context"
	"sync"

	"github.com/graphloom/loom/pkg/ai"
	"github.com/graphloom/loom/pkg/common"
	"github.com/graphloom/loom/pkg/vector"
)

type modelReply struct {
	text string
	err  error
}

// fakeModel replays a script of replies in call order; after the script
// runs out the last reply repeats.
type fakeModel struct {
	mu      sync.Mutex
	script  []modelReply
	calls   int
	prompts []string
}

func (m *fakeModel) Complete(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	i := m.calls
	m.calls++
	if len(m.script) == 0 {
		return "", nil
	}
	if i >= len(m.script) {
		i = len(m.script) - 1
	}
	return m.script[i].text, m.script[i].err
}

func (m *fakeModel) CompleteWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	raw, err := m.Complete(ctx, prompt)
	if err != nil {
		return err
	}
	return ai.UnmarshalFlexible(raw, out)
}

func (m *fakeModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(ctx context.Context, input string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3, 0.4}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, input := range inputs {
		vec, err := f.Embed(ctx, input)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// fakeIndex returns preset hits regardless of the query vector.
type fakeIndex struct {
	hits     []vector.Hit
	searches int
	err      error
}

func (f *fakeIndex) Upsert(ctx context.Context, rec vector.Record) error { return nil }

func (f *fakeIndex) Search(ctx context.Context, vec []float32, topK int) ([]vector.Hit, error) {
	f.searches++
	if f.err != nil {
		return nil, f.err
	}
	if topK < len(f.hits) {
		return f.hits[:topK], nil
	}
	return f.hits, nil
}

// fakeStore serves preset neighbor lists.
type fakeStore struct {
	neighbors  map[string][]common.Entity
	fetchCalls int
	err        error
}

func (s *fakeStore) UpsertEntity(ctx context.Context, e common.Entity) (string, error) {
	return e.ID, nil
}

func (s *fakeStore) UpsertRelation(ctx context.Context, t common.Triple) (string, error) {
	return t.Key(), nil
}

func (s *fakeStore) FetchNeighbors(ctx context.Context, entityID string, hops int) ([]common.Entity, error) {
	s.fetchCalls++
	if s.err != nil {
		return nil, s.err
	}
	if hops < 1 {
		return nil, nil
	}
	return s.neighbors[entityID], nil
}
