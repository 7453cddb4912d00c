package graph

import (
	"context"
	"fmt"
	"hash/fnv"
	"slices"
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

func (m *fakeModel) reply(prompt string) (string, error) {
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

func (m *fakeModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *fakeModel) Complete(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	return m.reply(prompt)
}

func (m *fakeModel) CompleteWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	raw, err := m.reply(prompt)
	if err != nil {
		return err
	}
	return ai.UnmarshalFlexible(raw, out)
}

// fakeStore keeps the graph in maps and records the upsert order so tests
// can assert entities land before relations. Relation upserts fail when an
// endpoint is missing, like the real stores.
type fakeStore struct {
	mu        sync.Mutex
	entities  map[string]common.Entity
	relations map[string]common.Triple
	ops       []string
	neighbors map[string][]common.Entity
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entities:  make(map[string]common.Entity),
		relations: make(map[string]common.Triple),
	}
}

func (s *fakeStore) UpsertEntity(ctx context.Context, e common.Entity) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.entities[e.ID]
	if !ok {
		s.entities[e.ID] = e
	} else {
		for _, a := range e.Aliases {
			if !slices.Contains(prev.Aliases, a) {
				prev.Aliases = append(prev.Aliases, a)
			}
		}
		if prev.Type == "" {
			prev.Type = e.Type
		}
		if prev.Properties == nil {
			prev.Properties = map[string]string{}
		}
		for k, v := range e.Properties {
			prev.Properties[k] = v
		}
		s.entities[e.ID] = prev
	}
	s.ops = append(s.ops, "entity:"+e.ID)
	return e.ID, nil
}

func (s *fakeStore) UpsertRelation(ctx context.Context, t common.Triple) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[t.SubjectID]; !ok {
		return "", fmt.Errorf("relation subject %s not found", t.SubjectID)
	}
	if _, ok := s.entities[t.ObjectID]; !ok {
		return "", fmt.Errorf("relation object %s not found", t.ObjectID)
	}
	s.relations[t.Key()] = t
	s.ops = append(s.ops, "relation:"+t.Key())
	return t.Key(), nil
}

func (s *fakeStore) FetchNeighbors(ctx context.Context, entityID string, hops int) ([]common.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hops < 1 {
		return nil, nil
	}
	return s.neighbors[entityID], nil
}

// fakeEmbedder derives a deterministic vector from the input text, so the
// same payload always embeds identically.
type fakeEmbedder struct {
	mu      sync.Mutex
	dim     int
	batches [][]string
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, input string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{input})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.batches = append(f.batches, inputs)
	out := make([][]float32, len(inputs))
	for i, input := range inputs {
		out[i] = f.vecFor(input)
	}
	return out, nil
}

func (f *fakeEmbedder) vecFor(input string) []float32 {
	dim := f.dim
	if dim == 0 {
		dim = 4
	}
	h := fnv.New32a()
	h.Write([]byte(input))
	seed := h.Sum32()
	vec := make([]float32, dim)
	for j := range vec {
		seed = seed*1664525 + 1013904223
		vec[j] = float32(seed%1000) / 1000
	}
	return vec
}

// fakeIndex stores records by vector id.
type fakeIndex struct {
	mu      sync.Mutex
	records map[string]vector.Record
	upserts int
	hits    []vector.Hit
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{records: make(map[string]vector.Record)}
}

func (f *fakeIndex) Upsert(ctx context.Context, rec vector.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec.VectorID] = rec
	f.upserts++
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, vec []float32, topK int) ([]vector.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if topK < len(f.hits) {
		return f.hits[:topK], nil
	}
	return f.hits, nil
}

func (f *fakeIndex) record(id string) (vector.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	return rec, ok
}

func (f *fakeIndex) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}
