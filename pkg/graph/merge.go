package graph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/graphloom/loom/pkg/common"
	"github.com/graphloom/loom/pkg/logger"
	"github.com/graphloom/loom/pkg/pipeline"
	"github.com/graphloom/loom/pkg/store"
)

// MergeOperator folds the extraction output into the graph store:
// mentions with the same normalized name become one entity, duplicate
// triples become one edge, and every entity is upserted before any
// relation so relation writes never reference a missing node. Running the
// same extraction output twice leaves the graph unchanged.
type MergeOperator struct {
	store store.GraphStore
}

// NewMergeOperator builds the merge operator over the given store.
func NewMergeOperator(s store.GraphStore) (*MergeOperator, error) {
	if s == nil {
		return nil, errors.New("graph: merge operator needs a graph store")
	}
	return &MergeOperator{store: s}, nil
}

func (o *MergeOperator) Name() string { return "merge" }

func (o *MergeOperator) Requires() []string {
	return []string{KeyTriples.Name(), KeyMentions.Name()}
}

func (o *MergeOperator) Produces() []string {
	return []string{KeyMergedEntities.Name(), KeyMergedEntityIDs.Name()}
}

func (o *MergeOperator) Run(ctx context.Context, st *pipeline.State) error {
	mentions, err := pipeline.Get(st, KeyMentions)
	if err != nil {
		return err
	}
	triples, err := pipeline.Get(st, KeyTriples)
	if err != nil {
		return err
	}

	entities := mergeMentions(mentions, triples)
	relations := normalizeTriples(triples)

	for _, e := range entities {
		if _, err := o.store.UpsertEntity(ctx, e); err != nil {
			return fmt.Errorf("upserting entity %s: %w", e.ID, err)
		}
	}
	for _, t := range relations {
		if _, err := o.store.UpsertRelation(ctx, t); err != nil {
			return fmt.Errorf("upserting relation %s: %w", t.Key(), err)
		}
	}

	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}
	if err := pipeline.Set(st, KeyMergedEntities, entities); err != nil {
		return err
	}
	if err := pipeline.Set(st, KeyMergedEntityIDs, ids); err != nil {
		return err
	}
	logger.Debug("[Merge] Graph updated",
		"item", st.ID(), "entities", len(entities), "relations", len(relations))
	return nil
}

// mergeMentions folds mentions into entity records keyed by normalized
// name. The canonical name is the first surface form seen; aliases collect
// every distinct surface form; the longest description wins; the type is
// the first non-empty one. Triple endpoints without a mention get bare
// entities so relation upserts always find both nodes. The result is
// sorted by id.
func mergeMentions(mentions []common.Mention, triples []common.Triple) []common.Entity {
	byID := make(map[string]*common.Entity)
	var order []string

	lookup := func(surface string) *common.Entity {
		id := common.NormalizeID(surface)
		if id == "" {
			return nil
		}
		e, ok := byID[id]
		if !ok {
			e = &common.Entity{
				ID:            id,
				CanonicalName: surface,
				Aliases:       []string{},
				Properties:    map[string]string{},
			}
			byID[id] = e
			order = append(order, id)
		}
		if !slices.Contains(e.Aliases, surface) {
			e.Aliases = append(e.Aliases, surface)
		}
		return e
	}

	for _, m := range mentions {
		e := lookup(m.Name)
		if e == nil {
			continue
		}
		if e.Type == "" && m.Type != "" {
			e.Type = m.Type
		}
		if len(m.Description) > len(e.Properties["description"]) {
			e.Properties["description"] = m.Description
		}
	}
	for _, t := range triples {
		lookup(t.SubjectID)
		lookup(t.ObjectID)
	}

	out := make([]common.Entity, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// normalizeTriples rewrites triple endpoints to normalized entity ids and
// predicates to lower_snake_case, then deduplicates by (subject,
// predicate, object) keeping first occurrence order and the highest
// confidence seen.
func normalizeTriples(triples []common.Triple) []common.Triple {
	seen := make(map[string]int)
	out := make([]common.Triple, 0, len(triples))
	for _, t := range triples {
		t.SubjectID = common.NormalizeID(t.SubjectID)
		t.ObjectID = common.NormalizeID(t.ObjectID)
		t.Predicate = normalizePredicate(t.Predicate)
		if t.SubjectID == "" || t.ObjectID == "" || t.Predicate == "" {
			continue
		}
		if i, ok := seen[t.Key()]; ok {
			if t.Confidence > out[i].Confidence {
				out[i].Confidence = t.Confidence
			}
			continue
		}
		seen[t.Key()] = len(out)
		out = append(out, t)
	}
	return out
}

func normalizePredicate(p string) string {
	return strings.Join(strings.Fields(strings.ToLower(p)), "_")
}
