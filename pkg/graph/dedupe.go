package graph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/graphloom/loom/pkg/ai"
	"github.com/graphloom/loom/pkg/common"
	"github.com/graphloom/loom/pkg/logger"
	"github.com/graphloom/loom/pkg/pipeline"
	"github.com/graphloom/loom/pkg/prompt"
	"github.com/graphloom/loom/pkg/store"
)

// DedupParams configures a DedupOperator.
type DedupParams struct {
	Model   ai.ModelClient
	Prompts *prompt.Registry
	Store   store.GraphStore
	Retry   pipeline.RetryPolicy
}

// DedupOperator asks the model which merged entities are duplicates of
// each other ("IBM" vs "International Business Machines") and folds each
// duplicate group into its canonical member: aliases are re-pointed onto
// the kept entity and descriptions are consolidated through the
// entity_summary template. Groups naming entities outside the batch are
// dropped. Optional; runs after merge.
type DedupOperator struct {
	model   ai.ModelClient
	prompts *prompt.Registry
	store   store.GraphStore
	retry   pipeline.RetryPolicy
}

// NewDedupOperator builds the dedup operator.
func NewDedupOperator(p DedupParams) (*DedupOperator, error) {
	if p.Model == nil {
		return nil, errors.New("graph: dedup operator needs a model client")
	}
	if p.Store == nil {
		return nil, errors.New("graph: dedup operator needs a graph store")
	}
	if p.Prompts == nil {
		p.Prompts = prompt.NewRegistry()
	}
	if p.Retry.MaxAttempts == 0 {
		p.Retry = pipeline.DefaultRetryPolicy()
	}
	if p.Retry.Retryable == nil {
		p.Retry.Retryable = Retryable
	}
	return &DedupOperator{model: p.Model, prompts: p.Prompts, store: p.Store, retry: p.Retry}, nil
}

func (o *DedupOperator) Name() string { return "dedup" }

func (o *DedupOperator) Requires() []string { return []string{KeyMergedEntities.Name()} }

func (o *DedupOperator) Produces() []string { return []string{KeyDedupedCount.Name()} }

type dedupGroup struct {
	Canonical string   `json:"canonical"`
	Members   []string `json:"members"`
}

type dedupResponse struct {
	Groups []dedupGroup `json:"groups"`
}

func (o *DedupOperator) Run(ctx context.Context, st *pipeline.State) error {
	entities, err := pipeline.Get(st, KeyMergedEntities)
	if err != nil {
		return err
	}
	if len(entities) < 2 {
		return pipeline.Set(st, KeyDedupedCount, 0)
	}

	byID := make(map[string]common.Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}

	promptText, err := o.prompts.Render(prompt.EntityDedup, map[string]any{
		"Entities": renderEntityList(entities),
	})
	if err != nil {
		return err
	}
	raw, err := pipeline.RetryValue(ctx, o.retry, func(ctx context.Context) (string, error) {
		return o.model.Complete(ctx, promptText, ai.WithTemperature(extractTemperature))
	})
	if err != nil {
		return err
	}
	var resp dedupResponse
	if err := ai.UnmarshalFlexible(raw, &resp); err != nil {
		return fmt.Errorf("%w: decoding dedup groups: %v", ai.ErrInvalidResponse, err)
	}

	merged, dropped := 0, 0
	for _, g := range resp.Groups {
		kept, others, ok := resolveGroup(g, byID)
		if !ok {
			dropped++
			continue
		}
		if kept.Properties == nil {
			kept.Properties = map[string]string{}
		}
		for _, other := range others {
			for _, alias := range other.Aliases {
				if !slices.Contains(kept.Aliases, alias) {
					kept.Aliases = append(kept.Aliases, alias)
				}
			}
			if kept.Type == "" && other.Type != "" {
				kept.Type = other.Type
			}
		}
		if descriptions := collectDescriptions(kept, others); len(descriptions) > 1 {
			summary, err := o.summarize(ctx, kept, descriptions)
			if err != nil {
				if hardFailure(err) {
					return err
				}
				logger.Warn("[Dedup] Summary failed, keeping longest description",
					"entity", kept.ID, "error", err)
				summary = longest(descriptions)
			}
			kept.Properties["description"] = summary
		}
		if _, err := o.store.UpsertEntity(ctx, kept); err != nil {
			return fmt.Errorf("upserting deduped entity %s: %w", kept.ID, err)
		}
		merged += len(others)
	}

	logger.Info("[Dedup] Duplicate groups applied",
		"item", st.ID(), "groups", len(resp.Groups)-dropped, "dropped_groups", dropped, "merged", merged)
	return pipeline.Set(st, KeyDedupedCount, merged)
}

// resolveGroup maps a duplicate group onto known entities. The group
// applies only when the canonical and every member resolve to entities of
// this batch and at least one member differs from the canonical.
func resolveGroup(g dedupGroup, byID map[string]common.Entity) (common.Entity, []common.Entity, bool) {
	canonical := common.NormalizeID(g.Canonical)
	kept, ok := byID[canonical]
	if !ok {
		return common.Entity{}, nil, false
	}
	var others []common.Entity
	seen := map[string]bool{canonical: true}
	for _, member := range g.Members {
		id := common.NormalizeID(member)
		if seen[id] {
			continue
		}
		e, ok := byID[id]
		if !ok {
			return common.Entity{}, nil, false
		}
		seen[id] = true
		others = append(others, e)
	}
	if len(others) == 0 {
		return common.Entity{}, nil, false
	}
	return kept, others, true
}

func (o *DedupOperator) summarize(ctx context.Context, e common.Entity, descriptions []string) (string, error) {
	promptText, err := o.prompts.Render(prompt.EntitySummary, map[string]any{
		"Name":         e.CanonicalName,
		"Type":         e.Type,
		"Descriptions": "- " + strings.Join(descriptions, "\n- "),
	})
	if err != nil {
		return "", err
	}
	out, err := pipeline.RetryValue(ctx, o.retry, func(ctx context.Context) (string, error) {
		return o.model.Complete(ctx, promptText)
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func renderEntityList(entities []common.Entity) string {
	var sb strings.Builder
	for _, e := range entities {
		sb.WriteString("- ")
		sb.WriteString(e.Render())
		sb.WriteString("\n")
	}
	return sb.String()
}

func collectDescriptions(kept common.Entity, others []common.Entity) []string {
	descriptions := make([]string, 0, len(others)+1)
	if d := kept.Description(); d != "" {
		descriptions = append(descriptions, d)
	}
	for _, other := range others {
		d := other.Description()
		if d != "" && !slices.Contains(descriptions, d) {
			descriptions = append(descriptions, d)
		}
	}
	return descriptions
}

func longest(ss []string) string {
	var best string
	for _, s := range ss {
		if len(s) > len(best) {
			best = s
		}
	}
	return best
}
