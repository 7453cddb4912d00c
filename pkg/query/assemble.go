package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/graphloom/loom/pkg/logger"
	"github.com/graphloom/loom/pkg/pipeline"
)

const (
	defaultEncoding      = "cl100k_base"
	defaultContextTokens = 3000
)

// AssembleParams configures an AssembleOperator. Zero values select
// cl100k_base and a 3000 token budget.
type AssembleParams struct {
	Encoding  string
	MaxTokens int
}

// AssembleOperator builds the context window for answer synthesis:
// candidate passages deduplicated by source id and text in score order,
// then the graph expansion lines, joined and trimmed to the token budget.
type AssembleOperator struct {
	enc       *tiktoken.Tiktoken
	maxTokens int
}

// NewAssembleOperator builds the context assembly operator.
func NewAssembleOperator(p AssembleParams) (*AssembleOperator, error) {
	if p.Encoding == "" {
		p.Encoding = defaultEncoding
	}
	if p.MaxTokens < 1 {
		p.MaxTokens = defaultContextTokens
	}
	enc, err := tiktoken.GetEncoding(p.Encoding)
	if err != nil {
		return nil, fmt.Errorf("query: loading encoding %q: %w", p.Encoding, err)
	}
	return &AssembleOperator{enc: enc, maxTokens: p.MaxTokens}, nil
}

func (o *AssembleOperator) Name() string { return "assemble_context" }

func (o *AssembleOperator) Requires() []string {
	return []string{KeyCandidates.Name(), KeyExpanded.Name()}
}

func (o *AssembleOperator) Produces() []string { return []string{KeyAssembled.Name()} }

func (o *AssembleOperator) Run(ctx context.Context, st *pipeline.State) error {
	candidates, err := pipeline.Get(st, KeyCandidates)
	if err != nil {
		return err
	}
	expanded, err := pipeline.Get(st, KeyExpanded)
	if err != nil {
		return err
	}

	parts := make([]string, 0, len(candidates)+len(expanded))
	seenSource := make(map[string]struct{})
	seenText := make(map[string]struct{})
	for _, hit := range candidates {
		text := strings.TrimSpace(hit.Payload)
		if text == "" {
			continue
		}
		if hit.SourceID != "" {
			if _, ok := seenSource[hit.SourceID]; ok {
				continue
			}
			seenSource[hit.SourceID] = struct{}{}
		}
		if _, ok := seenText[text]; ok {
			continue
		}
		seenText[text] = struct{}{}
		parts = append(parts, text)
	}
	for _, line := range expanded {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, ok := seenText[line]; ok {
			continue
		}
		seenText[line] = struct{}{}
		parts = append(parts, line)
	}

	assembled := o.fit(parts)
	logger.Debug("[Assemble] Context built",
		"item", st.ID(), "passages", len(candidates), "graph_lines", len(expanded), "parts", len(parts))
	return pipeline.Set(st, KeyAssembled, assembled)
}

// fit joins parts until the token budget is reached, keeping the
// highest-scored prefix whole. Only a first part that alone exceeds the
// budget is cut mid-text.
func (o *AssembleOperator) fit(parts []string) string {
	const sep = "\n\n"
	sepTokens := len(o.enc.Encode(sep, nil, nil))

	var sb strings.Builder
	used := 0
	for i, part := range parts {
		cost := len(o.enc.Encode(part, nil, nil))
		if i > 0 {
			cost += sepTokens
		}
		if used+cost > o.maxTokens {
			if i == 0 {
				ids := o.enc.Encode(part, nil, nil)
				return o.enc.Decode(ids[:o.maxTokens])
			}
			break
		}
		if i > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(part)
		used += cost
	}
	return sb.String()
}
