package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/graphloom/loom/pkg/ai"
	"github.com/graphloom/loom/pkg/graph"
	"github.com/graphloom/loom/pkg/logger"
	"github.com/graphloom/loom/pkg/pipeline"
	"github.com/graphloom/loom/pkg/prompt"
)

// SentinelAnswer is returned when retrieval produced no usable context.
// The model is never consulted in that case; answering from nothing
// invites hallucination.
const SentinelAnswer = "Insufficient context: the knowledge graph holds no information relevant to this question."

// AnswerParams configures an AnswerOperator.
type AnswerParams struct {
	Model   ai.ModelClient
	Prompts *prompt.Registry
	Retry   pipeline.RetryPolicy
}

// AnswerOperator renders the answer_synthesis template over the assembled
// context and asks the model. Empty context short-circuits to
// SentinelAnswer without a model call.
type AnswerOperator struct {
	model   ai.ModelClient
	prompts *prompt.Registry
	retry   pipeline.RetryPolicy
}

// NewAnswerOperator builds the answer synthesis operator.
func NewAnswerOperator(p AnswerParams) (*AnswerOperator, error) {
	if p.Model == nil {
		return nil, errors.New("query: answer operator needs a model client")
	}
	if p.Prompts == nil {
		p.Prompts = prompt.NewRegistry()
	}
	if p.Retry.MaxAttempts == 0 {
		p.Retry = pipeline.DefaultRetryPolicy()
	}
	if p.Retry.Retryable == nil {
		p.Retry.Retryable = graph.Retryable
	}
	return &AnswerOperator{model: p.Model, prompts: p.Prompts, retry: p.Retry}, nil
}

func (o *AnswerOperator) Name() string { return "answer_synthesis" }

func (o *AnswerOperator) Requires() []string {
	return []string{KeyQueryText.Name(), KeyAssembled.Name()}
}

func (o *AnswerOperator) Produces() []string { return []string{KeyAnswer.Name()} }

func (o *AnswerOperator) Run(ctx context.Context, st *pipeline.State) error {
	queryText, err := pipeline.Get(st, KeyQueryText)
	if err != nil {
		return err
	}
	assembled, err := pipeline.Get(st, KeyAssembled)
	if err != nil {
		return err
	}
	if strings.TrimSpace(assembled) == "" {
		logger.Debug("[Answer] Empty context, returning sentinel", "item", st.ID())
		return pipeline.Set(st, KeyAnswer, SentinelAnswer)
	}

	promptText, err := o.prompts.Render(prompt.AnswerSynthesis, map[string]any{
		"Context": assembled,
		"Query":   queryText,
	})
	if err != nil {
		return err
	}
	answer, err := pipeline.RetryValue(ctx, o.retry, func(ctx context.Context) (string, error) {
		return o.model.Complete(ctx, promptText)
	})
	if err != nil {
		return err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return fmt.Errorf("%w: empty answer", ai.ErrInvalidResponse)
	}
	return pipeline.Set(st, KeyAnswer, answer)
}
