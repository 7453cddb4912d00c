package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/pkoukk/tiktoken-go"

	"github.com/graphloom/loom/pkg/ai"
)

// Complete sends a single-turn prompt and returns the assistant text.
func (c *Client) Complete(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	options := ai.GenerateOptions{
		Model:       c.chatModel,
		Temperature: 0.3,
	}
	for _, o := range opts {
		o(&options)
	}

	req, err := buildChatRequest(options, prompt, nil)
	if err != nil {
		return "", err
	}
	return c.send(ctx, req)
}

// CompleteWithFormat constrains the response to the JSON schema derived
// from out and unmarshals the model output into it. The name and
// description parameters are accepted for interface parity; Ollama takes
// the raw schema only.
func (c *Client) CompleteWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	options := ai.GenerateOptions{
		Model:       c.chatModel,
		Temperature: 0.1,
	}
	for _, o := range opts {
		o(&options)
	}

	format, err := json.Marshal(ai.GenerateSchema(out))
	if err != nil {
		return err
	}

	req, err := buildChatRequest(options, prompt, format)
	if err != nil {
		return err
	}
	content, err := c.send(ctx, req)
	if err != nil {
		return err
	}
	if content == "" {
		return fmt.Errorf("%w: empty response", ai.ErrInvalidResponse)
	}
	return ai.UnmarshalFlexible(content, out)
}

func buildChatRequest(options ai.GenerateOptions, prompt string, format json.RawMessage) (*api.ChatRequest, error) {
	msgs := make([]api.Message, 0, len(options.SystemPrompts)+1)
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, api.Message{Role: "system", Content: sp})
	}
	msgs = append(msgs, api.Message{Role: "user", Content: prompt})

	stream := false
	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: msgs,
		Stream:   &stream,
		Format:   format,
		Options:  map[string]any{"temperature": options.Temperature},
	}
	if options.Thinking != "" {
		req.Think = &api.ThinkValue{Value: options.Thinking}
	}

	// Size the context window to the prompt when it outgrows the Ollama
	// default, otherwise long chunks get silently truncated.
	enc, err := tiktoken.GetEncoding("o200k_base")
	if err != nil {
		return nil, err
	}
	tokens := 200
	for _, m := range msgs {
		tokens += len(enc.Encode(m.Content, nil, nil))
	}
	if tokens > 4096 {
		req.Options["num_ctx"] = tokens
	}
	return req, nil
}

// send runs one chat request under the concurrency limit, accumulates
// the response, and records usage.
func (c *Client) send(ctx context.Context, req *api.ChatRequest) (string, error) {
	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return "", err
	}
	defer c.reqLock.Release(1)

	var final api.ChatResponse
	if err := c.api.Chat(rCtx, req, func(cr api.ChatResponse) error {
		final.Message.Content += cr.Message.Content
		if cr.Done {
			final.Done = true
			final.Metrics = cr.Metrics
		}
		return nil
	}); err != nil {
		return "", mapErr(err)
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens:  final.Metrics.PromptEvalCount,
		OutputTokens: final.Metrics.EvalCount,
		TotalTokens:  final.Metrics.PromptEvalCount + final.Metrics.EvalCount,
		DurationMs:   final.Metrics.TotalDuration.Milliseconds(),
	})

	return final.Message.Content, nil
}

// mapErr translates Ollama errors into the ai package sentinels. The
// original error is flattened with %v so context sentinels from the
// per-request timeout stay out of the caller's classification.
func mapErr(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == 401 || statusErr.StatusCode == 403:
			return fmt.Errorf("%w: %v", ai.ErrAuthentication, err)
		case statusErr.StatusCode == 429:
			return fmt.Errorf("%w: %v", ai.ErrRateLimited, err)
		case statusErr.StatusCode >= 500:
			return fmt.Errorf("%w: %v", ai.ErrUnavailable, err)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ai.ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ai.ErrUnavailable, err)
}
