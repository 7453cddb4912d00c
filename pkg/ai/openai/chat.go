package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"

	"github.com/graphloom/loom/pkg/ai"
)

// Complete sends a single-turn prompt to the chat model and returns the
// generated text.
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

	body := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(options.Model),
		Messages:    buildMessages(options.SystemPrompts, prompt),
		Temperature: openai.Float(options.Temperature),
	}
	if options.Thinking != "" {
		body.ReasoningEffort = shared.ReasoningEffort(options.Thinking)
	}

	response, err := c.send(ctx, body)
	if err != nil {
		return "", err
	}
	return response.Choices[0].Message.Content, nil
}

// CompleteWithFormat constrains the response to the JSON schema derived
// from out and unmarshals the model output into it.
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

	body := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(options.Model),
		Messages: buildMessages(options.SystemPrompts, prompt),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        name,
					Description: openai.String(description),
					Schema:      ai.GenerateSchema(out),
					Strict:      openai.Bool(true),
				},
			},
		},
		Temperature: openai.Float(options.Temperature),
	}
	if options.Thinking != "" {
		body.ReasoningEffort = shared.ReasoningEffort(options.Thinking)
	}

	response, err := c.send(ctx, body)
	if err != nil {
		return err
	}

	message := response.Choices[0].Message.Content
	if message == "" {
		return fmt.Errorf("%w: empty response (finish_reason: %s)",
			ai.ErrInvalidResponse, response.Choices[0].FinishReason)
	}
	return ai.UnmarshalFlexible(message, out)
}

// send runs one chat request under the concurrency limit and per-request
// timeout, records usage, and validates the response shape.
func (c *Client) send(ctx context.Context, body openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	start := time.Now()
	response, err := c.api.Chat.Completions.New(rCtx, body)
	if err != nil {
		return nil, mapErr(err)
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens:  int(response.Usage.PromptTokens),
		OutputTokens: int(response.Usage.CompletionTokens),
		TotalTokens:  int(response.Usage.TotalTokens),
		DurationMs:   time.Since(start).Milliseconds(),
	})

	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in response", ai.ErrInvalidResponse)
	}
	return response, nil
}

func buildMessages(systemPrompts []string, prompt string) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(systemPrompts)+1)
	for _, sp := range systemPrompts {
		msgs = append(msgs, openai.SystemMessage(sp))
	}
	return append(msgs, openai.UserMessage(prompt))
}
