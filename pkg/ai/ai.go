// Package ai defines the model and embedding clients the pipelines talk
// to, plus resilience wrappers (circuit breaker, rate limiter) that
// compose around any implementation. Provider backends live in the
// openai and ollama subpackages.
package ai

import (
	"context"
	"errors"
)

// Classification sentinels. Provider backends wrap their native errors
// with one of these so callers can classify failures without knowing
// which backend produced them.
var (
	// ErrRateLimited marks a request rejected for quota or throughput
	// reasons. Retryable after backoff.
	ErrRateLimited = errors.New("ai: rate limited")

	// ErrTimeout marks a request that ran out of time. Retryable.
	ErrTimeout = errors.New("ai: request timed out")

	// ErrUnavailable marks a provider-side failure (5xx, connection
	// refused). Retryable.
	ErrUnavailable = errors.New("ai: provider unavailable")

	// ErrAuthentication marks rejected credentials. Not retryable.
	ErrAuthentication = errors.New("ai: authentication failed")

	// ErrInvalidResponse marks a response the client could not use, such
	// as an empty choice list.
	ErrInvalidResponse = errors.New("ai: invalid model response")
)

// Transient reports whether err is worth retrying against the same
// provider.
func Transient(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrUnavailable)
}

// ModelClient generates text completions. Implementations must be safe
// for concurrent use.
type ModelClient interface {
	// Complete sends a single-turn prompt and returns the assistant text.
	Complete(ctx context.Context, prompt string, opts ...GenerateOption) (string, error)

	// CompleteWithFormat constrains the response to the JSON schema
	// derived from out and unmarshals the result into it. The name and
	// description label the schema for providers that require it.
	CompleteWithFormat(ctx context.Context, name string, description string, prompt string, out any, opts ...GenerateOption) error
}

// EmbeddingClient turns text into vectors. Implementations must be safe
// for concurrent use and must return vectors of a fixed dimension.
type EmbeddingClient interface {
	Embed(ctx context.Context, input string) ([]float32, error)

	// EmbedBatch embeds several inputs in one round trip, preserving
	// input order.
	EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error)
}

// GenerateOptions holds configuration for generation requests.
type GenerateOptions struct {
	Model         string   // Model identifier to use for generation
	SystemPrompts []string // System prompts prepended to the request
	Temperature   float64  // Sampling temperature (0.0-2.0)
	Thinking      string   // Extended thinking mode configuration
}

// GenerateOption is a functional option for configuring generation
// requests.
type GenerateOption func(*GenerateOptions)

// WithModel overrides the client's default model for one request.
func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Model = model
	}
}

// WithSystemPrompts sets the system prompts prepended to the request.
func WithSystemPrompts(prompts ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.SystemPrompts = prompts
	}
}

// WithTemperature sets the sampling temperature. Lower values make
// extraction output more stable.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temp
	}
}

// WithThinking enables extended thinking mode where the backend supports
// it. The value names the effort level or budget.
func WithThinking(thinking string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Thinking = thinking
	}
}

// ModelMetrics accumulates token usage and timing across requests.
type ModelMetrics struct {
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	DurationMs     int64   `json:"duration_ms"`
	TokenPerSecond float32 `json:"tokens_per_second"`
}
