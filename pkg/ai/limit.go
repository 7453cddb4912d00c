package ai

import (
	"context"

	"golang.org/x/time/rate"
)

// LimitedModel throttles completion requests to a sustained rate. Useful
// against metered providers where bursts of extraction calls would trip
// quota errors before the retry layer can help.
type LimitedModel struct {
	inner   ModelClient
	limiter *rate.Limiter
}

// NewLimitedModel wraps inner with a token bucket of reqPerSec sustained
// requests and the given burst.
func NewLimitedModel(inner ModelClient, reqPerSec float64, burst int) *LimitedModel {
	if burst < 1 {
		burst = 1
	}
	return &LimitedModel{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(reqPerSec), burst),
	}
}

func (l *LimitedModel) Complete(ctx context.Context, prompt string, opts ...GenerateOption) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return l.inner.Complete(ctx, prompt, opts...)
}

func (l *LimitedModel) CompleteWithFormat(ctx context.Context, name string, description string, prompt string, out any, opts ...GenerateOption) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	return l.inner.CompleteWithFormat(ctx, name, description, prompt, out, opts...)
}

// LimitedEmbedder throttles embedding requests.
type LimitedEmbedder struct {
	inner   EmbeddingClient
	limiter *rate.Limiter
}

func NewLimitedEmbedder(inner EmbeddingClient, reqPerSec float64, burst int) *LimitedEmbedder {
	if burst < 1 {
		burst = 1
	}
	return &LimitedEmbedder{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(reqPerSec), burst),
	}
}

func (l *LimitedEmbedder) Embed(ctx context.Context, input string) ([]float32, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.inner.Embed(ctx, input)
}

func (l *LimitedEmbedder) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.inner.EmbedBatch(ctx, inputs)
}
