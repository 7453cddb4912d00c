package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/graphloom/loom/pkg/logger"
)

// ErrCircuitOpen is returned while the breaker rejects requests after
// repeated provider failures. Retryable once the cooldown elapses.
var ErrCircuitOpen = errors.New("ai: circuit breaker open")

// BreakerConfig tunes the circuit breaker wrappers. Zero values select
// the defaults: trip after 3 consecutive failures, stay open for 30
// seconds, close again after 2 half-open successes.
type BreakerConfig struct {
	MaxFailures          uint32
	Timeout              time.Duration
	HalfOpenMaxSuccesses uint32
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxFailures == 0 {
		c.MaxFailures = 3
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.HalfOpenMaxSuccesses == 0 {
		c.HalfOpenMaxSuccesses = 2
	}
	return c
}

func newBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker {
	cfg = cfg.withDefaults()
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenMaxSuccesses,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			// A cancelled caller says nothing about provider health.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn(fmt.Sprintf("[AI] Circuit breaker %s: %s -> %s", name, from, to))
		},
	})
}

func mapBreakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return err
}

// BreakerModel wraps a ModelClient with a circuit breaker so a dead
// provider fails fast instead of queueing work behind timeouts.
type BreakerModel struct {
	inner   ModelClient
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerModel(inner ModelClient, cfg BreakerConfig) *BreakerModel {
	return &BreakerModel{
		inner:   inner,
		breaker: newBreaker("model", cfg),
	}
}

func (b *BreakerModel) Complete(ctx context.Context, prompt string, opts ...GenerateOption) (string, error) {
	res, err := b.breaker.Execute(func() (any, error) {
		return b.inner.Complete(ctx, prompt, opts...)
	})
	if err != nil {
		return "", mapBreakerErr(err)
	}
	return res.(string), nil
}

func (b *BreakerModel) CompleteWithFormat(ctx context.Context, name string, description string, prompt string, out any, opts ...GenerateOption) error {
	_, err := b.breaker.Execute(func() (any, error) {
		return nil, b.inner.CompleteWithFormat(ctx, name, description, prompt, out, opts...)
	})
	return mapBreakerErr(err)
}

// BreakerEmbedder wraps an EmbeddingClient with a circuit breaker.
type BreakerEmbedder struct {
	inner   EmbeddingClient
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerEmbedder(inner EmbeddingClient, cfg BreakerConfig) *BreakerEmbedder {
	return &BreakerEmbedder{
		inner:   inner,
		breaker: newBreaker("embedding", cfg),
	}
}

func (b *BreakerEmbedder) Embed(ctx context.Context, input string) ([]float32, error) {
	res, err := b.breaker.Execute(func() (any, error) {
		return b.inner.Embed(ctx, input)
	})
	if err != nil {
		return nil, mapBreakerErr(err)
	}
	return res.([]float32), nil
}

func (b *BreakerEmbedder) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	res, err := b.breaker.Execute(func() (any, error) {
		return b.inner.EmbedBatch(ctx, inputs)
	})
	if err != nil {
		return nil, mapBreakerErr(err)
	}
	return res.([][]float32), nil
}
