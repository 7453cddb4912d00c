// Package openai implements the ai.ModelClient and ai.EmbeddingClient
// interfaces on top of the OpenAI API, or any compatible endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"

	"github.com/graphloom/loom/pkg/ai"
)

const (
	defaultMaxConcurrent  = 4
	defaultRequestTimeout = 2 * time.Minute
)

// Client talks to an OpenAI-compatible API. One model handles chat
// completions, another handles embeddings. A weighted semaphore bounds
// in-flight requests across all callers.
type Client struct {
	chatModel  string
	embedModel string
	embedDim   int
	timeout    time.Duration

	reqLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	api *openai.Client
}

// Params configures a Client. BaseURL may be empty for the public API.
// EmbedDim fixes the embedding dimension; shorter vectors are padded and
// longer ones truncated so the index stays consistent.
type Params struct {
	BaseURL string
	APIKey  string

	ChatModel  string
	EmbedModel string
	EmbedDim   int

	MaxConcurrent  int64
	RequestTimeout time.Duration
}

// New creates a Client from params.
func New(params Params) (*Client, error) {
	if params.APIKey == "" {
		return nil, errors.New("openai: api key required")
	}
	if params.EmbedDim <= 0 {
		return nil, errors.New("openai: embedding dimension required")
	}
	if params.MaxConcurrent <= 0 {
		params.MaxConcurrent = defaultMaxConcurrent
	}
	if params.RequestTimeout <= 0 {
		params.RequestTimeout = defaultRequestTimeout
	}

	options := []option.RequestOption{
		option.WithAPIKey(params.APIKey),
	}
	if params.BaseURL != "" {
		options = append(options, option.WithBaseURL(params.BaseURL))
	}
	api := openai.NewClient(options...)

	return &Client{
		chatModel:  params.ChatModel,
		embedModel: params.EmbedModel,
		embedDim:   params.EmbedDim,
		timeout:    params.RequestTimeout,
		reqLock:    semaphore.NewWeighted(params.MaxConcurrent),
		api:        &api,
	}, nil
}

// mapErr translates provider errors into the ai package sentinels. The
// original error is flattened with %v so context sentinels from a
// per-request timeout do not leak into the caller's classification.
func mapErr(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 401 || apierr.StatusCode == 403:
			return fmt.Errorf("%w: %v", ai.ErrAuthentication, err)
		case apierr.StatusCode == 429:
			return fmt.Errorf("%w: %v", ai.ErrRateLimited, err)
		case apierr.StatusCode >= 500:
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
