// Package ollama implements the ai.ModelClient and ai.EmbeddingClient
// interfaces against a locally-hosted or remote Ollama server.
package ollama

import (
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"

	"github.com/graphloom/loom/pkg/ai"
)

const (
	defaultMaxConcurrent  = 2
	defaultRequestTimeout = 5 * time.Minute
)

// Client talks to an Ollama server. Local models are slower than hosted
// APIs, so the defaults allow fewer concurrent requests and a longer
// per-request timeout.
type Client struct {
	chatModel  string
	embedModel string
	embedDim   int
	timeout    time.Duration

	reqLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	api *api.Client
}

// Params configures a Client. APIKey is optional; when set it is sent as
// a bearer token, which proxied Ollama deployments require.
type Params struct {
	BaseURL string
	APIKey  string

	ChatModel  string
	EmbedModel string
	EmbedDim   int

	MaxConcurrent  int64
	RequestTimeout time.Duration
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone so original request isn't modified
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// New creates a Client from params.
func New(params Params) (*Client, error) {
	if params.EmbedDim <= 0 {
		return nil, errors.New("ollama: embedding dimension required")
	}
	if params.MaxConcurrent <= 0 {
		params.MaxConcurrent = defaultMaxConcurrent
	}
	if params.RequestTimeout <= 0 {
		params.RequestTimeout = defaultRequestTimeout
	}

	var (
		u   *url.URL
		err error
	)
	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	httpClient := http.DefaultClient
	if params.APIKey != "" {
		httpClient = &http.Client{
			Transport: &headerTransport{
				headers: map[string]string{
					"Authorization": "Bearer " + params.APIKey,
				},
				rt: http.DefaultTransport,
			},
		}
	}

	return &Client{
		chatModel:  params.ChatModel,
		embedModel: params.EmbedModel,
		embedDim:   params.EmbedDim,
		timeout:    params.RequestTimeout,
		reqLock:    semaphore.NewWeighted(params.MaxConcurrent),
		api:        api.NewClient(u, httpClient),
	}, nil
}
