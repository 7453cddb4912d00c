package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"

	"github.com/graphloom/loom/pkg/ai"
)

// Embed creates a vector embedding for the given input text.
func (c *Client) Embed(ctx context.Context, input string) ([]float32, error) {
	res, err := c.EmbedBatch(ctx, []string{input})
	if err != nil {
		return nil, err
	}
	if len(res) != 1 {
		return nil, fmt.Errorf("%w: got %d embeddings, want 1", ai.ErrInvalidResponse, len(res))
	}
	return res[0], nil
}

// EmbedBatch embeds all inputs in a single request, preserving order.
// Blank inputs map to zero vectors without a round trip. Vectors are
// padded or truncated to the configured dimension.
func (c *Client) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(inputs))
	idxMap := make([]int, 0, len(inputs))
	request := make([]string, 0, len(inputs))
	for i, in := range inputs {
		if strings.TrimSpace(in) == "" {
			out[i] = make([]float32, c.embedDim)
			continue
		}
		idxMap = append(idxMap, i)
		request = append(request, in)
	}
	if len(request) == 0 {
		return out, nil
	}

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	body := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: request},
		Model: openai.EmbeddingModel(c.embedModel),
	}

	start := time.Now()
	response, err := c.api.Embeddings.New(rCtx, body)
	if err != nil {
		return nil, mapErr(err)
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens: int(response.Usage.PromptTokens),
		TotalTokens: int(response.Usage.TotalTokens),
		DurationMs:  time.Since(start).Milliseconds(),
	})

	if len(response.Data) != len(request) {
		return nil, fmt.Errorf("%w: got %d embeddings, want %d",
			ai.ErrInvalidResponse, len(response.Data), len(request))
	}

	for _, embedding := range response.Data {
		pos := int(embedding.Index)
		if pos < 0 || pos >= len(request) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", ai.ErrInvalidResponse, pos)
		}
		out[idxMap[pos]] = fitDimension(embedding.Embedding, c.embedDim)
	}
	for i := range out {
		if out[i] == nil {
			return nil, fmt.Errorf("%w: missing embedding for input %d", ai.ErrInvalidResponse, i)
		}
	}
	return out, nil
}

func fitDimension(values []float64, dim int) []float32 {
	vec := make([]float32, dim)
	for i, v := range values {
		if i >= dim {
			break
		}
		vec[i] = float32(v)
	}
	return vec
}
