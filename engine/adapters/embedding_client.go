package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/constructionrag/ragcore/engine/domain"
	"github.com/constructionrag/ragcore/pkg/resilience"
)

// HTTPEmbeddingClient implements EmbeddingClient against an Ollama-compatible
// embedding endpoint (POST {base}/api/embeddings {model, prompt} -> {embedding}).
// One request per input text; EmbeddingClient.Embed fans them out in a simple
// loop since the wire API takes a single prompt at a time, matching the
// upstream protocol the teacher's own embedding client targets.
type HTTPEmbeddingClient struct {
	baseURL string
	client  *http.Client
	limiter *resilience.Limiter
	breaker *resilience.Breaker
}

// NewHTTPEmbeddingClient creates an embedding client against baseURL. limiter
// and breaker may be nil, in which case requests go straight through.
func NewHTTPEmbeddingClient(baseURL string, client *http.Client, limiter *resilience.Limiter, breaker *resilience.Breaker) *HTTPEmbeddingClient {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPEmbeddingClient{baseURL: baseURL, client: client, limiter: limiter, breaker: breaker}
}

func (c *HTTPEmbeddingClient) guard(ctx context.Context, f func(context.Context) error) error {
	call := f
	if c.breaker != nil {
		inner := call
		call = func(ctx context.Context) error { return c.breaker.Call(ctx, inner) }
	}
	if c.limiter != nil {
		inner := call
		call = func(ctx context.Context) error { return c.limiter.CallWait(ctx, inner) }
	}
	return call(ctx)
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

func (c *HTTPEmbeddingClient) embedOne(ctx context.Context, model, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: model, Prompt: text})
	if err != nil {
		return nil, domain.NewError(domain.KindInternal, "adapters.embed", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewError(domain.KindInternal, "adapters.embed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp *http.Response
	guardErr := c.guard(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = c.client.Do(req.WithContext(ctx))
		return callErr
	})
	if guardErr != nil {
		return nil, domain.NewError(domain.KindUpstreamUnavailable, "adapters.embed", guardErr)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, domain.NewError(domain.KindUpstreamRateLimited, "adapters.embed",
			fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewError(domain.KindUpstreamUnavailable, "adapters.embed",
			fmt.Errorf("status %d", resp.StatusCode))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, domain.NewError(domain.KindUpstreamMalformedResponse, "adapters.embed", err)
	}

	vals := make([]float32, len(out.Embedding))
	for i, v := range out.Embedding {
		vals[i] = float32(v)
	}
	return vals, nil
}

// Embed implements EmbeddingClient.
func (c *HTTPEmbeddingClient) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vals, err := c.embedOne(ctx, model, text)
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d]: %w", i, err)
		}
		if len(vals) != domain.EmbeddingDimension {
			return nil, domain.NewError(domain.KindUpstreamMalformedResponse, "adapters.embed",
				fmt.Errorf("%w: got %d, want %d", domain.ErrDimensionMismatch, len(vals), domain.EmbeddingDimension))
		}
		out[i] = vals
	}
	return out, nil
}
