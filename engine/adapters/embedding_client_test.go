package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/constructionrag/ragcore/engine/domain"
	"github.com/constructionrag/ragcore/pkg/resilience"
)

func TestHTTPEmbeddingClient_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vec := make([]float64, domain.EmbeddingDimension)
		for i := range vec {
			vec[i] = 0.1
		}
		json.NewEncoder(w).Encode(embedResponse{Embedding: vec})
	}))
	defer srv.Close()

	c := NewHTTPEmbeddingClient(srv.URL, nil, nil, nil)
	out, err := c.Embed(context.Background(), []string{"a", "b"}, "test-model")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(out))
	}
	if len(out[0]) != domain.EmbeddingDimension {
		t.Fatalf("expected dimension %d, got %d", domain.EmbeddingDimension, len(out[0]))
	}
}

func TestHTTPEmbeddingClient_DimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{Embedding: []float64{0.1, 0.2}})
	}))
	defer srv.Close()

	c := NewHTTPEmbeddingClient(srv.URL, nil, nil, nil)
	_, err := c.Embed(context.Background(), []string{"a"}, "test-model")
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
	if domain.KindOf(err) != domain.KindUpstreamMalformedResponse {
		t.Fatalf("expected KindUpstreamMalformedResponse, got %s", domain.KindOf(err))
	}
}

func TestHTTPEmbeddingClient_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewHTTPEmbeddingClient(srv.URL, nil, nil, nil)
	_, err := c.Embed(context.Background(), []string{"a"}, "test-model")
	if domain.KindOf(err) != domain.KindUpstreamRateLimited {
		t.Fatalf("expected KindUpstreamRateLimited, got %s", domain.KindOf(err))
	}
}

func TestHTTPEmbeddingClient_BreakerOpenShortCircuits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should never be reached once the breaker is open")
	}))
	unreachableURL := srv.URL
	srv.Close() // closed before use: every Do() fails at the transport level

	breaker := resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 1, Timeout: time.Hour, HalfOpenMax: 1})
	c := NewHTTPEmbeddingClient(unreachableURL, nil, nil, breaker)

	if _, err := c.Embed(context.Background(), []string{"a"}, "test-model"); err == nil {
		t.Fatal("expected first call to fail against the closed listener")
	}

	_, err := c.Embed(context.Background(), []string{"a"}, "test-model")
	if err == nil {
		t.Fatal("expected second call to fail fast via the open breaker")
	}
	if domain.KindOf(err) != domain.KindUpstreamUnavailable {
		t.Fatalf("expected KindUpstreamUnavailable once the breaker is open, got %s", domain.KindOf(err))
	}
}
