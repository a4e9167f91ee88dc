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

// HTTPPartitionClient implements PartitionClient against a remote partition
// service that accepts raw PDF bytes plus a config and returns a normalized
// element stream as JSON. Mirrors the request/response decode pattern used
// for the embedding endpoint.
type HTTPPartitionClient struct {
	baseURL string
	client  *http.Client
	limiter *resilience.Limiter
	breaker *resilience.Breaker
}

// NewHTTPPartitionClient creates a partition client against baseURL. limiter
// and breaker may be nil, in which case requests go straight through.
func NewHTTPPartitionClient(baseURL string, client *http.Client, limiter *resilience.Limiter, breaker *resilience.Breaker) *HTTPPartitionClient {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPPartitionClient{baseURL: baseURL, client: client, limiter: limiter, breaker: breaker}
}

func (c *HTTPPartitionClient) guard(ctx context.Context, f func(context.Context) error) error {
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

// Analyze implements PartitionClient.
func (c *HTTPPartitionClient) Analyze(ctx context.Context, pdfBytes []byte, cfg PartitionConfig) (PartitionOutput, error) {
	// Wire format: a JSON config header line (length-prefixed), followed by
	// the raw PDF bytes. The partition service distinguishes the two by the
	// declared header length rather than a multipart boundary.
	var body bytes.Buffer
	hdr, _ := json.Marshal(cfg)
	fmt.Fprintf(&body, "%d\n", len(hdr))
	body.Write(hdr)
	body.Write(pdfBytes)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", &body)
	if err != nil {
		return PartitionOutput{}, domain.NewError(domain.KindInternal, "adapters.partition", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	var resp *http.Response
	guardErr := c.guard(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = c.client.Do(req.WithContext(ctx))
		return callErr
	})
	if guardErr != nil {
		return PartitionOutput{}, domain.NewError(domain.KindUpstreamUnavailable, "adapters.partition", guardErr)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		return PartitionOutput{}, domain.NewError(domain.KindInvalidInput, "adapters.partition",
			fmt.Errorf("pdf could not be opened: status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return PartitionOutput{}, domain.NewError(domain.KindUpstreamUnavailable, "adapters.partition",
			fmt.Errorf("status %d", resp.StatusCode))
	}

	var out PartitionOutput
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return PartitionOutput{}, domain.NewError(domain.KindUpstreamMalformedResponse, "adapters.partition", err)
	}
	return out, nil
}
