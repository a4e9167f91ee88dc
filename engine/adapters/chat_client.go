package adapters

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/constructionrag/ragcore/engine/domain"
	"github.com/constructionrag/ragcore/pkg/resilience"
)

// OpenAIChatClient implements ChatClient and VlmClient against an
// OpenAI-compatible chat-completions endpoint (including self-hosted
// gateways that speak the same wire format).
type OpenAIChatClient struct {
	client       *openai.Client
	defaultModel string
	limiter      *resilience.Limiter
	breaker      *resilience.Breaker
}

// NewOpenAIChatClient creates a client using apiKey against baseURL (pass the
// stock OpenAI URL or a compatible gateway's). limiter and breaker may be nil,
// in which case calls go straight through unthrottled.
func NewOpenAIChatClient(apiKey, baseURL, defaultModel string, limiter *resilience.Limiter, breaker *resilience.Breaker) *OpenAIChatClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIChatClient{
		client:       openai.NewClientWithConfig(cfg),
		defaultModel: defaultModel,
		limiter:      limiter,
		breaker:      breaker,
	}
}

// guard runs f through the breaker and limiter, whichever are configured.
func (c *OpenAIChatClient) guard(ctx context.Context, f func(context.Context) error) error {
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

func (c *OpenAIChatClient) model(requested string) string {
	if requested != "" {
		return requested
	}
	return c.defaultModel
}

// Chat implements ChatClient.
func (c *OpenAIChatClient) Chat(ctx context.Context, prompt string, opts ChatOptions) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model(opts.Model),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: opts.Temperature,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.ResponseFormat == "json_object" {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	var resp openai.ChatCompletionResponse
	err := c.guard(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = c.client.CreateChatCompletion(ctx, req)
		return callErr
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrRateLimited) {
			return "", domain.NewError(domain.KindUpstreamUnavailable, "adapters.chat", err)
		}
		return "", classifyOpenAIErr(err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.NewError(domain.KindUpstreamMalformedResponse, "adapters.chat",
			errors.New("no choices returned"))
	}
	return resp.Choices[0].Message.Content, nil
}

// Caption implements VlmClient. Exactly one of imageBytes/htmlText is
// expected to be non-empty per the Enrichment stage's two VLM call shapes
// (image caption, HTML table caption).
func (c *OpenAIChatClient) Caption(ctx context.Context, imageBytes []byte, htmlText, prompt, language, model string) (string, error) {
	fullPrompt := fmt.Sprintf("%s\n\nRespond in %s.", prompt, language)

	var messages []openai.ChatCompletionMessage
	if len(imageBytes) > 0 {
		dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(imageBytes)
		messages = []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: fullPrompt},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL}},
				},
			},
		}
	} else {
		messages = []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: fullPrompt + "\n\n" + htmlText},
		}
	}

	var resp openai.ChatCompletionResponse
	err := c.guard(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    c.model(model),
			Messages: messages,
		})
		return callErr
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrRateLimited) {
			return "", domain.NewError(domain.KindUpstreamUnavailable, "adapters.caption", err)
		}
		return "", classifyOpenAIErr(err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.NewError(domain.KindUpstreamMalformedResponse, "adapters.caption",
			errors.New("no choices returned"))
	}
	return resp.Choices[0].Message.Content, nil
}

func classifyOpenAIErr(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 429:
			return domain.NewError(domain.KindUpstreamRateLimited, "adapters.openai", err)
		case 408, 504:
			return domain.NewError(domain.KindTimeout, "adapters.openai", err)
		case 500, 502, 503:
			return domain.NewError(domain.KindUpstreamUnavailable, "adapters.openai", err)
		}
	}
	return domain.NewError(domain.KindUpstreamUnavailable, "adapters.openai", err)
}
