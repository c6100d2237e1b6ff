// Package llm provides an OpenAI-compatible chat completion client used by
// the LLM-backed capability units.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jeeves-cluster-organization/answerflow/coreengine/config"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/observability"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/tools"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/transcript"
)

// Request is one chat completion call.
type Request struct {
	Model       string
	Turns       []transcript.Turn
	Tools       []tools.Spec
	Temperature float64
	MaxTokens   int
	// JSONMode asks the endpoint for a JSON object response. Ignored when
	// tools are supplied.
	JSONMode bool
}

// Response is the assistant turn produced by the model.
type Response struct {
	Content      string
	ToolCalls    []transcript.ToolCall
	FinishReason string
	Usage        Usage
}

// Turn converts the response into an assistant transcript turn.
func (r *Response) Turn() transcript.Turn {
	return transcript.Turn{
		Role:      transcript.RoleAssistant,
		Content:   r.Content,
		ToolCalls: r.ToolCalls,
	}
}

// Usage reports token counts. Not all providers return it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Provider is the interface implemented by chat backends.
type Provider interface {
	Chat(ctx context.Context, req Request) (*Response, error)
}

// APIError is returned for a non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm api error (status %d): %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status indicates a transient failure.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// =============================================================================
// CLIENT
// =============================================================================

// Client calls an OpenAI-compatible /chat/completions endpoint through
// go-openai.
type Client struct {
	provider string
	config   openai.ClientConfig
	api      *openai.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.config.HTTPClient = hc }
}

// NewClient creates a client from the LLM section of the configuration.
func NewClient(cfg config.LLMConfig, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("llm base_url is required")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	oc.HTTPClient = &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}

	c := &Client{provider: cfg.Provider, config: oc}
	if c.provider == "" {
		c.provider = "openai"
	}
	for _, opt := range opts {
		opt(c)
	}
	c.api = openai.NewClientWithConfig(c.config)
	return c, nil
}

// Chat sends one chat completion request.
func (c *Client) Chat(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := c.chat(ctx, req)
	status := "success"
	if err != nil {
		status = "error"
	}
	observability.RecordLLMCall(c.provider, req.Model, status, int(time.Since(start).Milliseconds()))
	return resp, err
}

func (c *Client) chat(ctx context.Context, req Request) (*Response, error) {
	cr, err := c.api.CreateChatCompletion(ctx, buildRequest(req))
	if err != nil {
		return nil, wrapError(err)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("chat response has no choices")
	}

	msg := cr.Choices[0].Message
	out := &Response{
		Content:      msg.Content,
		FinishReason: string(cr.Choices[0].FinishReason),
		Usage: Usage{
			PromptTokens:     cr.Usage.PromptTokens,
			CompletionTokens: cr.Usage.CompletionTokens,
			TotalTokens:      cr.Usage.TotalTokens,
		},
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, transcript.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

// wrapError maps go-openai status errors onto *APIError. Transport and
// decoding failures are wrapped as they are.
func wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &APIError{StatusCode: reqErr.HTTPStatusCode, Body: strings.TrimSpace(string(reqErr.Body))}
	}
	return fmt.Errorf("chat request failed: %w", err)
}

func buildRequest(req Request) openai.ChatCompletionRequest {
	body := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(req.Turns)),
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	}
	for _, t := range req.Turns {
		m := openai.ChatCompletionMessage{
			Role:       string(t.Role),
			Content:    t.Content,
			Name:       t.Name,
			ToolCallID: t.ToolCallID,
		}
		for _, tc := range t.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				ID:       tc.ID,
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		body.Messages = append(body.Messages, m)
	}
	for _, spec := range req.Tools {
		body.Tools = append(body.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Parameters,
			},
		})
	}
	if req.JSONMode && len(req.Tools) == 0 {
		body.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return body
}
