package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicAPIVersion     = "2023-06-01"
	anthropicDefaultModel   = "claude-haiku-4-5"
)

// Anthropic calls the Anthropic Messages API.
type Anthropic struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// AnthropicOption customizes the Anthropic provider.
type AnthropicOption func(*Anthropic)

// WithAnthropicBaseURL overrides the API endpoint. Empty keeps the default.
func WithAnthropicBaseURL(u string) AnthropicOption {
	return func(a *Anthropic) {
		if u != "" {
			a.baseURL = u
		}
	}
}

// WithAnthropicModel overrides the default model.
func WithAnthropicModel(m string) AnthropicOption {
	return func(a *Anthropic) {
		if m != "" {
			a.model = m
		}
	}
}

// WithAnthropicHTTPClient overrides the HTTP client, mainly for tests.
func WithAnthropicHTTPClient(c *http.Client) AnthropicOption {
	return func(a *Anthropic) { a.client = c }
}

// NewAnthropic builds an Anthropic provider.
func NewAnthropic(apiKey string, opts ...AnthropicOption) (*Anthropic, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	a := &Anthropic{
		apiKey:  apiKey,
		baseURL: anthropicDefaultBaseURL,
		model:   anthropicDefaultModel,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Anthropic) Name() string         { return "anthropic" }
func (a *Anthropic) DefaultModel() string { return a.model }

type anthropicRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	Temp      float64   `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model string `json:"model"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends one Messages API request, retrying transient failures.
func (a *Anthropic) Generate(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = a.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	body, err := json.Marshal(anthropicRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  req.Messages,
		Temp:      req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var out *Response
	err = retryDo(ctx, func() (bool, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			a.baseURL+"/v1/messages", bytes.NewReader(body))
		if err != nil {
			return false, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", a.apiKey)
		httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

		resp, err := a.client.Do(httpReq)
		if err != nil {
			return true, fmt.Errorf("anthropic request: %w", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return true, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return retryableStatus(resp.StatusCode),
				fmt.Errorf("anthropic status %d: %s", resp.StatusCode, truncate(string(raw), 200))
		}

		var parsed anthropicResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return false, fmt.Errorf("decode response: %w", err)
		}
		if parsed.Error != nil {
			return false, fmt.Errorf("anthropic error: %s", parsed.Error.Message)
		}
		var text string
		for _, block := range parsed.Content {
			if block.Type == "text" {
				text += block.Text
			}
		}
		out = &Response{
			Text:         text,
			Model:        parsed.Model,
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
