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
	openaiDefaultBaseURL = "https://api.openai.com"
	openaiDefaultModel   = "gpt-4o-mini"
)

// OpenAI calls the OpenAI Chat Completions API. Any compatible endpoint
// works via WithOpenAIBaseURL.
type OpenAI struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// OpenAIOption customizes the OpenAI provider.
type OpenAIOption func(*OpenAI)

// WithOpenAIBaseURL overrides the API endpoint. Empty keeps the default.
func WithOpenAIBaseURL(u string) OpenAIOption {
	return func(o *OpenAI) {
		if u != "" {
			o.baseURL = u
		}
	}
}

// WithOpenAIModel overrides the default model.
func WithOpenAIModel(m string) OpenAIOption {
	return func(o *OpenAI) {
		if m != "" {
			o.model = m
		}
	}
}

// WithOpenAIHTTPClient overrides the HTTP client, mainly for tests.
func WithOpenAIHTTPClient(c *http.Client) OpenAIOption {
	return func(o *OpenAI) { o.client = c }
}

// NewOpenAI builds an OpenAI provider.
func NewOpenAI(apiKey string, opts ...OpenAIOption) (*OpenAI, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	o := &OpenAI{
		apiKey:  apiKey,
		baseURL: openaiDefaultBaseURL,
		model:   openaiDefaultModel,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func (o *OpenAI) Name() string         { return "openai" }
func (o *OpenAI) DefaultModel() string { return o.model }

type openaiRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends one chat completion request, retrying transient failures.
func (o *OpenAI) Generate(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}
	msgs := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, req.Messages...)

	body, err := json.Marshal(openaiRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var out *Response
	err = retryDo(ctx, func() (bool, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			o.baseURL+"/v1/chat/completions", bytes.NewReader(body))
		if err != nil {
			return false, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

		resp, err := o.client.Do(httpReq)
		if err != nil {
			return true, fmt.Errorf("openai request: %w", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return true, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return retryableStatus(resp.StatusCode),
				fmt.Errorf("openai status %d: %s", resp.StatusCode, truncate(string(raw), 200))
		}

		var parsed openaiResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return false, fmt.Errorf("decode response: %w", err)
		}
		if parsed.Error != nil {
			return false, fmt.Errorf("openai error: %s", parsed.Error.Message)
		}
		if len(parsed.Choices) == 0 {
			return false, fmt.Errorf("openai returned no choices")
		}
		out = &Response{
			Text:         parsed.Choices[0].Message.Content,
			Model:        parsed.Model,
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
