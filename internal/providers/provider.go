// Package providers holds the LLM backends the orchestrator and the deep
// sentiment pass generate text with.
package providers

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoAPIKey is returned by constructors when no credential is available.
var ErrNoAPIKey = errors.New("missing API key")

// Message is one turn of model input.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Request is a single completion request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Response is the model output.
type Response struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Provider generates completions against one LLM backend.
type Provider interface {
	Name() string
	DefaultModel() string
	Generate(ctx context.Context, req Request) (*Response, error)
}

// New constructs the named provider with its API key.
func New(name, apiKey, baseURL string) (Provider, error) {
	switch name {
	case "anthropic":
		return NewAnthropic(apiKey, WithAnthropicBaseURL(baseURL))
	case "openai":
		return NewOpenAI(apiKey, WithOpenAIBaseURL(baseURL))
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
