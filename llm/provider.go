// Package llm provides the model client used by the extraction oracle and
// the embedding stage. A single OpenAI-compatible HTTP client covers the
// local and hosted endpoints we target (Ollama's /v1 surface, LM Studio,
// OpenRouter, OpenAI itself).
package llm

import (
	"context"
	"fmt"
)

// Provider is the interface for model interactions.
type Provider interface {
	// Complete sends a single-turn completion request.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Embed generates embeddings for a batch of texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// CompletionRequest is a single-turn completion request.
type CompletionRequest struct {
	Prompt      string
	System      string
	Temperature float64
	MaxTokens   int
	// JSONMode requests a JSON object response where the endpoint supports it.
	JSONMode bool
}

// CompletionResponse is the response from a completion request.
type CompletionResponse struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Config configures a provider endpoint.
type Config struct {
	BaseURL    string `json:"base_url" yaml:"base_url"`
	APIKey     string `json:"api_key" yaml:"api_key"`
	Model      string `json:"model" yaml:"model"`
	EmbedModel string `json:"embed_model" yaml:"embed_model"`
}

// New creates a provider for the configured endpoint.
func New(cfg Config) (Provider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("llm: base_url is required")
	}
	return newOpenAIClient(cfg), nil
}
