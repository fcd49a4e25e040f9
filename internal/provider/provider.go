package provider

import (
	"context"
)

// Provider ids.
const (
	Gemini    = "gemini"
	OpenAI    = "openai"
	Anthropic = "anthropic"
	Local     = "local"
)

// Request is a single completion request.
type Request struct {
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int
	// JSON asks the provider for a JSON response when it supports a
	// response format switch.
	JSON bool
}

// Provider is the capability interface of an LLM backend. Implementations
// must be safe for concurrent use and must return errors wrapping one of the
// sentinels in this package.
type Provider interface {
	// ID returns the provider id used in model refs.
	ID() string

	// Generate returns the raw text completion for req.
	Generate(ctx context.Context, model string, req Request) (string, error)

	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)

	// ListModels returns the model names the provider offers.
	ListModels(ctx context.Context) ([]string, error)
}
