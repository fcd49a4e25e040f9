package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/phrazzld/scry-pipeline/internal/config"
	"github.com/phrazzld/scry-pipeline/internal/provider"
)

// ErrMissingAPIKey is returned when a hosted OpenAI provider has no key.
var ErrMissingAPIKey = errors.New("openai API key cannot be empty")

// localAPIKey is sent to local servers that ignore authentication but
// reject requests without an Authorization header.
const localAPIKey = "local"

// Provider calls the OpenAI chat completions and embeddings APIs.
type Provider struct {
	id     string
	client openai.Client
	logger *slog.Logger
}

var _ provider.Provider = (*Provider)(nil)

// New creates a hosted OpenAI provider.
func New(logger *slog.Logger, cfg config.ProviderConfig) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	return newProvider(provider.OpenAI, logger, cfg)
}

// NewLocal creates the local offline provider for an OpenAI-compatible
// endpoint at cfg.BaseURL.
func NewLocal(logger *slog.Logger, cfg config.ProviderConfig) (*Provider, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("local provider requires a base URL")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = localAPIKey
	}
	return newProvider(provider.Local, logger, cfg)
}

func newProvider(id string, logger *slog.Logger, cfg config.ProviderConfig) (*Provider, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// The gateway owns retries.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Provider{
		id:     id,
		client: openai.NewClient(opts...),
		logger: logger.With("component", id+"_provider"),
	}, nil
}

// ID implements provider.Provider.
func (p *Provider) ID() string { return p.id }

// Generate implements provider.Provider.
func (p *Provider) Generate(ctx context.Context, model string, req provider.Request) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:       model,
		Messages:    messages,
		Temperature: openai.Float(float64(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.JSON && p.id == provider.OpenAI {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", p.classify(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: %s returned no choices", provider.ErrMalformedResponse, p.id)
	}
	choice := resp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return "", fmt.Errorf("%w: %s content filter", provider.ErrContentBlocked, p.id)
	}
	if choice.Message.Content == "" {
		return "", fmt.Errorf("%w: %s returned empty content", provider.ErrMalformedResponse, p.id)
	}
	return choice.Message.Content, nil
}

// Embed implements provider.Provider.
func (p *Provider) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: model,
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, p.classify(err)
	}
	if resp == nil || len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings", provider.ErrMalformedResponse, len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) || len(d.Embedding) == 0 {
			return nil, fmt.Errorf("%w: bad embedding at index %d", provider.ErrMalformedResponse, d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, x := range d.Embedding {
			vec[i] = float32(x)
		}
		out[d.Index] = vec
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("%w: missing embedding %d", provider.ErrMalformedResponse, i)
		}
	}
	return out, nil
}

// ListModels implements provider.Provider.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	page, err := p.client.Models.List(ctx)
	if err != nil {
		return nil, p.classify(err)
	}
	names := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		if m.ID != "" {
			names = append(names, m.ID)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (p *Provider) classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return provider.WrapStatus(p.id, apiErr.StatusCode, err)
	}
	return provider.WrapTransport(p.id, err)
}
