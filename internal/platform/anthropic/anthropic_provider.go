package anthropic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/phrazzld/scry-pipeline/internal/config"
	"github.com/phrazzld/scry-pipeline/internal/provider"
)

// ErrMissingAPIKey is returned when the provider is built without a key.
var ErrMissingAPIKey = errors.New("anthropic API key cannot be empty")

const defaultMaxTokens = 4096

// Provider calls the Anthropic Messages API.
type Provider struct {
	client anthropic.Client
	logger *slog.Logger
}

var _ provider.Provider = (*Provider)(nil)

// New creates an Anthropic provider from configuration.
func New(logger *slog.Logger, cfg config.ProviderConfig) (*Provider, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Provider{
		client: anthropic.NewClient(opts...),
		logger: logger.With("component", "anthropic_provider"),
	}, nil
}

// ID implements provider.Provider.
func (p *Provider) ID() string { return provider.Anthropic }

// Generate implements provider.Provider.
func (p *Provider) Generate(ctx context.Context, model string, req provider.Request) (string, error) {
	maxTokens := int64(defaultMaxTokens)
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   maxTokens,
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt))},
		Temperature: anthropic.Float(float64(req.Temperature)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}
	if msg == nil {
		return "", fmt.Errorf("%w: anthropic returned a nil message", provider.ErrMalformedResponse)
	}
	if msg.StopReason == anthropic.StopReasonRefusal {
		return "", fmt.Errorf("%w: anthropic refused the request", provider.ErrContentBlocked)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", fmt.Errorf("%w: anthropic returned no text blocks", provider.ErrMalformedResponse)
	}
	return b.String(), nil
}

// Embed implements provider.Provider.
func (p *Provider) Embed(context.Context, string, []string) ([][]float32, error) {
	return nil, fmt.Errorf("%w: anthropic has no embeddings API", provider.ErrUnsupported)
}

// ListModels implements provider.Provider.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	page, err := p.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, classify(err)
	}
	names := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		if m.ID != "" {
			names = append(names, m.ID)
		}
	}
	return names, nil
}

func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		// 529 is Anthropic's "overloaded" status.
		return provider.WrapStatus(provider.Anthropic, apiErr.StatusCode, err)
	}
	return provider.WrapTransport(provider.Anthropic, err)
}
