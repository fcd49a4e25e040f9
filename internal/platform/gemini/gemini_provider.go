package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/phrazzld/scry-pipeline/internal/config"
	"github.com/phrazzld/scry-pipeline/internal/provider"
)

// ErrMissingAPIKey is returned when the provider is built without a key.
var ErrMissingAPIKey = errors.New("gemini API key cannot be empty")

const maxModelPages = 10

// Provider calls the Gemini API.
type Provider struct {
	client *genai.Client
	logger *slog.Logger
}

var _ provider.Provider = (*Provider)(nil)

// New creates a Gemini provider from configuration.
func New(ctx context.Context, logger *slog.Logger, cfg config.ProviderConfig) (*Provider, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Provider{
		client: client,
		logger: logger.With("component", "gemini_provider"),
	}, nil
}

// ID implements provider.Provider.
func (p *Provider) ID() string { return provider.Gemini }

// Generate implements provider.Provider.
func (p *Provider) Generate(ctx context.Context, model string, req provider.Request) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return "", classify(err)
	}
	return extractText(resp)
}

// extractText pulls the text of the first candidate out of resp.
func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("%w: gemini returned a nil response", provider.ErrMalformedResponse)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt blocked (%s)", provider.ErrContentBlocked, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: gemini returned no candidates", provider.ErrMalformedResponse)
	}

	candidate := resp.Candidates[0]
	switch candidate.FinishReason {
	case genai.FinishReasonSafety, genai.FinishReasonBlocklist, genai.FinishReasonProhibitedContent:
		return "", fmt.Errorf("%w: finish reason %s", provider.ErrContentBlocked, candidate.FinishReason)
	}
	if candidate.Content == nil {
		return "", fmt.Errorf("%w: empty content in response", provider.ErrMalformedResponse)
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil && !part.Thought {
			b.WriteString(part.Text)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", fmt.Errorf("%w: response has no text parts", provider.ErrMalformedResponse)
	}
	return b.String(), nil
}

// Embed implements provider.Provider. All texts are sent in one request.
func (p *Provider) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	resp, err := p.client.Models.EmbedContent(ctx, model, contents, nil)
	if err != nil {
		return nil, classify(err)
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings", provider.ErrMalformedResponse, len(texts))
	}

	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("%w: embedding %d is empty", provider.ErrMalformedResponse, i)
		}
		out[i] = e.Values
	}
	return out, nil
}

// ListModels implements provider.Provider.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	page, err := p.client.Models.List(ctx, &genai.ListModelsConfig{PageSize: 100})
	if err != nil {
		return nil, classify(err)
	}

	var names []string
	for i := 0; i < maxModelPages; i++ {
		for _, m := range page.Items {
			if m != nil && m.Name != "" {
				names = append(names, strings.TrimPrefix(m.Name, "models/"))
			}
		}
		if page.NextPageToken == "" {
			break
		}
		page, err = page.Next(ctx)
		if errors.Is(err, genai.ErrPageDone) {
			break
		}
		if err != nil {
			return nil, classify(err)
		}
	}
	return names, nil
}

// classify maps a genai error onto the provider taxonomy.
func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 400 && strings.Contains(strings.ToUpper(apiErr.Status+apiErr.Message), "API_KEY_INVALID") {
			return fmt.Errorf("%w: gemini rejected the API key: %w", provider.ErrUnavailable, err)
		}
		return provider.WrapStatus(provider.Gemini, apiErr.Code, err)
	}
	return provider.WrapTransport(provider.Gemini, err)
}
