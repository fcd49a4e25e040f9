package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/scry-pipeline/internal/config"
	"github.com/phrazzld/scry-pipeline/internal/domain"
	"github.com/phrazzld/scry-pipeline/internal/gateway"
	"github.com/phrazzld/scry-pipeline/internal/platform/anthropic"
	"github.com/phrazzld/scry-pipeline/internal/platform/gemini"
	"github.com/phrazzld/scry-pipeline/internal/platform/openai"
	"github.com/phrazzld/scry-pipeline/internal/provider"
)

// providerRoutes builds a gateway route for every provider that has
// credentials, plus the local endpoint when it is enabled.
func providerRoutes(ctx context.Context, cfg config.ProvidersConfig, logger *slog.Logger) ([]gateway.Route, error) {
	var routes []gateway.Route

	if cfg.Gemini.APIKey != "" {
		p, err := gemini.New(ctx, logger, cfg.Gemini)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize gemini provider: %w", err)
		}
		routes = append(routes, route(p, cfg.Gemini, true))
	}
	if cfg.OpenAI.APIKey != "" {
		p, err := openai.New(logger, cfg.OpenAI)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai provider: %w", err)
		}
		routes = append(routes, route(p, cfg.OpenAI, true))
	}
	if cfg.Anthropic.APIKey != "" {
		p, err := anthropic.New(logger, cfg.Anthropic)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize anthropic provider: %w", err)
		}
		routes = append(routes, route(p, cfg.Anthropic, true))
	}
	if cfg.Local.Enabled {
		p, err := openai.NewLocal(logger, cfg.Local.ProviderConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize local provider: %w", err)
		}
		routes = append(routes, route(p, cfg.Local.ProviderConfig, false))
	}

	if len(routes) == 0 {
		return nil, fmt.Errorf("%w: no provider has credentials", provider.ErrUnknownProvider)
	}
	for _, r := range routes {
		logger.Debug("provider route configured",
			"provider", r.Provider.ID(),
			"paid", r.Paid,
			"timeout", r.Timeout,
			"roles", len(r.Models))
	}
	return routes, nil
}

func route(p provider.Provider, cfg config.ProviderConfig, paid bool) gateway.Route {
	models := make(map[domain.Role]string, 4)
	for role, name := range map[domain.Role]string{
		domain.RoleGeneration: cfg.Models.Generation,
		domain.RoleAnalysis:   cfg.Models.Analysis,
		domain.RoleValidation: cfg.Models.Validation,
		domain.RoleEmbedding:  cfg.Models.Embedding,
	} {
		if name != "" {
			models[role] = name
		}
	}
	return gateway.Route{
		Provider:    p,
		Timeout:     cfg.Timeout,
		ResponseTTL: cfg.ResponseTTL,
		Models:      models,
		Paid:        paid,
	}
}
