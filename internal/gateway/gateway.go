package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/phrazzld/scry-pipeline/internal/cache"
	"github.com/phrazzld/scry-pipeline/internal/cancel"
	"github.com/phrazzld/scry-pipeline/internal/domain"
	"github.com/phrazzld/scry-pipeline/internal/provider"
	"github.com/phrazzld/scry-pipeline/internal/redact"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTimeout bounds a provider call when its route sets no timeout.
const DefaultTimeout = 60 * time.Second

// Route is a configured provider together with its call policy.
type Route struct {
	Provider    provider.Provider
	Timeout     time.Duration
	ResponseTTL time.Duration

	// Models is the model used for each role when the provider serves a
	// request as a fallback.
	Models map[domain.Role]string

	// Paid marks providers configured with an explicit API key. Only paid
	// providers and the local provider take part in fallback.
	Paid bool
}

// Config is the retry and fallback policy.
type Config struct {
	Order      []string
	RetryDelay time.Duration
}

// Gateway is safe for concurrent use.
type Gateway struct {
	routes map[string]Route
	order  []string
	cache  *cache.Layer
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
}

type target struct {
	id    string
	model string
	route Route
}

// New creates a gateway over routes. Providers missing from cfg.Order are
// appended in the order of routes.
func New(routes []Route, layer *cache.Layer, cfg Config, logger *slog.Logger) (*Gateway, error) {
	if layer == nil {
		return nil, fmt.Errorf("cache layer cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if len(routes) == 0 {
		return nil, fmt.Errorf("%w: no provider routes", provider.ErrUnknownProvider)
	}

	g := &Gateway{
		routes: make(map[string]Route, len(routes)),
		cache:  layer,
		cfg:    cfg,
		logger: logger.With("component", "provider_gateway"),
		tracer: otel.Tracer("github.com/phrazzld/scry-pipeline/internal/gateway"),
	}
	for _, r := range routes {
		if r.Provider == nil {
			return nil, fmt.Errorf("route provider cannot be nil")
		}
		if r.Timeout <= 0 {
			r.Timeout = DefaultTimeout
		}
		g.routes[r.Provider.ID()] = r
	}
	seen := make(map[string]bool, len(routes))
	for _, id := range cfg.Order {
		if _, ok := g.routes[id]; ok && !seen[id] {
			g.order = append(g.order, id)
			seen[id] = true
		}
	}
	for _, r := range routes {
		if id := r.Provider.ID(); !seen[id] {
			g.order = append(g.order, id)
			seen[id] = true
		}
	}
	return g, nil
}

// Providers returns the configured provider ids in fallback order.
func (g *Gateway) Providers() []string {
	return append([]string(nil), g.order...)
}

// chain returns the providers to try for role, starting with ref.
func (g *Gateway) chain(role domain.Role, ref domain.ModelRef) []target {
	var targets []target
	seen := make(map[string]bool)

	if r, ok := g.routes[ref.Provider]; ok && ref.Model != "" {
		targets = append(targets, target{id: ref.Provider, model: ref.Model, route: r})
		seen[ref.Provider] = true
	}
	for _, id := range g.order {
		r := g.routes[id]
		if seen[id] || !r.Paid || id == provider.Local {
			continue
		}
		if m := r.Models[role]; m != "" {
			targets = append(targets, target{id: id, model: m, route: r})
			seen[id] = true
		}
	}
	if r, ok := g.routes[provider.Local]; ok && !seen[provider.Local] {
		if m := r.Models[role]; m != "" {
			targets = append(targets, target{id: provider.Local, model: m, route: r})
		}
	}
	return targets
}

// Analyze runs a completion with the analysis role's fallback models.
func (g *Gateway) Analyze(ctx context.Context, ref domain.ModelRef, req provider.Request) (string, error) {
	return g.Complete(ctx, domain.RoleAnalysis, ref, req)
}

// Generate runs a completion with the generation role's fallback models.
func (g *Gateway) Generate(ctx context.Context, ref domain.ModelRef, req provider.Request) (string, error) {
	return g.Complete(ctx, domain.RoleGeneration, ref, req)
}

// Complete runs req on ref's provider, falling back along the chain for
// role when the provider is unavailable.
func (g *Gateway) Complete(ctx context.Context, role domain.Role, ref domain.ModelRef, req provider.Request) (string, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.Complete", trace.WithAttributes(
		attribute.String("role", string(role)),
		attribute.String("model_ref", ref.String()),
	))
	defer span.End()

	out, err := fallback(ctx, g, role, ref, func(ctx context.Context, t target) (string, error) {
		return g.completeOn(ctx, t, req)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
	}
	return out, err
}

func (g *Gateway) completeOn(ctx context.Context, t target, req provider.Request) (string, error) {
	key := cache.Key("completion", t.id, t.model, req.System, req.Prompt,
		strconv.FormatFloat(float64(req.Temperature), 'f', -1, 32),
		strconv.Itoa(req.MaxTokens), strconv.FormatBool(req.JSON))

	load := func(ctx context.Context) ([]byte, error) {
		out, err := callWithRetry(ctx, g, t, "generate", func(ctx context.Context) (string, error) {
			return t.route.Provider.Generate(ctx, t.model, req)
		})
		if err != nil {
			return nil, err
		}
		return []byte(out), nil
	}

	v, hit, err := g.cached(ctx, cache.KindResponse, key, t.route.ResponseTTL, load)
	if err != nil {
		return "", err
	}
	if hit {
		g.logger.DebugContext(ctx, "completion served from cache", "provider", t.id, "model", t.model)
	}
	return string(v), nil
}

// cached reads key through the cache, loading it at most once for
// concurrent callers. A shared load fails with the cancellation of the
// caller that started it; every other caller that is still live loads
// again on its own context.
func (g *Gateway) cached(
	ctx context.Context,
	kind cache.Kind,
	key string,
	ttl time.Duration,
	load func(context.Context) ([]byte, error),
) ([]byte, bool, error) {
	v, hit, err := g.cache.GetOrLoad(ctx, kind, key, ttl, load)
	if err == nil || !errors.Is(err, provider.ErrCancelled) || cancel.Check(ctx) != nil {
		return v, hit, err
	}
	if v, err = load(ctx); err != nil {
		return nil, false, err
	}
	if err := g.cache.Set(ctx, kind, key, v, ttl); err != nil {
		g.logger.WarnContext(ctx, "failed to cache reloaded value", "kind", kind, "error", err)
	}
	return v, false, nil
}

// ListModels returns the sorted model names of a configured provider. Lists
// are cached for the model list TTL.
func (g *Gateway) ListModels(ctx context.Context, providerID string) ([]string, error) {
	r, ok := g.routes[providerID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", provider.ErrUnknownProvider, providerID)
	}
	t := target{id: providerID, route: r}

	v, _, err := g.cached(ctx, cache.KindModels, cache.Key("models", providerID), 0,
		func(ctx context.Context) ([]byte, error) {
			models, err := callWithRetry(ctx, g, t, "list_models", r.Provider.ListModels)
			if err != nil {
				return nil, err
			}
			return encodeModels(models)
		})
	if err != nil {
		return nil, err
	}
	return decodeModels(v)
}

// fallback walks the chain for role until call succeeds or fails with an
// error that must not fall back.
func fallback[T any](
	ctx context.Context,
	g *Gateway,
	role domain.Role,
	ref domain.ModelRef,
	call func(context.Context, target) (T, error),
) (T, error) {
	var zero T
	targets := g.chain(role, ref)
	if len(targets) == 0 {
		return zero, fmt.Errorf("%w: %w: %q", provider.ErrAllProvidersExhausted, provider.ErrUnknownProvider, ref.Provider)
	}

	var lastErr error
	for i, t := range targets {
		if err := cancel.Check(ctx); err != nil {
			return zero, err
		}
		out, err := call(ctx, t)
		if err == nil {
			if i > 0 {
				g.logger.InfoContext(ctx, "request served by fallback provider",
					"role", role, "requested", ref.String(), "provider", t.id, "model", t.model)
			}
			return out, nil
		}

		switch {
		case errors.Is(err, provider.ErrCancelled):
			return zero, err
		case errors.Is(err, provider.ErrRateLimited):
			return zero, err
		case provider.IsTransient(err), errors.Is(err, provider.ErrUnsupported):
			g.logger.WarnContext(ctx, "provider failed, trying next",
				"role", role, "provider", t.id, "model", t.model, "error", redact.Error(err))
			lastErr = err
		default:
			return zero, err
		}
	}
	return zero, fmt.Errorf("%w: %w", provider.ErrAllProvidersExhausted, lastErr)
}
