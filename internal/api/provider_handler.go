package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/scry-pipeline/internal/api/shared"
	"github.com/phrazzld/scry-pipeline/internal/cache"
)

// ModelLister lists configured providers and their models.
type ModelLister interface {
	Providers() []string
	ListModels(ctx context.Context, providerID string) ([]string, error)
}

// CacheStatter reports cache tier counters.
type CacheStatter interface {
	Stats() map[cache.Kind]cache.KindStats
}

// ProviderHandler serves provider and cache introspection endpoints.
type ProviderHandler struct {
	models ModelLister
	cache  CacheStatter
	logger *slog.Logger
}

// NewProviderHandler creates a ProviderHandler.
func NewProviderHandler(models ModelLister, cacheStats CacheStatter, logger *slog.Logger) *ProviderHandler {
	return &ProviderHandler{
		models: models,
		cache:  cacheStats,
		logger: logger.With("component", "provider_handler"),
	}
}

// ListProviders handles GET /api/providers.
func (h *ProviderHandler) ListProviders(w http.ResponseWriter, r *http.Request) {
	providers := h.models.Providers()
	if providers == nil {
		providers = []string{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, ProvidersResponse{Providers: providers})
}

// ListModels handles GET /api/providers/{provider}/models.
func (h *ProviderHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "provider")
	models, err := h.models.ListModels(r.Context(), providerID)
	if err != nil {
		respondWithMappedError(w, r, err)
		return
	}
	if models == nil {
		models = []string{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, ModelsResponse{Provider: providerID, Models: models})
}

// CacheStats handles GET /api/cache/stats.
func (h *ProviderHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, CacheStatsResponse{Tiers: h.cache.Stats()})
}
