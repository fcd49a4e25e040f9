package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/scry-pipeline/internal/api"
	apiMiddleware "github.com/phrazzld/scry-pipeline/internal/api/middleware"
	"github.com/phrazzld/scry-pipeline/internal/api/shared"
	"github.com/phrazzld/scry-pipeline/internal/events"
)

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status     string   `json:"status"`
	Providers  []string `json:"providers"`
	ActiveRuns int      `json:"active_runs"`
}

// setupRouter creates and configures the application router with all
// routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))

	var extra []events.EventHandler
	if app.deps.ExportEvents != nil {
		extra = append(extra, app.deps.ExportEvents)
	}
	generateHandler := api.NewGenerateHandler(app.deps.Pipeline, app.logger, extra...)
	providerHandler := api.NewProviderHandler(app.deps.Gateway, app.deps.Cache, app.logger)
	exportHandler := api.NewExportHandler(app.deps.Exports, app.deps.Runner, app.logger)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if app.deps.Tokens != nil {
				r.Use(apiMiddleware.NewAuthMiddleware(app.deps.Tokens).Authenticate)
			}

			r.Post("/generate", generateHandler.Generate)
			r.Post("/runs/{id}/cancel", generateHandler.Cancel)
			r.Post("/content/resolve", api.ResolveContent)

			r.Get("/providers", providerHandler.ListProviders)
			r.Get("/providers/{provider}/models", providerHandler.ListModels)
			r.Get("/cache/stats", providerHandler.CacheStats)

			r.Post("/exports", exportHandler.CreateExport)
			r.Get("/exports/{id}", exportHandler.GetExport)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		shared.RespondWithJSON(w, r, http.StatusOK, healthResponse{
			Status:     "ok",
			Providers:  app.deps.Gateway.Providers(),
			ActiveRuns: app.deps.Pipeline.Active(),
		})
	})

	return r
}
