// Package api wires the HTTP surface: routing, authentication and the
// resource handlers.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avigil/guardlab/internal/api/handler"
	"github.com/avigil/guardlab/internal/api/middleware"
	"github.com/avigil/guardlab/internal/engine"
	"github.com/avigil/guardlab/internal/service"
	"github.com/avigil/guardlab/internal/storage"
)

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(
	store storage.Storage,
	provisionService *service.ProvisionService,
	deltaService *service.DeltaService,
	eng engine.Engine,
	bootstrapKey string,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging(logger))

	// Health check and metrics (no auth required)
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := eng.Ping(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"degraded","engine":"unreachable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	// API routes (auth required, JSON Content-Type)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.ContentType)
		r.Use(middleware.Auth(store, bootstrapKey))

		// API Keys
		keyHandler := handler.NewAPIKeyHandler(store)
		r.Post("/keys", keyHandler.Create)
		r.Get("/keys", keyHandler.List)
		r.Delete("/keys/{id}", keyHandler.Delete)

		// Environments
		envHandler := handler.NewEnvironmentHandler(store, provisionService)
		r.Post("/environments", envHandler.Create)
		r.Get("/environments", envHandler.List)

		// Environment-level routes and nested resources
		r.Route("/environments/{environment_id}", func(r chi.Router) {
			r.Get("/", envHandler.Get)
			r.Put("/", envHandler.Update)
			r.Delete("/", envHandler.Delete)

			// Bulk topology management
			r.Put("/topology", envHandler.ReplaceTopology)

			// Hosts
			hostHandler := handler.NewHostHandler(store, provisionService)
			r.Post("/hosts", hostHandler.Create)
			r.Get("/hosts", hostHandler.List)
			r.Get("/hosts/{hostname}", hostHandler.Get)
			r.Put("/hosts/{hostname}", hostHandler.Update)
			r.Delete("/hosts/{hostname}", hostHandler.Delete)

			// Role assignments
			roleHandler := handler.NewRoleHandler(store, provisionService)
			r.Get("/roles", roleHandler.List)
			r.Get("/roles/{hostname}", roleHandler.Get)
			r.Put("/roles/{hostname}", roleHandler.Assign)
			r.Delete("/roles/{hostname}", roleHandler.Delete)

			// Provisioning
			provHandler := handler.NewProvisionHandler(store, provisionService)
			r.Get("/plan", provHandler.Plan)
			r.Post("/provision", provHandler.Provision)
			r.Post("/teardown", provHandler.Teardown)
			r.Get("/status", provHandler.Status)
			r.Get("/runs", provHandler.ListRuns)
			r.Get("/runs/{run_id}", provHandler.GetRun)
		})

		// Feed deltas
		deltaHandler := handler.NewDeltaHandler(store, deltaService)
		r.Post("/deltas", deltaHandler.Ingest)
		r.Post("/deltas/validate", deltaHandler.Validate)
		r.Get("/deltas", deltaHandler.List)
		r.Get("/deltas/{id}", deltaHandler.Get)
		r.Put("/deltas/{id}/status", deltaHandler.SetStatus)
	})

	return r
}
