package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/iac-sandbox/stackd/internal/api/handler"
	"github.com/iac-sandbox/stackd/internal/api/middleware"
	"github.com/iac-sandbox/stackd/internal/auth"
	"github.com/iac-sandbox/stackd/internal/events"
	"github.com/iac-sandbox/stackd/internal/files"
	"github.com/iac-sandbox/stackd/internal/orchestrator"
	"github.com/iac-sandbox/stackd/internal/storage"
)

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(
	store storage.Storage,
	orch *orchestrator.Orchestrator,
	fileSvc *files.Service,
	hub *events.Hub,
	bootstrapKey string,
	oidcHandler *handler.OIDCHandler,
	sessions *auth.SessionManager,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging)

	// Health check (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Event stream. Clients subscribe to topics after connecting.
	r.Get("/ws", hub.Handler)

	// Browser login (only when OIDC is configured)
	if oidcHandler != nil {
		r.Get("/auth/login", oidcHandler.Login)
		r.Get("/auth/callback", oidcHandler.Callback)
		r.Get("/auth/logout", oidcHandler.Logout)
	}

	// API routes (auth required, JSON Content-Type)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.ContentType)
		r.Use(middleware.Auth(store, bootstrapKey, sessions))

		// API Keys
		keyHandler := handler.NewAPIKeyHandler(store)
		r.Post("/keys", keyHandler.Create)
		r.Get("/keys", keyHandler.List)
		r.Delete("/keys/{id}", keyHandler.Delete)

		// Stacks
		stackHandler := handler.NewStackHandler(orch, store)
		deploymentHandler := handler.NewDeploymentHandler(store)
		r.Post("/stacks", stackHandler.Create)
		r.Get("/stacks", stackHandler.List)

		r.Route("/stacks/{name}", func(r chi.Router) {
			r.Get("/", stackHandler.Get)
			r.Delete("/", stackHandler.Delete)
			r.Put("/config", stackHandler.UpdateConfig)

			// Lifecycle operations
			r.Post("/preview", stackHandler.Preview)
			r.Post("/up", stackHandler.Up)
			r.Post("/destroy", stackHandler.Destroy)
			r.Post("/refresh", stackHandler.Refresh)

			// State views
			r.Get("/outputs", stackHandler.Outputs)
			r.Get("/resources", stackHandler.Resources)
			r.Get("/deployments", deploymentHandler.ListForStack)
		})

		// Deployment history
		r.Get("/deployments", deploymentHandler.List)
		r.Get("/deployments/{id}", deploymentHandler.Get)

		// Infrastructure source files. Static routes win over the
		// wildcard, so "tree" and "validate" are reserved names.
		fileHandler := handler.NewFileHandler(fileSvc)
		r.Get("/files/infra", fileHandler.List)
		r.Post("/files/infra", fileHandler.Create)
		r.Get("/files/infra/tree", fileHandler.Tree)
		r.Post("/files/infra/validate", fileHandler.Validate)
		r.Get("/files/infra/*", fileHandler.Read)
		r.Put("/files/infra/*", fileHandler.Write)
		r.Delete("/files/infra/*", fileHandler.Delete)
	})

	return r
}
