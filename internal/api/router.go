package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/panoptes/internal/api/middleware"
	"github.com/kiranshivaraju/panoptes/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler      http.HandlerFunc
	ServiceInfoHandler http.HandlerFunc
	ListWorkflows      http.HandlerFunc
	CreateWorkflow     http.HandlerFunc
	GetWorkflow        http.HandlerFunc
	UpdateWorkflowName http.HandlerFunc
	ListWorkflowJobs   http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	// Liveness and readiness stay outside the rate limit.
	r.Get("/api/service-info", orNotImplemented(deps.ServiceInfoHandler))
	r.Get("/api/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Get("/api/workflows", orNotImplemented(deps.ListWorkflows))

		create := orNotImplemented(deps.CreateWorkflow)
		r.Post("/workflows", create)
		r.Post("/workflows/", create)

		r.Get("/workflows/{id}", orNotImplemented(deps.GetWorkflow))
		r.Put("/workflows/{id}", orNotImplemented(deps.UpdateWorkflowName))
		r.Get("/workflows/{id}/jobs", orNotImplemented(deps.ListWorkflowJobs))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
