package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"laminate/internal/auth"
	"laminate/internal/common/logging"
	"laminate/internal/common/ratelimit"
	"laminate/internal/handlers"
	"laminate/internal/middleware"
)

// SetupRoutes configures all HTTP routes for the application
func SetupRoutes(router *mux.Router, h *handlers.Handlers, authService *auth.Auth, rateLimiter ratelimit.Limiter, logger logging.Logger) {
	router.Use(middleware.RequestID, middleware.Recover(logger), middleware.Logging(logger))

	// Health check (no auth required)
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	// Everything under /api requires a token when JWT_SECRET is set. Auth runs
	// first so the limiter can key on the token subject.
	api := router.PathPrefix("/api").Subrouter()
	api.Use(authService.RequireAuth)
	if rateLimiter != nil {
		api.Use(ratelimit.HTTPMiddleware(rateLimiter, ratelimit.ClientKey))
	}

	api.HandleFunc("/render", h.Render).Methods("POST")
	api.HandleFunc("/templates", h.ListTemplates).Methods("GET")
	api.HandleFunc("/templates/{name:.+}/render", h.RenderNamed).Methods("POST")
	api.HandleFunc("/templates/{name:.+}/source", h.Source).Methods("GET")

	write := func(next http.HandlerFunc) http.Handler {
		return authService.RequireScope("write", next)
	}
	api.Handle("/templates/{name:.+}", write(h.SaveTemplate)).Methods("PUT")
	api.Handle("/templates/{name:.+}", write(h.DeleteTemplate)).Methods("DELETE")
}
