package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/zeroveil/gateway/app"
	"github.com/zeroveil/gateway/handlers"
	"github.com/zeroveil/gateway/middleware"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogging(deps.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-ZeroVeil-Tenant"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Remaining-RPM", "X-RateLimit-Remaining-TPD"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/healthz", handlers.HealthCheck())

	// Admission-controlled completions
	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat/completions", deps.Completions.HandleChatCompletions)
	})

	return r
}
