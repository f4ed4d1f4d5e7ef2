package routes

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/grcflow/llm-gateway/app"
	"github.com/grcflow/llm-gateway/internal/observability"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	// Generation calls can retry for a while; keep the ceiling generous
	r.Use(middleware.Timeout(120 * time.Second))

	// Per-request HTTP metrics
	if deps.Config.Observability.MetricsEnabled {
		r.Use(httpMetrics)
	}

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)

	// Prometheus scrape endpoint
	if deps.Config.Observability.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/llm", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)

			// Generation
			r.Post("/generate", deps.LLMHandler.HandleGenerate)
			r.Post("/generate/structured", deps.LLMHandler.HandleGenerateStructured)
			r.Post("/estimate", deps.LLMHandler.HandleEstimateCost)

			// Monitoring
			r.Get("/health", deps.LLMHandler.HandleHealthStatus)
			r.Get("/metrics", deps.LLMHandler.HandleMetrics)
			r.Get("/costs", deps.LLMHandler.HandleCostBreakdown)
			r.Get("/suggestions", deps.LLMHandler.HandleSuggestions)

			// Call log
			r.Get("/executions", deps.LLMHandler.HandleListExecutions)
			r.Get("/executions/{id}", deps.LLMHandler.HandleGetExecution)

			// Destructive operations require the admin role
			r.With(deps.AuthMiddleware.RequireRole("admin")).
				Post("/metrics/reset", deps.LLMHandler.HandleResetMetrics)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}

// httpMetrics records request counts and latency per route pattern
func httpMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = "unmatched"
		}
		observability.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		observability.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
