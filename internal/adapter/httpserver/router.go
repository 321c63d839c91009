package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/oltp-olap-sync/internal/metrics"
)

// BuildRouter constructs the Trigger Interface's HTTP handler with the full
// middleware stack (spec §4.6). rateLimitPerMin bounds requests per IP to
// /sync, which is itself a mutating, externally reachable trigger.
func BuildRouter(srv *Server, rateLimitPerMin int) http.Handler {
	r := chi.NewRouter()
	r.Use(Recoverer())
	r.Use(RequestID())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(TraceMiddleware)
	r.Use(AccessLog())
	r.Use(metrics.HTTPMetricsMiddleware)

	// This surface is read/trigger-only and carries no cookie-based session,
	// so CORS can stay permissive on origin without exposing credentials.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(rateLimitPerMin, 1*time.Minute))
		wr.Get("/sync", srv.SyncHandler())
	})

	r.Get("/worker-status", srv.WorkerStatusHandler())
	r.Get("/health", srv.HealthHandler())
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return SecurityHeaders(r)
}
