package handler

import (
	"log/slog"
	"net/http"

	"vehiclestatus/internal/middleware"
	"vehiclestatus/internal/telemetry"
)

// Route paths served by the backend.
const (
	PathRows       = "/api/vehicle-status/rows"
	PathStatistics = "/api/vehicle-status/statistics"
	PathVehicles   = "/api/vehicle-status/vehicles"
	PathFilters    = "/filters/vehicle-filters.xml"
	PathStream     = "/api/vehicle-status/stream"
	PathStats      = "/api/server/stats"
)

type Handlers struct {
	Status  *StatusHandler
	Health  *HealthHandler
	Stats   *ServerStatsHandler
	Stream  http.Handler
	Limiter *middleware.RateLimiter
}

// NewRouter registers every route and wraps them in the middleware chain.
// The stream route skips compression and the rate limiter so the upgrade
// reaches the websocket handler untouched.
func NewRouter(h Handlers, metrics *telemetry.Metrics, logger *slog.Logger) http.Handler {
	api := http.NewServeMux()

	api.HandleFunc("GET "+PathRows, h.Status.Rows)
	api.HandleFunc("GET "+PathStatistics, h.Status.Statistics)
	api.HandleFunc("GET "+PathVehicles+"/{id}", h.Status.GetVehicle)
	api.HandleFunc("GET "+PathFilters, h.Status.FilterOptions)

	if h.Stats != nil {
		api.HandleFunc("GET "+PathStats, h.Stats.GetStats)
	}

	api.HandleFunc("GET /healthz", h.Health.Healthz)
	api.HandleFunc("GET /readyz", h.Health.Readyz)

	var limited http.Handler = GzipMiddleware(api)
	if h.Limiter != nil {
		limited = h.Limiter.Middleware(limited)
	}

	mux := http.NewServeMux()
	if h.Stream != nil {
		mux.Handle("GET "+PathStream, h.Stream)
	}
	mux.Handle("/", limited)

	if metrics == nil {
		metrics = telemetry.NewNopMetrics()
	}

	var handler http.Handler = mux
	handler = CORSMiddleware(handler)
	handler = AccessLogMiddleware(metrics, logger)(handler)
	handler = RequestIDMiddleware(handler)
	return handler
}
