package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// healthTimeout bounds all dependency checks of one /healthz request.
const healthTimeout = 2 * time.Second

// New builds an HTTP server with sane defaults for this project.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// FailureRecorder is notified of failed health checks.
type FailureRecorder interface {
	IncrementHealthFailure(dependency string)
}

// OpsRouter exposes /metrics and /healthz for the worker process.
func OpsRouter(logger *slog.Logger, gatherer prometheus.Gatherer, checks map[string]HealthCheck, recorder FailureRecorder) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", healthHandler(logger, checks, recorder))
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func healthHandler(logger *slog.Logger, checks map[string]HealthCheck, recorder FailureRecorder) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
		status := http.StatusOK
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				logger.WarnContext(ctx, "health check failed", "dependency", name, "error", err)
				if recorder != nil {
					recorder.IncrementHealthFailure(name)
				}
				resp.Checks[name] = "unavailable"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
