package app

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newRouter mounts the probes, the metrics endpoint, and the workflow API.
func newRouter(log Logger, cfg Config, ping func(context.Context) error, gatherer prometheus.Gatherer, api http.Handler) http.Handler {
	r := chi.NewRouter()
	if cfg.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), cfg.ReadinessTimeout)
		defer cancel()

		if err := ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			log.Info("readyz.db.not_ready", "err", err)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Mount("/", api)

	return WithRequestLogging(WithSecurityHeaders(r), log)
}
