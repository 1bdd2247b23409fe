// Package server exposes metrics and probes for a running stream.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/florinutz/ksqlq/health"
	"github.com/florinutz/ksqlq/schema"
)

// NewMetricsServer creates an HTTP server for /metrics, /healthz, /readyz and
// /schemas/{source}. A nil checker or registry leaves its route unregistered.
func NewMetricsServer(addr string, checker *health.Checker, readiness *health.ReadinessChecker, schemas *schema.Registry) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if checker != nil {
		r.Get("/healthz", checker.ServeHTTP)
	}
	if readiness != nil {
		r.Get("/readyz", readiness.ServeHTTP)
	}
	if schemas != nil {
		r.Get("/schemas/{source}", func(w http.ResponseWriter, r *http.Request) {
			versions := schemas.List(chi.URLParam(r, "source"))
			w.Header().Set("Content-Type", "application/json")
			if len(versions) == 0 {
				w.WriteHeader(http.StatusNotFound)
			}
			_ = json.NewEncoder(w).Encode(versions)
		})
	}
	r.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
