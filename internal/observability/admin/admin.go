// Package admin is the operator-facing introspection surface: /healthz,
// /metrics, and a handful of read-only /debug endpoints over breaker, pool,
// and scheduler state. This is explicitly NOT the client query protocol —
// no query is ever dispatched through this server.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/breaker"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/connmanager"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/scheduler"
)

// Server exposes the admin HTTP surface.
type Server struct {
	Router *chi.Mux
}

// New wires the admin routes. registry is used for the /metrics endpoint;
// breakers/conn/sched may be nil in tests that only exercise a subset of
// routes.
func New(registry *prometheus.Registry, breakers *breaker.Manager, conn *connmanager.Manager, sched *scheduler.Scheduler) *Server {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Get("/debug/breakers", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, breakers.Snapshot())
	})

	r.Get("/debug/pools", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, conn.PoolStats())
	})

	r.Get("/debug/scheduler", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, sched.GetStats())
	})

	return &Server{Router: r}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
