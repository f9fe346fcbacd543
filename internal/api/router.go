// Package api exposes the HTTP surface: job submission, job queries,
// the manual recovery trigger, health and metrics.
package api

import (
	"net/http"
	"strings"

	"github.com/castellansec/castellan/internal/audit"
	"github.com/castellansec/castellan/internal/corpus"
	"github.com/castellansec/castellan/internal/jobs"
	"github.com/castellansec/castellan/internal/logging"
	"github.com/castellansec/castellan/internal/recovery"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Router handles HTTP routing.
type Router struct {
	mux        *http.ServeMux
	store      jobs.Store
	controller *audit.Controller
	sweeper    *recovery.Sweeper
	corpus     *corpus.Store
}

// NewRouter creates the router with all handlers registered.
func NewRouter(store jobs.Store, controller *audit.Controller, sweeper *recovery.Sweeper, corpusStore *corpus.Store) http.Handler {
	r := &Router{
		mux:        http.NewServeMux(),
		store:      store,
		controller: controller,
		sweeper:    sweeper,
		corpus:     corpusStore,
	}
	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	r.mux.HandleFunc("/api/audits", r.handleAudits)
	r.mux.HandleFunc("/api/audits/", r.handleAuditByID)
	r.mux.HandleFunc("/api/recovery/sweep", r.handleSweep)
	r.mux.HandleFunc("/api/health", r.handleHealth)
	r.mux.Handle("/metrics", promhttp.Handler())
}

// ServeHTTP attaches a request ID to the context before dispatch.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ctx, requestID := logging.WithRequestID(req.Context(), req.Header.Get("X-Request-ID"))
	w.Header().Set("X-Request-ID", requestID)

	log.Debug().
		Str("request_id", requestID).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Msg("Request received")

	r.mux.ServeHTTP(w, req.WithContext(ctx))
}

// auditIDFromPath extracts the job id from /api/audits/{id}.
func auditIDFromPath(path string) string {
	id := strings.TrimPrefix(path, "/api/audits/")
	return strings.Trim(id, "/")
}
