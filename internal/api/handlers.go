package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/castellansec/castellan/internal/audit"
	"github.com/castellansec/castellan/internal/jobs"
	"github.com/castellansec/castellan/internal/models"
	"github.com/rs/zerolog/log"
)

type submitRequest struct {
	Repo string `json:"repo"`
}

type sweepResponse struct {
	Recovered int `json:"recovered"`
}

// handleAudits serves POST (submit) and GET (list) on /api/audits.
func (r *Router) handleAudits(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		r.handleSubmit(w, req)
	case http.MethodGet:
		r.handleList(w, req)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET or POST")
	}
}

func (r *Router) handleSubmit(w http.ResponseWriter, req *http.Request) {
	var body submitRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON with a repo field")
		return
	}

	job, err := r.controller.Submit(req.Context(), body.Repo)
	if err != nil {
		if errors.Is(err, audit.ErrInvalidRepoRef) {
			writeJSONError(w, http.StatusBadRequest, "invalid_repo", "repository reference must be owner/name or an https URL")
			return
		}
		log.Error().Err(err).Msg("Audit submission failed")
		writeJSONError(w, http.StatusInternalServerError, "submit_failed", "could not create audit job")
		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

func (r *Router) handleList(w http.ResponseWriter, req *http.Request) {
	all, err := r.store.List(req.Context())
	if err != nil {
		log.Error().Err(err).Msg("Job listing failed")
		writeJSONError(w, http.StatusInternalServerError, "list_failed", "could not list audit jobs")
		return
	}
	if all == nil {
		all = []models.JobRecord{}
	}
	writeJSON(w, http.StatusOK, all)
}

// handleAuditByID serves GET /api/audits/{id}.
func (r *Router) handleAuditByID(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	id := auditIDFromPath(req.URL.Path)
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "missing_id", "job id is required")
		return
	}

	job, err := r.store.Get(req.Context(), id)
	if errors.Is(err, jobs.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "not_found", "no audit job with that id")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("Job lookup failed")
		writeJSONError(w, http.StatusInternalServerError, "get_failed", "could not load audit job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleSweep runs one recovery pass synchronously and reports how many
// jobs were transitioned.
func (r *Router) handleSweep(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}
	recovered, err := r.sweeper.SweepOnce(req.Context())
	if err != nil {
		log.Error().Err(err).Msg("Manual recovery sweep failed")
		writeJSONError(w, http.StatusInternalServerError, "sweep_failed", "recovery sweep did not complete")
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse{Recovered: recovered})
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"corpus_collections": len(r.corpus.Categories()),
		"corpus_findings":    len(r.corpus.Pool()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
