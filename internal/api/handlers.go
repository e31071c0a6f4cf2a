package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/codemig/internal/results"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	batches, err := s.store.Batches(r.Context())
	if err != nil {
		s.logger.Error("failed to read batches", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "results store unavailable")
		return
	}

	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		Version:       s.config.Version,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Batches:       len(batches),
		LiveEvents:    s.hub != nil,
	})
}

// handleListBatches handles GET /batches.
func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.store.Batches(r.Context())
	if err != nil {
		s.logger.Error("failed to list batches", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list batches")
		return
	}
	if batches == nil {
		batches = []results.BatchSummary{}
	}
	respondJSON(w, http.StatusOK, BatchesResponse{Batches: batches})
}

// handleListResults handles GET /batches/{batch}/results. Trajectories are
// omitted; fetch a single result for the full record.
func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batch")

	recs, err := s.store.List(r.Context(), batchID)
	if err != nil {
		s.logger.Error("failed to list results", "batch_id", batchID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	if len(recs) == 0 {
		s.writeError(w, http.StatusNotFound, "batch not found")
		return
	}

	outcome := results.Outcome(r.URL.Query().Get("max"))
	resp := ResultsResponse{BatchID: batchID, Results: make([]ResultSummary, 0, len(recs))}
	for _, rec := range recs {
		if outcome != "" && rec.Max.Outcome != outcome {
			continue
		}
		resp.Results = append(resp.Results, summarize(rec))
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleGetResult handles GET /batches/{batch}/results/{repo}, where repo
// is in owner__repo form.
func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batch")
	repoID := RepoIDFromPath(chi.URLParam(r, "repo"))

	rec, err := s.store.Get(r.Context(), batchID, repoID)
	if errors.Is(err, results.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "result not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to read result", "batch_id", batchID, "repo_id", repoID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read result")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// RepoIDFromPath turns owner__repo back into owner/repo. Owners cannot
// contain underscores, so only the first separator is significant.
func RepoIDFromPath(segment string) string {
	return strings.Replace(segment, "__", "/", 1)
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
