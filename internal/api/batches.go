package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/foundry/internal/engine"
	"github.com/seantiz/foundry/internal/model"
	"github.com/seantiz/foundry/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// listBatchesResponse wraps the paginated list response.
type listBatchesResponse struct {
	Batches []*model.Batch `json:"batches"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
}

// resultsResponse is the JSON response for GET /v1/batches/{id}/results.
type resultsResponse struct {
	BatchID string               `json:"batch_id"`
	Status  string               `json:"status"`
	Results []model.StoredResult `json:"results"`
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req engine.BatchRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		batchSubmissions.WithLabelValues(submitRejected).Inc()
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	b, err := s.dispatcher.Submit(r.Context(), req)
	switch {
	case errors.Is(err, engine.ErrInvalidRequest):
		batchSubmissions.WithLabelValues(submitRejected).Inc()
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, engine.ErrShutdown):
		batchSubmissions.WithLabelValues(submitUnavailable).Inc()
		s.writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	case err != nil:
		batchSubmissions.WithLabelValues(submitError).Inc()
		s.logger.Error("submit batch", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit batch")
		return
	}

	batchSubmissions.WithLabelValues(submitAccepted).Inc()
	s.writeJSON(w, http.StatusAccepted, b)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	b, ok := s.lookupBatch(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	batches, total, err := s.store.ListBatches(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list batches", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list batches")
		return
	}

	if batches == nil {
		batches = []*model.Batch{}
	}

	s.writeJSON(w, http.StatusOK, listBatchesResponse{
		Batches: batches,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	b, ok := s.lookupBatch(w, r)
	if !ok {
		return
	}

	results, err := s.store.GetTaskResults(r.Context(), b.ID)
	if err != nil {
		s.logger.Error("get task results", "batch_id", b.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get results")
		return
	}

	s.writeJSON(w, http.StatusOK, resultsResponse{
		BatchID: b.ID,
		Status:  b.Status,
		Results: results,
	})
}

// lookupBatch loads the batch named by the {id} URL parameter, writing the
// error response itself when it fails.
func (s *Server) lookupBatch(w http.ResponseWriter, r *http.Request) (*model.Batch, bool) {
	id := chi.URLParam(r, "id")

	b, err := s.store.GetBatch(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "batch not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("get batch", "batch_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get batch")
		return nil, false
	}
	return b, true
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
