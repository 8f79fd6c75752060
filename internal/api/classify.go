package api

import (
	"encoding/json"
	"net/http"

	"github.com/seantiz/foundry/internal/model"
)

// classifyResponse is the JSON response for POST /v1/classify.
type classifyResponse struct {
	Category string `json:"category"`
	Backend  string `json:"backend"`
}

// handleClassify reports how a task would be routed without running it.
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var task model.Task
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if task.Description == "" {
		s.writeError(w, http.StatusBadRequest, "description is required")
		return
	}

	category := s.router.Classify(task)
	s.writeJSON(w, http.StatusOK, classifyResponse{
		Category: category,
		Backend:  s.router.Route(category),
	})
}
