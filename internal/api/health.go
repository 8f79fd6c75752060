package api

import (
	"net/http"
)

// Health states.
const (
	healthOK       = "ok"
	healthDegraded = "degraded"
)

type healthResponse struct {
	Status         string `json:"status"`
	DefaultBackend string `json:"default_backend"`
}

// handleHealthz reports "degraded" when the default backend cannot be built
// or fails its own health check. The server itself is up either way.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: healthOK, DefaultBackend: s.router.DefaultType()}

	b, err := s.router.Backend(s.router.DefaultType())
	if err != nil || !b.HealthCheck(r.Context()) {
		resp.Status = healthDegraded
	}
	s.writeJSON(w, http.StatusOK, resp)
}
