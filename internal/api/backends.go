package api

import "net/http"

// backendInfo describes one constructible backend type.
type backendInfo struct {
	Name    string `json:"name"`
	Default bool   `json:"default"`
	Cached  bool   `json:"cached"`
	Healthy *bool  `json:"healthy,omitempty"`
}

// backendsResponse is the JSON response for GET /v1/backends.
type backendsResponse struct {
	DefaultBackend string            `json:"default_backend"`
	Rules          map[string]string `json:"rules"`
	Backends       []backendInfo     `json:"backends"`
}

func (s *Server) handleListBackends(w http.ResponseWriter, r *http.Request) {
	// Only constructed backends are health checked; listing must not build any.
	health := s.router.HealthCheck(r.Context())

	types := s.router.Types()
	infos := make([]backendInfo, 0, len(types))
	for _, name := range types {
		info := backendInfo{Name: name, Default: name == s.router.DefaultType()}
		if healthy, ok := health[name]; ok {
			info.Cached = true
			info.Healthy = &healthy
		}
		infos = append(infos, info)
	}

	s.writeJSON(w, http.StatusOK, backendsResponse{
		DefaultBackend: s.router.DefaultType(),
		Rules:          s.router.Rules(),
		Backends:       infos,
	})
}
