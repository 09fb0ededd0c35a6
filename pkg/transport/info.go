package transport

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/morezero/streamcall/pkg/registry"
)

func (s *server) handleDescribe(w http.ResponseWriter, r *http.Request) {
	prefix := chi.URLParam(r, "prefix")
	out, err := s.registry.Describe(prefix)
	if err != nil {
		var rerr *registry.RegistryError
		if errors.As(err, &rerr) && rerr.Code == registry.CodeNotFound {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": rerr})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	out := s.registry.Health()
	status := http.StatusOK
	if out.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, out)
}

func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil && !s.ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}
