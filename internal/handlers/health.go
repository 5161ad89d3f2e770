package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"certitrack/internal/store"
	"certitrack/internal/version"
)

// RegisterHealthRoutes mounts liveness, readiness and version endpoints.
func RegisterHealthRoutes(r chi.Router, s *store.Store) {
	r.Get("/api/health", func(w http.ResponseWriter, req *http.Request) {
		respondJSON(w, req, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/ready", func(w http.ResponseWriter, req *http.Request) {
		if err := s.Ping(); err != nil {
			fail(w, req, http.StatusServiceUnavailable, err, "database not reachable")
			return
		}
		respondJSON(w, req, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Get("/api/version", func(w http.ResponseWriter, req *http.Request) {
		respondJSON(w, req, http.StatusOK, version.Info())
	})
}
